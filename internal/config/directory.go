package config

// Directory holds the LDAP connection and layout settings.
type Directory struct {
	// URL of the directory server, e.g. ldap://ldap.example.org:389 or ldaps://...
	URL string `validate:"required,url"`
	// UseTLS upgrades a plain ldap:// connection with StartTLS.
	UseTLS bool
	// SkipVerify skips TLS certificate verification (testing only).
	SkipVerify bool
	// BindDN and BindPassword of the service account used for every operation.
	BindDN       string
	BindPassword string
	// Timeout of a single directory request in seconds.
	Timeout int
	// RetryAttempts for dial and bind failures.
	RetryAttempts uint
	// RetryDelay in milliseconds between dial attempts (exponential backoff).
	RetryDelay int
	// UIDNumberStart is the lowest uidNumber handed out when the directory has no posix accounts.
	UIDNumberStart int `toml:"uidNumberStart"`

	Users  Tree
	Groups Tree
	Schema Schema
}

// Tree describes where entries of one kind live in the directory.
type Tree struct {
	BaseDN           string   `validate:"required"`
	ObjectClasses    []string `toml:"objectClasses"`
	AuxiliaryClasses []string `toml:"auxiliaryClasses"`
	Filter           string   // additional filter ANDed into searches
	NamingAttribute  string   `toml:"namingAttribute"` // rdn attribute, uid for users, cn for groups
}

// Schema maps logical attributes onto the deployment's directory attribute names.
type Schema struct {
	UID           string
	UIDNumber     string `toml:"uidNumber"`
	GIDNumber     string `toml:"gidNumber"`
	HomeDirectory string `toml:"homeDirectory"`
	LoginShell    string `toml:"loginShell"`
	SSHPublicKey  string `toml:"sshPublicKey"`
	Mail          string
	CommonName    string `toml:"commonName"`
	Surname       string
	Password      string
	Member        string
	Description   string
	Owner         string
}

// ApplyDefaults fills unset directory settings with OpenLDAP defaults.
func (d *Directory) ApplyDefaults() {
	if d.Timeout == 0 {
		d.Timeout = 10
	}

	if d.RetryAttempts == 0 {
		d.RetryAttempts = 3
	}

	if d.RetryDelay == 0 {
		d.RetryDelay = 500
	}

	if d.UIDNumberStart == 0 {
		d.UIDNumberStart = 1000
	}

	if d.Users.NamingAttribute == "" {
		d.Users.NamingAttribute = "uid"
	}

	if len(d.Users.ObjectClasses) == 0 {
		d.Users.ObjectClasses = []string{"inetOrgPerson"}
	}

	if d.Groups.NamingAttribute == "" {
		d.Groups.NamingAttribute = "cn"
	}

	if len(d.Groups.ObjectClasses) == 0 {
		d.Groups.ObjectClasses = []string{"groupOfNames"}
	}

	s := &d.Schema
	setDefault(&s.UID, "uid")
	setDefault(&s.UIDNumber, "uidNumber")
	setDefault(&s.GIDNumber, "gidNumber")
	setDefault(&s.HomeDirectory, "homeDirectory")
	setDefault(&s.LoginShell, "loginShell")
	setDefault(&s.SSHPublicKey, "sshPublicKey")
	setDefault(&s.Mail, "mail")
	setDefault(&s.CommonName, "cn")
	setDefault(&s.Surname, "sn")
	setDefault(&s.Password, "userPassword")
	setDefault(&s.Member, "member")
	setDefault(&s.Description, "description")
	setDefault(&s.Owner, "owner")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
