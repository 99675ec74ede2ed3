package config

// DB holds the database configuration settings.
type DB struct {
	Extras   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	// GormEngine selects the gorm dialector: mysql, postgres or sqlite.
	// For sqlite, Name is the database file (":memory:" for tests).
	GormEngine string `toml:"gormEngine"`
	// AutoMigrate runs gorm AutoMigrate for every model at start.
	AutoMigrate bool `toml:"autoMigrate"`
}
