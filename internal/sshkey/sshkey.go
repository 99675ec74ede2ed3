// Package sshkey parses OpenSSH public keys and derives the values used to
// compare them: type, size, SHA256 fingerprint and a bounded comment.
//
// Keys are matched by fingerprint everywhere in dirsync, never by literal
// text, because the directory may store a key with different whitespace or
// comment than the relational record.
package sshkey

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/ssh"
)

// MaxCommentLength bounds comments stored for a key.
const MaxCommentLength = 256

// Key is a parsed public key.
type Key struct {
	// Type is the ssh algorithm name, e.g. ssh-ed25519.
	Type string
	// Bits is the key size.
	Bits int
	// Fingerprint is the SHA256 fingerprint, e.g. SHA256:Aw7h...
	Fingerprint string
	// Comment is the trailing comment, trimmed and bounded by MaxCommentLength.
	Comment string
	// Canonical is "<type> <base64>" followed by the comment when one is present.
	Canonical string

	public ssh.PublicKey
}

// Parse parses a single authorized_keys line.
func Parse(raw string) (*Key, error) {
	if looksPrivate(raw) {
		return nil, ErrPrivateKey
	}

	pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	comment = Truncate(strings.TrimSpace(comment), MaxCommentLength)

	canonical := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	if comment != "" {
		canonical += " " + comment
	}

	return &Key{
		Type:        pub.Type(),
		Bits:        bits(pub),
		Fingerprint: ssh.FingerprintSHA256(pub),
		Comment:     comment,
		Canonical:   canonical,
		public:      pub,
	}, nil
}

// Fingerprint returns the SHA256 fingerprint of raw.
func Fingerprint(raw string) (string, error) {
	k, err := Parse(raw)
	if err != nil {
		return "", err
	}

	return k.Fingerprint, nil
}

// Material returns "<type> <base64>" without comment, the part identifying the key.
func (k *Key) Material() string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(k.public)))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	r := []rune(s)

	return string(r[:n])
}

// Policy restricts which keys users may upload.
type Policy struct {
	// AllowedTypes lists accepted key types. Empty accepts every type.
	AllowedTypes []string
	// MinRSABits is the minimum ssh-rsa modulus size. 0 disables the check.
	MinRSABits int
}

// Validate parses raw and checks it against the policy.
func (p Policy) Validate(raw string) (*Key, error) {
	k, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if len(p.AllowedTypes) > 0 && !slices.Contains(p.AllowedTypes, k.Type) {
		return nil, fmt.Errorf("%w: %s", ErrKeyTypeNotAllowed, k.Type)
	}

	if k.Type == ssh.KeyAlgoRSA && p.MinRSABits > 0 && k.Bits < p.MinRSABits {
		return nil, fmt.Errorf("%w: %d < %d bits", ErrKeyTooSmall, k.Bits, p.MinRSABits)
	}

	return k, nil
}

func looksPrivate(raw string) bool {
	if strings.Contains(raw, "PRIVATE KEY") {
		return true
	}

	_, err := ssh.ParseRawPrivateKey([]byte(raw))

	return err == nil
}

func bits(pub ssh.PublicKey) int {
	switch pub.Type() {
	case ssh.KeyAlgoED25519, ssh.KeyAlgoSKED25519:
		return 256
	}

	cpk, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return 0
	}

	switch k := cpk.CryptoPublicKey().(type) {
	case *rsa.PublicKey:
		return k.N.BitLen()
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	}

	return 0
}
