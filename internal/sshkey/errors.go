package sshkey

import "errors"

var (
	// ErrInvalidKey is returned for text that is not an OpenSSH public key.
	ErrInvalidKey = errors.New("invalid ssh public key")
	// ErrPrivateKey is returned when a private key was submitted.
	ErrPrivateKey = errors.New("private key submitted, only public keys are accepted")
	// ErrKeyTypeNotAllowed is returned for key types outside the policy.
	ErrKeyTypeNotAllowed = errors.New("ssh key type not allowed")
	// ErrKeyTooSmall is returned for RSA keys below the policy minimum.
	ErrKeyTooSmall = errors.New("ssh key too small")
)
