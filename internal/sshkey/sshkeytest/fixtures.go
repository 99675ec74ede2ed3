// Package sshkeytest holds real public keys for tests.
package sshkeytest

const (
	// Key1 is an ed25519 key with comment.
	Key1 = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIE98KdrOV7JohIuejhoxwkhU4tXmyrscPCWDqeVAVXj3 Bitu test key 1"
	// Key1Bare is Key1 without comment.
	Key1Bare = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIE98KdrOV7JohIuejhoxwkhU4tXmyrscPCWDqeVAVXj3"
	// Key1FP is the fingerprint of Key1.
	Key1FP = "SHA256:Aw7hqRkO7kpOh2hPrEZelNsbDHx1bhykczfPLknzYDw"

	// Key2 is a second ed25519 key.
	Key2 = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIOxNideuQLvciH5ssbXrJAGUW4oPNVOcBJ/RlLQ5CEOI Bitu test key 2"
	// Key2FP is the fingerprint of Key2.
	Key2FP = "SHA256:LW9PdXWUGUdK2zLMATsEXkjXtIaTWUEu5p0NFnZAKt0"

	// RSA1024 is below the usual minimum size.
	RSA1024 = "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAAAgQC2gysMkLfLqOuNhHgRiEGPdruI1Y6i1x47UEZPxQ0ltNjGStQiSsNi4N4KqGTz/MGjMEm54q0ktEpMOIieRsRNKrdr72KU5z3PiKBIrHqOo17kOdmpePL5BQb+QMlpBDSNV2mBm3vlh3HxcWEOjqBTPac/yJbJTcAorYrQmZpY3Q== small rsa" //nolint:lll

	// ECDSA is a nistp256 key.
	ECDSA = "ecdsa-sha2-nistp256 AAAAE2VjZHNhLXNoYTItbmlzdHAyNTYAAAAIbmlzdHAyNTYAAABBBLUASBymga5G91XryWVl/2zp6dfEYHpNFKuc5IWuZrRPiOL53Gmlr9kVNgNvesKWeKU5po2pK+cUALLQnk0Nmds= ecdsa key" //nolint:lll
	// ECDSAFP is the fingerprint of ECDSA.
	ECDSAFP = "SHA256:jYGnnXk9bETsGP9q3vcyFwKleThpgyzbjYqWxC8Hrac"
)
