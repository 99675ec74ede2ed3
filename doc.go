// Package main provides the entry point for dirsync, the directory
// reconciliation engine of the Bitu identity manager. It keeps users, SSH
// keys and group permissions stored in a relational database synchronized
// with an LDAP directory. Changes to relational records are queued as outbox
// events and applied to the directory by background workers, while a
// periodic sweeper imports changes made directly in the directory.
package main
