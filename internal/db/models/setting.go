// Package models contains the gorm models of the relational store.
package models

// Setting is a named blob, used for engine state that must survive restarts.
type Setting struct {
	ID    uint64 `gorm:"primaryKey"`
	Name  string `gorm:"unique;size:100"`
	Value []byte
}

// TableName specifies the database table name for the Setting model.
func (Setting) TableName() string {
	return "settings"
}

// All returns every model in migration order.
func All() []any {
	return []any{
		&User{},
		&Setting{},
		&SSHKey{},
		&Signup{},
		&SignupPassword{},
		&PermissionRequest{},
		&ApprovalLog{},
		&Event{},
	}
}
