package models

import (
	"time"
)

// PermissionStatus is the state of a permission request.
type PermissionStatus string

const (
	// PermissionPending waits for validation rules to decide.
	PermissionPending PermissionStatus = "pending"
	// PermissionApproved was granted in the directory.
	PermissionApproved PermissionStatus = "approved"
	// PermissionRejected was refused by a rule or a manager.
	PermissionRejected PermissionStatus = "rejected"
	// PermissionCancelled was withdrawn or expired.
	PermissionCancelled PermissionStatus = "cancelled"
	// PermissionSynchronized labels directory memberships never requested through dirsync.
	// It is never stored, only reported.
	PermissionSynchronized PermissionStatus = "synchronized"
)

// PermissionRequest is a request for membership in a directory group.
type PermissionRequest struct {
	// ID is the request UUID.
	ID string `gorm:"primaryKey;size:36"`
	// Key is the directory group name.
	Key string `gorm:"column:permission_key;size:255;not null;index:idx_request_lookup"`
	// Subsystem names the backend owning the group.
	Subsystem string `gorm:"size:64;not null;index:idx_request_lookup"`
	// UserID references the requesting user.
	UserID uint64 `gorm:"not null;index:idx_request_lookup"`
	// User is the requesting user.
	User User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	// Status is the request state.
	Status PermissionStatus `gorm:"type:varchar(20);not null;index"`
	// Comment is the free text justification.
	Comment string `gorm:"type:text"`
	// Ticket is an optional external ticket reference.
	Ticket string `gorm:"size:255"`
	// Logs are the approval decisions recorded against the request.
	Logs []ApprovalLog `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE"`
	// CreatedAt is the timestamp when the request was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the request was last updated (managed by GORM).
	UpdatedAt time.Time
}

// TableName specifies the database table name for the PermissionRequest model.
func (PermissionRequest) TableName() string {
	return "permission_requests"
}

// ApprovalLog is one approval or rejection of a permission request.
type ApprovalLog struct {
	ID        uint64 `gorm:"primaryKey"`
	RequestID string `gorm:"size:36;not null;index"`
	// CreatedBy is the username of the deciding manager.
	CreatedBy string `gorm:"size:100;not null"`
	Approved  bool   `gorm:"not null"`
	Comment   string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName specifies the database table name for the ApprovalLog model.
func (ApprovalLog) TableName() string {
	return "permission_logs"
}
