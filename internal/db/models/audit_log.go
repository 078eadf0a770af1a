// Package models - audit_log.go defines the AuditLog model: one immutable, hash-chained
// record of a state change or a sampled request.
package models

import "time"

// Audit actions
const (
	AuditActionCreate  = "CREATE"
	AuditActionUpdate  = "UPDATE"
	AuditActionDelete  = "DELETE"
	AuditActionRequest = "REQUEST"
)

// Actor classes recorded in AuditLog.UserType
const (
	UserTypeUser   = "user"
	UserTypeAdmin  = "admin"
	UserTypeSystem = "system"
)

// AuditLog represents an audit log entry
type AuditLog struct {
	ID            string                 `json:"id"`
	Seq           int64                  `json:"seq"`
	TableName     string                 `json:"table_name"`
	Action        string                 `json:"action"`
	RecordID      *string                `json:"record_id,omitempty"`
	UserID        *string                `json:"user_id,omitempty"` // nil for system actions
	UserType      string                 `json:"user_type"`
	OldValues     map[string]interface{} `json:"old_values,omitempty"`
	NewValues     map[string]interface{} `json:"new_values,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	IPAddress     *string                `json:"ip_address,omitempty"`
	UserAgent     *string                `json:"user_agent,omitempty"`
	SessionID     *string                `json:"session_id,omitempty"`
	PreviousHash  string                 `json:"previous_hash"`
	HashSignature string                 `json:"hash_signature"`
	CreatedAt     time.Time              `json:"created_at"`
}

// AuditLogFilter narrows ListAuditLogs
type AuditLogFilter struct {
	TableName string
	Action    string
	UserID    string
	RecordID  string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
