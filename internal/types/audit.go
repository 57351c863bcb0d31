package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction enumerates the mutations the audit log records.
type AuditAction string

const (
	AuditCreate AuditAction = "CREATE"
	AuditUpdate AuditAction = "UPDATE"
	AuditDelete AuditAction = "DELETE"
)

// AuditLogEntry is an immutable record of a single mutation, written in the
// same transaction as the mutation itself. Before/After hold JSON snapshots
// of the entity state; either may be absent.
type AuditLogEntry struct {
	ID        uuid.UUID       `json:"id"`
	ActorID   int64           `json:"actor_id"`
	Entity    string          `json:"entity"`
	EntityID  int64           `json:"entity_id"`
	Action    AuditAction     `json:"action"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditLogFilter selects audit entries for the admin listing.
type AuditLogFilter struct {
	EntityID int64 `json:"entityId,omitempty"`
	Page     int   `json:"page"`
	Limit    int   `json:"limit"`
}

// Normalize applies the audit listing defaults.
func (f *AuditLogFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
}

// AuditLogPage is one page of audit entries plus pagination metadata.
type AuditLogPage struct {
	Data     []AuditLogEntry `json:"data"`
	Metadata PageMetadata    `json:"metadata"`
}

// RoleCount is one row of the active-users report.
type RoleCount struct {
	Role  Role  `json:"role"`
	Count int64 `json:"count"`
}
