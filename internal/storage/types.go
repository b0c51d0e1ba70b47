package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the store. Driver is "file" (default) or "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
}

// TenantRecord is the persisted per-tenant document. The JSON names match
// the servers.json layout used by earlier deployments.
type TenantRecord struct {
	Channel     string `json:"channel"`
	HolidaySkip bool   `json:"holiday_skip"`
	SchedulerOn bool   `json:"scheduler_on"`
}

// AuditEntry records one command-driven change.
type AuditEntry struct {
	At        time.Time `json:"at"`
	TenantID  string    `json:"tenant_id"`
	ActorID   string    `json:"actor_id"`
	ActorName string    `json:"actor_name,omitempty"`
	Action    string    `json:"action"`
	Value     string    `json:"value,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
}

// Store is the persistence API used by the tenant registry and commands.
type Store interface {
	// LoadTenants returns an empty map when nothing was saved yet.
	LoadTenants(ctx context.Context) (map[string]TenantRecord, error)
	// SaveTenants replaces the whole registry atomically.
	SaveTenants(ctx context.Context, tenants map[string]TenantRecord) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
