package database

import (
	"context"
	"time"
)

// ScanStore persists canonical scan records. Records are append-only: no
// update or delete is exposed.
type ScanStore interface {
	// Kind names the backend, e.g. "file" or "redis".
	Kind() string
	// EnsureSchema prepares the backend (tables, files) and is idempotent.
	EnsureSchema(ctx context.Context) error
	// Append assigns an id and receipt time and stores the record durably
	// before returning it.
	Append(ctx context.Context, in ScanRecordInput) (*ScanRecord, error)
	// ListRecent returns at most limit records, newest first. A limit of
	// zero or less selects the backend default.
	ListRecent(ctx context.Context, limit int) ([]*ScanRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options carries backend settings shared by all stores.
type Options struct {
	// ListLimit overrides the backend default for ListRecent.
	ListLimit int
	// RequireDeviceID makes the SQL store reject records without a device id.
	RequireDeviceID bool
	// KeyPrefix namespaces Redis keys.
	KeyPrefix string
	// Now is the server clock; defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o Options) listLimit(backendDefault int) int {
	if o.ListLimit > 0 {
		return o.ListLimit
	}
	return backendDefault
}
