package record

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists for the given event ID.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateID is returned when inserting an event ID that already exists.
	ErrDuplicateID = errors.New("duplicate event id")
	// ErrBadTransition is returned when a status change would regress the
	// lifecycle or leave a terminal state.
	ErrBadTransition = errors.New("illegal status transition")
)

// Store is the minimal document-store capability the engine consumes:
// read by key, field-scoped partial update, log-array append. Exactly one
// swarm worker ever writes a given record, so implementations only need to
// be safe for concurrent access across distinct event IDs.
type Store interface {
	// Insert creates the record. Fails with ErrDuplicateID if present.
	Insert(ctx context.Context, rec *Record) error

	// Get returns a copy of the record, or ErrNotFound.
	Get(ctx context.Context, eventID string) (*Record, error)

	// SetStatus transitions the record's status, recording errMsg when the
	// new status is failed. Returns ErrBadTransition on regression.
	SetStatus(ctx context.Context, eventID string, status Status, errMsg string) error

	// SetLayer writes the named layer payload and bumps last_update.
	SetLayer(ctx context.Context, eventID, layer string, payload map[string]any) error

	// AppendAudit appends one entry to the record's audit log.
	AppendAudit(ctx context.Context, eventID string, entry AuditEntry) error

	// AppendHandoff appends one entry to the record's handoff log.
	AppendHandoff(ctx context.Context, eventID string, handoff Handoff) error
}
