// Package audit records every grid mutation and dataset change.
//
// Entries are written through a [Recorder]. Three stores are available:
// an in-process ring buffer, a SQLite file, and PostgreSQL. [Open] picks one
// from configuration.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action represents the type of action being audited.
type Action string

const (
	ActionRowAdd         Action = "row_add"
	ActionRowEdit        Action = "row_edit"
	ActionRowDelete      Action = "row_delete"
	ActionSaveAll        Action = "save_all"
	ActionBatch          Action = "batch"
	ActionDatasetSave    Action = "dataset_save"
	ActionDatasetLoad    Action = "dataset_load"
	ActionDatasetImport  Action = "dataset_import"
	ActionProfileReload  Action = "profile_reload"
	ActionSessionConnect Action = "session_connect"
)

// Severity represents the severity level of an audit entry.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Entry is a single audit log entry.
type Entry struct {
	ID           string            `json:"id"`
	Action       Action            `json:"action"`
	Severity     Severity          `json:"severity"`
	Identifier   string            `json:"identifier,omitempty"`
	Ordinal      int               `json:"ordinal,omitempty"`
	Record       map[string]string `json:"record,omitempty"`
	BatchID      string            `json:"batchId,omitempty"`
	Success      bool              `json:"success"`
	Error        string            `json:"error,omitempty"`
	Attempts     int               `json:"attempts,omitempty"`
	RowsAffected int               `json:"rowsAffected,omitempty"`
	IPAddress    string            `json:"ipAddress,omitempty"`
	UserAgent    string            `json:"userAgent,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Filter narrows a Recent query.
type Filter struct {
	Action Action
	Limit  int
}

// DefaultLimit caps Recent when Filter.Limit is unset.
const DefaultLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return DefaultLimit
	}
	return f.Limit
}

// Recorder stores and reads audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, f Filter) ([]Entry, error)
	Close() error
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action Action) Severity {
	switch action {
	case ActionRowDelete, ActionSaveAll, ActionBatch:
		return SeverityHigh
	case ActionDatasetLoad:
		return SeverityCritical
	case ActionDatasetSave, ActionSessionConnect:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// prepare fills the fields every store needs: ID, severity, time and the
// request metadata carried by ctx.
func prepare(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Severity == "" {
		e.Severity = determineSeverity(e.Action)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = IPAddressFromContext(ctx)
	}
	if e.UserAgent == "" {
		e.UserAgent = UserAgentFromContext(ctx)
	}
	return e
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Record(context.Context, Entry) error             { return nil }
func (Discard) Recent(context.Context, Filter) ([]Entry, error) { return []Entry{}, nil }
func (Discard) Close() error                                    { return nil }
