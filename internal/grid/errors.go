package grid

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSessionNotReady = errors.New("session not ready")
	ErrSessionClosed   = errors.New("session closed")
	ErrDeleteDeclined  = errors.New("delete declined")
	ErrCursorBusy      = errors.New("edit cursor busy")
	ErrBatchTooLarge   = errors.New("batch too large")
	ErrBatchRunning    = errors.New("batch already running")
	ErrNoPage          = errors.New("no browser page attached")
	ErrNoControl       = errors.New("grid control not configured")

	// ErrNotInteractable is returned by a Page when an element exists but
	// cannot take input yet.
	ErrNotInteractable = errors.New("element not interactable")
)

// NotFoundError reports an identifier that matches no live row.
type NotFoundError struct {
	ID       Identifier
	RowCount int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("row not found: %s (table has %d rows)", e.ID, e.RowCount)
}

// TransientUIError is a timeout or render race that may succeed on retry.
type TransientUIError struct {
	Op  string
	Err error
}

func (e *TransientUIError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TransientUIError) Unwrap() error { return e.Err }

// RejectedError is a write the table refused without timing out. It is
// never retried.
type RejectedError struct {
	Field  string
	Want   string
	Got    string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return "write rejected: " + e.Reason
	}
	return fmt.Sprintf("write rejected: %s shows %q after writing %q", e.Field, e.Got, e.Want)
}

// ItemFailure is an operation that failed after its retry budget.
type ItemFailure struct {
	Attempts int
	Err      error
}

func (e *ItemFailure) Error() string {
	return fmt.Sprintf("item failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ItemFailure) Unwrap() error { return e.Err }

// SessionFault means the live table no longer matches the configured layout.
// The session is unusable until it is re-navigated.
type SessionFault struct {
	Reason string
}

func (e *SessionFault) Error() string {
	return "session fault: " + e.Reason
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	var t *TransientUIError
	return errors.As(err, &t)
}

// IsSessionFault reports whether err carries a SessionFault.
func IsSessionFault(err error) bool {
	var f *SessionFault
	return errors.As(err, &f)
}

// classify turns a raw page error into the grid taxonomy. A deadline from a
// bounded wait is transient; a cancelled parent is returned as is.
func classify(parent context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	var (
		t *TransientUIError
		r *RejectedError
		f *SessionFault
		n *NotFoundError
	)
	if errors.As(err, &t) || errors.As(err, &r) || errors.As(err, &f) || errors.As(err, &n) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNotInteractable) {
		return &TransientUIError{Op: op, Err: err}
	}
	return err
}
