package grid

// cursor.go serializes access to the grid's single edit cursor.
//
// The cursor is a one-slot semaphore. Each operation holds it from row
// resolution through the final commit so that concurrent callers queue
// instead of interleaving writes. Waiting callers give up after maxWait with
// ErrCursorBusy. WaitForDrain lets shutdown wait for the holder to finish.

import (
	"context"
	"sync"
	"time"
)

// DefaultCursorWait is how long a caller queues for the cursor.
const DefaultCursorWait = 5 * time.Minute

// Cursor guards the grid's edit cursor.
type Cursor struct {
	slot    chan struct{}
	maxWait time.Duration

	mu     sync.RWMutex
	holder string
	since  time.Time
}

// NewCursor creates a cursor whose waiters time out after maxWait.
func NewCursor(maxWait time.Duration) *Cursor {
	if maxWait <= 0 {
		maxWait = DefaultCursorWait
	}
	return &Cursor{
		slot:    make(chan struct{}, 1),
		maxWait: maxWait,
	}
}

// Acquire takes the cursor for op. The caller MUST call Release.
func (c *Cursor) Acquire(ctx context.Context, op string) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()

	select {
	case c.slot <- struct{}{}:
		c.hold(op)
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrCursorBusy
	}
}

// TryAcquire takes the cursor only if it is free.
func (c *Cursor) TryAcquire(op string) bool {
	select {
	case c.slot <- struct{}{}:
		c.hold(op)
		return true
	default:
		return false
	}
}

func (c *Cursor) hold(op string) {
	c.mu.Lock()
	c.holder = op
	c.since = time.Now()
	c.mu.Unlock()
}

// Release frees the cursor. Must be called exactly once per acquire.
func (c *Cursor) Release() {
	c.mu.Lock()
	c.holder = ""
	c.since = time.Time{}
	c.mu.Unlock()

	<-c.slot
}

// Busy reports whether an operation holds the cursor.
func (c *Cursor) Busy() bool {
	return len(c.slot) == 1
}

// WaitForDrain blocks until the cursor is free or ctx ends.
func (c *Cursor) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !c.Busy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CursorStatus is a snapshot of the cursor.
type CursorStatus struct {
	Busy   bool      `json:"busy"`
	Holder string    `json:"holder,omitempty"`
	Since  time.Time `json:"since,omitempty"`
}

// Status returns the current holder, if any.
func (c *Cursor) Status() CursorStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CursorStatus{Busy: c.Busy(), Holder: c.holder, Since: c.since}
}
