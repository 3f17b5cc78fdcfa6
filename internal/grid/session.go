package grid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/gridfill/internal/audit"
	"github.com/JonMunkholm/gridfill/internal/core"
	"github.com/JonMunkholm/gridfill/internal/logging"
)

// State is the lifecycle state of a grid session.
type State int

const (
	StateDisconnected State = iota
	StateReady
	StateInBatch
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateReady:
		return "ready"
	case StateInBatch:
		return "in_batch"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// operable reports whether grid operations are allowed in s.
func (s State) operable() bool {
	return s == StateReady || s == StateInBatch
}

// Session owns the executor for one browser page and gates every grid
// operation on its state.
//
//	Disconnected -> Ready        Connect
//	Ready        -> InBatch      BatchAdd
//	InBatch      -> Ready        batch done
//	any live     -> Degraded     SessionFault
//	Degraded     -> Ready        Connect (re-navigation)
//	any          -> Closed       Close
type Session struct {
	exec *Executor
	orch *Orchestrator

	mu          sync.Mutex
	state       State
	lastErr     string
	connectedAt time.Time
	batchID     string
	cancelBatch context.CancelFunc
}

// NewSession creates a disconnected session. page may be nil when no
// browser is attached; Connect then fails with ErrNoPage.
func NewSession(page Page, cfg Config, recorder audit.Recorder, validator Validator) *Session {
	exec := NewExecutor(page, cfg, recorder)
	return &Session{
		exec:  exec,
		orch:  NewOrchestrator(exec, validator),
		state: StateDisconnected,
	}
}

// Executor returns the session's executor.
func (s *Session) Executor() *Executor { return s.exec }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reconfigure swaps the grid configuration for later operations.
func (s *Session) Reconfigure(cfg Config) {
	s.exec.Reconfigure(cfg)
}

// Connect navigates to the grid and waits for it to render. The wait is
// bounded by the login timeout so a headed browser leaves time for a manual
// sign-in. Connect also recovers a degraded session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateInBatch:
		s.mu.Unlock()
		return ErrBatchRunning
	}
	s.mu.Unlock()

	if s.exec.page == nil {
		return ErrNoPage
	}
	if err := s.exec.cursor.Acquire(ctx, "connect"); err != nil {
		return err
	}
	defer s.exec.cursor.Release()

	cfg := s.exec.Config()
	logger := logging.WithFields(ctx, "url", cfg.BaseURL)
	logger.Info("connecting to grid")

	err := s.navigate(ctx, cfg)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.state = StateReady
		s.lastErr = ""
		s.connectedAt = time.Now().UTC()
	}
	s.mu.Unlock()

	entry := audit.Entry{Action: audit.ActionSessionConnect, Identifier: cfg.BaseURL, Success: err == nil}
	if err != nil {
		entry.Error = err.Error()
		logger.Error("grid connect failed", "error", err)
	} else {
		logger.Info("grid connected")
	}
	if rerr := s.exec.recorder.Record(context.WithoutCancel(ctx), entry); rerr != nil {
		logger.Warn("audit record failed", "error", rerr)
	}
	return err
}

func (s *Session) navigate(ctx context.Context, cfg Config) error {
	loadTimeout := cfg.PageLoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = 60 * time.Second
	}
	nctx, cancel := context.WithTimeout(ctx, loadTimeout)
	err := s.exec.page.Navigate(nctx, cfg.BaseURL)
	cancel()
	if err = classify(ctx, "navigate", err); err != nil {
		return err
	}

	loginTimeout := cfg.LoginTimeout
	if loginTimeout <= 0 {
		loginTimeout = 120 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()
	return classify(ctx, "wait for grid", s.exec.page.WaitVisible(wctx, cfg.gridSelector()))
}

// Close ends the session for good and cancels a running batch between items.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	if s.cancelBatch != nil {
		s.cancelBatch()
	}
}

// CancelBatch asks the running batch to stop after its current item.
func (s *Session) CancelBatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelBatch == nil {
		return false
	}
	s.cancelBatch()
	return true
}

// SessionStatus is a point-in-time view of the session.
type SessionStatus struct {
	State       State        `json:"state"`
	Error       string       `json:"error,omitempty"`
	ConnectedAt time.Time    `json:"connected_at,omitempty"`
	BatchID     string       `json:"batch_id,omitempty"`
	Staged      int          `json:"staged"`
	Cursor      CursorStatus `json:"cursor"`
	BaseURL     string       `json:"base_url"`
}

// Status reports the session state.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	st := SessionStatus{
		State:       s.state,
		Error:       s.lastErr,
		ConnectedAt: s.connectedAt,
		BatchID:     s.batchID,
	}
	s.mu.Unlock()

	st.Staged = s.exec.Staged()
	st.Cursor = s.exec.cursor.Status()
	st.BaseURL = s.exec.Config().BaseURL
	return st
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateClosed:
		return ErrSessionClosed
	case !s.state.operable():
		return fmt.Errorf("%w: state is %s", ErrSessionNotReady, s.state)
	}
	return nil
}

// observe degrades the session when err carries a SessionFault.
func (s *Session) observe(ctx context.Context, err error) error {
	if err == nil || !IsSessionFault(err) {
		return err
	}
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = StateDegraded
	}
	s.lastErr = err.Error()
	s.mu.Unlock()
	logging.FromContext(ctx).Error("grid session degraded", "error", err)
	return err
}

// Add creates a row from rec.
func (s *Session) Add(ctx context.Context, rec core.TestData) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	res, err := s.exec.Add(ctx, rec)
	return res, s.observe(ctx, err)
}

// Edit updates the row named by id.
func (s *Session) Edit(ctx context.Context, id Identifier, rec core.TestData) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	res, err := s.exec.Edit(ctx, id, rec)
	return res, s.observe(ctx, err)
}

// Delete removes the row named by id.
func (s *Session) Delete(ctx context.Context, id Identifier, confirm Confirmer) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	res, err := s.exec.Delete(ctx, id, confirm)
	return res, s.observe(ctx, err)
}

// View reads the grid.
func (s *Session) View(ctx context.Context) (View, error) {
	if err := s.ready(); err != nil {
		return View{}, err
	}
	v, err := s.exec.View(ctx)
	return v, s.observe(ctx, err)
}

// SaveAll finalizes staged rows.
func (s *Session) SaveAll(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	n, err := s.exec.SaveAll(ctx)
	return n, s.observe(ctx, err)
}

// Search triggers the grid search.
func (s *Session) Search(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.observe(ctx, s.exec.Search(ctx))
}

// BatchAdd runs a batch. Only one batch runs at a time.
func (s *Session) BatchAdd(ctx context.Context, records []core.TestData) (BatchResult, error) {
	s.mu.Lock()
	switch s.state {
	case StateInBatch:
		s.mu.Unlock()
		return BatchResult{}, ErrBatchRunning
	case StateReady:
	case StateClosed:
		s.mu.Unlock()
		return BatchResult{}, ErrSessionClosed
	default:
		st := s.state
		s.mu.Unlock()
		return BatchResult{}, fmt.Errorf("%w: state is %s", ErrSessionNotReady, st)
	}
	bctx, cancel := context.WithCancel(ctx)
	batchID := uuid.NewString()
	s.state = StateInBatch
	s.cancelBatch = cancel
	s.batchID = batchID
	s.mu.Unlock()

	res, err := s.orch.Run(bctx, batchID, records)
	cancel()

	s.mu.Lock()
	s.cancelBatch = nil
	switch {
	case s.state != StateInBatch:
	case IsSessionFault(err):
		s.state = StateDegraded
		s.lastErr = err.Error()
	default:
		s.state = StateReady
	}
	s.mu.Unlock()

	if IsSessionFault(err) {
		logging.FromContext(ctx).Error("grid session degraded", "batch_id", res.BatchID, "error", err)
	}
	return res, err
}
