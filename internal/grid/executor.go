package grid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/gridfill/internal/audit"
	"github.com/JonMunkholm/gridfill/internal/core"
	"github.com/JonMunkholm/gridfill/internal/logging"
)

const pollInterval = 100 * time.Millisecond

// Confirmer approves a destructive action on a located row.
type Confirmer func(ctx context.Context, row RowHandle) bool

// Result describes a completed row operation.
type Result struct {
	Op        string   `json:"op"`
	Ordinal   int      `json:"ordinal,omitempty"`
	Ambiguous bool     `json:"ambiguous,omitempty"`
	Changed   []string `json:"changed,omitempty"`
	Attempts  int      `json:"attempts"`
	Staged    int      `json:"staged"`
}

// View is every data row of the grid, keyed by field name.
type View struct {
	RowCount int       `json:"row_count"`
	Headers  []string  `json:"headers,omitempty"`
	Rows     []ViewRow `json:"rows"`
}

// ViewRow is one row of a View.
type ViewRow struct {
	Ordinal int               `json:"ordinal"`
	Fields  map[string]string `json:"fields"`
}

// Executor performs single row operations against the page. Each operation
// holds the edit cursor from resolution through commit and is retried on
// transient failures.
type Executor struct {
	page     Page
	cursor   *Cursor
	recorder audit.Recorder

	mu     sync.RWMutex
	cfg    Config
	staged int
}

// NewExecutor creates an executor. A nil recorder disables the audit trail.
func NewExecutor(page Page, cfg Config, recorder audit.Recorder) *Executor {
	if recorder == nil {
		recorder = audit.Discard{}
	}
	return &Executor{
		page:     page,
		cursor:   NewCursor(cfg.CursorWait),
		recorder: recorder,
		cfg:      cfg,
	}
}

// Config returns the active configuration.
func (e *Executor) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Reconfigure swaps the configuration. Running operations keep the
// configuration they started with.
func (e *Executor) Reconfigure(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Cursor exposes the edit cursor for status and shutdown.
func (e *Executor) Cursor() *Cursor { return e.cursor }

// Staged returns the number of row commits not yet finalized by SaveAll.
func (e *Executor) Staged() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.staged
}

func (e *Executor) stage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.staged++
	return e.staged
}

// Add creates a new row and writes rec into it.
func (e *Executor) Add(ctx context.Context, rec core.TestData) (Result, error) {
	res := Result{Op: "add"}
	created := 0

	st, err := e.run(ctx, "add", func(ctx context.Context, cfg Config) error {
		snap, err := e.snapshot(ctx, cfg)
		if err != nil {
			return err
		}

		// A previous attempt may already have opened the row.
		if created == 0 || snap.RowCount() < created {
			if created, err = e.createRow(ctx, cfg, snap.RowCount()); err != nil {
				return err
			}
		}

		idx := created - 1
		if cfg.NewRow == "first" {
			idx = 0
		}
		res.Ordinal = idx + 1

		changed, err := e.writeCells(ctx, cfg, idx, rec, nil)
		res.Changed = mergeFields(res.Changed, changed)
		if err != nil {
			return err
		}
		if err := e.commitRow(ctx, cfg); err != nil {
			return err
		}
		return e.verify(ctx, cfg, rec, res.Ordinal)
	})

	res.Attempts = st.Attempt
	if err == nil {
		res.Staged = e.stage()
	}
	e.record(ctx, audit.Entry{
		Action:     audit.ActionRowAdd,
		Identifier: keyIdentifier(e.Config(), rec),
		Ordinal:    res.Ordinal,
		Record:     rec.Fields(),
	}, res, err)
	return res, err
}

// Edit locates id and writes the fields of rec that differ from the row.
// Empty fields in rec are left untouched.
func (e *Executor) Edit(ctx context.Context, id Identifier, rec core.TestData) (Result, error) {
	res := Result{Op: "edit"}
	target := id

	st, err := e.run(ctx, "edit", func(ctx context.Context, cfg Config) error {
		snap, err := e.snapshot(ctx, cfg)
		if err != nil {
			return err
		}
		loc, err := Locate(snap, target, cfg.keyColumn())
		if err != nil {
			return err
		}
		if loc.Ambiguous() {
			logging.FromContext(ctx).Warn("identifier matches several rows, using the first",
				"identifier", target.String(), "matches", loc.Matches, "ordinal", loc.Row.Ordinal)
		}
		res.Ordinal, res.Ambiguous = loc.Row.Ordinal, loc.Ambiguous()

		if err := e.selectRow(ctx, cfg, loc.Row, cfg.Selectors.Edit); err != nil {
			return err
		}

		changed, err := e.writeCells(ctx, cfg, loc.Row.Index(), rec, loc.Row.Cells)
		res.Changed = mergeFields(res.Changed, changed)
		if slices.Contains(changed, cfg.KeyField) {
			// The row now answers to its new key.
			key, _ := rec.Field(cfg.KeyField)
			target = ContentKey(key)
		}
		if err != nil {
			return err
		}
		if len(res.Changed) == 0 {
			return nil
		}
		if err := e.commitRow(ctx, cfg); err != nil {
			return err
		}
		return e.verify(ctx, cfg, rec, loc.Row.Ordinal)
	})

	res.Attempts = st.Attempt
	if err == nil && len(res.Changed) > 0 {
		res.Staged = e.stage()
	} else {
		res.Staged = e.Staged()
	}
	e.record(ctx, audit.Entry{
		Action:     audit.ActionRowEdit,
		Identifier: id.String(),
		Ordinal:    res.Ordinal,
		Record:     rec.Fields(),
	}, res, err)
	return res, err
}

// Delete locates id and removes the row. When destructive actions need
// confirmation, confirm must approve the located row or the delete is
// declined without touching the grid.
func (e *Executor) Delete(ctx context.Context, id Identifier, confirm Confirmer) (Result, error) {
	res := Result{Op: "delete"}
	var first *RowHandle

	st, err := e.run(ctx, "delete", func(ctx context.Context, cfg Config) error {
		if cfg.Selectors.Delete == "" {
			return fmt.Errorf("delete: %w", ErrNoControl)
		}
		snap, err := e.snapshot(ctx, cfg)
		if err != nil {
			return err
		}

		var row RowHandle
		if first == nil {
			loc, err := Locate(snap, id, cfg.keyColumn())
			if err != nil {
				return err
			}
			if cfg.ConfirmDestructive && (confirm == nil || !confirm(ctx, loc.Row)) {
				return ErrDeleteDeclined
			}
			row = loc.Row
			first = &row
		} else {
			// Retrying: find the row by content, the earlier click may
			// already have removed it and shifted the ordinals.
			var ok bool
			if row, ok = findCells(snap, first.Cells); !ok {
				return nil
			}
		}
		res.Ordinal = row.Ordinal
		before := snap.RowCount()

		if err := e.selectRow(ctx, cfg, row, ""); err != nil {
			return err
		}
		if err := e.click(ctx, cfg, "click delete", cfg.Selectors.Delete); err != nil {
			return err
		}
		if cfg.Selectors.Confirm != "" {
			if err := e.click(ctx, cfg, "confirm delete", cfg.Selectors.Confirm); err != nil {
				return err
			}
		}
		if err := e.commitRow(ctx, cfg); err != nil {
			return err
		}
		return e.poll(ctx, cfg, "wait for row removal", func(ctx context.Context) (bool, error) {
			n, err := e.page.Count(ctx, cfg.Selectors.DataRow)
			return n < before, err
		})
	})

	res.Attempts = st.Attempt
	if err == nil {
		res.Staged = e.stage()
	}
	entry := audit.Entry{Action: audit.ActionRowDelete, Identifier: id.String(), Ordinal: res.Ordinal}
	if first != nil {
		entry.Record = e.Config().fields(first.Cells)
	}
	e.record(ctx, entry, res, err)
	return res, err
}

// View reads every data row.
func (e *Executor) View(ctx context.Context) (View, error) {
	var v View
	_, err := e.run(ctx, "view", func(ctx context.Context, cfg Config) error {
		snap, err := e.snapshot(ctx, cfg)
		if err != nil {
			return err
		}
		v = View{RowCount: snap.RowCount(), Headers: snap.Headers, Rows: make([]ViewRow, 0, snap.RowCount())}
		for i, cells := range snap.Rows {
			v.Rows = append(v.Rows, ViewRow{Ordinal: i + 1, Fields: cfg.fields(cells)})
		}
		return nil
	})
	return v, err
}

// SaveAll finalizes every staged row. It returns how many row commits it
// made durable.
func (e *Executor) SaveAll(ctx context.Context) (int, error) {
	st, err := e.run(ctx, "save_all", func(ctx context.Context, cfg Config) error {
		if cfg.Selectors.SaveAll == "" {
			return fmt.Errorf("save all: %w", ErrNoControl)
		}
		if err := e.click(ctx, cfg, "click save all", cfg.Selectors.SaveAll); err != nil {
			return err
		}
		return e.bounded(ctx, cfg, "wait for grid", func(ctx context.Context) error {
			return e.page.WaitVisible(ctx, cfg.gridSelector())
		})
	})

	var saved int
	if err == nil {
		e.mu.Lock()
		saved, e.staged = e.staged, 0
		e.mu.Unlock()
	}
	e.record(ctx, audit.Entry{Action: audit.ActionSaveAll, RowsAffected: saved},
		Result{Op: "save_all", Attempts: st.Attempt}, err)
	return saved, err
}

// Search triggers the grid's search affordance and waits for the re-render.
func (e *Executor) Search(ctx context.Context) error {
	_, err := e.run(ctx, "search", func(ctx context.Context, cfg Config) error {
		if cfg.Selectors.Search == "" {
			return fmt.Errorf("search: %w", ErrNoControl)
		}
		if err := e.click(ctx, cfg, "click search", cfg.Selectors.Search); err != nil {
			return err
		}
		return e.bounded(ctx, cfg, "wait for grid", func(ctx context.Context) error {
			return e.page.WaitVisible(ctx, cfg.gridSelector())
		})
	})
	return err
}

// Screenshot captures the page into the screenshot directory.
func (e *Executor) Screenshot(ctx context.Context, name string) (string, error) {
	if e.page == nil {
		return "", ErrNoPage
	}
	if err := e.cursor.Acquire(ctx, "screenshot"); err != nil {
		return "", err
	}
	defer e.cursor.Release()
	return e.screenshot(ctx, e.Config(), name)
}

// run executes one operation under the cursor and the retry policy.
func (e *Executor) run(ctx context.Context, op string, fn func(ctx context.Context, cfg Config) error) (RetryState, error) {
	if e.page == nil {
		return RetryState{}, ErrNoPage
	}
	cfg := e.Config()
	logger := logging.WithFields(ctx, "op", op)

	if err := e.cursor.Acquire(ctx, op); err != nil {
		return RetryState{}, err
	}
	defer e.cursor.Release()

	st, err := cfg.Retry.Do(ctx, func(ctx context.Context, st RetryState) error {
		err := fn(ctx, cfg)
		if err != nil && IsTransient(err) && st.Remaining > 0 {
			logger.Warn("transient failure, retrying", "attempt", st.Attempt, "remaining", st.Remaining, "error", err)
		}
		return err
	})
	if err != nil && worthScreenshot(err) {
		if path, serr := e.screenshot(context.WithoutCancel(ctx), cfg, op); serr == nil {
			logger.Info("failure screenshot saved", "path", path)
		} else if !errors.Is(serr, errNoScreenshotDir) {
			logger.Warn("failure screenshot", "error", serr)
		}
	}
	return st, err
}

// bounded runs fn with the element timeout and classifies its error.
func (e *Executor) bounded(ctx context.Context, cfg Config, op string, fn func(ctx context.Context) error) error {
	wctx, cancel := context.WithTimeout(ctx, cfg.elementTimeout())
	defer cancel()
	return classify(ctx, op, fn(wctx))
}

// poll re-checks cond until it holds or the element timeout expires.
func (e *Executor) poll(ctx context.Context, cfg Config, op string, cond func(ctx context.Context) (bool, error)) error {
	return e.bounded(ctx, cfg, op, func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			ok, err := cond(ctx)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}

func (e *Executor) click(ctx context.Context, cfg Config, op, selector string) error {
	return e.bounded(ctx, cfg, op, func(ctx context.Context) error {
		return e.page.Click(ctx, selector)
	})
}

// snapshot waits for the grid, reads it and checks it still has the
// configured shape.
func (e *Executor) snapshot(ctx context.Context, cfg Config) (Snapshot, error) {
	err := e.bounded(ctx, cfg, "wait for grid", func(ctx context.Context) error {
		return e.page.WaitVisible(ctx, cfg.gridSelector())
	})
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if cfg.Selectors.HeaderRow != "" {
		err := e.bounded(ctx, cfg, "read headers", func(ctx context.Context) error {
			rows, err := e.page.Rows(ctx, cfg.Selectors.HeaderRow)
			if len(rows) > 0 {
				snap.Headers = rows[0]
			}
			return err
		})
		if err != nil {
			return Snapshot{}, err
		}
	}

	err = e.bounded(ctx, cfg, "read rows", func(ctx context.Context) error {
		var err error
		snap.Rows, err = e.page.Rows(ctx, cfg.Selectors.DataRow)
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, checkStructure(cfg, snap)
}

// checkStructure fails when the live table is narrower than the column
// mapping.
func checkStructure(cfg Config, snap Snapshot) error {
	need := cfg.width()
	if len(snap.Headers) > 0 && len(snap.Headers) < need {
		return &SessionFault{Reason: fmt.Sprintf("header has %d cells, column mapping needs %d", len(snap.Headers), need)}
	}
	for i, cells := range snap.Rows {
		if len(cells) < need {
			return &SessionFault{Reason: fmt.Sprintf("row %d has %d cells, column mapping needs %d", i+1, len(cells), need)}
		}
	}
	return nil
}

// createRow clicks Add and waits for the row count to grow. It returns the
// expected row count.
func (e *Executor) createRow(ctx context.Context, cfg Config, before int) (int, error) {
	if err := e.click(ctx, cfg, "click add", cfg.Selectors.Add); err != nil {
		return 0, err
	}
	want := before + 1
	err := e.poll(ctx, cfg, "wait for new row", func(ctx context.Context) (bool, error) {
		n, err := e.page.Count(ctx, cfg.Selectors.DataRow)
		return n >= want, err
	})
	if err != nil {
		return 0, err
	}
	return want, nil
}

func (e *Executor) selectRow(ctx context.Context, cfg Config, row RowHandle, editSelector string) error {
	err := e.bounded(ctx, cfg, "select row", func(ctx context.Context) error {
		return e.page.ClickRow(ctx, cfg.Selectors.DataRow, row.Index())
	})
	if err != nil || editSelector == "" {
		return err
	}
	return e.click(ctx, cfg, "click edit", editSelector)
}

// writeCells writes the non-empty fields of rec in column order and checks
// each read-back. With current set, cells already holding the value are
// skipped. It returns the fields written.
func (e *Executor) writeCells(ctx context.Context, cfg Config, row int, rec core.TestData, current []string) ([]string, error) {
	var changed []string
	for _, col := range cfg.Columns {
		want, _ := rec.Field(col.Field)
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		if current != nil && col.Index < len(current) && strings.TrimSpace(current[col.Index]) == want {
			continue
		}

		var got string
		err := e.bounded(ctx, cfg, "write "+col.Field, func(ctx context.Context) error {
			var err error
			got, err = e.page.EditCell(ctx, cfg.Selectors.DataRow, row, col.Index, want)
			return err
		})
		if err != nil {
			return changed, err
		}
		if strings.TrimSpace(got) != want {
			return changed, &RejectedError{Field: col.Field, Want: want, Got: got}
		}
		changed = append(changed, col.Field)
	}
	return changed, nil
}

func (e *Executor) commitRow(ctx context.Context, cfg Config) error {
	if cfg.Selectors.CommitRow == "" {
		return nil
	}
	return e.click(ctx, cfg, "commit row", cfg.Selectors.CommitRow)
}

// verify waits for the row at ordinal to show every non-empty field of rec
// after a commit. A row that never settles was dropped or altered by the grid.
func (e *Executor) verify(ctx context.Context, cfg Config, rec core.TestData, ordinal int) error {
	err := e.poll(ctx, cfg, "verify commit", func(ctx context.Context) (bool, error) {
		rows, err := e.page.Rows(ctx, cfg.Selectors.DataRow)
		if err != nil {
			return false, err
		}
		if ordinal < 1 || ordinal > len(rows) {
			return false, nil
		}
		return holds(cfg, rows[ordinal-1], rec), nil
	})
	if IsTransient(err) {
		key, _ := rec.Field(cfg.KeyField)
		return &RejectedError{Field: cfg.KeyField, Want: key, Reason: fmt.Sprintf("row %d does not hold the record after commit", ordinal)}
	}
	return err
}

// holds reports whether cells carry every non-empty mapped field of rec.
func holds(cfg Config, cells []string, rec core.TestData) bool {
	for _, col := range cfg.Columns {
		want, _ := rec.Field(col.Field)
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		if col.Index >= len(cells) || strings.TrimSpace(cells[col.Index]) != want {
			return false
		}
	}
	return true
}

var errNoScreenshotDir = errors.New("screenshot directory not configured")

func (e *Executor) screenshot(ctx context.Context, cfg Config, name string) (string, error) {
	if cfg.ScreenshotDir == "" {
		return "", errNoScreenshotDir
	}
	if err := os.MkdirAll(cfg.ScreenshotDir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(cfg.ScreenshotDir, fmt.Sprintf("%s_%s.png", name, time.Now().Format("20060102_150405")))

	timeout := cfg.PageLoadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.page.Screenshot(sctx, path); err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	return path, nil
}

func worthScreenshot(err error) bool {
	var (
		f *ItemFailure
		r *RejectedError
	)
	return errors.As(err, &f) || errors.As(err, &r) || IsSessionFault(err)
}

func (e *Executor) record(ctx context.Context, entry audit.Entry, res Result, err error) {
	entry.BatchID = logging.BatchID(ctx)
	entry.Success = err == nil
	entry.Attempts = res.Attempts
	if err != nil {
		entry.Error = err.Error()
	} else if entry.RowsAffected == 0 && res.Op != "save_all" {
		entry.RowsAffected = 1
	}

	logger := logging.WithFields(ctx, "op", res.Op, "identifier", entry.Identifier, "attempts", res.Attempts)
	if err != nil {
		logger.Error("grid operation failed", "error", err)
	} else {
		logger.Info("grid operation done", "ordinal", res.Ordinal, "staged", res.Staged)
	}

	if rerr := e.recorder.Record(context.WithoutCancel(ctx), entry); rerr != nil {
		logger.Warn("audit record failed", "error", rerr)
	}
}

func keyIdentifier(cfg Config, rec core.TestData) string {
	key, _ := rec.Field(cfg.KeyField)
	if strings.TrimSpace(key) == "" {
		return ""
	}
	return ContentKey(key).String()
}

func findCells(snap Snapshot, cells []string) (RowHandle, bool) {
	for i, row := range snap.Rows {
		if slices.Equal(row, cells) {
			return handle(snap, i), true
		}
	}
	return RowHandle{}, false
}

func mergeFields(have, add []string) []string {
	for _, f := range add {
		if !slices.Contains(have, f) {
			have = append(have, f)
		}
	}
	return have
}
