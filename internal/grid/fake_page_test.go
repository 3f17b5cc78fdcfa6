package grid

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/gridfill/internal/audit"
)

const (
	selGrid    = "#grid"
	selRow     = "tr.data"
	selHeader  = "tr.header"
	selAdd     = "#add"
	selDelete  = "#delete"
	selCommit  = "#commit"
	selConfirm = "#confirm"
	selSave    = "#save"
	selSearch  = "#search"
)

// fakePage is an in-memory grid. Column 0 is the row command column; the
// mapped fields start at column 1.
type fakePage struct {
	mu       sync.Mutex
	headers  []string
	rows     [][]string
	width    int
	newFirst bool
	selected int

	// onEdit runs before a cell write; a non-nil error fails the write.
	onEdit func(row, col int, value string) error
	// reject makes the cell ignore these values.
	reject map[string]bool
	// blockWaits makes the next n WaitVisible calls hang until ctx ends.
	blockWaits int
	// dropOnCommit makes a row commit discard the last row.
	dropOnCommit bool

	clicks      []string
	navigated   []string
	screenshots []string
	navErr      error
}

func newFakePage(rows ...[]string) *fakePage {
	p := &fakePage{
		headers: []string{"", "Part Number", "Station", "Version", "Description", "MFG Group"},
		width:    6,
		reject:   map[string]bool{},
		selected: -1,
	}
	for _, r := range rows {
		p.rows = append(p.rows, slices.Clone(r))
	}
	return p
}

func row(part, station string) []string {
	return []string{"", part, station, "V1.0.0.0_1.0.0.0E1.0", "a description", "DEFAULT"}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return p.navErr
}

func (p *fakePage) WaitVisible(ctx context.Context, selector string) error {
	p.mu.Lock()
	block := p.blockWaits > 0
	if block {
		p.blockWaits--
	}
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)

	switch selector {
	case selAdd:
		blank := make([]string, p.width)
		if p.newFirst {
			p.rows = append([][]string{blank}, p.rows...)
		} else {
			p.rows = append(p.rows, blank)
		}
	case selDelete:
		if p.selected < 0 || p.selected >= len(p.rows) {
			return fmt.Errorf("nothing selected")
		}
		p.rows = slices.Delete(p.rows, p.selected, p.selected+1)
		p.selected = -1
	case selCommit:
		if p.dropOnCommit && len(p.rows) > 0 {
			p.rows = p.rows[:len(p.rows)-1]
		}
	}
	return nil
}

func (p *fakePage) Count(ctx context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rows), nil
}

func (p *fakePage) Rows(ctx context.Context, selector string) ([][]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if selector == selHeader {
		return [][]string{slices.Clone(p.headers)}, nil
	}
	out := make([][]string, len(p.rows))
	for i, r := range p.rows {
		out[i] = slices.Clone(r)
	}
	return out, nil
}

func (p *fakePage) ClickRow(ctx context.Context, selector string, row int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if row < 0 || row >= len(p.rows) {
		return fmt.Errorf("row %d out of range", row)
	}
	p.selected = row
	return nil
}

func (p *fakePage) EditCell(ctx context.Context, selector string, row, col int, value string) (string, error) {
	p.mu.Lock()
	hook := p.onEdit
	p.mu.Unlock()
	if hook != nil {
		if err := hook(row, col, value); err != nil {
			return "", err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if row < 0 || row >= len(p.rows) || col >= len(p.rows[row]) {
		return "", fmt.Errorf("cell %d,%d out of range", row, col)
	}
	if p.reject[value] {
		return p.rows[row][col], nil
	}
	p.rows[row][col] = value
	return value, nil
}

func (p *fakePage) Screenshot(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshots = append(p.screenshots, path)
	return nil
}

func (p *fakePage) snapshotRows() [][]string {
	rows, _ := p.Rows(context.Background(), selRow)
	return rows
}

func (p *fakePage) clickCount(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.clicks {
		if c == selector {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		BaseURL:  "https://grid.example/MMT010",
		KeyField: "part_number",
		NewRow:   "last",
		Columns: []Column{
			{Field: "part_number", Index: 1},
			{Field: "station", Index: 2},
			{Field: "version", Index: 3},
			{Field: "description", Index: 4},
			{Field: "manufacturing_group", Index: 5},
		},
		Selectors: Selectors{
			GridContainer: selGrid,
			DataRow:       selRow,
			HeaderRow:     selHeader,
			Search:        selSearch,
			SaveAll:       selSave,
			Add:           selAdd,
			Delete:        selDelete,
			CommitRow:     selCommit,
			Confirm:       selConfirm,
		},
		Retry:              RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
		BatchMax:           50,
		ElementTimeout:     time.Second,
		PageLoadTimeout:    time.Second,
		LoginTimeout:       time.Second,
		CursorWait:         time.Second,
		ConfirmDestructive: true,
	}
}

func newTestExecutor(t *testing.T, page *fakePage) (*Executor, *audit.MemoryStore) {
	t.Helper()
	store := audit.NewMemoryStore(100)
	return NewExecutor(page, testConfig(), store), store
}

func approve(context.Context, RowHandle) bool { return true }
