package grid

import (
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/gridfill/internal/config"
	"github.com/JonMunkholm/gridfill/internal/core"
)

// Column binds a record field to a cell index within a data row.
type Column struct {
	Field string
	Index int
}

// Selectors are the CSS selectors of the grid's affordances. Empty means the
// grid has no such control.
type Selectors struct {
	GridContainer string
	DataRow       string
	HeaderRow     string
	Search        string
	SaveAll       string
	Add           string
	Delete        string
	Edit          string
	CommitRow     string
	Confirm       string
}

// Config is everything the executor needs to drive one grid.
type Config struct {
	BaseURL  string
	KeyField string

	// NewRow is "last" or "first".
	NewRow string

	// Columns is sorted by Index; writes happen in this order.
	Columns   []Column
	Selectors Selectors

	Retry      RetryPolicy
	BatchDelay time.Duration
	BatchMax   int

	ElementTimeout  time.Duration
	PageLoadTimeout time.Duration
	LoginTimeout    time.Duration
	CursorWait      time.Duration

	ConfirmDestructive bool
	ScreenshotDir      string
}

// ConfigFromProfile merges a grid profile with runtime settings. Environment
// settings win over the profile where both exist. Every mapped column must
// name a record field, and the key field must be one of them.
func ConfigFromProfile(p *config.Profile, g config.GridConfig, b config.BrowserConfig) (Config, error) {
	cols := make([]Column, 0, len(p.Grid.Columns))
	keyMapped := false
	for field, idx := range p.Grid.Columns {
		if !core.IsKnownField(field) {
			return Config{}, fmt.Errorf("grid.columns: %q is not a record field", field)
		}
		if field == p.Grid.KeyField {
			keyMapped = true
		}
		cols = append(cols, Column{Field: field, Index: idx})
	}
	if !keyMapped {
		return Config{}, fmt.Errorf("grid.key_field %q is not a mapped record field", p.Grid.KeyField)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Index < cols[j].Index })

	baseURL := p.Grid.BaseURL
	if g.BaseURL != "" {
		baseURL = g.BaseURL
	}

	s := p.Grid.Selectors
	return Config{
		BaseURL:  baseURL,
		KeyField: p.Grid.KeyField,
		NewRow:   p.Grid.NewRow,
		Columns:  cols,
		Selectors: Selectors{
			GridContainer: s.GridContainer,
			DataRow:       s.DataRow,
			HeaderRow:     s.HeaderRow,
			Search:        s.Search,
			SaveAll:       s.SaveAll,
			Add:           s.Add,
			Delete:        s.Delete,
			Edit:          s.Edit,
			CommitRow:     s.CommitRow,
			Confirm:       s.Confirm,
		},
		Retry:              RetryPolicy{MaxAttempts: g.MaxAttempts, Delay: g.RetryDelay},
		BatchDelay:         g.BatchDelay,
		BatchMax:           g.BatchMax,
		ElementTimeout:     g.ElementTimeout,
		PageLoadTimeout:    g.PageLoadTimeout,
		LoginTimeout:       g.LoginTimeout,
		CursorWait:         g.CursorWait,
		ConfirmDestructive: g.ConfirmDestructive,
		ScreenshotDir:      b.ScreenshotDir,
	}, nil
}

// keyColumn returns the cell index of the key field, or -1.
func (c Config) keyColumn() int {
	for _, col := range c.Columns {
		if col.Field == c.KeyField {
			return col.Index
		}
	}
	return -1
}

// width is the number of cells a row needs to hold every mapped column.
func (c Config) width() int {
	w := 0
	for _, col := range c.Columns {
		if col.Index+1 > w {
			w = col.Index + 1
		}
	}
	return w
}

func (c Config) gridSelector() string {
	if c.Selectors.GridContainer != "" {
		return c.Selectors.GridContainer
	}
	return c.Selectors.DataRow
}

func (c Config) elementTimeout() time.Duration {
	if c.ElementTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ElementTimeout
}

// fields maps a row's cells to record field names.
func (c Config) fields(cells []string) map[string]string {
	out := make(map[string]string, len(c.Columns))
	for _, col := range c.Columns {
		v := ""
		if col.Index < len(cells) {
			v = cells[col.Index]
		}
		out[col.Field] = v
	}
	return out
}
