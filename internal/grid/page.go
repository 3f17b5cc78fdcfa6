package grid

import "context"

// Page is the live browser page the grid is rendered in. Every method that
// waits must honor ctx; the executor bounds each call with a timeout.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	Count(ctx context.Context, selector string) (int, error)

	// Rows returns the text of every cell of every element matching
	// rowSelector, in display order.
	Rows(ctx context.Context, rowSelector string) ([][]string, error)

	// ClickRow selects the row at index (0-based) among rowSelector matches.
	ClickRow(ctx context.Context, rowSelector string, row int) error

	// EditCell writes value into a cell and returns what the cell shows
	// afterwards.
	EditCell(ctx context.Context, rowSelector string, row, col int, value string) (string, error)

	Screenshot(ctx context.Context, path string) error
}

// Snapshot is the table as observed at one instant.
type Snapshot struct {
	Headers []string
	Rows    [][]string
}

func (s Snapshot) RowCount() int { return len(s.Rows) }

// RowHandle is a located row. It is only valid until the next table change
// and is never kept across operations.
type RowHandle struct {
	Ordinal int
	Cells   []string
}

// Index is the 0-based position among data rows.
func (h RowHandle) Index() int { return h.Ordinal - 1 }

// Cell returns the text of column col, or "" past the end.
func (h RowHandle) Cell(col int) string {
	if col < 0 || col >= len(h.Cells) {
		return ""
	}
	return h.Cells[col]
}
