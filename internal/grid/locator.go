package grid

import (
	"fmt"
	"strings"
)

// Resolution is the outcome of locating a row.
type Resolution struct {
	Row RowHandle

	// Matches counts rows sharing the content key. Above one the first row
	// in display order was chosen.
	Matches int
}

// Ambiguous reports whether more than one row matched a content key.
func (r Resolution) Ambiguous() bool { return r.Matches > 1 }

// Locate resolves id against snap. keyColumn is the cell index holding the
// content key, negative when the key field is unmapped. It never caches:
// callers pass a fresh snapshot every time.
func Locate(snap Snapshot, id Identifier, keyColumn int) (Resolution, error) {
	switch id.Kind() {
	case KindOrdinal:
		n, _ := id.OrdinalValue()
		if n < 1 || n > snap.RowCount() {
			return Resolution{}, &NotFoundError{ID: id, RowCount: snap.RowCount()}
		}
		return Resolution{Row: handle(snap, n-1), Matches: 1}, nil

	case KindContentKey:
		key, _ := id.KeyValue()
		if keyColumn < 0 {
			return Resolution{}, fmt.Errorf("locate %s: key field has no mapped column: %w", id, ErrNoControl)
		}
		res := Resolution{}
		for i, cells := range snap.Rows {
			if keyColumn >= len(cells) || strings.TrimSpace(cells[keyColumn]) != key {
				continue
			}
			if res.Matches == 0 {
				res.Row = handle(snap, i)
			}
			res.Matches++
		}
		if res.Matches == 0 {
			return Resolution{}, &NotFoundError{ID: id, RowCount: snap.RowCount()}
		}
		return res, nil
	}
	return Resolution{}, fmt.Errorf("invalid identifier")
}

func handle(snap Snapshot, i int) RowHandle {
	cells := make([]string, len(snap.Rows[i]))
	copy(cells, snap.Rows[i])
	return RowHandle{Ordinal: i + 1, Cells: cells}
}
