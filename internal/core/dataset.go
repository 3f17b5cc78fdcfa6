package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRecordNotFound is returned for an out-of-range dataset index.
var ErrRecordNotFound = errors.New("record not found")

// Dataset owns the in-memory records. All mutation goes through it under a
// single write lock, and every record handed out is a copy.
type Dataset struct {
	mu      sync.RWMutex
	records []TestData

	now func() time.Time
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{now: func() time.Time { return time.Now().UTC() }}
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// All returns a copy of every record in order.
func (d *Dataset) All() []TestData {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.records)
}

// Get returns a copy of the record at index.
func (d *Dataset) Get(index int) (TestData, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if index < 0 || index >= len(d.records) {
		return TestData{}, fmt.Errorf("%w: index %d", ErrRecordNotFound, index)
	}
	return d.records[index], nil
}

// GetByID returns the record with id and its index.
func (d *Dataset) GetByID(id uuid.UUID) (TestData, int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i, rec := range d.records {
		if rec.ID == id {
			return rec, i, nil
		}
	}
	return TestData{}, -1, fmt.Errorf("%w: id %s", ErrRecordNotFound, id)
}

// read runs fn with the live slice under the read lock. fn must not retain it.
func (d *Dataset) read(fn func([]TestData)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.records)
}

// stamp fills identity and timestamps that the caller left empty.
func (d *Dataset) stamp(rec TestData, now time.Time) TestData {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Source == "" {
		rec.Source = SourceManual
	}
	return rec
}

// Append adds records in order and returns the stored copies.
func (d *Dataset) Append(recs ...TestData) []TestData {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	out := make([]TestData, len(recs))
	for i, rec := range recs {
		out[i] = d.stamp(rec, now)
	}
	d.records = append(d.records, out...)
	return out
}

// Replace overwrites the record at index, keeping its ID and creation time.
func (d *Dataset) Replace(index int, rec TestData) (TestData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index < 0 || index >= len(d.records) {
		return TestData{}, fmt.Errorf("%w: index %d", ErrRecordNotFound, index)
	}
	old := d.records[index]
	rec.ID = old.ID
	rec.CreatedAt = old.CreatedAt
	rec.UpdatedAt = d.now()
	rec.Source = SourceManualEdit
	d.records[index] = rec
	return rec, nil
}

// Remove deletes the record at index and returns it.
func (d *Dataset) Remove(index int) (TestData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index < 0 || index >= len(d.records) {
		return TestData{}, fmt.Errorf("%w: index %d", ErrRecordNotFound, index)
	}
	rec := d.records[index]
	d.records = slices.Delete(d.records, index, index+1)
	return rec, nil
}

// Clear removes every record and returns how many were dropped.
func (d *Dataset) Clear() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.records)
	d.records = nil
	return n
}

// swap replaces the whole dataset.
func (d *Dataset) swap(recs []TestData) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = recs
}

// SearchHit is one record matching a search term.
type SearchHit struct {
	Index  int      `json:"index"`
	Record TestData `json:"record"`
}

// Search returns records where any field contains term, ignoring case.
// An empty term matches nothing.
func (d *Dataset) Search(term string) []SearchHit {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var hits []SearchHit
	for i, rec := range d.records {
		for _, name := range FieldOrder {
			v, _ := rec.Field(name)
			if strings.Contains(strings.ToLower(v), term) {
				hits = append(hits, SearchHit{Index: i, Record: rec})
				break
			}
		}
	}
	return hits
}
