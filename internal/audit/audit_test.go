package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/gridfill/internal/config"
	"github.com/google/go-cmp/cmp"
)

func TestDetermineSeverity(t *testing.T) {
	tests := []struct {
		action Action
		want   Severity
	}{
		{ActionRowDelete, SeverityHigh},
		{ActionSaveAll, SeverityHigh},
		{ActionBatch, SeverityHigh},
		{ActionDatasetLoad, SeverityCritical},
		{ActionDatasetSave, SeverityLow},
		{ActionSessionConnect, SeverityLow},
		{ActionRowAdd, SeverityMedium},
		{ActionRowEdit, SeverityMedium},
	}
	for _, tt := range tests {
		if got := determineSeverity(tt.action); got != tt.want {
			t.Errorf("determineSeverity(%s) = %s, want %s", tt.action, got, tt.want)
		}
	}
}

func TestPrepare_FillsFromContext(t *testing.T) {
	ctx := ContextWithIPAddress(context.Background(), "10.0.0.7")
	ctx = ContextWithUserAgent(ctx, "curl/8")

	e := prepare(ctx, Entry{Action: ActionRowDelete})
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Errorf("prepare() left ID or CreatedAt empty: %+v", e)
	}
	if e.Severity != SeverityHigh {
		t.Errorf("Severity = %s, want high", e.Severity)
	}
	if e.IPAddress != "10.0.0.7" || e.UserAgent != "curl/8" {
		t.Errorf("request metadata = %q %q", e.IPAddress, e.UserAgent)
	}

	kept := prepare(ctx, Entry{Action: ActionRowAdd, Severity: SeverityCritical, IPAddress: "1.1.1.1"})
	if kept.Severity != SeverityCritical || kept.IPAddress != "1.1.1.1" {
		t.Errorf("prepare() overwrote explicit fields: %+v", kept)
	}
}

func TestFilter_Limit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultLimit},
		{-3, DefaultLimit},
		{5, 5},
		{1000, 1000},
		{1001, DefaultLimit},
	}
	for _, tt := range tests {
		if got := (Filter{Limit: tt.in}).limit(); got != tt.want {
			t.Errorf("Filter{Limit: %d}.limit() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMemoryStore_RecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(3)

	for i, a := range []Action{ActionRowAdd, ActionRowEdit, ActionRowAdd, ActionRowDelete} {
		if err := m.Record(ctx, Entry{Action: a, Ordinal: i + 1}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.Recent(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	var ords []int
	for _, e := range got {
		ords = append(ords, e.Ordinal)
	}
	// Capacity 3: the first entry has been overwritten.
	if diff := cmp.Diff([]int{4, 3, 2}, ords); diff != "" {
		t.Errorf("Recent() ordinals mismatch (-want +got):\n%s", diff)
	}

	adds, _ := m.Recent(ctx, Filter{Action: ActionRowAdd})
	if len(adds) != 1 || adds[0].Ordinal != 3 {
		t.Errorf("Recent(row_add) = %+v, want only ordinal 3", adds)
	}

	one, _ := m.Recent(ctx, Filter{Limit: 1})
	if len(one) != 1 || one[0].Ordinal != 4 {
		t.Errorf("Recent(limit 1) = %+v", one)
	}
}

func TestMemoryStore_Empty(t *testing.T) {
	got, err := NewMemoryStore(4).Recent(context.Background(), Filter{})
	if err != nil || len(got) != 0 {
		t.Errorf("Recent() on empty store = %v, %v", got, err)
	}
}

func TestSQLiteStore_RecordRecent(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close()

	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Action: ActionRowAdd, Identifier: "key:C08GL0DIG017A", Success: true, Attempts: 1, RowsAffected: 1,
			Record: map[string]string{"part_number": "C08GL0DIG017A", "station": "B/I"}, CreatedAt: base},
		{Action: ActionRowDelete, Identifier: "ordinal:2", Ordinal: 2, Error: "write rejected: x", BatchID: "b-1",
			CreatedAt: base.Add(time.Second)},
		{Action: ActionRowAdd, Identifier: "key:X", Success: true, CreatedAt: base.Add(500 * time.Millisecond)},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := s.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent() = %d entries, want 3", len(got))
	}
	if got[0].Action != ActionRowDelete || got[1].Identifier != "key:X" || got[2].Identifier != "key:C08GL0DIG017A" {
		t.Errorf("Recent() order = %s, %s, %s", got[0].Identifier, got[1].Identifier, got[2].Identifier)
	}
	if got[0].Severity != SeverityHigh || got[0].Success || got[0].BatchID != "b-1" || got[0].Ordinal != 2 {
		t.Errorf("delete entry = %+v", got[0])
	}
	if diff := cmp.Diff(entries[0].Record, got[2].Record); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if !got[2].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got[2].CreatedAt, base)
	}

	adds, err := s.Recent(ctx, Filter{Action: ActionRowAdd, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(adds) != 1 || adds[0].Identifier != "key:X" {
		t.Errorf("Recent(row_add, 1) = %+v", adds)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	r, err := Open(ctx, config.AuditConfig{Driver: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*MemoryStore); !ok {
		t.Errorf("Open(memory) = %T", r)
	}

	r, err = Open(ctx, config.AuditConfig{Driver: "none"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(Discard); !ok {
		t.Errorf("Open(none) = %T", r)
	}

	r, err = Open(ctx, config.AuditConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "a.db")})
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	r.Close()

	if _, err := Open(ctx, config.AuditConfig{Driver: "mongo"}); err == nil {
		t.Error("Open(mongo) expected error")
	}
}
