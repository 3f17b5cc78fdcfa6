package grid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/JonMunkholm/gridfill/internal/audit"
	"github.com/JonMunkholm/gridfill/internal/core"
)

func sampleRecord() core.TestData {
	return core.TestData{
		PartNumber:         "C08GL0DIG017A",
		Station:            "B/I",
		Version:            "V3.3.5.9_1.16.0.1E3.12-1",
		Description:        "burn-in config",
		ManufacturingGroup: "DEFAULT",
	}
}

func TestExecutor_Add(t *testing.T) {
	page := newFakePage(row("EXISTING0001", "FT"))
	exec, store := newTestExecutor(t, page)

	res, err := exec.Add(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if res.Ordinal != 2 || res.Attempts != 1 || res.Staged != 1 {
		t.Errorf("Add() = %+v", res)
	}

	want := [][]string{
		row("EXISTING0001", "FT"),
		{"", "C08GL0DIG017A", "B/I", "V3.3.5.9_1.16.0.1E3.12-1", "burn-in config", "DEFAULT"},
	}
	if diff := cmp.Diff(want, page.snapshotRows()); diff != "" {
		t.Errorf("grid mismatch (-want +got):\n%s", diff)
	}
	if page.clickCount(selCommit) != 1 {
		t.Errorf("row commits = %d, want 1", page.clickCount(selCommit))
	}

	entries, _ := store.Recent(context.Background(), audit.Filter{})
	if len(entries) != 1 || entries[0].Action != audit.ActionRowAdd || !entries[0].Success {
		t.Errorf("audit = %+v", entries)
	}
	if entries[0].Identifier != "key:C08GL0DIG017A" {
		t.Errorf("audit identifier = %q", entries[0].Identifier)
	}
}

func TestExecutor_AddDroppedRowDetected(t *testing.T) {
	// The grid already holds the part at another station.
	page := newFakePage(row("C08GL0DIG017A", "FT"))
	page.dropOnCommit = true
	exec, store := newTestExecutor(t, page)
	cfg := exec.Config()
	cfg.ElementTimeout = 50 * time.Millisecond
	exec.Reconfigure(cfg)

	_, err := exec.Add(context.Background(), sampleRecord())
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("Add() error = %v, want RejectedError", err)
	}
	if page.clickCount(selAdd) != 1 {
		t.Errorf("Add clicks = %d, rejection must not be retried", page.clickCount(selAdd))
	}

	entries, _ := store.Recent(context.Background(), audit.Filter{})
	if len(entries) != 1 || entries[0].Success {
		t.Errorf("audit = %+v, want one failed entry", entries)
	}
}

func TestExecutor_AddFirstRow(t *testing.T) {
	page := newFakePage(row("EXISTING0001", "FT"))
	page.newFirst = true
	exec, _ := newTestExecutor(t, page)
	cfg := exec.Config()
	cfg.NewRow = "first"
	exec.Reconfigure(cfg)

	res, err := exec.Add(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if res.Ordinal != 1 {
		t.Errorf("Ordinal = %d, want 1", res.Ordinal)
	}
	if got := page.snapshotRows()[0][1]; got != "C08GL0DIG017A" {
		t.Errorf("first row part number = %q", got)
	}
}

func TestExecutor_AddSkipsEmptyFields(t *testing.T) {
	page := newFakePage()
	exec, _ := newTestExecutor(t, page)

	var cols []int
	page.onEdit = func(row, col int, value string) error {
		cols = append(cols, col)
		return nil
	}
	rec := core.TestData{PartNumber: "C08GL0DIG017A", Description: "only two"}
	if _, err := exec.Add(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 4}, cols); diff != "" {
		t.Errorf("written columns mismatch (-want +got):\n%s", diff)
	}
}

func TestExecutor_AddRetriesTransientWithoutSecondRow(t *testing.T) {
	page := newFakePage()
	exec, _ := newTestExecutor(t, page)

	failures := 1
	page.onEdit = func(row, col int, value string) error {
		if col == 3 && failures > 0 {
			failures--
			return context.DeadlineExceeded
		}
		return nil
	}

	res, err := exec.Add(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if page.clickCount(selAdd) != 1 {
		t.Errorf("Add clicked %d times, want the opened row reused", page.clickCount(selAdd))
	}
	if n := len(page.snapshotRows()); n != 1 {
		t.Errorf("grid has %d rows, want 1", n)
	}
}

func TestExecutor_AddRejectedNotRetried(t *testing.T) {
	page := newFakePage()
	page.reject["B/I"] = true
	exec, store := newTestExecutor(t, page)
	cfg := exec.Config()
	cfg.ScreenshotDir = t.TempDir()
	exec.Reconfigure(cfg)

	res, err := exec.Add(context.Background(), sampleRecord())
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("Add() error = %v, want RejectedError", err)
	}
	if rej.Field != "station" {
		t.Errorf("rejected field = %q, want station", rej.Field)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if exec.Staged() != 0 {
		t.Errorf("Staged = %d after a rejected add", exec.Staged())
	}
	if len(page.screenshots) != 1 {
		t.Errorf("screenshots = %v, want one failure capture", page.screenshots)
	}

	entries, _ := store.Recent(context.Background(), audit.Filter{})
	if len(entries) != 1 || entries[0].Success || entries[0].Error == "" {
		t.Errorf("audit = %+v, want one failed entry", entries)
	}
}

func TestExecutor_AddExhaustsRetries(t *testing.T) {
	page := newFakePage()
	page.onEdit = func(int, int, string) error { return ErrNotInteractable }
	exec, _ := newTestExecutor(t, page)

	res, err := exec.Add(context.Background(), sampleRecord())
	var f *ItemFailure
	if !errors.As(err, &f) {
		t.Fatalf("Add() error = %v, want ItemFailure", err)
	}
	if f.Attempts != 3 || res.Attempts != 3 {
		t.Errorf("attempts = %d/%d, want 3", f.Attempts, res.Attempts)
	}
}

func TestExecutor_WaitTimeoutIsTransient(t *testing.T) {
	page := newFakePage()
	page.blockWaits = 1
	exec, _ := newTestExecutor(t, page)
	cfg := exec.Config()
	cfg.ElementTimeout = 20 * time.Millisecond
	exec.Reconfigure(cfg)

	res, err := exec.Add(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (first wait timed out)", res.Attempts)
	}
}

func TestExecutor_StructuralMismatch(t *testing.T) {
	page := newFakePage()
	page.headers = []string{"", "Part Number", "Station"}
	exec, _ := newTestExecutor(t, page)

	res, err := exec.Add(context.Background(), sampleRecord())
	if !IsSessionFault(err) {
		t.Fatalf("Add() error = %v, want SessionFault", err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if page.clickCount(selAdd) != 0 {
		t.Error("Add must not be clicked on a mismatched grid")
	}
}

func TestExecutor_EditWritesChangedCells(t *testing.T) {
	page := newFakePage(row("C08GL0DIG017A", "B/I"), row("C08GL0DIG018A", "FT"))
	exec, _ := newTestExecutor(t, page)

	edit := core.TestData{PartNumber: "C08GL0DIG018A", Station: "SHIP"}
	res, err := exec.Edit(context.Background(), ContentKey("C08GL0DIG018A"), edit)
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if diff := cmp.Diff([]string{"station"}, res.Changed); diff != "" {
		t.Errorf("Changed mismatch (-want +got):\n%s", diff)
	}
	if res.Ordinal != 2 || res.Staged != 1 {
		t.Errorf("Edit() = %+v", res)
	}
	if got := page.snapshotRows()[1][2]; got != "SHIP" {
		t.Errorf("station cell = %q, want SHIP", got)
	}
}

func TestExecutor_EditKeyChangeSurvivesRetry(t *testing.T) {
	page := newFakePage(row("OLDPART00001", "B/I"))
	exec, _ := newTestExecutor(t, page)

	failed := false
	page.onEdit = func(row, col int, value string) error {
		if col == 2 && !failed {
			failed = true
			return ErrNotInteractable
		}
		return nil
	}

	edit := core.TestData{PartNumber: "NEWPART00001", Station: "FT"}
	res, err := exec.Edit(context.Background(), ContentKey("OLDPART00001"), edit)
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if diff := cmp.Diff([]string{"part_number", "station"}, res.Changed); diff != "" {
		t.Errorf("Changed mismatch (-want +got):\n%s", diff)
	}
}

func TestExecutor_EditNoChange(t *testing.T) {
	page := newFakePage(row("C08GL0DIG017A", "B/I"))
	exec, _ := newTestExecutor(t, page)

	res, err := exec.Edit(context.Background(), Ordinal(1), core.TestData{Station: "B/I"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Changed) != 0 || res.Staged != 0 || page.clickCount(selCommit) != 0 {
		t.Errorf("no-op edit committed: %+v", res)
	}
}

func TestExecutor_EditNotFound(t *testing.T) {
	page := newFakePage(row("C08GL0DIG017A", "B/I"))
	exec, _ := newTestExecutor(t, page)

	res, err := exec.Edit(context.Background(), Ordinal(9), sampleRecord())
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Edit() error = %v, want NotFoundError", err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
}

func TestExecutor_DeleteDeclined(t *testing.T) {
	page := newFakePage(row("C08GL0DIG017A", "B/I"))
	exec, _ := newTestExecutor(t, page)

	for _, confirm := range []Confirmer{nil, func(context.Context, RowHandle) bool { return false }} {
		_, err := exec.Delete(context.Background(), Ordinal(1), confirm)
		if !errors.Is(err, ErrDeleteDeclined) {
			t.Errorf("Delete() error = %v, want ErrDeleteDeclined", err)
		}
	}
	if page.clickCount(selDelete) != 0 || len(page.snapshotRows()) != 1 {
		t.Error("declined delete touched the grid")
	}
}

func TestExecutor_DeleteByKey(t *testing.T) {
	page := newFakePage(row("A0000000001", "FT"), row("C08GL0DIG017A", "B/I"), row("B0000000001", "PT"))
	exec, store := newTestExecutor(t, page)

	var seen RowHandle
	res, err := exec.Delete(context.Background(), ContentKey("C08GL0DIG017A"), func(_ context.Context, h RowHandle) bool {
		seen = h
		return true
	})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if seen.Ordinal != 2 || res.Ordinal != 2 {
		t.Errorf("confirmer saw ordinal %d, result %d; want 2", seen.Ordinal, res.Ordinal)
	}
	want := [][]string{row("A0000000001", "FT"), row("B0000000001", "PT")}
	if diff := cmp.Diff(want, page.snapshotRows()); diff != "" {
		t.Errorf("grid mismatch (-want +got):\n%s", diff)
	}
	if page.clickCount(selConfirm) != 1 {
		t.Error("page confirm button not clicked")
	}

	entries, _ := store.Recent(context.Background(), audit.Filter{Action: audit.ActionRowDelete})
	if len(entries) != 1 || entries[0].Record["part_number"] != "C08GL0DIG017A" {
		t.Errorf("audit = %+v", entries)
	}
}

func TestExecutor_KeyFieldWithoutColumn(t *testing.T) {
	page := newFakePage(row("C08GL0DIG017A", "B/I"))
	exec, _ := newTestExecutor(t, page)
	cfg := exec.Config()
	cfg.KeyField = "lot"
	exec.Reconfigure(cfg)

	_, err := exec.Delete(context.Background(), ContentKey("C08GL0DIG017A"), approve)
	if !errors.Is(err, ErrNoControl) {
		t.Errorf("Delete(key) error = %v, want ErrNoControl", err)
	}
	_, err = exec.Edit(context.Background(), ContentKey("C08GL0DIG017A"), core.TestData{Station: "FT"})
	if !errors.Is(err, ErrNoControl) {
		t.Errorf("Edit(key) error = %v, want ErrNoControl", err)
	}
	if len(page.snapshotRows()) != 1 {
		t.Error("grid must be untouched")
	}
}

func TestExecutor_DeleteWithoutConfirmation(t *testing.T) {
	page := newFakePage(row("A0000000001", "FT"))
	exec, _ := newTestExecutor(t, page)
	cfg := exec.Config()
	cfg.ConfirmDestructive = false
	exec.Reconfigure(cfg)

	if _, err := exec.Delete(context.Background(), Ordinal(1), nil); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(page.snapshotRows()) != 0 {
		t.Error("row not deleted")
	}
}

func TestExecutor_ViewAndSaveAll(t *testing.T) {
	page := newFakePage(row("A0000000001", "FT"), row("B0000000001", "PT"))
	exec, _ := newTestExecutor(t, page)
	ctx := context.Background()

	v, err := exec.View(ctx)
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if v.RowCount != 2 || v.Rows[1].Ordinal != 2 || v.Rows[1].Fields["station"] != "PT" {
		t.Errorf("View() = %+v", v)
	}
	if len(v.Headers) != 6 {
		t.Errorf("Headers = %v", v.Headers)
	}

	if _, err := exec.Add(ctx, sampleRecord()); err != nil {
		t.Fatal(err)
	}
	if _, err := exec.Edit(ctx, Ordinal(1), core.TestData{Station: "SHIP"}); err != nil {
		t.Fatal(err)
	}
	if exec.Staged() != 2 {
		t.Fatalf("Staged = %d, want 2", exec.Staged())
	}

	saved, err := exec.SaveAll(ctx)
	if err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	if saved != 2 || exec.Staged() != 0 {
		t.Errorf("SaveAll() = %d, Staged = %d; want 2, 0", saved, exec.Staged())
	}
	if page.clickCount(selSave) != 1 {
		t.Error("save all not clicked")
	}
}

func TestExecutor_MissingControl(t *testing.T) {
	exec, _ := newTestExecutor(t, newFakePage())
	cfg := exec.Config()
	cfg.Selectors.Search = ""
	exec.Reconfigure(cfg)

	if err := exec.Search(context.Background()); !errors.Is(err, ErrNoControl) {
		t.Errorf("Search() error = %v, want ErrNoControl", err)
	}
}

func TestExecutor_NoPage(t *testing.T) {
	exec := NewExecutor(nil, testConfig(), nil)
	if _, err := exec.View(context.Background()); !errors.Is(err, ErrNoPage) {
		t.Errorf("View() error = %v, want ErrNoPage", err)
	}
}

func TestExecutor_ConcurrentAddsSerialize(t *testing.T) {
	page := newFakePage()
	exec, _ := newTestExecutor(t, page)

	parts := []string{"PARTA0000001", "PARTB0000001", "PARTC0000001", "PARTD0000001"}
	errs := make(chan error, len(parts))
	for _, p := range parts {
		go func() {
			rec := sampleRecord()
			rec.PartNumber = p
			_, err := exec.Add(context.Background(), rec)
			errs <- err
		}()
	}
	for range parts {
		if err := <-errs; err != nil {
			t.Errorf("Add() error = %v", err)
		}
	}

	rows := page.snapshotRows()
	if len(rows) != len(parts) {
		t.Fatalf("grid has %d rows, want %d", len(rows), len(parts))
	}
	for i, r := range rows {
		if r[1] == "" || r[2] != "B/I" {
			t.Errorf("row %d was interleaved: %v", i+1, r)
		}
	}
}
