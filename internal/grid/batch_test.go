package grid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/JonMunkholm/gridfill/internal/audit"
	"github.com/JonMunkholm/gridfill/internal/core"
)

func batchRecords(n int) []core.TestData {
	recs := make([]core.TestData, n)
	for i := range recs {
		recs[i] = sampleRecord()
		recs[i].PartNumber = fmt.Sprintf("BATCHPART%04d", i+1)
	}
	return recs
}

func TestBatchAdd_IsolatesFailedItem(t *testing.T) {
	page := newFakePage()
	exec, store := newTestExecutor(t, page)
	recs := batchRecords(5)

	// Item 3's part number cell never becomes interactable.
	page.onEdit = func(row, col int, value string) error {
		if value == recs[2].PartNumber {
			return ErrNotInteractable
		}
		return nil
	}

	res, err := NewOrchestrator(exec, nil).BatchAdd(context.Background(), recs)
	if err != nil {
		t.Fatalf("BatchAdd() error = %v", err)
	}
	if res.SuccessRate != 0.8 {
		t.Errorf("SuccessRate = %v, want 0.8", res.SuccessRate)
	}
	if len(res.Outcomes) != 5 || res.Total != 5 || res.Succeeded != 4 || res.Failed != 1 {
		t.Fatalf("result counts = %+v", res)
	}
	for i, o := range res.Outcomes {
		if o.Index != i+1 {
			t.Errorf("outcome %d Index = %d", i, o.Index)
		}
		if o.Record.PartNumber != recs[i].PartNumber {
			t.Errorf("outcome %d echoes %q, want %q", i, o.Record.PartNumber, recs[i].PartNumber)
		}
		wantOK := i != 2
		if o.Success != wantOK {
			t.Errorf("item %d Success = %v, want %v", i+1, o.Success, wantOK)
		}
	}

	failed := res.Outcomes[2]
	if !strings.HasPrefix(failed.Error, "item 3: ") {
		t.Errorf("failed Error = %q, want item index prefix", failed.Error)
	}
	if failed.Attempts != 3 || failed.Code != "GRID005" {
		t.Errorf("failed outcome = %+v", failed)
	}

	batch, _ := store.Recent(context.Background(), audit.Filter{Action: audit.ActionBatch})
	if len(batch) != 1 || batch[0].RowsAffected != 4 || batch[0].BatchID != res.BatchID {
		t.Errorf("batch audit = %+v", batch)
	}
	adds, _ := store.Recent(context.Background(), audit.Filter{Action: audit.ActionRowAdd})
	for _, e := range adds {
		if e.BatchID != res.BatchID {
			t.Errorf("row entry batch id = %q, want %q", e.BatchID, res.BatchID)
		}
	}
}

func TestBatchAdd_Empty(t *testing.T) {
	exec, _ := newTestExecutor(t, newFakePage())
	res, err := NewOrchestrator(exec, nil).BatchAdd(context.Background(), nil)
	if err != nil {
		t.Fatalf("BatchAdd(nil) error = %v", err)
	}
	if res.SuccessRate != 0.0 || res.Total != 0 || len(res.Outcomes) != 0 {
		t.Errorf("BatchAdd(nil) = %+v", res)
	}
}

func TestBatchAdd_TooLarge(t *testing.T) {
	page := newFakePage()
	exec, _ := newTestExecutor(t, page)
	cfg := exec.Config()
	cfg.BatchMax = 2
	exec.Reconfigure(cfg)

	_, err := NewOrchestrator(exec, nil).BatchAdd(context.Background(), batchRecords(3))
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("BatchAdd() error = %v, want ErrBatchTooLarge", err)
	}
	if page.clickCount(selAdd) != 0 {
		t.Error("oversized batch touched the grid")
	}
}

func TestBatchAdd_CancelBetweenItems(t *testing.T) {
	page := newFakePage()
	exec, _ := newTestExecutor(t, page)
	recs := batchRecords(5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Cancel while item 2 is being written; it must still complete.
	page.onEdit = func(row, col int, value string) error {
		if value == recs[1].PartNumber {
			cancel()
		}
		return nil
	}

	res, err := NewOrchestrator(exec, nil).BatchAdd(ctx, recs)
	if err != nil {
		t.Fatalf("BatchAdd() error = %v", err)
	}
	if !res.Cancelled {
		t.Error("Cancelled = false")
	}
	if res.Succeeded != 2 || res.Skipped != 3 || res.Failed != 0 {
		t.Errorf("counts = %d ok, %d skipped, %d failed", res.Succeeded, res.Skipped, res.Failed)
	}
	rows := page.snapshotRows()
	if len(rows) != 2 || rows[1][5] != "DEFAULT" {
		t.Errorf("item 2 was not fully written: %v", rows)
	}
}

func TestBatchAdd_ValidateFirst(t *testing.T) {
	p, err := configDefaultEngine()
	if err != nil {
		t.Fatal(err)
	}
	page := newFakePage()
	exec, _ := newTestExecutor(t, page)

	recs := batchRecords(2)
	recs[1].Station = "QA"

	res, err := NewOrchestrator(exec, p).BatchAdd(context.Background(), recs)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Outcomes[0].Success || res.Outcomes[1].Success {
		t.Errorf("outcomes = %+v", res.Outcomes)
	}
	if res.Outcomes[1].Code != "VAL001" || !strings.Contains(res.Outcomes[1].Error, "station") {
		t.Errorf("invalid outcome = %+v", res.Outcomes[1])
	}
	if len(page.snapshotRows()) != 1 {
		t.Error("invalid record reached the grid")
	}
}

func TestBatchAdd_SessionFaultStops(t *testing.T) {
	page := newFakePage()
	exec, _ := newTestExecutor(t, page)
	recs := batchRecords(5)

	// The grid loses columns after item 2 is written.
	page.onEdit = func(row, col int, value string) error {
		if value == recs[1].PartNumber {
			page.mu.Lock()
			page.headers = page.headers[:3]
			page.mu.Unlock()
		}
		return nil
	}

	res, err := NewOrchestrator(exec, nil).BatchAdd(context.Background(), recs)
	if !IsSessionFault(err) {
		t.Fatalf("BatchAdd() error = %v, want SessionFault", err)
	}
	if res.Succeeded != 2 || res.Failed != 1 || res.Skipped != 2 {
		t.Errorf("counts = %d ok, %d failed, %d skipped", res.Succeeded, res.Failed, res.Skipped)
	}
	if res.Cancelled {
		t.Error("a fault is not a cancellation")
	}
}
