package grid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/gridfill/internal/audit"
	"github.com/JonMunkholm/gridfill/internal/core"
	"github.com/JonMunkholm/gridfill/internal/logging"
)

// Outcome is the result of one batch item.
type Outcome struct {
	Index    int           `json:"index"` // 1-based position in the batch
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     string        `json:"code,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Ordinal  int           `json:"ordinal,omitempty"`
	Record   core.TestData `json:"record"`
}

// BatchResult aggregates a batch run. Batches are not transactional: any
// mix of succeeded, failed and skipped items is a normal result.
type BatchResult struct {
	BatchID     string    `json:"batch_id"`
	Outcomes    []Outcome `json:"outcomes"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	SuccessRate float64   `json:"success_rate"`
	Cancelled   bool      `json:"cancelled,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

func (r *BatchResult) finish() {
	r.Total = len(r.Outcomes)
	r.Succeeded, r.Failed, r.Skipped = 0, 0, 0
	for _, o := range r.Outcomes {
		switch {
		case o.Success:
			r.Succeeded++
		case o.Skipped:
			r.Skipped++
		default:
			r.Failed++
		}
	}
	r.SuccessRate = 0
	if r.Total > 0 {
		r.SuccessRate = float64(r.Succeeded) / float64(r.Total)
	}
	r.FinishedAt = time.Now().UTC()
}

// Validator gates records before they reach the grid.
type Validator interface {
	Validate(rec core.TestData) core.ValidationResult
}

// Orchestrator feeds many records through the executor one at a time.
type Orchestrator struct {
	exec      *Executor
	validator Validator
}

// NewOrchestrator creates an orchestrator. With a non-nil validator every
// record is validated first and invalid records never reach the grid.
func NewOrchestrator(exec *Executor, validator Validator) *Orchestrator {
	return &Orchestrator{exec: exec, validator: validator}
}

// BatchAdd adds records in order under a fresh batch id. A failed item is
// recorded and the batch moves on. Cancellation is honored between items
// only; the item being written always runs to completion. A SessionFault
// stops the batch and is returned together with the partial result.
func (o *Orchestrator) BatchAdd(ctx context.Context, records []core.TestData) (BatchResult, error) {
	return o.Run(ctx, uuid.NewString(), records)
}

// Run is BatchAdd with a batch id chosen by the caller.
func (o *Orchestrator) Run(ctx context.Context, batchID string, records []core.TestData) (BatchResult, error) {
	cfg := o.exec.Config()
	res := BatchResult{
		BatchID:   batchID,
		Outcomes:  make([]Outcome, 0, len(records)),
		StartedAt: time.Now().UTC(),
	}
	if cfg.BatchMax > 0 && len(records) > cfg.BatchMax {
		return res, fmt.Errorf("%w: %d records, limit is %d", ErrBatchTooLarge, len(records), cfg.BatchMax)
	}

	ctx = logging.WithBatchID(ctx, res.BatchID)
	logger := logging.FromContext(ctx)
	logger.Info("batch started", "records", len(records))

	var fault error
	for i, rec := range records {
		if i > 0 && cfg.BatchDelay > 0 {
			sleep(ctx, cfg.BatchDelay)
		}
		if ctx.Err() != nil || fault != nil {
			res.Cancelled = res.Cancelled || fault == nil
			res.Outcomes = append(res.Outcomes, Outcome{Index: i + 1, Skipped: true, Record: rec})
			continue
		}

		out, err := o.addOne(ctx, i+1, rec)
		res.Outcomes = append(res.Outcomes, out)
		if IsSessionFault(err) {
			fault = fmt.Errorf("batch stopped at item %d: %w", i+1, err)
		}
	}
	res.finish()

	logger.Info("batch finished",
		"total", res.Total,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"cancelled", res.Cancelled,
	)

	entry := audit.Entry{
		Action:       audit.ActionBatch,
		BatchID:      res.BatchID,
		Success:      res.Failed == 0 && res.Skipped == 0,
		RowsAffected: res.Succeeded,
		Attempts:     res.Total,
	}
	if fault != nil {
		entry.Error = fault.Error()
	}
	if err := o.exec.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("audit record failed", "error", err)
	}

	return res, fault
}

// addOne runs a single item detached from the batch's cancellation so a
// row is never left half written.
func (o *Orchestrator) addOne(ctx context.Context, index int, rec core.TestData) (Outcome, error) {
	out := Outcome{Index: index, Record: rec}

	if o.validator != nil {
		vr := o.validator.Validate(rec)
		if !vr.IsValid {
			out.Error = fmt.Sprintf("item %d: %s: %s", index, core.ErrValidationFailed, strings.Join(vr.Errors, "; "))
			out.Code = core.MapError(core.ErrValidationFailed).Code
			return out, nil
		}
		rec = vr.Record
		out.Record = rec
	}

	res, err := o.exec.Add(context.WithoutCancel(ctx), rec)
	out.Attempts = res.Attempts
	out.Ordinal = res.Ordinal
	if err != nil {
		out.Error = fmt.Sprintf("item %d: %v", index, err)
		out.Code = core.MapError(err).Code
		return out, err
	}
	out.Success = true
	return out, nil
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
