package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/gridfill/internal/core"
	"github.com/JonMunkholm/gridfill/internal/grid"
	"github.com/JonMunkholm/gridfill/internal/logging"
)

// BatchRequest names the records of a batch, inline or by dataset index.
// Exactly one of the two must be set.
type BatchRequest struct {
	Records []core.TestData `json:"records,omitempty"`
	Indexes []int           `json:"indexes,omitempty"`
}

// BatchResponse is the batch result plus the fault that stopped it, if any.
type BatchResponse struct {
	grid.BatchResult
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleGridSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleGridConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Connect(r.Context()); err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleGridClose(w http.ResponseWriter, r *http.Request) {
	s.session.Close()
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleGridBatchCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.session.CancelBatch()})
}

func (s *Server) handleGridView(w http.ResponseWriter, r *http.Request) {
	view, err := s.session.View(r.Context())
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleGridAdd validates the record before it reaches the grid.
func (s *Server) handleGridAdd(w http.ResponseWriter, r *http.Request) {
	var rec core.TestData
	if err := decodeJSON(w, r, &rec); err != nil {
		respondError(w, r, err, 0)
		return
	}
	vr := s.engine.Validate(rec)
	if !vr.IsValid {
		respondValidation(w, r, fmt.Errorf("%w: %d error(s)", core.ErrValidationFailed, len(vr.Errors)), vr)
		return
	}

	res, err := s.session.Add(r.Context(), vr.Record)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleGridEdit validates the fields the body sets before they reach the
// grid. Empty fields keep the row's current value.
func (s *Server) handleGridEdit(w http.ResponseWriter, r *http.Request) {
	id, err := rowIdentifier(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	var rec core.TestData
	if err := decodeJSON(w, r, &rec); err != nil {
		respondError(w, r, err, 0)
		return
	}
	vr := s.engine.ValidateFields(rec)
	if !vr.IsValid {
		respondValidation(w, r, fmt.Errorf("%w: %d error(s)", core.ErrValidationFailed, len(vr.Errors)), vr)
		return
	}

	res, err := s.session.Edit(r.Context(), id, vr.Record)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGridDelete needs confirm=true when destructive actions require
// confirmation.
func (s *Server) handleGridDelete(w http.ResponseWriter, r *http.Request) {
	id, err := rowIdentifier(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	confirm := func(ctx context.Context, row grid.RowHandle) bool {
		logging.FromContext(ctx).Info("delete confirmation",
			"identifier", id.String(), "ordinal", row.Ordinal, "confirmed", confirmed)
		return confirmed
	}

	res, err := s.session.Delete(r.Context(), id, confirm)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGridSave(w http.ResponseWriter, r *http.Request) {
	n, err := s.session.SaveAll(r.Context())
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": n})
}

func (s *Server) handleGridSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Search(r.Context()); err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "searched"})
}

// handleGridBatch runs a batch to completion. A session fault still returns
// the partial result with status 200; the fault is reported in the body.
func (s *Server) handleGridBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, 0)
		return
	}
	records, err := s.batchRecords(req)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	res, err := s.session.BatchAdd(r.Context(), records)
	if err != nil && !grid.IsSessionFault(err) {
		respondError(w, r, err, 0)
		return
	}

	resp := BatchResponse{BatchResult: res}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = core.MapError(err).Code
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) batchRecords(req BatchRequest) ([]core.TestData, error) {
	switch {
	case len(req.Records) > 0 && len(req.Indexes) > 0:
		return nil, badRequest("set either records or indexes, not both")
	case len(req.Records) > 0:
		return req.Records, nil
	}

	ds := s.engine.Dataset()
	records := make([]core.TestData, 0, len(req.Indexes))
	for _, idx := range req.Indexes {
		rec, err := ds.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// rowIdentifier reads {id} with ?by=ordinal|key.
func rowIdentifier(r *http.Request) (grid.Identifier, error) {
	by := r.URL.Query().Get("by")
	if by == "" {
		return grid.Identifier{}, badRequest("query parameter by must be ordinal or key")
	}
	id, err := grid.ParseIdentifier(by, chi.URLParam(r, "id"))
	if err != nil {
		return grid.Identifier{}, badRequest(err.Error())
	}
	return id, nil
}
