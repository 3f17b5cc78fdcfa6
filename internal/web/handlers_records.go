package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/gridfill/internal/audit"
	"github.com/JonMunkholm/gridfill/internal/core"
)

// RecordResponse is a stored record with the validation that admitted it.
type RecordResponse struct {
	Record     core.TestData          `json:"record"`
	Validation *core.ValidationResult `json:"validation,omitempty"`
}

// ValidationErrorResponse is returned when a record is refused.
type ValidationErrorResponse struct {
	ErrorResponse
	Validation core.ValidationResult `json:"validation"`
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs := s.engine.Dataset().All()
	writeJSON(w, http.StatusOK, map[string]any{
		"records": recs,
		"total":   len(recs),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	idx, err := indexParam(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	rec, err := s.engine.Dataset().Get(idx)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{Record: rec})
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var rec core.TestData
	if err := decodeJSON(w, r, &rec); err != nil {
		respondError(w, r, err, 0)
		return
	}
	src := rec.Source
	if src == "" {
		src = core.SourceManual
	}
	if !src.Valid() {
		respondError(w, r, badRequest("unknown source "+strconv.Quote(string(src))), 0)
		return
	}

	stored, vr, err := s.engine.Submit(rec, src)
	if err != nil {
		respondValidation(w, r, err, vr)
		return
	}
	writeJSON(w, http.StatusCreated, RecordResponse{Record: stored, Validation: &vr})
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	idx, err := indexParam(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	var rec core.TestData
	if err := decodeJSON(w, r, &rec); err != nil {
		respondError(w, r, err, 0)
		return
	}
	if rec.Source == "" {
		rec.Source = core.SourceManualEdit
	}

	stored, vr, err := s.engine.Update(idx, rec)
	if err != nil {
		respondValidation(w, r, err, vr)
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{Record: stored, Validation: &vr})
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	idx, err := indexParam(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	removed, err := s.engine.Dataset().Remove(idx)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{Record: removed})
}

func (s *Server) handleImportRecords(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, MaxBodySize)
	res, err := s.engine.Import(body)
	if err != nil {
		respondError(w, r, badRequest(err.Error()), 0)
		return
	}

	s.recordAudit(r.Context(), audit.Entry{
		Action:       audit.ActionDatasetImport,
		Success:      len(res.Rejected) == 0,
		RowsAffected: res.Imported,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExportRecords(w http.ResponseWriter, r *http.Request) {
	path, err := s.engine.Dataset().Export(s.data.ExportDir)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"records": s.engine.Dataset().Len(),
	})
}

func (s *Server) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	hits := s.engine.Dataset().Search(q)
	if hits == nil {
		hits = []core.SearchHit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"results": hits,
	})
}

func (s *Server) handleSaveRecords(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Dataset().Save(s.data.File, core.SaveOptions{
		Backup:    s.data.BackupEnabled,
		BackupDir: s.data.BackupDir,
	})
	entry := audit.Entry{Action: audit.ActionDatasetSave, Identifier: s.data.File, Success: err == nil}
	if err != nil {
		entry.Error = err.Error()
		s.recordAudit(r.Context(), entry)
		respondError(w, r, err, 0)
		return
	}
	entry.RowsAffected = res.Records
	s.recordAudit(r.Context(), entry)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLoadRecords(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Dataset().Load(s.data.File)
	entry := audit.Entry{Action: audit.ActionDatasetLoad, Identifier: s.data.File, Success: err == nil}
	if err != nil {
		entry.Error = err.Error()
		s.recordAudit(r.Context(), entry)
		respondError(w, r, err, 0)
		return
	}
	entry.RowsAffected = res.Records
	s.recordAudit(r.Context(), entry)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Quality())
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var rec core.TestData
	if err := decodeJSON(w, r, &rec); err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Validate(rec))
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	threshold := s.engine.Threshold()
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil || t < 0 || t > 1 {
			respondError(w, r, badRequest("threshold must be a number within 0-1"), 0)
			return
		}
		threshold = t
	}

	var rec core.TestData
	if err := decodeJSON(w, r, &rec); err != nil {
		respondError(w, r, err, 0)
		return
	}
	matches := s.engine.FindDuplicates(rec, threshold)
	if matches == nil {
		matches = []core.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threshold": threshold,
		"matches":   matches,
	})
}

// respondValidation writes the validation result for a refused record, or a
// plain error when validation never ran.
func respondValidation(w http.ResponseWriter, r *http.Request, err error, vr core.ValidationResult) {
	if !errors.Is(err, core.ErrValidationFailed) {
		respondError(w, r, err, 0)
		return
	}
	msg := core.MapError(err)
	writeJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
		ErrorResponse: ErrorResponse{
			Error:   err.Error() + ": " + strings.Join(vr.Errors, "; "),
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		},
		Validation: vr,
	})
}

func indexParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("record index must be an integer, got " + strconv.Quote(raw))
	}
	return idx, nil
}
