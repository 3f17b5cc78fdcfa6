package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/gridfill/internal/audit"
	"github.com/JonMunkholm/gridfill/internal/core"
)

// handleAuditLog lists recent entries, newest first.
// Query: limit (default 100, max 1000), action.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	f := audit.Filter{Action: audit.Action(strings.TrimSpace(r.URL.Query().Get("action")))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, r, badRequest("limit must be a positive integer"), 0)
			return
		}
		f.Limit = n
	}

	entries, err := s.recorder.Recent(r.Context(), f)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// AnalyzeRequest selects dataset records for review. No indexes means the
// whole dataset.
type AnalyzeRequest struct {
	Indexes []int `json:"indexes,omitempty"`
}

func (s *Server) handleAssistantAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, err, 0)
			return
		}
	}

	ds := s.engine.Dataset()
	var records []core.TestData
	if len(req.Indexes) == 0 {
		records = ds.All()
	}
	for _, idx := range req.Indexes {
		rec, err := ds.Get(idx)
		if err != nil {
			respondError(w, r, err, 0)
			return
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		respondError(w, r, badRequest("no records to analyze"), 0)
		return
	}

	resp, err := s.advisor.Analyze(r.Context(), records)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAssistantSuggest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ErrorLog string `json:"error_log"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, 0)
		return
	}
	if strings.TrimSpace(req.ErrorLog) == "" {
		respondError(w, r, badRequest("error_log is required"), 0)
		return
	}

	resp, err := s.advisor.Suggest(r.Context(), req.ErrorLog)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAssistantChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Context string `json:"context"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, 0)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, r, badRequest("message is required"), 0)
		return
	}

	resp, err := s.advisor.Chat(r.Context(), req.Message, req.Context)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
