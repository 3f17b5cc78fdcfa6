package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/gridfill/internal/audit"
	"github.com/JonMunkholm/gridfill/internal/core"
	"github.com/JonMunkholm/gridfill/internal/grid"
	"github.com/JonMunkholm/gridfill/internal/logging"
)

// statusData feeds the status page.
type statusData struct {
	Session grid.SessionStatus
	Quality core.QualityReport
	Recent  []audit.Entry
	Uptime  time.Duration
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"session": s.session.State(),
		"records": s.engine.Dataset().Len(),
	})
}

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	recent, err := s.recorder.Recent(r.Context(), audit.Filter{Limit: 10})
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	data := statusData{
		Session: s.session.Status(),
		Quality: s.engine.Quality(),
		Recent:  recent,
		Uptime:  time.Since(s.started).Truncate(time.Second),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusPage(data).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render status page", "error", err)
	}
}

// statusPage renders the operator overview. Every dynamic value goes
// through templ.EscapeString.
func statusPage(d statusData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		e := templ.EscapeString[string]
		p := &pageWriter{w: w}

		p.printf(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>gridfill</title>`)
		p.printf(`<style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.25rem .5rem;text-align:left}.fail{color:#b00}</style>`)
		p.printf(`</head><body><h1>gridfill</h1>`)

		p.printf(`<h2>Grid session</h2><table>`)
		p.printf(`<tr><th>State</th><td>%s</td></tr>`, e(d.Session.State.String()))
		p.printf(`<tr><th>Grid URL</th><td>%s</td></tr>`, e(d.Session.BaseURL))
		p.printf(`<tr><th>Staged rows</th><td>%d</td></tr>`, d.Session.Staged)
		if d.Session.Cursor.Busy {
			p.printf(`<tr><th>Cursor</th><td>held by %s since %s</td></tr>`,
				e(d.Session.Cursor.Holder), e(d.Session.Cursor.Since.Format(time.RFC3339)))
		}
		if d.Session.Error != "" {
			p.printf(`<tr><th>Last error</th><td class="fail">%s</td></tr>`, e(d.Session.Error))
		}
		p.printf(`</table>`)

		p.printf(`<h2>Dataset</h2><table>`)
		p.printf(`<tr><th>Records</th><td>%d</td></tr>`, d.Quality.TotalRecords)
		p.printf(`<tr><th>Valid</th><td>%d</td></tr>`, d.Quality.ValidRecords)
		p.printf(`<tr><th>Invalid</th><td>%d</td></tr>`, d.Quality.InvalidRecords)
		p.printf(`<tr><th>Average score</th><td>%.1f</td></tr>`, d.Quality.AverageScore)
		p.printf(`</table>`)

		p.printf(`<h2>Recent activity</h2>`)
		if len(d.Recent) == 0 {
			p.printf(`<p>No activity yet.</p>`)
		} else {
			p.printf(`<table><tr><th>Time</th><th>Action</th><th>Identifier</th><th>Result</th></tr>`)
			for _, a := range d.Recent {
				result, class := "ok", ""
				if !a.Success {
					result, class = a.Error, ` class="fail"`
				}
				p.printf(`<tr><td>%s</td><td>%s</td><td>%s</td><td%s>%s</td></tr>`,
					e(a.CreatedAt.Format(time.RFC3339)), e(string(a.Action)), e(a.Identifier), class, e(result))
			}
			p.printf(`</table>`)
		}

		p.printf(`<p>Up %s</p></body></html>`, e(d.Uptime.String()))
		return p.err
	})
}

// pageWriter keeps the first write error so rendering reads straight down.
type pageWriter struct {
	w   io.Writer
	err error
}

func (p *pageWriter) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
