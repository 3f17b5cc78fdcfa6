// Package web provides the HTTP API and status page for gridfill.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/gridfill/internal/assistant"
	"github.com/JonMunkholm/gridfill/internal/audit"
	"github.com/JonMunkholm/gridfill/internal/config"
	"github.com/JonMunkholm/gridfill/internal/core"
	"github.com/JonMunkholm/gridfill/internal/grid"
	"github.com/JonMunkholm/gridfill/internal/logging"
	"github.com/JonMunkholm/gridfill/internal/web/middleware"
)

// MaxBodySize caps request bodies, imports included (10MB).
const MaxBodySize = 10 << 20

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Engine   *core.Engine
	Session  *grid.Session
	Recorder audit.Recorder
	Advisor  assistant.Advisor

	Server   config.ServerConfig
	Data     config.DataConfig
	Security config.SecurityConfig
}

// Server is the HTTP server.
type Server struct {
	engine   *core.Engine
	session  *grid.Session
	recorder audit.Recorder
	advisor  assistant.Advisor

	cfg      config.ServerConfig
	data     config.DataConfig
	security config.SecurityConfig

	router  *chi.Mux
	server  *http.Server
	started time.Time
}

// NewServer wires routes for d. A nil Recorder or Advisor is replaced with
// the no-op implementation.
func NewServer(d Deps) *Server {
	s := &Server{
		engine:   d.Engine,
		session:  d.Session,
		recorder: d.Recorder,
		advisor:  d.Advisor,
		cfg:      d.Server,
		data:     d.Data,
		security: d.Security,
		router:   chi.NewRouter(),
		started:  time.Now().UTC(),
	}
	if s.recorder == nil {
		s.recorder = audit.Discard{}
	}
	if s.advisor == nil {
		s.advisor = assistant.Disabled{}
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	if s.security.RateLimit > 0 {
		limiter := newRateLimiter(s.security.RateLimit, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleStatusPage)
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.security))

		// Long-running: connect waits for a manual login, batches run for
		// minutes.
		r.Post("/grid/connect", s.handleGridConnect)
		r.Post("/grid/batch", s.handleGridBatch)

		r.Group(func(r chi.Router) {
			if s.cfg.RequestTimeout > 0 {
				r.Use(chimw.Timeout(s.cfg.RequestTimeout))
			}

			r.Route("/records", func(r chi.Router) {
				r.Get("/", s.handleListRecords)
				r.Post("/", s.handleCreateRecord)
				r.Post("/import", s.handleImportRecords)
				r.Post("/export", s.handleExportRecords)
				r.Get("/search", s.handleSearchRecords)
				r.Post("/save", s.handleSaveRecords)
				r.Post("/load", s.handleLoadRecords)
				r.Get("/quality", s.handleQuality)
				r.Get("/{index}", s.handleGetRecord)
				r.Put("/{index}", s.handleUpdateRecord)
				r.Delete("/{index}", s.handleDeleteRecord)
			})

			r.Post("/validate", s.handleValidate)
			r.Post("/duplicates", s.handleDuplicates)

			r.Route("/grid", func(r chi.Router) {
				r.Get("/session", s.handleGridSession)
				r.Post("/close", s.handleGridClose)
				r.Post("/batch/cancel", s.handleGridBatchCancel)
				r.Get("/rows", s.handleGridView)
				r.Post("/rows", s.handleGridAdd)
				r.Put("/rows/{id}", s.handleGridEdit)
				r.Delete("/rows/{id}", s.handleGridDelete)
				r.Post("/save", s.handleGridSave)
				r.Post("/search", s.handleGridSearch)
			})

			r.Get("/audit", s.handleAuditLog)

			r.Route("/assistant", func(r chi.Router) {
				r.Post("/analyze", s.handleAssistantAnalyze)
				r.Post("/suggest", s.handleAssistantSuggest)
				r.Post("/chat", s.handleAssistantChat)
			})
		})
	})
}

// Start listens on the configured address. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a fixed-window limiter per client IP.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      int
	window    time.Duration
	lastSweep time.Time
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		visitors:  make(map[string]*visitor),
		rate:      rate,
		window:    window,
		lastSweep: time.Now(),
	}
}

func (rl *rateLimiter) allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Drop idle visitors once per window instead of from a goroutine.
	if now.Sub(rl.lastSweep) > rl.window {
		for k, v := range rl.visitors {
			if now.Sub(v.lastReset) > rl.window*2 {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[ip]
	if !ok || now.Sub(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(audit.IPAddressFromContext(r.Context()), time.Now()) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			respondError(w, r, errRateLimited, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errRateLimited = errors.New("rate limit exceeded")

// writeJSON encodes v with status. Encoding errors are only logged since the
// header is already out.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest(fmt.Sprintf("invalid json body: %v", err))
	}
	return nil
}

// recordAudit writes an entry for a dataset change. Failures are logged.
func (s *Server) recordAudit(ctx context.Context, e audit.Entry) {
	if err := s.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		logging.FromContext(ctx).Warn("audit record failed", "action", e.Action, "error", err)
	}
}
