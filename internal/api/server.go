package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/verity/internal/engine"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/telemetry"
)

const (
	// HeaderUserID carries the authenticated caller. Token issuance happens
	// in front of this server.
	HeaderUserID = "X-User-ID"
	// HeaderRequestID echoes or assigns a per-request correlation id.
	HeaderRequestID = "X-Request-ID"

	maxBodyBytes = 4 << 20
)

// Server is the verity HTTP shell.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	mux             *http.ServeMux
	logger          *slog.Logger

	engine    *engine.Engine
	metrics   *telemetry.Metrics
	wsHandler *WSHandler
}

// Config contains server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	// Metrics is served on /metrics when set.
	Metrics *telemetry.Metrics
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		Logger:          slog.Default(),
	}
}

// New creates a server for eng.
func New(eng *engine.Engine, cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &Server{
		addr:            cfg.Addr,
		shutdownTimeout: timeout,
		mux:             http.NewServeMux(),
		logger:          logger,
		engine:          eng,
		metrics:         cfg.Metrics,
		wsHandler:       NewWSHandler(eng.Publisher(), logger),
	}
	s.registerRoutes()
	return s
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Templates
	s.mux.HandleFunc("GET /api/templates", CORS(s.handleListTemplates))
	s.mux.HandleFunc("PUT /api/templates", CORS(s.handleSeedTemplates))

	// Projects
	s.mux.HandleFunc("POST /api/projects", CORS(s.handleCreateProject))
	s.mux.HandleFunc("GET /api/projects/{id}", CORS(s.handleGetProject))

	// Tasks and documents
	s.mux.HandleFunc("POST /api/tasks/{id}/reviewers", CORS(s.handleAssignReviewer))
	s.mux.HandleFunc("GET /api/tasks/{id}/document", CORS(s.handleGetLatestDocument))
	s.mux.HandleFunc("GET /api/tasks/{id}/documents", CORS(s.handleDocumentHistory))
	s.mux.HandleFunc("POST /api/tasks/{id}/draft", CORS(s.handleSaveDraft))
	s.mux.HandleFunc("POST /api/tasks/{id}/submit", CORS(s.handleSubmitDocument))
	s.mux.HandleFunc("POST /api/tasks/{id}/revert", CORS(s.handleRevertTask))

	// Incidents
	s.mux.HandleFunc("POST /api/incidents", CORS(s.handleRaiseIncident))
	s.mux.HandleFunc("GET /api/incidents/{id}", CORS(s.handleIncidentHistory))
	s.mux.HandleFunc("POST /api/incidents/{id}/continue", CORS(s.handleContinueIncident))
	s.mux.HandleFunc("POST /api/incidents/{id}/resolve", CORS(s.handleResolveIncident))

	// Change requests
	s.mux.HandleFunc("POST /api/change-requests", CORS(s.handleCreateChangeRequest))
	s.mux.HandleFunc("GET /api/change-requests/{id}", CORS(s.handleGetChangeRequest))
	s.mux.HandleFunc("PATCH /api/change-requests/{id}/approvers", CORS(s.handleSetApprovers))
	s.mux.HandleFunc("POST /api/change-requests/{id}/decision", CORS(s.handleApproverDecision))
	s.mux.HandleFunc("POST /api/change-requests/{id}/revisions", CORS(s.handleUploadRevision))
	s.mux.HandleFunc("PUT /api/change-requests/{id}/verification", CORS(s.handleSetVerification))

	// Settings and roles
	s.mux.HandleFunc("GET /api/settings/{key}", CORS(s.handleGetSetting))
	s.mux.HandleFunc("PUT /api/settings/{key}", CORS(s.handleSetSetting))
	s.mux.HandleFunc("GET /api/users/{id}/role", CORS(s.handleGetRole))
	s.mux.HandleFunc("PUT /api/users/{id}/role", CORS(s.handleSetRole))
	s.mux.HandleFunc("DELETE /api/users/{id}/role", CORS(s.handleClearRole))

	// WebSocket for committed lifecycle events
	s.mux.Handle("GET /api/ws", s.wsHandler)
}

// Handler returns the routed handler wrapped in request-id and logging
// middleware.
func (s *Server) Handler() http.Handler {
	return s.requestLogger(s.mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting API server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.wsHandler.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		s.logger.Info("stopping API server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// CORS wraps a handler with permissive CORS headers and answers preflight
// requests.
func CORS(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderUserID+", "+HeaderRequestID)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		if r.URL.Path == "/api/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"user_id", r.Header.Get(HeaderUserID),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		JSONError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	JSONResponse(w, map[string]string{"status": "ok"})
}

// --- request helpers ---

func callerID(r *http.Request) (string, error) {
	id := r.Header.Get(HeaderUserID)
	if id == "" {
		return "", verrors.ErrValidation(HeaderUserID, "header required")
	}
	return id, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, verrors.ErrValidation(name, "must be a positive integer")
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return verrors.ErrValidation("body", "invalid JSON: "+err.Error())
	}
	return nil
}
