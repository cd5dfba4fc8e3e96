// Package engine is the transactional facade over verity's lifecycle
// components. Every mutating operation runs in one all-or-nothing
// transaction, is rerun on serialization failures, and publishes its events
// only after commit.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/randalmurphal/verity/internal/activation"
	"github.com/randalmurphal/verity/internal/archive"
	"github.com/randalmurphal/verity/internal/cache"
	"github.com/randalmurphal/verity/internal/changerequest"
	"github.com/randalmurphal/verity/internal/config"
	"github.com/randalmurphal/verity/internal/db"
	"github.com/randalmurphal/verity/internal/document"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/incident"
	"github.com/randalmurphal/verity/internal/review"
	"github.com/randalmurphal/verity/internal/roles"
	"github.com/randalmurphal/verity/internal/settings"
	"github.com/randalmurphal/verity/internal/telemetry"
)

// Engine exposes the lifecycle operations.
type Engine struct {
	db        *db.DB
	cfg       *config.Config
	documents *document.Store
	activator *activation.Activator
	tracker   *review.Tracker
	incidents *incident.Workflow
	changes   *changerequest.Workflow
	roles     roles.Resolver
	settings  *settings.Store
	publisher events.Publisher
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	archive         archive.Archive
	clock           cache.Clock
	maxRetries      int
	initialInterval time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithArchive sets the reference-document archive used as the last
// GetLatestDocument fallback.
func WithArchive(a archive.Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithRoles replaces the database-backed role resolver.
func WithRoles(r roles.Resolver) Option {
	return func(e *Engine) { e.roles = r }
}

// WithPublisher sets where committed events go.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMetrics records operation metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock sets the clock of the role and settings caches.
func WithClock(c cache.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New wires an Engine over d configured by cfg.
func New(d *db.DB, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		db:              d,
		cfg:             cfg,
		logger:          slog.Default(),
		publisher:       events.NewNopPublisher(),
		tracer:          tracenoop.NewTracerProvider().Tracer(""),
		maxRetries:      cfg.Engine.MaxRetries,
		initialInterval: cfg.Engine.InitialInterval,
	}
	for _, opt := range opts {
		opt(e)
	}

	graph, err := incident.NewGraph(cfg.Roles.Successors)
	if err != nil {
		return nil, fmt.Errorf("role graph: %w", err)
	}
	if e.roles == nil {
		e.roles = roles.NewStore(d, cfg.Roles.CacheTTL, e.clock)
	}
	e.settings = settings.NewStore(d, cfg.Settings.CacheTTL, e.clock)
	e.documents = document.NewStore(d, e.archive, document.WithLogger(e.logger))
	e.activator = activation.New(e.logger)
	e.tracker = review.NewTracker(e.activator, e.logger)
	e.incidents = incident.NewWorkflow(graph, e.activator, e.documents, cfg.Incident.SystemFailureType, e.logger)
	e.changes = changerequest.NewWorkflow(cfg.Roles.ChangeRequestApprovers, e.logger)
	return e, nil
}

// Publisher returns the publisher committed events are sent to.
func (e *Engine) Publisher() events.Publisher {
	return e.publisher
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Ping checks that the store answers.
func (e *Engine) Ping(ctx context.Context) error {
	return e.db.DB().PingContext(ctx)
}
