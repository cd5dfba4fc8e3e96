package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/randalmurphal/verity/internal/archive"
	"github.com/randalmurphal/verity/internal/config"
	"github.com/randalmurphal/verity/internal/db"
	"github.com/randalmurphal/verity/internal/engine"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/telemetry"
)

// app is a migrated database with an engine on top of it.
type app struct {
	cfg     *config.Config
	db      *db.DB
	engine  *engine.Engine
	pub     *events.MemoryPublisher
	metrics *telemetry.Metrics
}

// openApp loads configuration, opens and migrates the database and builds
// the engine.
func (o *rootOptions) openApp(ctx context.Context, opts ...engine.Option) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	d, err := db.OpenConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := d.Migrate(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	arch, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &app{
		cfg:     cfg,
		db:      d,
		pub:     events.NewMemoryPublisher(),
		metrics: telemetry.NewMetrics(),
	}
	base := []engine.Option{
		engine.WithLogger(slog.Default()),
		engine.WithArchive(arch),
		engine.WithPublisher(a.pub),
		engine.WithMetrics(a.metrics),
	}
	a.engine, err = engine.New(d, cfg, append(base, opts...)...)
	if err != nil {
		a.pub.Close()
		_ = d.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the publisher and the database.
func (a *app) Close() error {
	a.pub.Close()
	return a.db.Close()
}

// withApp opens the app for the duration of fn.
func (o *rootOptions) withApp(ctx context.Context, fn func(a *app) error) (err error) {
	a, err := o.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(a)
}

// readContent returns content, or the contents of file when file is set.
// file "-" reads stdin.
func readContent(stdin io.Reader, content, file string) (string, error) {
	if file == "" {
		return content, nil
	}
	if content != "" {
		return "", verrors.ErrValidation("content", "use either --content or --file")
	}
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	return string(data), nil
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
