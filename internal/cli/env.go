package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/roach88/autosync/internal/config"
	"github.com/roach88/autosync/internal/connectivity"
	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/engine"
	"github.com/roach88/autosync/internal/reconcile"
	"github.com/roach88/autosync/internal/remote"
	"github.com/roach88/autosync/internal/store"
	"github.com/roach88/autosync/internal/syncerr"
)

// errNoRemote is returned for remote writes when no base URL is configured.
var errNoRemote = errors.New("no remote configured")

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// newLogger returns a text logger on w, at debug level when verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadConfig reads the config file (if any), environment overrides and the
// --db flag.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// openStore opens the configured SQLite store.
func openStore(ctx context.Context, cfg *config.Config) (*store.SQLite, error) {
	st, err := store.Open(ctx, cfg.Database, cfg.Defs()...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// buildRemote returns the HTTP remote, or one that rejects every write when
// no base URL is configured.
func buildRemote(cfg *config.Config, logger *slog.Logger) remote.Remote {
	if cfg.Remote.BaseURL == "" {
		return unconfiguredRemote{}
	}
	return remote.NewHTTP(cfg.Remote.BaseURL,
		remote.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout}),
		remote.WithToken(cfg.Remote.Token),
		remote.WithLogger(logger),
	)
}

// buildLimiter paces remote calls during a sync pass. Nil means unlimited.
func buildLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.Remote.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.Remote.RateLimit), 1)
}

type unconfiguredRemote struct{}

func (unconfiguredRemote) Create(_ context.Context, kind string, payload doc.Object) (doc.Object, error) {
	return nil, syncerr.RemoteWriteFailed(kind, payload.ID(), errNoRemote)
}

func (unconfiguredRemote) Update(_ context.Context, kind, id string, _ doc.Object) (doc.Object, error) {
	return nil, syncerr.RemoteWriteFailed(kind, id, errNoRemote)
}

func (unconfiguredRemote) Delete(_ context.Context, kind, id string) error {
	return syncerr.RemoteWriteFailed(kind, id, errNoRemote)
}

// engineOptions maps the config onto engine options. Callers fill in the
// connectivity and lifecycle sources they drive.
func engineOptions(cfg *config.Config, st store.RecordStore, conn connectivity.Source, logger *slog.Logger) engine.Options {
	// Validate already rejected unknown names.
	resolver, _ := reconcile.ResolverNamed(cfg.Sync.Resolver)
	return engine.Options{
		Store:            st,
		Remote:           buildRemote(cfg, logger),
		Resolver:         resolver,
		Connectivity:     conn,
		Logger:           logger,
		Limiter:          buildLimiter(cfg),
		MaxRetries:       cfg.Sync.MaxRetries,
		Debounce:         cfg.Autosave.Debounce,
		Interval:         cfg.Autosave.Interval,
		DisableOffline:   !cfg.Autosave.OfflineEnabled(),
		SessionRetention: cfg.Session.Retention,
		ChangeRetention:  cfg.Changes.Retention,
	}
}

// startEngine creates and starts an engine. The caller must Dispose it.
func startEngine(ctx context.Context, opts engine.Options) (*engine.Engine, error) {
	eng, err := engine.New(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	if err := eng.Start(ctx); err != nil {
		eng.Dispose()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return eng, nil
}
