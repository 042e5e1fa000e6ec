package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/autosync/internal/clock"
	"github.com/roach88/autosync/internal/connectivity"
	"github.com/roach88/autosync/internal/lifecycle"
	"github.com/roach88/autosync/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Addr         string        // control API listen address, overrides metrics.addr
	SyncInterval time.Duration // periodic sync, 0 to sync only on reconnect
	Offline      bool          // start offline when no socket is configured

	// listening, when set, receives the bound address once the API is up.
	listening func(addr string)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the autosave and sync daemon",
		Long: `Run the sync engine until interrupted.

Connectivity follows the real-time socket (connectivity.socket_url) when one
is configured. Pending changes are replayed on every reconnect. On SIGINT or
SIGTERM, dirty working copies get one best-effort flush before exit.

A local control API serves GET /status, POST /sync, GET /metrics and
PUT /entities/{kind}/{id} for editors that autosave through the daemon.

Examples:
  autosync run -c autosync.yaml
  autosync run --addr 127.0.0.1:9108 --sync-interval 5m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "control API address (default metrics.addr)")
	cmd.Flags().DurationVar(&opts.SyncInterval, "sync-interval", 0, "also sync on this interval")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "start offline (ignored with a socket)")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	m := metrics.New()

	var (
		conn   connectivity.Source
		socket *connectivity.Socket
	)
	if cfg.Connectivity.SocketURL != "" {
		header := http.Header{}
		if cfg.Remote.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.Remote.Token)
		}
		socket = connectivity.NewSocket(cfg.Connectivity.SocketURL,
			connectivity.WithHeader(header),
			connectivity.WithLogger(logger.With("component", "socket")),
		)
		conn = socket
	} else {
		state := connectivity.Online
		if opts.Offline {
			state = connectivity.Offline
		}
		conn = connectivity.NewManual(state)
	}
	signals := lifecycle.NewSignals(logger)

	engOpts := engineOptions(cfg, st, conn, logger)
	engOpts.Lifecycle = signals
	engOpts.Observer = m
	engOpts.CleanupOnStart = true
	if cfg.User != "" {
		engOpts.Logger = logger.With("user", cfg.User)
	}
	eng, err := startEngine(ctx, engOpts)
	if err != nil {
		return err
	}
	defer eng.Dispose()
	if cfg.User != "" {
		eng.Sessions().SetUser(cfg.User)
	}

	addr := opts.Addr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if ev := signals.Run(gctx); ev != nil {
			cancel()
		}
		return nil
	})
	if socket != nil {
		g.Go(func() error {
			if err := socket.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if opts.SyncInterval > 0 {
		ticker := clock.Wall{}.Every(opts.SyncInterval, func() { eng.RequestSync() })
		defer ticker.Stop()
	}
	if addr != "" {
		api := newControlAPI(eng, cfg, m.Handler(), logger.With("component", "api"))
		eviction := api.startEviction()
		defer eviction.Stop()
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
		logger.Info("control API listening", "addr", ln.Addr().String())
		if opts.listening != nil {
			opts.listening(ln.Addr().String())
		}
		srv := &http.Server{
			Handler:           api.routes(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	fmt.Fprintln(cmd.OutOrStdout(), "autosync running, press Ctrl+C to stop")
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "daemon stopped", err)
	}
	return nil
}
