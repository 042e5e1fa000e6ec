package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/autosync/internal/connectivity"
)

// SyncResult reports one reconciliation pass.
type SyncResult struct {
	Ran       bool `json:"ran"`
	Attempted int  `json:"attempted"`
	Synced    int  `json:"synced"`
	Conflicts int  `json:"conflicts"`
	Failed    int  `json:"failed"`
	Exhausted int  `json:"exhausted"`
	Pending   int  `json:"pending"`
}

// Text renders the pass summary.
func (r SyncResult) Text() string {
	if !r.Ran {
		return "A sync pass is already running.\n"
	}
	if r.Attempted == 0 && r.Exhausted == 0 {
		return "Nothing to sync.\n"
	}
	s := fmt.Sprintf("Synced %d of %d change(s)", r.Synced, r.Attempted)
	if r.Conflicts > 0 {
		s += fmt.Sprintf(", %d conflict(s) resolved", r.Conflicts)
	}
	if r.Failed > 0 {
		s += fmt.Sprintf(", %d failed", r.Failed)
	}
	if r.Exhausted > 0 {
		s += fmt.Sprintf(", %d exhausted", r.Exhausted)
	}
	return s + fmt.Sprintf(". %d pending.\n", r.Pending)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay pending changes against the remote once",
		Long: `Run a single reconciliation pass and exit.

Conflicts are settled by the configured resolver (sync.resolver).

Exit codes:
  0 - Every attempted change was accepted
  1 - One or more changes failed or exhausted their retries
  2 - Command error (config, database)

Examples:
  autosync sync
  autosync sync --db ./state.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := newLogger(opts, cmd.ErrOrStderr())
	eng, err := startEngine(ctx, engineOptions(cfg, st, connectivity.NewManual(connectivity.Online), logger))
	if err != nil {
		return err
	}
	defer eng.Dispose()

	res, err := eng.Sync(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}
	out := SyncResult{
		Ran:       res.Ran,
		Attempted: res.Attempted,
		Synced:    res.Synced,
		Conflicts: res.Conflicts,
		Failed:    res.Failed,
		Exhausted: res.Exhausted,
		Pending:   eng.Status().PendingChanges,
	}
	if err := newFormatter(opts, cmd).Success(out); err != nil {
		return err
	}
	if res.Failed > 0 || res.Exhausted > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d change(s) left unsynced", out.Pending))
	}
	return nil
}
