package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/autosync/internal/changelog"
	"github.com/roach88/autosync/internal/session"
)

// PruneResult reports how many records were removed.
type PruneResult struct {
	Sessions int `json:"sessions"`
	Changes  int `json:"changes"`
}

// Text renders the counts.
func (r PruneResult) Text() string {
	return fmt.Sprintf("Removed %d expired session(s) and %d synced change(s).\n", r.Sessions, r.Changes)
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove expired sessions and old synced changes",
		Long: `Delete session snapshots idle longer than session.retention and
synced changes older than changes.retention. Unsynced changes are never
removed.

Examples:
  autosync prune
  autosync prune --db ./state.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(rootOpts, cmd)
		},
	}
}

func runPrune(opts *RootOptions, cmd *cobra.Command) error {
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

	sm := session.New(st,
		session.WithLogger(newLogger(opts, cmd.ErrOrStderr())),
		session.WithRetention(cfg.Session.Retention, cfg.Changes.Retention),
		session.WithChangeLog(changelog.New(st)),
	)
	res, err := sm.Cleanup(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "cleanup failed", err)
	}
	return newFormatter(opts, cmd).Success(PruneResult{Sessions: res.Sessions, Changes: res.Changes})
}
