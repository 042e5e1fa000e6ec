package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/autosync/internal/session"
)

// RecoverResult wraps a recovered snapshot. Snapshot is nil when the user
// has no live session.
type RecoverResult struct {
	User     string            `json:"user"`
	Snapshot *session.Snapshot `json:"snapshot"`
}

// Text renders the snapshot fields a user would resume from.
func (r RecoverResult) Text() string {
	s := r.Snapshot
	if s == nil {
		return fmt.Sprintf("No session to recover for %s.\n", r.User)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "User:          %s\n", s.UserID)
	if s.ProjectID != "" {
		fmt.Fprintf(&b, "Project:       %s\n", s.ProjectID)
	}
	if s.SceneID != "" {
		fmt.Fprintf(&b, "Scene:         %s\n", s.SceneID)
	}
	if s.Route != "" {
		fmt.Fprintf(&b, "Route:         %s\n", s.Route)
	}
	fmt.Fprintf(&b, "Last activity: %s\n", s.LastActivity.UTC().Format(time.RFC3339))
	if len(s.FormData) > 0 {
		fmt.Fprintf(&b, "Form fields:   %d\n", len(s.FormData))
	}
	return b.String()
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover [user]",
		Short: "Show the session snapshot a user would resume",
		Long: `Load a user's last session snapshot: project, scene, route and
unsaved form fields. Run "autosync prune" to drop expired snapshots.

The user defaults to the configured user.

Examples:
  autosync recover u1
  autosync recover --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			user := ""
			if len(args) == 1 {
				user = args[0]
			}
			return runRecover(rootOpts, user, cmd)
		},
	}
}

func runRecover(opts *RootOptions, user string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if user == "" {
		user = cfg.User
	}
	if user == "" {
		return NewExitError(ExitCommandError, "no user given and none configured")
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sm := session.New(st,
		session.WithLogger(newLogger(opts, cmd.ErrOrStderr())),
		session.WithRetention(cfg.Session.Retention, cfg.Changes.Retention),
	)
	snap, err := sm.Recover(ctx, user)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to recover session", err)
	}
	return newFormatter(opts, cmd).Success(RecoverResult{User: user, Snapshot: snap})
}
