package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/autosync/internal/changelog"
	"github.com/roach88/autosync/internal/config"
)

// StatusResult summarizes the offline change log.
type StatusResult struct {
	Database   string     `json:"database"`
	Pending    int        `json:"pending"`
	Exhausted  int        `json:"exhausted"`
	Superseded int        `json:"superseded"` // pending changes with a newer edit to the same entity
	Synced     int        `json:"synced"`
	MaxRetries int        `json:"maxRetries"`
	Oldest     *time.Time `json:"oldestPending,omitempty"`
	LastSync   *time.Time `json:"lastSync,omitempty"`
}

// Text renders the status for a terminal.
func (r StatusResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database:  %s\n", r.Database)
	fmt.Fprintf(&b, "Pending:   %d", r.Pending)
	var notes []string
	if r.Exhausted > 0 {
		notes = append(notes, fmt.Sprintf("%d exhausted after %d attempts", r.Exhausted, r.MaxRetries))
	}
	if r.Superseded > 0 {
		notes = append(notes, fmt.Sprintf("%d superseded by newer edits", r.Superseded))
	}
	if len(notes) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(notes, ", "))
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Synced:    %d\n", r.Synced)
	if r.Oldest != nil {
		fmt.Fprintf(&b, "Oldest:    %s\n", r.Oldest.UTC().Format(time.RFC3339))
	}
	if r.LastSync != nil {
		fmt.Fprintf(&b, "Last sync: %s\n", r.LastSync.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show offline change log status",
		Long: `Show how many changes are waiting to be synced.

Exhausted changes have used up their retry budget and are skipped by
automatic sync passes until retried by hand.

Examples:
  autosync status
  autosync status --db ./state.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
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

	all, err := changelog.New(st).All(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read change log", err)
	}
	return newFormatter(opts, cmd).Success(summarize(cfg, all))
}

func summarize(cfg *config.Config, all []changelog.Change) StatusResult {
	res := StatusResult{Database: cfg.Database, MaxRetries: cfg.Sync.MaxRetries}
	for _, c := range all {
		if c.Synced {
			res.Synced++
			if c.SyncedAt != nil && (res.LastSync == nil || c.SyncedAt.After(*res.LastSync)) {
				t := *c.SyncedAt
				res.LastSync = &t
			}
			continue
		}
		res.Pending++
		if c.Exhausted(cfg.Sync.MaxRetries) {
			res.Exhausted++
		}
		if res.Oldest == nil || c.EnqueuedAt.Before(*res.Oldest) {
			t := c.EnqueuedAt
			res.Oldest = &t
		}
	}
	res.Superseded = res.Pending - len(changelog.Coalesce(all))
	return res
}
