package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/autosync/internal/changelog"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	Kind     string // only show changes to this entity kind
	Coalesce bool   // only show the newest change per entity
}

// PendingChange is one unsynced change as shown to the user.
type PendingChange struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Kind       string    `json:"kind"`
	EntityID   string    `json:"entityId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Retries    int       `json:"retries"`
	LastError  string    `json:"lastError,omitempty"`
	Exhausted  bool      `json:"exhausted"`
}

// PendingResult lists unsynced changes in enqueue order.
type PendingResult struct {
	Changes []PendingChange `json:"changes"`
}

// Text renders the changes as a table.
func (r PendingResult) Text() string {
	if len(r.Changes) == 0 {
		return "No pending changes.\n"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tENTITY\tENQUEUED\tRETRIES\tLAST ERROR")
	for _, c := range r.Changes {
		retries := fmt.Sprintf("%d", c.Retries)
		if c.Exhausted {
			retries += " (exhausted)"
		}
		lastErr := c.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%s\t%s\n",
			c.ID, c.Type, c.Kind, c.EntityID,
			c.EnqueuedAt.UTC().Format(time.RFC3339), retries, lastErr)
	}
	w.Flush()
	return b.String()
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List changes waiting to be synced",
		Long: `List unsynced offline changes in the order they will be replayed.

Examples:
  autosync pending
  autosync pending --kind scenes
  autosync pending --coalesce
  autosync pending --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only show changes to this entity kind")
	cmd.Flags().BoolVar(&opts.Coalesce, "coalesce", false, "hide changes superseded by a newer edit to the same entity")

	return cmd
}

func runPending(opts *PendingOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	unsynced, err := changelog.New(st).Unsynced(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read change log", err)
	}
	if opts.Coalesce {
		unsynced = changelog.Coalesce(unsynced)
	}

	res := PendingResult{Changes: make([]PendingChange, 0, len(unsynced))}
	for _, c := range unsynced {
		if opts.Kind != "" && c.EntityKind != opts.Kind {
			continue
		}
		res.Changes = append(res.Changes, PendingChange{
			ID:         c.ID,
			Type:       string(c.Type),
			Kind:       c.EntityKind,
			EntityID:   c.EntityID,
			EnqueuedAt: c.EnqueuedAt,
			Retries:    c.RetryCount,
			LastError:  c.LastError,
			Exhausted:  c.Exhausted(cfg.Sync.MaxRetries),
		})
	}
	return newFormatter(opts.RootOptions, cmd).Success(res)
}
