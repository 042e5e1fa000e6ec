package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/autosync/internal/config"
)

// ValidationError is one problem found in a config file.
type ValidationError struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	File     string            `json:"file"`
	Valid    bool              `json:"valid"`
	Entities int               `json:"entities"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// Text renders the result with one line per problem.
func (r ValidationResult) Text() string {
	if r.Valid {
		return fmt.Sprintf("✓ %s is valid (%d entity store(s))\n", r.File, r.Entities)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ %s\n", r.File)
	for _, e := range r.Errors {
		if e.Line > 0 {
			fmt.Fprintf(&b, "  line %d, column %d: %s\n", e.Line, e.Column, e.Message)
		} else {
			fmt.Fprintf(&b, "  %s\n", e.Message)
		}
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a config file",
		Long: `Check a config file against the schema and the engine's invariants
without opening the database. Environment overrides are ignored.

The file defaults to the --config flag.

Exit codes:
  0 - Config is valid
  1 - Config has errors
  2 - Command error (file missing or unreadable)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	if path == "" {
		return NewExitError(ExitCommandError, "no config file given")
	}
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "cannot read config file", err)
	}

	formatter := newFormatter(opts, cmd)
	formatter.VerboseLog("Validating %s", path)

	noEnv := func(string) (string, bool) { return "", false }
	cfg, err := config.LoadWithEnv(path, noEnv)
	if err == nil {
		return formatter.Success(ValidationResult{File: path, Valid: true, Entities: len(cfg.Entities)})
	}

	res := ValidationResult{File: path, Errors: validationErrors(err)}
	if err := formatter.Success(res); err != nil {
		return err
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(res.Errors)))
}

// validationErrors flattens a load error into one entry per problem.
func validationErrors(err error) []ValidationError {
	var se *config.SchemaError
	if errors.As(err, &se) {
		return []ValidationError{{Message: se.Message, Line: se.Line, Column: se.Column}}
	}
	if joined, ok := errors.Unwrap(err).(interface{ Unwrap() []error }); ok {
		var out []ValidationError
		for _, e := range joined.Unwrap() {
			out = append(out, ValidationError{Message: e.Error()})
		}
		return out
	}
	return []ValidationError{{Message: err.Error()}}
}
