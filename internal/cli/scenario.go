package cli

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/autosync/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Filter    string // scenario filter (glob pattern on the file name)
	GoldenDir string // directory of <name>.golden traces, empty to skip
	Update    bool   // regenerate golden files
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// ScenarioReport holds the overall result.
type ScenarioReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// Text renders one line per scenario and a summary.
func (r ScenarioReport) Text() string {
	if r.Total == 0 {
		return "No scenarios found.\n"
	}
	var b strings.Builder
	for _, s := range r.Scenarios {
		if s.Pass {
			fmt.Fprintf(&b, "✓ %s\n", s.Name)
			continue
		}
		fmt.Fprintf(&b, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			for _, line := range strings.Split(strings.TrimRight(e, "\n"), "\n") {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
	return b.String()
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <path>...",
		Short: "Run scripted autosave and sync scenarios",
		Long: `Run scenario files against an in-memory engine with a fake clock.

Each path may be a YAML file or a directory searched recursively. With
--golden, each trace is also compared against <golden>/<name>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  autosync scenario ./scenarios
  autosync scenario ./scenarios --filter "offline_*"
  autosync scenario ./scenarios --golden ./golden --update`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "directory of golden trace files")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files (requires --golden)")

	return cmd
}

func runScenarios(opts *ScenarioOptions, paths []string, cmd *cobra.Command) error {
	if opts.Update && opts.GoldenDir == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}

	var files []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", p))
		}
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	report := ScenarioReport{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, f := range files {
		res := runScenarioFile(opts, f, logger)
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Scenarios = append(report.Scenarios, res)
	}

	if err := newFormatter(opts.RootOptions, cmd).Success(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", report.Failed))
	}
	return nil
}

// findScenarioFiles returns path itself when it is a file, or every YAML file
// under it.
func findScenarioFiles(path, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(filepath.Base(p), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

func runScenarioFile(opts *ScenarioOptions, file string, logger *slog.Logger) ScenarioResult {
	s, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}
	result, err := harness.RunWithLogger(s, logger)
	if err != nil {
		return ScenarioResult{
			Name:   s.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}

	errs := append([]string(nil), result.Errors...)
	if opts.GoldenDir != "" {
		trace, err := harness.MarshalTrace(result.Trace)
		if err == nil {
			err = checkGolden(opts.GoldenDir, s.Name, trace, opts.Update)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return ScenarioResult{Name: s.Name, Pass: result.Pass && len(errs) == 0, Errors: errs}
}

// checkGolden compares (or with update, rewrites) the golden trace for name.
func checkGolden(dir, name string, trace []byte, update bool) error {
	path := filepath.Join(dir, name+".golden")
	if update {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create golden directory: %w", err)
		}
		return os.WriteFile(path, trace, 0o644)
	}
	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// No golden file: assertions alone decide.
		return nil
	}
	if err != nil {
		return err
	}
	if !bytes.Equal(want, trace) {
		return fmt.Errorf("trace does not match %s (run with --update to regenerate)", path)
	}
	return nil
}
