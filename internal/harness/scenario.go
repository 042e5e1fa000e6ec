package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run of the sync engine.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Online is the initial connectivity state.
	Online bool `yaml:"online"`

	// Entities lists the entity stores to declare.
	Entities []string `yaml:"entities"`

	// Resolver picks the conflict policy: "local", "remote", "fail" or
	// empty for no resolver.
	Resolver string `yaml:"resolver,omitempty"`

	// MaxRetries overrides the retry budget when positive.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Debounce and Interval override the autosave timings.
	Debounce string `yaml:"debounce,omitempty"`
	Interval string `yaml:"interval,omitempty"`

	// Seed records exist on the remote before the run.
	Seed []SeedRecord `yaml:"seed,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// SeedRecord is a remote record present before the run.
type SeedRecord struct {
	Kind   string         `yaml:"kind"`
	Record map[string]any `yaml:"record"`
}

// Step is one scripted action.
type Step struct {
	Op string `yaml:"op"`

	Kind string         `yaml:"kind,omitempty"`
	ID   string         `yaml:"id,omitempty"`
	Data map[string]any `yaml:"data,omitempty"`

	// Duration is the clock advance for "advance" and the total typing time
	// for "type".
	Duration string `yaml:"duration,omitempty"`
	// Every is the typing interval for "type".
	Every string `yaml:"every,omitempty"`
	// Field is the field rewritten on each keystroke for "type".
	Field string `yaml:"field,omitempty"`

	// Error is the failure message for "fail".
	Error string `yaml:"error,omitempty"`

	User    string `yaml:"user,omitempty"`
	Project string `yaml:"project,omitempty"`
	Scene   string `yaml:"scene,omitempty"`
}

// Step operations.
const (
	OpSet        = "set"
	OpType       = "type"
	OpAdvance    = "advance"
	OpSave       = "save"
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpDrain      = "drain"
	OpSync       = "sync"
	OpTerminate  = "terminate"
	OpFail       = "fail"
	OpConflict   = "conflict"
	OpSession    = "session"
	OpRecover    = "recover"
	OpCleanup    = "cleanup"
)

// Assertion checks the trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Event, Kind, ID and Detail filter trace events. Empty filters match
	// anything.
	Event  string `yaml:"event,omitempty"`
	Kind   string `yaml:"kind,omitempty"`
	ID     string `yaml:"id,omitempty"`
	Detail string `yaml:"detail,omitempty"`

	// Events is the expected order for trace_order.
	Events []string `yaml:"events,omitempty"`

	// Count is used by trace_count, unsynced and pending.
	Count int `yaml:"count"`

	// Expect is a subset of fields for local_record and remote_record.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertUnsynced      = "unsynced"
	AssertPending       = "pending"
	AssertLocalRecord   = "local_record"
	AssertRemoteRecord  = "remote_record"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Entities) == 0 {
		return fmt.Errorf("entities list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	switch s.Resolver {
	case "", "local", "remote", "fail":
	default:
		return fmt.Errorf("unknown resolver %q", s.Resolver)
	}
	for _, d := range []string{s.Debounce, s.Interval} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration %q: %w", d, err)
		}
	}

	entities := make(map[string]bool, len(s.Entities))
	for _, e := range s.Entities {
		entities[e] = true
	}
	for i, seed := range s.Seed {
		if !entities[seed.Kind] {
			return fmt.Errorf("seed[%d]: unknown entity %q", i, seed.Kind)
		}
		if id, _ := seed.Record["id"].(string); id == "" {
			return fmt.Errorf("seed[%d]: record needs a string id", i)
		}
	}
	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], entities); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step, entities map[string]bool) error {
	needKind := func() error {
		if !entities[st.Kind] {
			return fmt.Errorf("steps[%d]: %s needs a declared entity kind, got %q", index, st.Op, st.Kind)
		}
		return nil
	}
	needDuration := func(name, value string) error {
		if value == "" {
			return fmt.Errorf("steps[%d]: %s is required for %s", index, name, st.Op)
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("steps[%d]: invalid %s %q", index, name, value)
		}
		return nil
	}

	switch st.Op {
	case OpSet:
		if err := needKind(); err != nil {
			return err
		}
		if st.Data == nil {
			return fmt.Errorf("steps[%d]: data is required for set", index)
		}
	case OpType:
		if err := needKind(); err != nil {
			return err
		}
		if st.Data == nil || st.Field == "" {
			return fmt.Errorf("steps[%d]: data and field are required for type", index)
		}
		if err := needDuration("duration", st.Duration); err != nil {
			return err
		}
		return needDuration("every", st.Every)
	case OpAdvance:
		return needDuration("duration", st.Duration)
	case OpSave:
		return needKind()
	case OpFail:
		if err := needKind(); err != nil {
			return err
		}
		if st.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for fail", index)
		}
	case OpConflict:
		if err := needKind(); err != nil {
			return err
		}
		if st.ID == "" || st.Data == nil {
			return fmt.Errorf("steps[%d]: id and data are required for conflict", index)
		}
	case OpSession, OpRecover:
		if st.User == "" {
			return fmt.Errorf("steps[%d]: user is required for %s", index, st.Op)
		}
	case OpConnect, OpDisconnect, OpDrain, OpSync, OpTerminate, OpCleanup:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertUnsynced, AssertPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertLocalRecord, AssertRemoteRecord:
		if a.Kind == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: kind and id are required for %s", index, a.Type)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
