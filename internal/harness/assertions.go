package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/engine"
	"github.com/roach88/autosync/internal/remote"
	"github.com/roach88/autosync/internal/store"
)

// AssertionContext gives assertions access to final state.
type AssertionContext struct {
	Ctx    context.Context
	Store  store.RecordStore
	Remote *remote.Memory
	Engine *engine.Engine
}

// AssertionError describes a failed assertion with the full trace for
// context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", ev.Seq, describe(ev))
		}
	}
	return buf.String()
}

func describe(ev TraceEvent) string {
	parts := []string{ev.Event}
	if ev.Kind != "" || ev.ID != "" {
		parts = append(parts, ev.Kind+"/"+ev.ID)
	}
	if ev.Detail != "" {
		parts = append(parts, ev.Detail)
	}
	return strings.Join(parts, " ")
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertUnsynced:
		return assertUnsynced(a, actx)
	case AssertPending:
		return assertPending(a, actx)
	case AssertLocalRecord:
		return assertLocalRecord(a, actx)
	case AssertRemoteRecord:
		return assertRemoteRecord(a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// matches reports whether ev satisfies the non-empty filters of a.
func matches(ev TraceEvent, a Assertion) bool {
	return ev.Event == a.Event &&
		(a.Kind == "" || ev.Kind == a.Kind) &&
		(a.ID == "" || ev.ID == a.ID) &&
		(a.Detail == "" || ev.Detail == a.Detail)
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(TraceEvent{Event: a.Event, Kind: a.Kind, ID: a.ID, Detail: a.Detail}),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrence of each event appears in
// the given order. Intervening events are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int, len(a.Events))
	for i, ev := range trace {
		for _, want := range a.Events {
			if ev.Event == want {
				if _, seen := positions[want]; !seen {
					positions[want] = i
				}
			}
		}
	}

	var missing []string
	for _, want := range a.Events {
		if _, ok := positions[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("events in order %v", a.Events),
			Actual:   fmt.Sprintf("missing %v", missing),
			Trace:    trace,
		}
	}

	for i := 1; i < len(a.Events); i++ {
		if positions[a.Events[i]] <= positions[a.Events[i-1]] {
			actual := append([]string(nil), a.Events...)
			sort.SliceStable(actual, func(x, y int) bool { return positions[actual[x]] < positions[actual[y]] })
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order %v", a.Events),
				Actual:   fmt.Sprintf("order %v", actual),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if matches(ev, a) {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d x %s", a.Count, describe(TraceEvent{Event: a.Event, Kind: a.Kind, ID: a.ID, Detail: a.Detail})),
			Actual:   fmt.Sprintf("%d", n),
			Trace:    trace,
		}
	}
	return nil
}

func assertUnsynced(a Assertion, actx *AssertionContext) error {
	n, err := actx.Engine.Changes().CountUnsynced(actx.Ctx)
	if err != nil {
		return fmt.Errorf("count unsynced: %w", err)
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertUnsynced,
			Expected: fmt.Sprintf("%d unsynced changes", a.Count),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertPending(a Assertion, actx *AssertionContext) error {
	n := actx.Engine.Status().PendingChanges
	if n != a.Count {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("%d pending changes", a.Count),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertLocalRecord(a Assertion, actx *AssertionContext) error {
	rec, ok, err := actx.Store.Get(actx.Ctx, a.Kind, a.ID)
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", a.Kind, a.ID, err)
	}
	return checkRecord(AssertLocalRecord, a, rec, ok)
}

func assertRemoteRecord(a Assertion, actx *AssertionContext) error {
	rec, ok := actx.Remote.Record(a.Kind, a.ID)
	return checkRecord(AssertRemoteRecord, a, rec, ok)
}

// checkRecord verifies that rec has every field in a.Expect. Fields are
// compared by their exact serialization, so key order does not matter but
// Unicode form does.
func checkRecord(typ string, a Assertion, rec doc.Object, ok bool) error {
	if !ok {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("record %s/%s", a.Kind, a.ID),
			Actual:   "not found",
		}
	}
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		want, err := doc.FromAny(a.Expect[k])
		if err != nil {
			return fmt.Errorf("expect[%q]: %w", k, err)
		}
		got, present := rec[k]
		if !present || !doc.Equal(want, got) {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s/%s %s = %s", a.Kind, a.ID, k, render(want)),
				Actual:   render(got),
			}
		}
	}
	return nil
}

func render(v doc.Value) string {
	if v == nil {
		return "<missing>"
	}
	b, err := doc.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
