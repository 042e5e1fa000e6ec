package harness

import "github.com/roach88/autosync/internal/doc"

// Trace event names recorded by the harness.
const (
	EventSave         = "save"
	EventSkip         = "skip"
	EventNotice       = "notice"
	EventConnectivity = "connectivity"
	EventSyncOK       = "sync.ok"
	EventSyncFailed   = "sync.failed"
	EventSyncPass     = "sync.pass"
	EventRecovered    = "session.recovered"
	EventCleanup      = "session.cleanup"
	// Remote calls are recorded as "remote.<method>".
	eventRemotePrefix = "remote."
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Event  string `json:"event"`
	Kind   string `json:"kind,omitempty"`
	ID     string `json:"id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// object returns e as a doc.Object, omitting empty fields.
func (e TraceEvent) object() doc.Object {
	obj := doc.Object{
		"seq":   doc.Int(e.Seq),
		"event": doc.String(e.Event),
	}
	if e.Kind != "" {
		obj["kind"] = doc.String(e.Kind)
	}
	if e.ID != "" {
		obj["id"] = doc.String(e.ID)
	}
	if e.Detail != "" {
		obj["detail"] = doc.String(e.Detail)
	}
	return obj
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult returns a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
