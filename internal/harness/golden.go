package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/autosync/internal/doc"
)

// MarshalTrace renders a trace as canonical JSON lines, one event per line.
func MarshalTrace(trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, ev := range trace {
		line, err := doc.MarshalCanonical(ev.object())
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden runs s and compares its trace against
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(s)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, s.Name, result)
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalTrace(result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
