package testutil

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/autosync/internal/changelog"
)

// SequentialIDs generates change ids "<prefix>-0001", "<prefix>-0002", ...
//
// Unlike changelog.FixedGenerator it never runs out, which suits scenarios
// whose change count is not known up front.
type SequentialIDs struct {
	prefix string
	seq    Sequence
}

var _ changelog.IDGenerator = (*SequentialIDs)(nil)

// NewSequentialIDs returns a generator using prefix.
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.seq.Next())
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
