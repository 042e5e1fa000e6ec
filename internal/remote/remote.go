// Package remote is the client side of the remote persistence API.
//
// The API exposes one collection per entity kind:
//
//	POST   /{kind}       create
//	PUT    /{kind}/{id}  update
//	DELETE /{kind}/{id}  delete
//
// A 409 response carries the current remote representation under a "remote"
// field and is returned as *ConflictError. Any other non-2xx status is a
// REMOTE_WRITE_FAILED error.
package remote

import (
	"context"
	"fmt"

	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/syncerr"
)

// Remote performs entity writes against the remote service. Create and
// Update return the record as normalized by the remote.
type Remote interface {
	Create(ctx context.Context, kind string, payload doc.Object) (doc.Object, error)
	Update(ctx context.Context, kind, id string, payload doc.Object) (doc.Object, error)
	Delete(ctx context.Context, kind, id string) error
}

// Beaconer sends a single best-effort write that outlives the caller.
// Beacon must not block and reports nothing back.
type Beaconer interface {
	Beacon(kind, id string, payload doc.Object)
}

// ConflictError reports that the remote holds a newer version of the entity.
// It unwraps to a syncerr CONFLICT error.
type ConflictError struct {
	Kind   string
	ID     string
	Remote doc.Object
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s/%s", e.Kind, e.ID)
}

// Unwrap lets syncerr.IsConflict see through the error.
func (e *ConflictError) Unwrap() error {
	return syncerr.Conflict(e.Kind, e.ID)
}
