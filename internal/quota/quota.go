// Package quota defines the narrow interface the file-ingress path
// consults before committing an upload or a run-produced file to a
// user's storage, per spec §5 "Quotas". The core never implements the
// accounting itself — it is a thin collaborator the host service
// supplies — but the interface and its invariant live here because the
// Supervisor's target-capture step is a call site.
package quota

import "context"

// Checker reports whether adding addSize bytes / one more file to
// ownerID's stored footprint would exceed that user's configured quota.
type Checker interface {
	// Allow returns nil if ownerID may store one additional file of
	// addSize bytes; otherwise a non-nil error describing which limit
	// would be exceeded. Callers surface this as QUOTA_EXCEEDED (spec §7)
	// and must not create the file.
	Allow(ctx context.Context, ownerID string, addSize int64) error
}

// Permissive is a Checker that never rejects a file. It is the default
// for deployments that enforce quotas upstream (e.g. in the API facade)
// rather than inside the core.
type Permissive struct{}

// Allow always returns nil.
func (Permissive) Allow(context.Context, string, int64) error { return nil }

var _ Checker = Permissive{}
