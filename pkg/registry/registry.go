package registry

import (
	"sync"

	"github.com/carlziess/ra/pkg/metrics"
	"github.com/carlziess/ra/pkg/types"
)

// Registry is a process-wide table mapping participant UID to the index of
// its last persisted snapshot. Reads may come from any goroutine; writes for
// a given UID are only ever issued by the manager owning that participant,
// so a read-optimized map is sufficient.
//
// The table is a hot cache, not a durable record: the on-disk snapshot
// directory is authoritative and the table is rebuilt from it at startup.
// Log truncation and peer catch-up consult it to decide what log prefix is
// safely discardable.
type Registry struct {
	indices sync.Map // types.UID -> types.Index
}

// New creates an empty Registry
func New() *Registry {
	return &Registry{}
}

// Publish records idx as the last snapshot index for uid.
// Only the manager owning uid may call this.
func (r *Registry) Publish(uid types.UID, idx types.Index) {
	r.indices.Store(uid, idx)
	metrics.LastSnapshotIndex.WithLabelValues(string(uid)).Set(float64(idx))
}

// LastSnapshotIndex returns the last snapshot index published for uid,
// or ok=false when the participant has never completed a snapshot.
func (r *Registry) LastSnapshotIndex(uid types.UID) (types.Index, bool) {
	v, ok := r.indices.Load(uid)
	if !ok {
		return 0, false
	}
	return v.(types.Index), true
}

// Forget drops the entry for uid. Called when a participant is removed
// from this host.
func (r *Registry) Forget(uid types.UID) {
	r.indices.Delete(uid)
	metrics.LastSnapshotIndex.DeleteLabelValues(string(uid))
}

// defaultRegistry is the process-wide instance, initialized once at startup.
var defaultRegistry = New()

// Default returns the process-wide registry
func Default() *Registry {
	return defaultRegistry
}

// LastSnapshotIndex looks up uid in the process-wide registry
func LastSnapshotIndex(uid types.UID) (types.Index, bool) {
	return defaultRegistry.LastSnapshotIndex(uid)
}
