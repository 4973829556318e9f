package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carlziess/ra/pkg/events"
	"github.com/carlziess/ra/pkg/log"
	"github.com/carlziess/ra/pkg/metrics"
	"github.com/carlziess/ra/pkg/registry"
	"github.com/carlziess/ra/pkg/storage"
	"github.com/carlziess/ra/pkg/types"
)

var (
	ErrSnapshotInProgress = errors.New("ra/snapshot: a snapshot write is already in progress")
	ErrAcceptInProgress   = errors.New("ra/snapshot: an inbound transfer is already in progress")
	ErrNoSnapshot         = errors.New("ra/snapshot: no snapshot available")
	ErrNoAccept           = errors.New("ra/snapshot: no inbound transfer in progress")
	ErrOutOfOrderChunk    = errors.New("ra/snapshot: out of order chunk")
	ErrUnknownSnapshot    = errors.New("ra/snapshot: completed snapshot does not match the pending write")
)

// Manager owns the snapshot lifecycle of one Raft participant: persisting
// machine state at a committed index, receiving a snapshot from a peer
// leader chunk by chunk, recovering state at startup, and publishing the
// participant's last snapshot index to the process-wide registry.
//
// A Manager is exclusively owned by the participant's task. All mutations
// happen on that task; the only concurrency is the background write worker,
// which shares no state and communicates by posting to the inbox. At most
// one of a pending write and an inbound transfer exists at any time.
type Manager struct {
	uid     types.UID
	backend storage.Backend
	dir     string
	reg     *registry.Registry
	inbox   *events.Inbox
	logger  zerolog.Logger

	current   *types.IdxTerm
	pending   *pendingWrite
	accepting *acceptCtx
}

type pendingWrite struct {
	worker  *Worker
	idxterm types.IdxTerm
	dir     string
}

// New creates the manager for uid and runs the startup scan over dir.
//
// The highest-ordered child directory whose meta parses is retained as the
// current snapshot and its index is published to the registry; every other
// child, including corrupt or partial ones, is deleted. Directory names
// sort by (term, index), so a write interrupted by a crash can only be the
// youngest child and falling back to the next-highest is always safe.
func New(uid types.UID, backend storage.Backend, dir string, reg *registry.Registry, inbox *events.Inbox) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	m := &Manager{
		uid:     uid,
		backend: backend,
		dir:     dir,
		reg:     reg,
		inbox:   inbox,
		logger:  log.WithParticipant(uid),
	}

	if err := m.scan(); err != nil {
		return nil, err
	}

	return m, nil
}

// scan enumerates snapshot subdirectories youngest-first, retains the first
// one that parses and deletes the rest.
func (m *Manager) scan() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}

	// ReadDir sorts by name; the naming scheme makes that (term, index)
	// order.
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}

	retained := ""
	for i := len(names) - 1; i >= 0; i-- {
		meta, err := m.backend.ReadMeta(filepath.Join(m.dir, names[i]))
		if err != nil {
			m.logger.Warn().
				Str("snapshot", names[i]).
				Err(err).
				Msg("skipping unreadable snapshot")
			continue
		}

		it := meta.IdxTerm()
		m.current = &it
		retained = names[i]
		break
	}

	for _, name := range names {
		if name == retained {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.dir, name)); err != nil {
			return fmt.Errorf("failed to remove stale snapshot %s: %w", name, err)
		}
	}

	if m.current != nil {
		m.reg.Publish(m.uid, m.current.Index)
		m.logger.Info().
			Uint64("index", uint64(m.current.Index)).
			Uint64("term", uint64(m.current.Term)).
			Msg("recovered snapshot")
	}

	return nil
}

// Current returns the log position of the latest complete snapshot on disk
func (m *Manager) Current() (types.IdxTerm, bool) {
	if m.current == nil {
		return types.IdxTerm{}, false
	}
	return *m.current, true
}

// Pending returns the log position of the in-flight background write
func (m *Manager) Pending() (types.IdxTerm, bool) {
	if m.pending == nil {
		return types.IdxTerm{}, false
	}
	return m.pending.idxterm, true
}

// BeginSnapshot starts persisting the participant's machine state at meta's
// log position. The release cursor is captured synchronously on the calling
// task via the backend; serialization then proceeds on a background worker
// which posts SnapshotWritten to the inbox on success. The returned effects
// ask the dispatcher to monitor the worker for termination.
func (m *Manager) BeginSnapshot(meta types.Meta, cur storage.Cursor) ([]events.Effect, error) {
	if m.pending != nil {
		return nil, ErrSnapshotInProgress
	}
	if m.accepting != nil {
		return nil, ErrAcceptInProgress
	}

	target := filepath.Join(m.dir, dirName(meta.Term, meta.Index))
	// The directory must exist before the worker starts so the worker
	// never races to create its own target.
	if err := os.MkdirAll(target, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	ref, err := m.backend.Prepare(meta, cur)
	if err != nil {
		_ = os.RemoveAll(target)
		return nil, err
	}

	w := newWorker()
	m.pending = &pendingWrite{
		worker:  w,
		idxterm: meta.IdxTerm(),
		dir:     target,
	}

	m.logger.Info().
		Uint64("index", uint64(meta.Index)).
		Uint64("term", uint64(meta.Term)).
		Str("worker", w.id.String()).
		Msg("starting background snapshot write")

	go w.run(m.inbox, meta.IdxTerm(), func() error {
		return m.backend.Write(target, meta, ref)
	})

	return []events.Effect{events.MonitorWorker{Worker: w}}, nil
}

// CompleteSnapshot records a SnapshotWritten event dequeued from the inbox.
// The idxterm must match the pending write.
func (m *Manager) CompleteSnapshot(it types.IdxTerm) error {
	if m.pending == nil || m.pending.idxterm != it {
		return fmt.Errorf("%w: %s", ErrUnknownSnapshot, it)
	}

	m.reg.Publish(m.uid, it.Index)
	metrics.SnapshotsWrittenTotal.WithLabelValues(string(m.uid)).Inc()

	m.removePrevious(it)
	m.pending = nil
	m.current = &it

	m.logger.Info().
		Uint64("index", uint64(it.Index)).
		Uint64("term", uint64(it.Term)).
		Msg("snapshot written")

	return nil
}

// HandleDown records a WorkerDown event. If the worker is the pending
// writer, its partial directory is reclaimed; any other worker identity is
// ignored. This is the sole recovery path for a crashed background write.
func (m *Manager) HandleDown(id uuid.UUID, reason error) {
	if m.pending == nil || m.pending.worker.id != id {
		return
	}

	m.logger.Warn().
		Str("worker", id.String()).
		Err(reason).
		Msg("snapshot write worker died, reclaiming partial snapshot")

	if err := os.RemoveAll(m.pending.dir); err != nil {
		m.logger.Error().Err(err).Msg("failed to remove partial snapshot directory")
	}

	metrics.SnapshotWriteFailuresTotal.WithLabelValues(string(m.uid)).Inc()
	m.pending = nil
}

// Read opens the current snapshot for outbound streaming to a peer
func (m *Manager) Read(chunkSize int) (storage.Outbound, error) {
	if m.current == nil {
		return nil, ErrNoSnapshot
	}
	return m.backend.Read(m.currentDir(), chunkSize)
}

// Recover reconstructs the machine state from the current snapshot
func (m *Manager) Recover() (types.Meta, []byte, error) {
	if m.current == nil {
		return types.Meta{}, nil, ErrNoSnapshot
	}
	return m.backend.Recover(m.currentDir())
}

func (m *Manager) currentDir() string {
	return filepath.Join(m.dir, dirName(m.current.Term, m.current.Index))
}

// removePrevious deletes the previous current snapshot directory, keeping
// at most one complete snapshot on disk. Runs before current is reassigned.
func (m *Manager) removePrevious(next types.IdxTerm) {
	if m.current == nil || *m.current == next {
		return
	}

	prev := m.currentDir()
	if err := os.RemoveAll(prev); err != nil {
		m.logger.Error().
			Str("dir", prev).
			Err(err).
			Msg("failed to remove previous snapshot directory")
	}
}

// dirName names a snapshot directory so lexicographic order equals
// (term, index) order.
func dirName(term types.Term, index types.Index) string {
	return fmt.Sprintf("%016x_%016x", uint64(term), uint64(index))
}
