package events

import (
	"github.com/google/uuid"

	"github.com/carlziess/ra/pkg/types"
)

// Event is an inbound event delivered to a participant's inbox. Events are
// drained and applied by the participant's own task, which serializes all
// snapshot state transitions.
type Event interface {
	isEvent()
}

// SnapshotWritten reports that a background write worker persisted a
// complete snapshot at the given log position.
type SnapshotWritten struct {
	IdxTerm types.IdxTerm
}

// ChunkReceived carries one inbound snapshot chunk from the transport.
// Chunks are numbered from 1; N equal to the declared total marks the
// final chunk.
type ChunkReceived struct {
	Data []byte
	N    uint64
}

// WorkerDown reports that a monitored worker terminated. Reason is nil for
// a normal exit.
type WorkerDown struct {
	ID     uuid.UUID
	Reason error
}

func (SnapshotWritten) isEvent() {}
func (ChunkReceived) isEvent()   {}
func (WorkerDown) isEvent()      {}

// WorkerHandle is the monitoring surface of a background worker.
type WorkerHandle interface {
	ID() uuid.UUID
	// Done is closed when the worker terminates, for any reason.
	Done() <-chan struct{}
	// Reason reports why the worker terminated. Only valid after Done
	// is closed; nil means a normal exit.
	Reason() error
}

// Effect describes a side effect the snapshot manager wants performed.
// The manager only emits descriptions; a Dispatcher realizes them. This
// keeps the manager's state machine free of process-management concerns.
type Effect interface {
	isEffect()
}

// MonitorWorker asks the dispatcher to watch a worker and post a
// WorkerDown event to the owning participant's inbox when it terminates.
type MonitorWorker struct {
	Worker WorkerHandle
}

func (MonitorWorker) isEffect() {}
