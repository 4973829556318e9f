package snapshot

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carlziess/ra/pkg/events"
	"github.com/carlziess/ra/pkg/metrics"
	"github.com/carlziess/ra/pkg/types"
)

// Worker is a detached background snapshot writer. It shares no state with
// the manager: on success it posts SnapshotWritten to the participant's
// inbox, and termination for any reason is observable through Done. There
// is no retry inside the worker; a failed write surfaces as a death and the
// participant requests another snapshot later.
type Worker struct {
	id     uuid.UUID
	done   chan struct{}
	reason error
}

var _ events.WorkerHandle = (*Worker)(nil)

func newWorker() *Worker {
	return &Worker{
		id:   uuid.New(),
		done: make(chan struct{}),
	}
}

// ID returns the worker identity
func (w *Worker) ID() uuid.UUID {
	return w.id
}

// Done is closed when the worker terminates, for any reason
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Reason reports why the worker terminated; nil means a normal exit.
// Only valid after Done is closed.
func (w *Worker) Reason() error {
	return w.reason
}

func (w *Worker) run(inbox *events.Inbox, it types.IdxTerm, write func() error) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.reason = fmt.Errorf("snapshot write panicked: %v", r)
		}
	}()

	start := time.Now()
	if err := write(); err != nil {
		w.reason = err
		return
	}

	metrics.SnapshotWriteDuration.Observe(time.Since(start).Seconds())
	inbox.Post(events.SnapshotWritten{IdxTerm: it})
}
