package events

import "sync"

// Dispatcher realizes effect descriptors emitted by snapshot managers.
// It owns the goroutines that wait on worker termination so the manager
// never has to.
type Dispatcher struct {
	inbox *Inbox
	wg    sync.WaitGroup
}

// NewDispatcher creates a dispatcher posting to the given inbox
func NewDispatcher(inbox *Inbox) *Dispatcher {
	return &Dispatcher{inbox: inbox}
}

// Dispatch realizes each effect in order. Unknown effect types are ignored
// so the effect vocabulary can grow without breaking older dispatchers.
func (d *Dispatcher) Dispatch(effects ...Effect) {
	for _, e := range effects {
		switch eff := e.(type) {
		case MonitorWorker:
			d.monitor(eff.Worker)
		}
	}
}

func (d *Dispatcher) monitor(w WorkerHandle) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		<-w.Done()
		d.inbox.Post(WorkerDown{ID: w.ID(), Reason: w.Reason()})
	}()
}

// Wait blocks until every monitored worker has terminated and its
// WorkerDown event has been posted. Used on participant shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
