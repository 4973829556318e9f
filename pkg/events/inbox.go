package events

import "sync"

const inboxDepth = 100 // buffered events per participant

// Inbox is a participant's event queue. Workers and the transport post to
// it from their own goroutines; the participant's task drains it via Chan.
type Inbox struct {
	eventCh chan Event
	stopCh  chan struct{}
	once    sync.Once
}

// NewInbox creates an inbox with a bounded buffer
func NewInbox() *Inbox {
	return &Inbox{
		eventCh: make(chan Event, inboxDepth),
		stopCh:  make(chan struct{}),
	}
}

// Post delivers e to the inbox, blocking while the buffer is full.
// Posting to a closed inbox is a no-op; the event is dropped.
func (in *Inbox) Post(e Event) {
	select {
	case <-in.stopCh:
		return
	default:
	}

	select {
	case <-in.stopCh:
	case in.eventCh <- e:
	}
}

// Chan returns the receive side of the inbox
func (in *Inbox) Chan() <-chan Event {
	return in.eventCh
}

// Close shuts the inbox down. Pending events remain readable from Chan;
// subsequent posts are dropped.
func (in *Inbox) Close() {
	in.once.Do(func() { close(in.stopCh) })
}
