package store

import "github.com/kvlite/kvlite"

// notifier owns change-event delivery for one session. A root session
// dispatches inline before the mutating operation returns; a nested
// session buffers events into an ordered queue that is replayed to the
// original listener only after the transaction commits.
type notifier struct {
	listener kvlite.Listener
	buffered bool
	queue    []kvlite.ChangeEvent
}

func newNotifier(listener kvlite.Listener) *notifier {
	return &notifier{listener: listener}
}

func newBufferedNotifier(listener kvlite.Listener) *notifier {
	return &notifier{listener: listener, buffered: true}
}

// active reports whether emitting would deliver anything. When false,
// callers skip constructing the event entirely.
func (n *notifier) active() bool {
	return n.listener != nil
}

func (n *notifier) emit(ev kvlite.ChangeEvent) {
	if n.listener == nil {
		return
	}
	if n.buffered {
		n.queue = append(n.queue, ev)
		return
	}
	n.listener(ev)
}

// flush replays the queue in emission order. Called only after a
// successful commit; a panicking listener surfaces to the transaction
// caller but the commit stands.
func (n *notifier) flush() {
	for _, ev := range n.queue {
		n.listener(ev)
	}
	n.queue = nil
}

// discard drops the queue after a rollback. No events fire.
func (n *notifier) discard() {
	n.queue = nil
}
