package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvlite/kvlite"
)

func TestNotifierInlineDelivery(t *testing.T) {
	t.Parallel()

	var got []kvlite.ChangeEvent
	n := newNotifier(func(ev kvlite.ChangeEvent) {
		got = append(got, ev)
	})
	require.True(t, n.active())

	n.emit(kvlite.ChangeEvent{Kind: kvlite.EventSet, Record: kvlite.Record{Key: "a"}})
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Record.Key)
}

func TestNotifierWithoutListener(t *testing.T) {
	t.Parallel()

	n := newNotifier(nil)
	require.False(t, n.active())

	// emitting without a listener must be a no-op, not a panic
	n.emit(kvlite.ChangeEvent{Kind: kvlite.EventSet})
	require.Empty(t, n.queue)
}

func TestBufferedNotifier(t *testing.T) {
	t.Parallel()

	var got []string
	n := newBufferedNotifier(func(ev kvlite.ChangeEvent) {
		got = append(got, ev.Record.Key)
	})

	n.emit(kvlite.ChangeEvent{Record: kvlite.Record{Key: "first"}})
	n.emit(kvlite.ChangeEvent{Record: kvlite.Record{Key: "second"}})
	n.emit(kvlite.ChangeEvent{Record: kvlite.Record{Key: "third"}})

	// nothing delivered while buffering
	require.Empty(t, got)

	n.flush()
	require.Equal(t, []string{"first", "second", "third"}, got)
	require.Empty(t, n.queue)
}

func TestBufferedNotifierDiscard(t *testing.T) {
	t.Parallel()

	var got []string
	n := newBufferedNotifier(func(ev kvlite.ChangeEvent) {
		got = append(got, ev.Record.Key)
	})

	n.emit(kvlite.ChangeEvent{Record: kvlite.Record{Key: "doomed"}})
	n.discard()
	n.flush()

	require.Empty(t, got)
}
