package av

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_DeliversInOrder(t *testing.T) {
	d := newDispatcher()

	var (
		mu   sync.Mutex
		seen []string
	)
	d.subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.UserID)
		mu.Unlock()
	})

	for i := 0; i < 100; i++ {
		require.True(t, d.emit(Event{Kind: EventSpeaking, UserID: string(rune('a' + i%26))}))
	}
	require.True(t, d.emit(Event{Kind: EventDisconnect}))

	select {
	case <-d.done:
	case <-time.After(testTimeout):
		t.Fatal("dispatcher did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 101)
	for i := 0; i < 100; i++ {
		assert.Equal(t, string(rune('a'+i%26)), seen[i])
	}
}

func TestDispatcher_NothingAfterDisconnect(t *testing.T) {
	d := newDispatcher()
	rec := newEventRecorder()
	d.subscribe(rec.handle)

	assert.True(t, d.emit(Event{Kind: EventReady}))
	assert.True(t, d.emit(Event{Kind: EventDisconnect}))
	assert.False(t, d.emit(Event{Kind: EventSpeaking}))
	assert.False(t, d.emit(Event{Kind: EventDisconnect}))

	rec.next(t, EventReady)
	rec.next(t, EventDisconnect)
	rec.none(t, 50*time.Millisecond)
}

func TestDispatcher_SlowHandlerDoesNotBlockEmit(t *testing.T) {
	d := newDispatcher()
	release := make(chan struct{})
	d.subscribe(func(Event) { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			d.emit(Event{Kind: EventSpeaking})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("emit blocked on a slow handler")
	}
	close(release)
	d.emit(Event{Kind: EventDisconnect})
}

func TestDispatcher_IgnoresNilHandler(t *testing.T) {
	d := newDispatcher()
	d.subscribe(nil)
	d.emit(Event{Kind: EventDisconnect})

	select {
	case <-d.done:
	case <-time.After(testTimeout):
		t.Fatal("dispatcher did not stop")
	}
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "ready", EventReady.String())
	assert.Equal(t, "speakingUnresolved", EventSpeakingUnresolved.String())
	assert.Equal(t, "disconnect", EventDisconnect.String())
	assert.Equal(t, "EventKind(99)", EventKind(99).String())
}

func TestDispatcher_StartsOnFirstEmit(t *testing.T) {
	before := runtime.NumGoroutine()
	idle := make([]*dispatcher, 50)
	for i := range idle {
		idle[i] = newDispatcher()
		idle[i].subscribe(func(Event) {})
	}
	assert.Less(t, runtime.NumGoroutine()-before, len(idle), "idle dispatchers run no goroutine")

	d := idle[0]
	rec := newEventRecorder()
	d.subscribe(rec.handle)
	d.emit(Event{Kind: EventDisconnect})
	rec.next(t, EventDisconnect)

	select {
	case <-d.done:
	case <-time.After(testTimeout):
		t.Fatal("dispatcher did not stop")
	}
}
