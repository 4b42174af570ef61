package av

import (
	"strconv"
	"sync"
)

// EventKind identifies a connection notification.
type EventKind int

const (
	// EventReady fires once, when the media channel opens.
	EventReady EventKind = iota + 1
	// EventResumed fires when a resumed signaling connection is accepted.
	EventResumed
	// EventSpeaking carries a resolved peer's speaking state.
	EventSpeaking
	// EventSpeakingUnresolved carries the raw id of a speaker the resolver
	// did not know.
	EventSpeakingUnresolved
	// EventClientDisconnect reports a participant leaving the room.
	EventClientDisconnect
	// EventDisconnect is terminal. Nothing is delivered after it.
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventResumed:
		return "resumed"
	case EventSpeaking:
		return "speaking"
	case EventSpeakingUnresolved:
		return "speakingUnresolved"
	case EventClientDisconnect:
		return "clientDisconnect"
	case EventDisconnect:
		return "disconnect"
	default:
		return "EventKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Event is a notification from a Connection. Which fields are set depends
// on Kind.
type Event struct {
	Kind   EventKind
	RoomID string

	// Peer is set for EventSpeaking.
	Peer Peer
	// UserID is set for the speaking events and EventClientDisconnect.
	UserID   string
	Speaking bool
	// SSRC is set for EventReady and the speaking events.
	SSRC uint32

	// Err is the cause of an EventDisconnect, nil for a requested one.
	Err error
}

// EventHandler receives connection notifications.
type EventHandler func(Event)

// dispatcher delivers events in emission order on its own goroutine, so a
// slow handler never stalls protocol handling. The goroutine starts with the
// first emitted event and exits after EventDisconnect.
type dispatcher struct {
	start    sync.Once
	mu       sync.Mutex
	queue    []Event
	handlers []EventHandler
	closed   bool
	wake     chan struct{}
	done     chan struct{}
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (d *dispatcher) subscribe(h EventHandler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

// emit queues ev. It reports false once EventDisconnect has been queued.
func (d *dispatcher) emit(ev Event) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	if ev.Kind == EventDisconnect {
		d.closed = true
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	d.start.Do(func() { go d.run() })

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			<-d.wake
			continue
		}
		ev := d.queue[0]
		d.queue[0] = Event{}
		d.queue = d.queue[1:]
		handlers := make([]EventHandler, len(d.handlers))
		copy(handlers, d.handlers)
		d.mu.Unlock()

		for _, h := range handlers {
			h(ev)
		}

		if ev.Kind == EventDisconnect {
			return
		}
	}
}
