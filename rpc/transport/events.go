package transport

import (
	"github.com/ValentinKolb/portrpc/lib/queue"
	"sync"
)

// --------------------------------------------------------------------------
// Event Types
// --------------------------------------------------------------------------

// EventKind tags the events a transport emits
type EventKind uint8

const (
	EventConnect EventKind = iota
	EventMessage
	EventError
	EventClose
)

// event is one queued transport event
type event struct {
	kind EventKind
	data []byte
	err  error
}

// subscription pairs a subscriber with the id used to unsubscribe it
type subscription[F any] struct {
	id uint64
	fn F
}

// --------------------------------------------------------------------------
// Event Hub
// --------------------------------------------------------------------------

// EventHub implements the subscription half of ITransport. Transports embed it
// and call the Emit methods; the hub delivers the events in emit order on one
// goroutine. Message events are held back until the first message subscriber
// exists, the close event is delivered last and ends delivery.
type EventHub struct {
	mu        sync.Mutex
	nextID    uint64
	onMessage []subscription[func([]byte)]
	onConnect []subscription[func()]
	onClose   []subscription[func()]
	onError   []subscription[func(error)]
	closed    bool // close event delivered

	events *queue.Queue[event]

	ready       chan struct{} // closed by the first OnMessage
	readyOnce   sync.Once
	closing     chan struct{} // closed by EmitClose
	closingOnce sync.Once
	done        chan struct{} // closed after the close event was delivered
}

// NewEventHub creates a hub and starts its delivery goroutine
func NewEventHub() *EventHub {
	h := &EventHub{
		events:  queue.New[event](),
		ready:   make(chan struct{}),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go h.deliver()
	return h
}

// --------------------------------------------------------------------------
// Subscriptions (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (h *EventHub) OnMessage(fn func(data []byte)) func() {
	h.mu.Lock()
	id := subscribe(h, &h.onMessage, fn)
	h.mu.Unlock()

	h.readyOnce.Do(func() { close(h.ready) })
	return func() { unsubscribe(h, &h.onMessage, id) }
}

func (h *EventHub) OnConnect(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := subscribe(h, &h.onConnect, fn)
	return func() { unsubscribe(h, &h.onConnect, id) }
}

func (h *EventHub) OnClose(fn func()) func() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		fn()
		return func() {}
	}
	id := subscribe(h, &h.onClose, fn)
	h.mu.Unlock()
	return func() { unsubscribe(h, &h.onClose, id) }
}

func (h *EventHub) OnError(fn func(err error)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := subscribe(h, &h.onError, fn)
	return func() { unsubscribe(h, &h.onError, id) }
}

// subscribe appends fn to subs, callers hold mu
func subscribe[F any](h *EventHub, subs *[]subscription[F], fn F) uint64 {
	h.nextID++
	*subs = append(*subs, subscription[F]{id: h.nextID, fn: fn})
	return h.nextID
}

func unsubscribe[F any](h *EventHub, subs *[]subscription[F], id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range *subs {
		if s.id == id {
			*subs = append((*subs)[:i:i], (*subs)[i+1:]...)
			return
		}
	}
}

// snapshot copies the subscriber functions so they can be called without holding mu
func snapshot[F any](h *EventHub, subs *[]subscription[F]) []F {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := make([]F, len(*subs))
	for i, s := range *subs {
		fns[i] = s.fn
	}
	return fns
}

// --------------------------------------------------------------------------
// Emitting
// --------------------------------------------------------------------------

// EmitConnect queues a connect event
func (h *EventHub) EmitConnect() {
	h.events.Push(event{kind: EventConnect})
}

// EmitMessage queues an inbound message. Messages emitted after EmitClose are dropped.
func (h *EventHub) EmitMessage(data []byte) {
	h.events.Push(event{kind: EventMessage, data: data})
}

// EmitError queues an error event
func (h *EventHub) EmitError(err error) {
	h.events.Push(event{kind: EventError, err: err})
}

// EmitClose queues the close event. Only the first call has an effect.
func (h *EventHub) EmitClose() {
	h.closingOnce.Do(func() {
		close(h.closing)
		h.events.Push(event{kind: EventClose})
		h.events.Close()
	})
}

// Done is closed after the close event was delivered to all subscribers
func (h *EventHub) Done() <-chan struct{} {
	return h.done
}

// --------------------------------------------------------------------------
// Delivery
// --------------------------------------------------------------------------

// deliver hands queued events to the subscribers, one event at a time
func (h *EventHub) deliver() {
	defer close(h.done)

	for ev := range h.events.Recv() {
		switch ev.kind {
		case EventConnect:
			for _, fn := range snapshot(h, &h.onConnect) {
				fn()
			}

		case EventMessage:
			select {
			case <-h.ready:
			case <-h.closing:
			}
			for _, fn := range snapshot(h, &h.onMessage) {
				fn(ev.data)
			}

		case EventError:
			for _, fn := range snapshot(h, &h.onError) {
				fn(ev.err)
			}

		case EventClose:
			h.mu.Lock()
			h.closed = true
			subs := h.onClose
			h.onClose = nil
			h.onMessage = nil
			h.onConnect = nil
			h.onError = nil
			h.mu.Unlock()

			for _, s := range subs {
				s.fn()
			}
			h.events.Discard()
			return
		}
	}
}
