package dispatch

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/serializer"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
)

var Logger = logger.GetLogger("rpc/dispatch")

// ListenerFunc is a persistent handler for all messages with one message number.
// A non-nil err is the terminal notification (transport closed or failed),
// msg is nil in that case and the listener is already removed.
type ListenerFunc func(msg *common.Message, err error)

// ackKey correlates a stream element with its ack
type ackKey struct {
	number   uint32
	sequence uint32
}

type ackResult struct {
	ack common.StreamAck
	err error
}

// --------------------------------------------------------------------------
// Ack Dispatcher
// --------------------------------------------------------------------------

// AckDispatcher is the correlation authority of one transport for stream acks
// and persistent listeners. It is used by both peers; the client wraps it in a
// MessageDispatcher. After the transport closed or failed the dispatcher is
// inert: every send and registration fails with the recorded error.
type AckDispatcher struct {
	transport  transport.ITransport
	serializer serializer.IRPCSerializer

	acks      *xsync.MapOf[ackKey, chan ackResult]
	listeners *xsync.MapOf[uint32, ListenerFunc]

	// mu orders registrations against teardown
	mu       sync.Mutex
	err      error // ErrTransportClosed or the transport error once torn down
	done     chan struct{}
	teardown []func(err error, closed bool)
}

// NewAckDispatcher creates a dispatcher bound to the close and error events of t.
// Inbound messages are passed in by the owner through Dispatch.
func NewAckDispatcher(t transport.ITransport, s serializer.IRPCSerializer) *AckDispatcher {
	d := newAckDispatcher(t, s)
	d.subscribe()
	return d
}

func newAckDispatcher(t transport.ITransport, s serializer.IRPCSerializer) *AckDispatcher {
	return &AckDispatcher{
		transport:  t,
		serializer: s,
		acks:       xsync.NewMapOf[ackKey, chan ackResult](),
		listeners:  xsync.NewMapOf[uint32, ListenerFunc](),
		done:       make(chan struct{}),
	}
}

// subscribe binds the dispatcher to the transport lifecycle
func (d *AckDispatcher) subscribe() {
	d.transport.OnError(func(err error) { d.shutdown(err, false) })
	d.transport.OnClose(func() { d.shutdown(common.ErrTransportClosed, true) })
}

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

// Send serializes and transmits msg without expecting a reply
func (d *AckDispatcher) Send(msg common.Message) error {
	if err := d.Err(); err != nil {
		return err
	}

	data, err := d.serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", msg.Type, err)
	}
	if err := d.transport.SendMessage(data); err != nil {
		return err
	}

	common.CountSent(msg.Type)
	Logger.Debugf("sent %s", &msg)
	return nil
}

// SendStreamMessage transmits a stream element and blocks until the peer acked
// it or closed the stream. The correlation key is (msg.Number, msg.SequenceID).
// If the transport closes while waiting the result is {Closed: true}, if it
// fails the transport error is returned.
func (d *AckDispatcher) SendStreamMessage(ctx context.Context, msg common.Message) (common.StreamAck, error) {
	key := ackKey{number: msg.Number, sequence: msg.SequenceID}
	ch := make(chan ackResult, 1)

	err := d.register(func() error {
		if _, loaded := d.acks.LoadOrStore(key, ch); loaded {
			return fmt.Errorf("%w: ack %d/%d", common.ErrDuplicateListener, key.number, key.sequence)
		}
		return nil
	})
	if err != nil {
		return common.StreamAck{}, err
	}
	defer d.removeAck(key, ch)

	if err := d.Send(msg); err != nil {
		return common.StreamAck{}, err
	}

	select {
	case res := <-ch:
		return res.ack, res.err
	case <-ctx.Done():
		return common.StreamAck{}, ctx.Err()
	}
}

// removeAck deletes the ack waiter for key if it is still ch
func (d *AckDispatcher) removeAck(key ackKey, ch chan ackResult) {
	d.acks.Compute(key, func(old chan ackResult, loaded bool) (chan ackResult, bool) {
		return old, !loaded || old == ch
	})
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

// AddListener registers a persistent listener for number
func (d *AckDispatcher) AddListener(number uint32, fn ListenerFunc) error {
	return d.register(func() error {
		if _, loaded := d.listeners.LoadOrStore(number, fn); loaded {
			return fmt.Errorf("%w: message number %d", common.ErrDuplicateListener, number)
		}
		return nil
	})
}

// RemoveListener removes the listener for number
func (d *AckDispatcher) RemoveListener(number uint32) error {
	if _, ok := d.listeners.LoadAndDelete(number); !ok {
		return fmt.Errorf("%w: message number %d", common.ErrMissingListener, number)
	}
	return nil
}

// --------------------------------------------------------------------------
// Inbound
// --------------------------------------------------------------------------

// Dispatch routes an inbound message to the listener of its number and, for
// stream acks and closes, to the waiting SendStreamMessage call. A stream
// element nobody receives is answered with a close, so the producer stops.
func (d *AckDispatcher) Dispatch(msg *common.Message) {
	handled := false

	if fn, ok := d.listeners.Load(msg.Number); ok {
		fn(msg, nil)
		handled = true
	}

	if (msg.Type == common.MsgTStreamMessage || msg.Type == common.MsgTStreamAck) && (msg.Ack || msg.Closed) {
		key := ackKey{number: msg.Number, sequence: msg.SequenceID}
		if ch, ok := d.acks.LoadAndDelete(key); ok {
			ch <- ackResult{ack: common.StreamAck{Closed: msg.Closed, Ack: msg.Ack}}
			handled = true
		}
	}

	if !handled {
		Logger.Debugf("no receiver for %s", msg)
		d.Reject(msg)
	}
}

// Reject closes the stream of an element that will never be consumed
func (d *AckDispatcher) Reject(msg *common.Message) {
	if msg.Type != common.MsgTStreamMessage || msg.Closed || msg.Number == 0 {
		return
	}
	if err := d.Send(common.NewStreamClose(msg.Number, msg.PortID, msg.SequenceID)); err != nil {
		Logger.Debugf("failed to reject %s: %v", msg, err)
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Err returns nil while the dispatcher is usable, afterwards ErrTransportClosed
// or the error the transport failed with
func (d *AckDispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Done is closed once the transport closed or failed
func (d *AckDispatcher) Done() <-chan struct{} {
	return d.done
}

// register runs fn unless the dispatcher is torn down. Teardown waits for
// running registrations, so a registered entry is always settled.
func (d *AckDispatcher) register(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	return fn()
}

// onShutdown adds a teardown step, used by the MessageDispatcher for its one-shots
func (d *AckDispatcher) onShutdown(fn func(err error, closed bool)) {
	d.teardown = append(d.teardown, fn)
}

// shutdown settles every pending correlation. On close the ack waiters resolve
// as closed streams, on error everything fails with err.
func (d *AckDispatcher) shutdown(err error, closed bool) {
	d.mu.Lock()
	if d.err != nil {
		d.mu.Unlock()
		return
	}
	d.err = err
	close(d.done)
	d.mu.Unlock()

	if closed {
		Logger.Debugf("transport closed, settling %d acks and %d listeners", d.acks.Size(), d.listeners.Size())
	} else {
		Logger.Warningf("transport failed: %v", err)
	}

	d.acks.Range(func(key ackKey, _ chan ackResult) bool {
		if ch, ok := d.acks.LoadAndDelete(key); ok {
			if closed {
				ch <- ackResult{ack: common.StreamAck{Closed: true}}
			} else {
				ch <- ackResult{err: err}
			}
		}
		return true
	})

	d.listeners.Range(func(number uint32, _ ListenerFunc) bool {
		if fn, ok := d.listeners.LoadAndDelete(number); ok {
			fn(nil, err)
		}
		return true
	})

	for _, fn := range d.teardown {
		fn(err, closed)
	}
}
