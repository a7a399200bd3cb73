package dispatch

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/serializer"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
)

type oneShotResult struct {
	msg common.Message
	err error
}

// --------------------------------------------------------------------------
// Message Dispatcher
// --------------------------------------------------------------------------

// MessageDispatcher is the client side dispatcher of one transport. It decodes
// every inbound message and routes it to the one-shot request waiting for its
// number, then to a persistent listener, then to the ack table.
type MessageDispatcher struct {
	*AckDispatcher

	counter  atomic.Uint32
	oneShots *xsync.MapOf[uint32, chan oneShotResult]

	ready     chan struct{}
	readyOnce sync.Once
}

// NewMessageDispatcher creates a dispatcher that owns the inbound side of t
func NewMessageDispatcher(t transport.ITransport, s serializer.IRPCSerializer) *MessageDispatcher {
	d := &MessageDispatcher{
		AckDispatcher: newAckDispatcher(t, s),
		oneShots:      xsync.NewMapOf[uint32, chan oneShotResult](),
		ready:         make(chan struct{}),
	}
	d.onShutdown(d.rejectOneShots)
	d.subscribe()
	t.OnMessage(d.handleMessage)
	return d
}

// NextMessageNumber allocates the next message number. Numbers wrap at
// common.MessageNumberWrap back to 1, 0 is never returned.
func (d *MessageDispatcher) NextMessageNumber() uint32 {
	for {
		current := d.counter.Load()
		next := current + 1
		if next >= common.MessageNumberWrap {
			next = 1
		}
		if d.counter.CompareAndSwap(current, next) {
			return next
		}
	}
}

// Request allocates a message number, registers a one-shot waiter for it and
// sends the message returned by build. It returns the first message the peer
// sends with that number; a RemoteError reply is returned as *common.RemoteError.
func (d *MessageDispatcher) Request(ctx context.Context, build func(number uint32) common.Message) (common.Message, error) {
	call, err := d.Start(build)
	if err != nil {
		return common.Message{}, err
	}
	return call.Wait(ctx)
}

// PendingRequest is a sent request whose reply has not been awaited yet
type PendingRequest struct {
	Number uint32
	d      *MessageDispatcher
	ch     chan oneShotResult
}

// Start is the first half of Request: the waiter is registered and the message
// is on its way when Start returns. Callers use it to send more messages on the
// request's behalf (a request stream) before waiting for the reply.
func (d *MessageDispatcher) Start(build func(number uint32) common.Message) (*PendingRequest, error) {
	number := d.NextMessageNumber()
	ch := make(chan oneShotResult, 1)

	err := d.register(func() error {
		if _, loaded := d.oneShots.LoadOrStore(number, ch); loaded {
			return fmt.Errorf("%w: message number %d", common.ErrDuplicateListener, number)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := d.Send(build(number)); err != nil {
		d.oneShots.Delete(number)
		return nil, err
	}
	return &PendingRequest{Number: number, d: d, ch: ch}, nil
}

// Wait blocks until the reply arrived or ctx is done. A cancelled wait removes
// the waiter; a stream answering the request later is closed by Dispatch.
func (r *PendingRequest) Wait(ctx context.Context) (common.Message, error) {
	select {
	case res := <-r.ch:
		return res.msg, res.err
	case <-ctx.Done():
		removed := false
		r.d.oneShots.Compute(r.Number, func(old chan oneShotResult, loaded bool) (chan oneShotResult, bool) {
			removed = loaded && old == r.ch
			return old, !loaded || removed
		})
		if !removed {
			// the reply was taken from the table and is on its way
			if res := <-r.ch; res.err == nil {
				r.d.Reject(&res.msg)
			}
		}
		return common.Message{}, ctx.Err()
	}
}

// Ready is closed when the server announced itself with SERVER_READY
func (d *MessageDispatcher) Ready() <-chan struct{} {
	return d.ready
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleMessage decodes and routes one inbound message. Undecodable input is a
// protocol error and aborts the transport.
func (d *MessageDispatcher) handleMessage(data []byte) {
	var msg common.Message
	if err := d.serializer.Deserialize(data, &msg); err != nil {
		Logger.Errorf("protocol error, aborting transport: %v", err)
		common.CountProtocolError()
		d.transport.Abort(fmt.Errorf("protocol error: %w", err))
		return
	}
	common.CountReceived(msg.Type)
	Logger.Debugf("received %s", &msg)

	if msg.Type == common.MsgTServerReady {
		d.readyOnce.Do(func() { close(d.ready) })
		return
	}

	// a number has a one-shot only until its first reply, stream listeners and
	// acks of the same exchange use it afterwards (or another number), so the
	// reply has no other receiver
	if msg.Number != 0 {
		if ch, ok := d.oneShots.LoadAndDelete(msg.Number); ok {
			if msg.Type == common.MsgTRemoteErrorResponse {
				ch <- oneShotResult{err: common.NewRemoteError(&msg)}
			} else {
				ch <- oneShotResult{msg: msg}
			}
			return
		}
	}

	d.Dispatch(&msg)
}

// rejectOneShots fails every pending request once the transport closed or failed
func (d *MessageDispatcher) rejectOneShots(err error, _ bool) {
	d.oneShots.Range(func(number uint32, _ chan oneShotResult) bool {
		if ch, ok := d.oneShots.LoadAndDelete(number); ok {
			ch <- oneShotResult{err: err}
		}
		return true
	})
}
