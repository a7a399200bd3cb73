package stream

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/portrpc/lib/queue"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/dispatch"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"sync"
)

var Logger = logger.GetLogger("rpc/stream")

// inboundItem is one buffered arrival: an element, the close marker or a terminal error
type inboundItem struct {
	sequence uint32
	payload  []byte
	closed   bool
	err      error
}

// --------------------------------------------------------------------------
// Inbound Stream
// --------------------------------------------------------------------------

// InboundStream is the consumer side of a stream. It implements common.ISource.
type InboundStream struct {
	d      *dispatch.AckDispatcher
	portID uint32
	number uint32

	items *queue.Queue[inboundItem]

	mu        sync.Mutex
	received  uint32 // highest sequence id received
	delivered uint32 // sequence id of the element last returned by Next, 0 before the first
	acked     bool   // delivered was acked
	err       error  // terminal result once finished

	done     chan struct{}
	doneOnce sync.Once
}

// ReceiveStream opens the consumer side of the stream with the given number.
// initial is the message that opened the stream, it is nil when the stream is
// announced by other means (the request stream of a call).
func ReceiveStream(d *dispatch.AckDispatcher, portID, number uint32, initial *common.Message) (*InboundStream, error) {
	s := &InboundStream{
		d:      d,
		portID: portID,
		number: number,
		items:  queue.New[inboundItem](),
		done:   make(chan struct{}),
	}

	if initial != nil && s.handle(initial) {
		return s, nil
	}

	err := d.AddListener(number, func(msg *common.Message, err error) {
		if err != nil {
			s.items.Push(inboundItem{err: err})
			return
		}
		if s.handle(msg) {
			_ = d.RemoveListener(number)
		}
	})
	if err != nil {
		s.finish(err)
		return nil, err
	}
	return s, nil
}

// handle buffers one inbound message and reports whether it ended the stream
func (s *InboundStream) handle(msg *common.Message) bool {
	switch msg.Type {
	case common.MsgTRemoteErrorResponse:
		s.items.Push(inboundItem{err: common.NewRemoteError(msg)})
		return true

	case common.MsgTStreamMessage:
		if msg.Closed {
			s.items.Push(inboundItem{sequence: msg.SequenceID, closed: true})
			return true
		}

		s.mu.Lock()
		received := s.received
		if msg.SequenceID > received {
			s.received = msg.SequenceID
		}
		s.mu.Unlock()

		if msg.SequenceID <= received {
			Logger.Warningf("stream %d: sequence id %d after %d, closing", s.number, msg.SequenceID, received)
			s.items.Push(inboundItem{err: fmt.Errorf("%w: sequence id %d after %d", common.ErrStreamOutOfOrder, msg.SequenceID, received)})
			_ = s.d.Send(common.NewStreamClose(s.number, s.portID, received))
			return true
		}
		s.items.Push(inboundItem{sequence: msg.SequenceID, payload: msg.Payload})
		return false

	default:
		Logger.Debugf("stream %d: ignoring %s", s.number, msg)
		return false
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see common.ISource)
// --------------------------------------------------------------------------

func (s *InboundStream) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	grant := s.delivered > 0 && !s.acked
	if grant {
		s.acked = true
	}
	delivered := s.delivered
	s.mu.Unlock()

	// demand for the next element is the grant for it
	if grant {
		if err := s.d.Send(common.NewStreamAck(s.number, s.portID, delivered)); err != nil {
			s.finish(err)
			return nil, err
		}
	}

	select {
	case item, ok := <-s.items.Recv():
		if !ok {
			return nil, s.result()
		}
		switch {
		case item.err != nil:
			s.finish(item.err)
			return nil, s.result()
		case item.closed:
			s.finish(io.EOF)
			return nil, s.result()
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return nil, s.err
		}
		s.delivered = item.sequence
		s.acked = false
		return item.payload, nil

	case <-s.done:
		return nil, s.result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the stream. If the producer has not finished yet it is told to
// stop with a close for the highest sequence id received so far.
func (s *InboundStream) Close() error {
	s.mu.Lock()
	finished := s.err != nil
	received := s.received
	s.mu.Unlock()
	if finished {
		return nil
	}

	if s.d.Err() == nil {
		if err := s.d.Send(common.NewStreamClose(s.number, s.portID, received)); err != nil {
			Logger.Debugf("stream %d: failed to send close: %v", s.number, err)
		}
	}
	s.finish(io.EOF)
	return nil
}

// Done is closed once the stream completed, failed or was closed
func (s *InboundStream) Done() <-chan struct{} {
	return s.done
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// finish records the terminal result and releases the listener and the buffer
func (s *InboundStream) finish(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		_ = s.d.RemoveListener(s.number)
		s.items.Discard()
		close(s.done)
	})
}

func (s *InboundStream) result() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return io.EOF
	}
	return s.err
}
