package stream

import (
	"context"
	"errors"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/dispatch"
	"io"
	"sync"
)

// errConsumerClosed is the stop cause when the consumer ended the stream
var errConsumerClosed = errors.New("stream closed by consumer")

// --------------------------------------------------------------------------
// Outbound Stream
// --------------------------------------------------------------------------

// OutboundStream is the producer side of a stream. It listens for the
// consumer's close from the moment it is opened, so a close that arrives
// before the first element is not lost.
type OutboundStream struct {
	d      *dispatch.AckDispatcher
	portID uint32
	number uint32

	mu    sync.Mutex
	cause error // why the consumer side stopped, nil while running
	stop  chan struct{}
	once  sync.Once
}

// OpenStream registers the producer side of the stream with the given number.
// The stream must be run with Send, or released with Abandon.
func OpenStream(d *dispatch.AckDispatcher, portID, number uint32) (*OutboundStream, error) {
	s := &OutboundStream{
		d:      d,
		portID: portID,
		number: number,
		stop:   make(chan struct{}),
	}

	err := d.AddListener(number, func(msg *common.Message, err error) {
		switch {
		case err != nil && errors.Is(err, common.ErrTransportClosed):
			s.halt(errConsumerClosed)
		case err != nil:
			s.halt(err)
		case msg.Type == common.MsgTStreamMessage && msg.Closed:
			s.halt(errConsumerClosed)
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SendStream opens a stream and sends the elements of source on it
func SendStream(ctx context.Context, d *dispatch.AckDispatcher, source common.ISource, portID, number uint32) error {
	s, err := OpenStream(d, portID, number)
	if err != nil {
		_ = source.Close()
		return err
	}
	return s.Send(ctx, source)
}

// Send sends the elements of source, one per grant. It returns nil when the
// source is exhausted, when the consumer closed the stream and when the
// transport closed. Source errors and transport failures are returned. The
// source is closed on every path.
func (s *OutboundStream) Send(ctx context.Context, source common.ISource) error {
	defer func() { _ = source.Close() }()
	defer s.Abandon()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-s.stop:
			cancel(s.stopCause())
		case <-ctx.Done():
		}
	}()

	var sequence uint32
	for {
		if ctx.Err() != nil {
			return stopped(ctx)
		}

		payload, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			Logger.Debugf("stream %d: source exhausted after %d elements", s.number, sequence)
			return s.d.Send(common.NewStreamClose(s.number, s.portID, sequence))
		}
		if err != nil {
			if ctx.Err() != nil {
				return stopped(ctx)
			}
			return err
		}

		sequence++
		ack, err := s.d.SendStreamMessage(ctx, common.NewStreamMessage(s.number, s.portID, sequence, payload))
		if err != nil {
			if ctx.Err() != nil {
				return stopped(ctx)
			}
			return err
		}
		if ack.Closed {
			Logger.Debugf("stream %d: closed by consumer at %d", s.number, sequence)
			return nil
		}
	}
}

// Abandon releases the stream without sending. It is safe to call more than once.
func (s *OutboundStream) Abandon() {
	s.once.Do(func() { _ = s.d.RemoveListener(s.number) })
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// halt records the first stop cause
func (s *OutboundStream) halt(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause != nil {
		return
	}
	s.cause = cause
	close(s.stop)
}

func (s *OutboundStream) stopCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// stopped maps the cancel cause of a stopped stream to its result
func stopped(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, errConsumerClosed) {
		return nil
	}
	return cause
}
