package base

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/portrpc/lib/queue"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

// closeTimeout bounds how long Close waits for queued frames to be flushed
const closeTimeout = 5 * time.Second

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IMessageConn is a connection that reads and writes whole messages. ReadMessage
// is only called by one goroutine and WriteMessage only by another, Close may be
// called at any time and must unblock both.
type IMessageConn interface {
	// ReadMessage blocks until the next message arrived. io.EOF signals that the
	// peer closed the connection.
	ReadMessage() ([]byte, error)
	// WriteMessage writes one message
	WriteMessage(data []byte) error
	// Close closes the underlying connection
	Close() error
}

// -----------------------------------------------------------
// Message Transport
// -----------------------------------------------------------

// messageTransport implements transport.ITransport over an IMessageConn.
// A reader goroutine emits inbound messages, a writer goroutine flushes the
// outbound queue; both are joined by an errgroup whose end closes the transport.
type messageTransport struct {
	*transport.EventHub
	name      string
	conn      IMessageConn
	outbound  *queue.Queue[[]byte]
	connected atomic.Bool
	closing   atomic.Bool
}

// NewMessageTransport starts the reader and writer goroutines for conn and
// returns the connected transport. name is used for logging only.
func NewMessageTransport(conn IMessageConn, name string) transport.ITransport {
	t := &messageTransport{
		EventHub: transport.NewEventHub(),
		name:     name,
		conn:     conn,
		outbound: queue.New[[]byte](),
	}
	t.connected.Store(true)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(t.readLoop)
	g.Go(t.writeLoop)
	g.Go(func() error {
		// a failing goroutine stops the other one
		<-ctx.Done()
		t.outbound.Discard()
		_ = t.conn.Close()
		return nil
	})

	go func() {
		err := g.Wait()
		t.connected.Store(false)
		if err != nil && !t.closing.Load() && !isGracefulClose(err) {
			Logger.Warningf("%s transport failed: %v", t.name, err)
			t.EmitError(err)
		} else {
			Logger.Debugf("%s transport closed", t.name)
		}
		t.EmitClose()
	}()

	t.EmitConnect()
	return t
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *messageTransport) SendMessage(data []byte) error {
	if !t.connected.Load() {
		return common.ErrTransportClosed
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	if !t.outbound.Push(data) {
		return common.ErrTransportClosed
	}
	return nil
}

func (t *messageTransport) Close() error {
	if !t.closing.CompareAndSwap(false, true) {
		return nil
	}
	t.connected.Store(false)

	// the writer flushes what is queued and then closes the connection
	t.outbound.Close()
	time.AfterFunc(closeTimeout, func() { _ = t.conn.Close() })
	return nil
}

func (t *messageTransport) Abort(err error) {
	if t.closing.Load() {
		return
	}
	t.EmitError(err)
	t.Close()
}

func (t *messageTransport) IsConnected() bool {
	return t.connected.Load()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readLoop emits every inbound message until the connection fails or is closed
func (t *messageTransport) readLoop() error {
	for {
		data, err := t.conn.ReadMessage()
		if err != nil {
			return err
		}
		t.EmitMessage(data)
	}
}

// writeLoop writes queued messages until the queue is closed and drained
func (t *messageTransport) writeLoop() error {
	for data := range t.outbound.Recv() {
		if err := t.conn.WriteMessage(data); err != nil {
			return err
		}
	}
	return t.conn.Close()
}
