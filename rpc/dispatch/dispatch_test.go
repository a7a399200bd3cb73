package dispatch

import (
	"context"
	"errors"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/serializer"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"github.com/ValentinKolb/portrpc/rpc/transport/memory"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test Helper
// --------------------------------------------------------------------------

// testPeer is the raw remote side of a dispatcher under test
type testPeer struct {
	t          *testing.T
	transport  transport.ITransport
	serializer serializer.IRPCSerializer
	inbox      chan common.Message
}

func newTestSetup(t *testing.T) (*MessageDispatcher, *testPeer) {
	t.Helper()
	local, remote := memory.NewMemoryTransportPair()
	s := serializer.NewBinarySerializer()

	peer := &testPeer{t: t, transport: remote, serializer: s, inbox: make(chan common.Message, 100)}
	remote.OnMessage(func(data []byte) {
		var msg common.Message
		if err := s.Deserialize(data, &msg); err != nil {
			t.Errorf("Peer failed to decode: %v", err)
			return
		}
		peer.inbox <- msg
	})

	d := NewMessageDispatcher(local, s)
	t.Cleanup(func() { _ = local.Close() })
	return d, peer
}

func (p *testPeer) send(msg common.Message) {
	p.t.Helper()
	data, err := p.serializer.Serialize(msg)
	if err != nil {
		p.t.Fatalf("Peer failed to encode: %v", err)
	}
	if err := p.transport.SendMessage(data); err != nil {
		p.t.Fatalf("Peer failed to send: %v", err)
	}
}

func (p *testPeer) receive() common.Message {
	p.t.Helper()
	select {
	case msg := <-p.inbox:
		return msg
	case <-time.After(2 * time.Second):
		p.t.Fatal("Timeout waiting for a message at the peer")
		return common.Message{}
	}
}

// async runs fn in a goroutine and returns a channel with its error
func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func await(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for result")
		return nil
	}
}

// --------------------------------------------------------------------------
// Message Numbers
// --------------------------------------------------------------------------

func TestMessageNumberWraps(t *testing.T) {
	d, _ := newTestSetup(t)

	if n := d.NextMessageNumber(); n != 1 {
		t.Errorf("Expected first number 1, got %d", n)
	}

	d.counter.Store(common.MessageNumberWrap - 2)
	if n := d.NextMessageNumber(); n != common.MessageNumberWrap-1 {
		t.Errorf("Expected %#x, got %#x", common.MessageNumberWrap-1, n)
	}
	if n := d.NextMessageNumber(); n != 1 {
		t.Errorf("Expected the counter to wrap to 1, got %d", n)
	}
}

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

func TestRequestsAreCorrelatedByNumber(t *testing.T) {
	d, peer := newTestSetup(t)

	results := make(map[string]chan common.Message)
	for _, name := range []string{"a", "b"} {
		ch := make(chan common.Message, 1)
		results[name] = ch
		go func(name string) {
			msg, err := d.Request(context.Background(), func(number uint32) common.Message {
				return common.NewCreatePort(number, name)
			})
			if err != nil {
				t.Errorf("Request %s failed: %v", name, err)
			}
			ch <- msg
		}(name)
	}

	first, second := peer.receive(), peer.receive()

	// reply in reverse order, the port id encodes the request number
	peer.send(common.NewCreatePortResponse(second.Number, 100+second.Number))
	peer.send(common.NewCreatePortResponse(first.Number, 100+first.Number))

	requestNumbers := map[string]uint32{first.PortName: first.Number, second.PortName: second.Number}
	for name, ch := range results {
		select {
		case msg := <-ch:
			expected := requestNumbers[name]
			if msg.Number != expected || msg.PortID != 100+expected {
				t.Errorf("Request %s got the wrong reply: %s (port %d)", name, &msg, msg.PortID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout waiting for request %s", name)
		}
	}
}

func TestRemoteErrorOnlyRejectsItsRequest(t *testing.T) {
	d, peer := newTestSetup(t)

	failing := async(func() error {
		_, err := d.Request(context.Background(), func(n uint32) common.Message {
			return common.NewRequest(n, 1, 1, []byte("fail"), 0)
		})
		return err
	})
	failingMsg := peer.receive()

	succeeding := async(func() error {
		msg, err := d.Request(context.Background(), func(n uint32) common.Message {
			return common.NewRequest(n, 1, 2, []byte("ok"), 0)
		})
		if err == nil && string(msg.Payload) != "fine" {
			return errors.New("unexpected payload " + string(msg.Payload))
		}
		return err
	})
	succeedingMsg := peer.receive()

	peer.send(common.NewRemoteErrorResponse(failingMsg.Number, common.ErrCodeInternal, "something broke"))
	peer.send(common.NewResponse(succeedingMsg.Number, []byte("fine")))

	err := await(t, failing)
	var remote *common.RemoteError
	if !errors.As(err, &remote) || err.Error() != "something broke" {
		t.Errorf("Expected remote error 'something broke', got %v", err)
	}
	if err := await(t, succeeding); err != nil {
		t.Errorf("Unrelated request failed: %v", err)
	}
}

func TestRequestContextCancel(t *testing.T) {
	d, peer := newTestSetup(t)

	ctx, cancel := context.WithCancel(context.Background())
	result := async(func() error {
		_, err := d.Request(ctx, func(n uint32) common.Message { return common.NewCreatePort(n, "p") })
		return err
	})
	msg := peer.receive()
	cancel()

	if err := await(t, result); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if _, ok := d.oneShots.Load(msg.Number); ok {
		t.Error("Cancelled request must be removed")
	}
}

func TestServerReady(t *testing.T) {
	d, peer := newTestSetup(t)

	select {
	case <-d.Ready():
		t.Fatal("Ready must not be closed before SERVER_READY")
	default:
	}

	peer.send(common.NewServerReady())
	select {
	case <-d.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Ready was not closed")
	}
}

// --------------------------------------------------------------------------
// Stream Acks
// --------------------------------------------------------------------------

func TestSendStreamMessageWaitsForMatchingAck(t *testing.T) {
	d, peer := newTestSetup(t)

	ackCh := make(chan common.StreamAck, 1)
	result := async(func() error {
		ack, err := d.SendStreamMessage(context.Background(), common.NewStreamMessage(7, 1, 2, []byte("x")))
		ackCh <- ack
		return err
	})
	msg := peer.receive()
	if msg.Type != common.MsgTStreamMessage || msg.SequenceID != 2 {
		t.Fatalf("Unexpected message at the peer: %s", &msg)
	}

	// an ack for another sequence id must not resolve the waiter
	peer.send(common.NewStreamAck(7, 1, 1))
	select {
	case <-result:
		t.Fatal("Ack for a different sequence id resolved the waiter")
	case <-time.After(30 * time.Millisecond):
	}

	peer.send(common.NewStreamAck(7, 1, 2))
	if err := await(t, result); err != nil {
		t.Fatalf("SendStreamMessage failed: %v", err)
	}
	if ack := <-ackCh; !ack.Ack || ack.Closed {
		t.Errorf("Expected an ack, got %+v", ack)
	}
}

func TestSendStreamMessageResolvesOnPeerClose(t *testing.T) {
	d, peer := newTestSetup(t)

	ackCh := make(chan common.StreamAck, 1)
	result := async(func() error {
		ack, err := d.SendStreamMessage(context.Background(), common.NewStreamMessage(3, 1, 1, []byte("x")))
		ackCh <- ack
		return err
	})
	peer.receive()
	peer.send(common.NewStreamClose(3, 1, 1))

	if err := await(t, result); err != nil {
		t.Fatalf("SendStreamMessage failed: %v", err)
	}
	if ack := <-ackCh; !ack.Closed || ack.Ack {
		t.Errorf("Expected a close, got %+v", ack)
	}
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

func TestListenerContract(t *testing.T) {
	d, peer := newTestSetup(t)

	received := make(chan *common.Message, 2)
	if err := d.AddListener(5, func(msg *common.Message, err error) { received <- msg }); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}
	if err := d.AddListener(5, func(*common.Message, error) {}); !errors.Is(err, common.ErrDuplicateListener) {
		t.Errorf("Expected ErrDuplicateListener, got %v", err)
	}

	// listeners are persistent
	peer.send(common.NewStreamMessage(5, 1, 1, []byte("a")))
	peer.send(common.NewStreamMessage(5, 1, 2, []byte("b")))
	for _, expected := range []string{"a", "b"} {
		select {
		case msg := <-received:
			if string(msg.Payload) != expected {
				t.Errorf("Expected %s, got %q", expected, msg.Payload)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout waiting for %s", expected)
		}
	}

	if err := d.RemoveListener(5); err != nil {
		t.Errorf("RemoveListener failed: %v", err)
	}
	if err := d.RemoveListener(5); !errors.Is(err, common.ErrMissingListener) {
		t.Errorf("Expected ErrMissingListener, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Transport Close / Error
// --------------------------------------------------------------------------

func TestCloseSettlesPendingCalls(t *testing.T) {
	d, peer := newTestSetup(t)

	ackCh := make(chan common.StreamAck, 1)
	ackResult := async(func() error {
		ack, err := d.SendStreamMessage(context.Background(), common.NewStreamMessage(9, 1, 1, []byte("x")))
		ackCh <- ack
		return err
	})
	requestResult := async(func() error {
		_, err := d.Request(context.Background(), func(n uint32) common.Message { return common.NewCreatePort(n, "p") })
		return err
	})
	listenerErr := make(chan error, 1)
	if err := d.AddListener(11, func(msg *common.Message, err error) {
		if err != nil {
			listenerErr <- err
		}
	}); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}

	peer.receive()
	peer.receive()
	_ = peer.transport.Close()

	// acks resolve as closed streams, requests and listeners are rejected
	if err := await(t, ackResult); err != nil {
		t.Errorf("Pending ack must resolve, got %v", err)
	}
	if ack := <-ackCh; !ack.Closed || ack.Ack {
		t.Errorf("Expected {Closed:true, Ack:false}, got %+v", ack)
	}
	if err := await(t, requestResult); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("Expected ErrTransportClosed, got %v", err)
	}
	if err := await(t, listenerErr); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("Expected ErrTransportClosed for the listener, got %v", err)
	}

	// the dispatcher is inert now
	if err := d.Send(common.NewResponse(1, nil)); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("Send after close: expected ErrTransportClosed, got %v", err)
	}
	if _, err := d.Request(context.Background(), func(n uint32) common.Message { return common.NewCreatePort(n, "p") }); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("Request after close: expected ErrTransportClosed, got %v", err)
	}
	if err := d.AddListener(12, func(*common.Message, error) {}); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("AddListener after close: expected ErrTransportClosed, got %v", err)
	}
	if _, err := d.SendStreamMessage(context.Background(), common.NewStreamMessage(9, 1, 2, nil)); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("SendStreamMessage after close: expected ErrTransportClosed, got %v", err)
	}
}

func TestErrorRejectsEverything(t *testing.T) {
	d, peer := newTestSetup(t)

	ackResult := async(func() error {
		_, err := d.SendStreamMessage(context.Background(), common.NewStreamMessage(9, 1, 1, []byte("x")))
		return err
	})
	requestResult := async(func() error {
		_, err := d.Request(context.Background(), func(n uint32) common.Message { return common.NewCreatePort(n, "p") })
		return err
	})
	peer.receive()
	peer.receive()

	failure := errors.New("connection reset")
	d.transport.Abort(failure)

	if err := await(t, ackResult); !errors.Is(err, failure) {
		t.Errorf("Expected the transport error for the ack, got %v", err)
	}
	if err := await(t, requestResult); !errors.Is(err, failure) {
		t.Errorf("Expected the transport error for the request, got %v", err)
	}
	<-d.Done()
	if err := d.Send(common.NewResponse(1, nil)); !errors.Is(err, failure) {
		t.Errorf("Send after failure: expected the transport error, got %v", err)
	}
}

func TestMalformedInputAbortsTransport(t *testing.T) {
	d, peer := newTestSetup(t)

	result := async(func() error {
		_, err := d.Request(context.Background(), func(n uint32) common.Message { return common.NewCreatePort(n, "p") })
		return err
	})
	peer.receive()

	// identifier with an unknown message type
	if err := peer.transport.SendMessage([]byte{0x0d, 0x01, 0x00, 0x00, 0x78}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if err := await(t, result); !errors.Is(err, common.ErrUnknownMessageType) {
		t.Errorf("Expected the protocol error, got %v", err)
	}
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatcher was not torn down")
	}
	if d.transport.IsConnected() {
		t.Error("Transport must be closed after a protocol error")
	}
}

func TestUnreceivedStreamElementIsClosed(t *testing.T) {
	_, peer := newTestSetup(t)

	// a close needs no answer
	peer.send(common.NewStreamClose(41, 3, 2))
	peer.send(common.NewStreamMessage(42, 3, 1, []byte("nobody listens")))

	msg := peer.receive()
	if msg.Type != common.MsgTStreamMessage || !msg.Closed || msg.Number != 42 || msg.PortID != 3 || msg.SequenceID != 1 {
		t.Errorf("Expected a close for stream 42 at 1, got %s", &msg)
	}
}

func TestStreamAfterCancelledRequestIsClosed(t *testing.T) {
	d, peer := newTestSetup(t)

	ctx, cancel := context.WithCancel(context.Background())
	result := async(func() error {
		_, err := d.Request(ctx, func(n uint32) common.Message { return common.NewRequest(n, 3, 1, nil, 0) })
		return err
	})
	req := peer.receive()
	cancel()
	if err := await(t, result); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	// the procedure answers with a stream after the caller is gone
	peer.send(common.NewStreamMessage(req.Number, 3, 1, []byte("late")))
	msg := peer.receive()
	if msg.Type != common.MsgTStreamMessage || !msg.Closed || msg.Number != req.Number || msg.SequenceID != 1 {
		t.Errorf("Expected the late stream to be closed, got %s", &msg)
	}
}
