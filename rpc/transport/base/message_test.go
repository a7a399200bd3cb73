package base

import (
	"encoding/binary"
	"errors"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"net"
	"testing"
	"time"
)

// pipePair connects two message transports through net.Pipe
func pipePair() (transport.ITransport, transport.ITransport) {
	c1, c2 := net.Pipe()
	return NewMessageTransport(NewFrameConn(c1, time.Second), "pipe"),
		NewMessageTransport(NewFrameConn(c2, time.Second), "pipe")
}

// waitClosed waits until the close event of tr was delivered
func waitClosed(t *testing.T, tr transport.ITransport) {
	t.Helper()
	closed := make(chan struct{})
	tr.OnClose(func() { close(closed) })
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for close event")
	}
}

func TestMessageTransportRoundTrip(t *testing.T) {
	a, b := pipePair()
	defer a.Close()
	defer b.Close()

	// b echoes everything back
	b.OnMessage(func(data []byte) {
		if err := b.SendMessage(data); err != nil {
			t.Errorf("Echo failed: %v", err)
		}
	})

	received := make(chan []byte, 50)
	a.OnMessage(func(data []byte) { received <- data })

	for i := 0; i < 50; i++ {
		msg := make([]byte, i) // includes an empty message
		for j := range msg {
			msg[j] = byte(i)
		}
		if err := a.SendMessage(msg); err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
	}

	for i := 0; i < 50; i++ {
		select {
		case data := <-received:
			if len(data) != i {
				t.Fatalf("Expected message of length %d, got %d", i, len(data))
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout waiting for message %d", i)
		}
	}
}

func TestMessageTransportPeerClose(t *testing.T) {
	a, b := pipePair()

	errs := make(chan error, 1)
	a.OnError(func(err error) { errs <- err })

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitClosed(t, a)
	waitClosed(t, b)

	select {
	case err := <-errs:
		t.Errorf("A graceful close must not emit an error, got %v", err)
	default:
	}

	if a.IsConnected() {
		t.Error("Transport must be disconnected after the peer closed")
	}
	if err := a.SendMessage([]byte("x")); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("Expected ErrTransportClosed, got %v", err)
	}
}

func TestMessageTransportOversizedFrame(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewMessageTransport(NewFrameConn(c1, time.Second), "pipe")
	defer c2.Close()

	errs := make(chan error, 1)
	a.OnError(func(err error) { errs <- err })

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, MaxFrameSize+1)
	go func() { _, _ = c2.Write(header) }()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrFrameTooLarge) {
			t.Errorf("Expected ErrFrameTooLarge, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for error event")
	}
	waitClosed(t, a)
}

func TestMessageTransportAbort(t *testing.T) {
	a, b := pipePair()
	defer b.Close()

	events := make(chan string, 2)
	a.OnError(func(err error) { events <- "error" })
	a.OnClose(func() { events <- "close" })

	a.Abort(errors.New("protocol error"))

	for _, expected := range []string{"error", "close"} {
		select {
		case got := <-events:
			if got != expected {
				t.Errorf("Expected %s, got %s", expected, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout waiting for %s", expected)
		}
	}
	waitClosed(t, b)
}

func TestSendMessageTooLarge(t *testing.T) {
	a, b := pipePair()
	defer a.Close()
	defer b.Close()

	if err := a.SendMessage(make([]byte, MaxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}
