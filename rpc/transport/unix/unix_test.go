package unix

import (
	"context"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"path/filepath"
	"testing"
	"time"
)

// connect retries until the server socket accepts connections
func connect(t *testing.T, config common.ClientConfig) transport.ITransport {
	t.Helper()
	client := NewUnixClientTransport()
	deadline := time.Now().Add(2 * time.Second)
	for {
		tr, err := client.Connect(context.Background(), config)
		if err == nil {
			return tr
		}
		if time.Now().After(deadline) {
			t.Fatalf("Failed to connect: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUnixEcho(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "portrpc.sock")

	server := NewUnixServerTransport()
	server.RegisterHandler(func(tr transport.ITransport) {
		tr.OnMessage(func(data []byte) { _ = tr.SendMessage(data) })
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Listen(common.ServerConfig{
			Transport: common.ServerTransportConfig{Endpoint: socketPath},
		})
	}()

	tr := connect(t, common.ClientConfig{
		Transport: common.ClientTransportConfig{Endpoint: socketPath},
	})
	defer tr.Close()

	received := make(chan []byte, 1)
	tr.OnMessage(func(data []byte) { received <- data })

	if err := tr.SendMessage([]byte("hello")); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "hello" {
			t.Errorf("Expected hello, got %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for echo")
	}

	if err := server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("Listen returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after Close")
	}
}

func TestUnixConnectFails(t *testing.T) {
	_, err := NewUnixClientTransport().Connect(context.Background(), common.ClientConfig{
		Transport: common.ClientTransportConfig{Endpoint: filepath.Join(t.TempDir(), "missing.sock")},
	})
	if err == nil {
		t.Fatal("Expected an error for a missing socket")
	}
}
