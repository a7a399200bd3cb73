package transport

import (
	"context"
	"github.com/ValentinKolb/portrpc/rpc/common"
)

// --------------------------------------------------------------------------
// Message Transport
// --------------------------------------------------------------------------

// ITransport is one ordered, message oriented connection between two peers.
// Implementations deliver all events of one transport in order on a single
// goroutine (see EventHub), so subscribers never run concurrently with each other.
type ITransport interface {
	// SendMessage transmits one serialized protocol message. It must not block
	// on the network and fails with common.ErrTransportClosed once the transport
	// is closed.
	SendMessage(data []byte) error

	// OnMessage subscribes to inbound messages. Messages that arrive before the
	// first subscriber are buffered, not dropped.
	OnMessage(fn func(data []byte)) (unsubscribe func())
	// OnConnect subscribes to the connect event
	OnConnect(fn func()) (unsubscribe func())
	// OnClose subscribes to the close event. A subscriber registered after the
	// transport closed is called immediately.
	OnClose(fn func()) (unsubscribe func())
	// OnError subscribes to transport errors. An error is always followed by a close event.
	OnError(fn func(err error)) (unsubscribe func())

	// Close closes the transport. It is idempotent.
	Close() error
	// Abort emits err as an error event and closes the transport. It is used
	// for protocol errors that make the connection unusable.
	Abort(err error)
	// IsConnected reports whether messages can still be sent
	IsConnected() bool
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerAttachFunc is called by a server transport for every accepted connection
type ServerAttachFunc func(t ITransport)

// IRPCServerTransport accepts connections and hands each of them to the
// registered ServerAttachFunc
type IRPCServerTransport interface {
	// RegisterHandler registers the function accepted connections are passed to.
	// It must be called before Listen.
	RegisterHandler(handler ServerAttachFunc)
	// Listen starts the transport layer and blocks until it is closed
	Listen(config common.ServerConfig) error
	// Close stops accepting connections. Already attached transports stay open.
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport dials a server and returns the connected transport
type IRPCClientTransport interface {
	// Connect establishes a connection with the given configuration
	Connect(ctx context.Context, config common.ClientConfig) (ITransport, error)
}
