package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/dispatch"
	"github.com/ValentinKolb/portrpc/rpc/serializer"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc/client")

// portEntry is a port creation shared by every caller asking for the same name
type portEntry struct {
	done chan struct{}
	port *Port
	err  error
}

// --------------------------------------------------------------------------
// RPC Client
// --------------------------------------------------------------------------

// RPCClient is the client side of one connection. It is safe for concurrent use.
type RPCClient struct {
	transport  transport.ITransport
	dispatcher *dispatch.MessageDispatcher
	ports      *xsync.MapOf[string, *portEntry]
}

// NewRPCClient binds a client to a connected transport and waits for the
// server's SERVER_READY
func NewRPCClient(ctx context.Context, t transport.ITransport, s serializer.IRPCSerializer) (*RPCClient, error) {
	c := &RPCClient{
		transport:  t,
		dispatcher: dispatch.NewMessageDispatcher(t, s),
		ports:      xsync.NewMapOf[string, *portEntry](),
	}

	select {
	case <-c.dispatcher.Ready():
	case <-c.dispatcher.Done():
		return nil, c.dispatcher.Err()
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for server ready: %w", ctx.Err())
	}

	go func() {
		<-c.dispatcher.Done()
		c.teardown()
	}()

	Logger.Debugf("client connected")
	return c, nil
}

// Dial connects with the given client transport and creates a client on top of it
func Dial(
	ctx context.Context,
	config common.ClientConfig,
	ct transport.IRPCClientTransport,
	s serializer.IRPCSerializer,
) (*RPCClient, error) {
	t, err := ct.Connect(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Transport.Endpoint, err)
	}

	c, err := NewRPCClient(ctx, t, s)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return c, nil
}

// CreatePort returns the port with the given name, creating it on the server
// if needed. Concurrent and later callers get the same *Port until it closes.
// ctx only bounds the wait of this caller: the handshake finishes (and the
// port is kept) even if every caller gave up, it ends early only when the
// transport closes.
func (c *RPCClient) CreatePort(ctx context.Context, name string) (*Port, error) {
	if err := c.dispatcher.Err(); err != nil {
		return nil, err
	}

	entry, loaded := c.ports.LoadOrCompute(name, func() *portEntry {
		return &portEntry{done: make(chan struct{})}
	})
	if !loaded {
		go c.openPort(context.WithoutCancel(ctx), name, entry)
	}

	select {
	case <-entry.done:
		return entry.port, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the transport. All ports close with it.
func (c *RPCClient) Close() error {
	return c.transport.Close()
}

// Done is closed once the transport closed or failed
func (c *RPCClient) Done() <-chan struct{} {
	return c.dispatcher.Done()
}

// Err returns nil while the client is connected, afterwards why it is not
func (c *RPCClient) Err() error {
	return c.dispatcher.Err()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// openPort runs the CREATE_PORT handshake for entry. A failed entry is evicted
// so the next caller tries again.
func (c *RPCClient) openPort(ctx context.Context, name string, entry *portEntry) {
	defer close(entry.done)

	resp, err := c.dispatcher.Request(ctx, func(number uint32) common.Message {
		return common.NewCreatePort(number, name)
	})
	if err == nil && resp.Type != common.MsgTCreatePortResponse {
		err = common.UnexpectedMessage(&resp, common.MsgTCreatePortResponse)
	}
	if err != nil {
		entry.err = fmt.Errorf("failed to create port %s: %w", name, err)
		c.evict(name, entry)
		return
	}

	entry.port = newPort(c, resp.PortID, name)
	entry.port.OnClose(func() { c.evict(name, entry) })
	Logger.Debugf("created port %d (%s)", resp.PortID, name)
}

// evict removes entry for name if it is still the current one
func (c *RPCClient) evict(name string, entry *portEntry) {
	c.ports.Compute(name, func(old *portEntry, loaded bool) (*portEntry, bool) {
		return old, !loaded || old == entry
	})
}

// teardown closes every port after the transport closed or failed
func (c *RPCClient) teardown() {
	Logger.Debugf("transport closed: %v", c.dispatcher.Err())
	c.ports.Range(func(name string, entry *portEntry) bool {
		go func() {
			<-entry.done
			if entry.port != nil {
				entry.port.closeLocal()
			}
		}()
		return true
	})
}
