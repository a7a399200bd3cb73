package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/dispatch"
	"github.com/ValentinKolb/portrpc/rpc/serializer"
	"github.com/ValentinKolb/portrpc/rpc/stream"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("rpc/server")

// PortInitHandler is called once for every created port, typically to register
// modules. A returned error is sent to the client as a remote error; the port
// still exists afterwards.
type PortInitHandler func(ctx context.Context, port *Port, t transport.ITransport) error

// --------------------------------------------------------------------------
// RPC Server
// --------------------------------------------------------------------------

// RPCServer attaches transports and serves the port protocol on each of them
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer

	initHandler atomic.Pointer[PortInitHandler]
	nextPortID  atomic.Uint32
	connections atomic.Int64
	openPorts   atomic.Int64
}

// NewRPCServer creates a new RPC server.
// t may be nil if transports are only attached with AttachTransport.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//	s.SetPortInitHandler(func(ctx context.Context, port *server.Port, t transport.ITransport) error {
//		return port.RegisterModule("echo", echo.Module)
//	})
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	t transport.IRPCServerTransport,
	s serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  t,
		serializer: s,
	}
}

// SetPortInitHandler sets the hook run for every created port
func (s *RPCServer) SetPortInitHandler(handler PortInitHandler) {
	s.initHandler.Store(&handler)
}

// Serve attaches every connection the server transport accepts. It blocks until
// the transport is closed. Cancelling ctx closes all attached connections.
func (s *RPCServer) Serve(ctx context.Context) error {
	if s.transport == nil {
		return fmt.Errorf("no server transport configured")
	}

	Logger.Infof("Starting RPC Server")
	Logger.Infof(s.config.String())

	s.transport.RegisterHandler(func(t transport.ITransport) {
		s.AttachTransport(ctx, t)
	})
	return s.transport.Listen(s.config)
}

// OpenPorts returns the number of ports that are open on all attached transports
func (s *RPCServer) OpenPorts() int64 {
	return s.openPorts.Load()
}

// Close stops accepting connections
func (s *RPCServer) Close() error {
	if s.transport == nil {
		return nil
	}
	return s.transport.Close()
}

// AttachTransport serves the protocol on t until it closes. SERVER_READY is
// sent immediately. Cancelling ctx closes t.
func (s *RPCServer) AttachTransport(ctx context.Context, t transport.ITransport) {
	ctx, cancel := context.WithCancel(ctx)
	c := &connection{
		server:     s,
		transport:  t,
		dispatcher: dispatch.NewAckDispatcher(t, s.serializer),
		ports:      xsync.NewMapOf[uint32, *Port](),
		ctx:        ctx,
		cancel:     cancel,
	}
	t.OnMessage(c.handleMessage)

	n := s.connections.Add(1)
	Logger.Infof("attached transport (%d connections)", n)

	go func() {
		select {
		case <-c.dispatcher.Done():
		case <-ctx.Done():
			_ = t.Close()
			<-c.dispatcher.Done()
		}
		c.teardown()
		Logger.Infof("detached transport (%d connections)", s.connections.Add(-1))
	}()

	if err := c.dispatcher.Send(common.NewServerReady()); err != nil {
		Logger.Warningf("failed to send server ready: %v", err)
	}
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// connection is the server state of one attached transport
type connection struct {
	server     *RPCServer
	transport  transport.ITransport
	dispatcher *dispatch.AckDispatcher
	ports      *xsync.MapOf[uint32, *Port]

	// ctx is cancelled when the transport closes or fails
	ctx    context.Context
	cancel context.CancelFunc
}

// handleMessage decodes and routes one inbound message. It runs on the
// transport's delivery goroutine, so everything that waits is started in its own goroutine.
func (c *connection) handleMessage(data []byte) {
	var msg common.Message
	if err := c.server.serializer.Deserialize(data, &msg); err != nil {
		c.protocolError(err)
		return
	}
	common.CountReceived(msg.Type)
	Logger.Debugf("received %s", &msg)

	switch msg.Type {
	case common.MsgTCreatePort:
		// the port is registered before the close event can run teardown
		port := c.createPort(msg)
		go c.initPort(msg, port)

	case common.MsgTRequestModule:
		go c.requestModule(msg)

	case common.MsgTRequest:
		c.request(msg)

	case common.MsgTDestroyPort:
		if port, ok := c.ports.Load(msg.PortID); ok {
			port.Close()
		} else {
			Logger.Debugf("destroy for unknown port %d", msg.PortID)
		}

	case common.MsgTStreamMessage, common.MsgTStreamAck, common.MsgTRemoteErrorResponse:
		// a remote error here fails a request stream
		c.dispatcher.Dispatch(&msg)

	default:
		c.protocolError(common.UnexpectedMessage(&msg, common.MsgTRequest))
	}
}

// createPort allocates and registers a port. A port created while the
// connection shuts down is closed right away.
func (c *connection) createPort(msg common.Message) *Port {
	id := c.server.nextPortID.Add(1)
	port := NewPort(c.ctx, id, msg.PortName)
	c.ports.Store(id, port)
	common.PortOpened()
	c.server.openPorts.Add(1)
	port.OnClose(func() {
		c.ports.Delete(id)
		common.PortClosed()
		c.server.openPorts.Add(-1)
		Logger.Debugf("port %d (%s) closed", id, port.Name)
	})
	Logger.Debugf("created port %d (%s)", id, port.Name)

	if c.ctx.Err() != nil {
		port.Close()
	}
	return port
}

// initPort runs the init hook and answers with the port id
func (c *connection) initPort(msg common.Message, port *Port) {
	if port.IsClosed() {
		c.replyError(msg.Number, fmt.Errorf("%w: %d", common.ErrPortClosed, port.ID))
		return
	}

	if handler := c.server.initHandler.Load(); handler != nil {
		if err := (*handler)(port.Context(), port, c.transport); err != nil {
			Logger.Warningf("port %d: init failed: %v", port.ID, err)
			c.replyError(msg.Number, fmt.Errorf("%w: %v", common.ErrPortInitFailed, err))
			return
		}
	}

	c.reply(common.NewCreatePortResponse(msg.Number, port.ID))
}

// requestModule loads a module and answers with its procedure table
func (c *connection) requestModule(msg common.Message) {
	port, err := c.port(msg.PortID)
	if err != nil {
		c.replyError(msg.Number, err)
		return
	}

	desc, err := port.LoadModule(port.Context(), msg.ModuleName)
	if err != nil {
		c.replyError(msg.Number, err)
		return
	}
	c.reply(common.NewRequestModuleResponse(msg.Number, port.ID, desc.Procedures))
}

// request opens the request stream (if any) and starts the invocation. The
// stream listener must exist before the next inbound message is routed.
func (c *connection) request(msg common.Message) {
	port, err := c.port(msg.PortID)
	if err != nil {
		c.replyError(msg.Number, err)
		return
	}

	var in *stream.InboundStream
	if msg.ClientStream != 0 {
		in, err = stream.ReceiveStream(c.dispatcher, port.ID, msg.ClientStream, nil)
		if err != nil {
			c.replyError(msg.Number, err)
			return
		}
	}

	go c.invoke(msg, port, in)
}

// invoke runs a procedure and sends its result
func (c *connection) invoke(msg common.Message, port *Port, in *stream.InboundStream) {
	req := ProcedureRequest{Payload: msg.Payload}
	if in != nil {
		// the request stream may still be read while the result streams
		defer in.Close()
		req.Stream = in
	}

	ctx := port.Context()
	start := time.Now()
	result, err := port.CallProcedure(ctx, msg.ProcedureID, req)
	common.ObserveProcedure(start)
	if err != nil {
		c.replyError(msg.Number, err)
		return
	}

	switch result.Kind {
	case common.ResultUnary:
		c.reply(common.NewResponse(msg.Number, result.Payload))

	case common.ResultEmpty:
		c.reply(common.NewResponse(msg.Number, nil))

	case common.ResultStream:
		err := stream.SendStream(ctx, c.dispatcher, result.Stream, port.ID, msg.Number)
		if err == nil || c.dispatcher.Err() != nil {
			return
		}
		if port.IsClosed() && errors.Is(err, context.Canceled) {
			err = common.ErrPortClosed
		}
		c.replyError(msg.Number, err)

	default:
		c.replyError(msg.Number, fmt.Errorf("procedure %d returned an invalid result kind %d", msg.ProcedureID, result.Kind))
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *connection) port(id uint32) (*Port, error) {
	port, ok := c.ports.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", common.ErrUnknownPort, id)
	}
	return port, nil
}

func (c *connection) reply(msg common.Message) {
	if err := c.dispatcher.Send(msg); err != nil {
		Logger.Debugf("failed to send %s: %v", &msg, err)
	}
}

// replyError sends err as a remote error correlated to number
func (c *connection) replyError(number uint32, err error) {
	Logger.Debugf("request %d failed: %v", number, err)
	c.reply(common.NewRemoteErrorResponse(number, common.ErrorCodeOf(err), err.Error()))
}

// protocolError aborts the connection on input that can not be processed
func (c *connection) protocolError(err error) {
	Logger.Errorf("protocol error, aborting transport: %v", err)
	common.CountProtocolError()
	c.transport.Abort(fmt.Errorf("protocol error: %w", err))
}

// teardown closes every port of the connection
func (c *connection) teardown() {
	c.cancel()
	c.ports.Range(func(_ uint32, port *Port) bool {
		port.Close()
		return true
	})
}
