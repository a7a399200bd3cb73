package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/dispatch"
	"github.com/ValentinKolb/portrpc/rpc/stream"
	"sync"
)

// --------------------------------------------------------------------------
// Port
// --------------------------------------------------------------------------

// Port is the client side proxy of a server port
type Port struct {
	ID   uint32
	Name string

	client *RPCClient

	mu      sync.Mutex
	closed  bool
	onClose []func()
}

func newPort(c *RPCClient, id uint32, name string) *Port {
	return &Port{ID: id, Name: name, client: c}
}

// LoadModule requests a module by name and returns its procedure table
func (p *Port) LoadModule(ctx context.Context, name string) (*Module, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}

	resp, err := p.dispatcher().Request(ctx, func(number uint32) common.Message {
		return common.NewRequestModule(number, p.ID, name)
	})
	if err != nil {
		return nil, err
	}
	if resp.Type != common.MsgTRequestModuleResponse {
		return nil, common.UnexpectedMessage(&resp, common.MsgTRequestModuleResponse)
	}
	return newModule(p, name, resp.Procedures), nil
}

// CallProcedure invokes a procedure by id. If clientStream is not nil its
// elements are streamed to the procedure as the request and payload is
// ignored; clientStream is closed when the call no longer needs it.
//
// The result is an empty or unary result for a RESPONSE and a stream result if
// the procedure answered with a stream.
func (p *Port) CallProcedure(ctx context.Context, id uint32, payload []byte, clientStream common.ISource) (common.Result, error) {
	if err := p.usable(); err != nil {
		if clientStream != nil {
			_ = clientStream.Close()
		}
		return common.Result{}, err
	}

	d := p.dispatcher()
	if clientStream == nil {
		pending, err := d.Start(func(number uint32) common.Message {
			return common.NewRequest(number, p.ID, id, payload, 0)
		})
		if err != nil {
			return common.Result{}, err
		}
		return p.result(ctx, pending, nil)
	}

	// the request stream must be registered before the server can close it
	streamNumber := d.NextMessageNumber()
	out, err := stream.OpenStream(d.AckDispatcher, p.ID, streamNumber)
	if err != nil {
		_ = clientStream.Close()
		return common.Result{}, err
	}
	pending, err := d.Start(func(number uint32) common.Message {
		return common.NewRequest(number, p.ID, id, nil, streamNumber)
	})
	if err != nil {
		out.Abandon()
		_ = clientStream.Close()
		return common.Result{}, err
	}

	sendCtx, stopSending := context.WithCancel(context.Background())
	go func() {
		err := out.Send(sendCtx, clientStream)
		if err != nil && sendCtx.Err() == nil && d.Err() == nil {
			// the procedure sees the failure at its next pull
			_ = d.Send(common.NewRemoteErrorResponse(streamNumber, common.ErrorCodeOf(err), err.Error()))
		}
	}()

	return p.result(ctx, pending, stopSending)
}

// Close destroys the port on the server. It is idempotent.
func (p *Port) Close() error {
	if !p.markClosed() {
		return nil
	}
	var err error
	if p.client.Err() == nil {
		err = p.dispatcher().Send(common.NewDestroyPort(0, p.ID))
	}
	p.runOnClose()
	return err
}

// OnClose registers fn to run when the port closes. If it is already closed fn runs immediately.
func (p *Port) OnClose(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		fn()
		return
	}
	p.onClose = append(p.onClose, fn)
	p.mu.Unlock()
}

// IsClosed reports whether the port was closed
func (p *Port) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (p *Port) dispatcher() *dispatch.MessageDispatcher {
	return p.client.dispatcher
}

// usable fails fast once the transport or the port is closed
func (p *Port) usable() error {
	if err := p.client.Err(); err != nil {
		return err
	}
	if p.IsClosed() {
		return fmt.Errorf("%w: %d", common.ErrPortClosed, p.ID)
	}
	return nil
}

// result waits for the reply of a call. stopSending ends the request stream
// once the call no longer reads it.
func (p *Port) result(ctx context.Context, pending *dispatch.PendingRequest, stopSending context.CancelFunc) (common.Result, error) {
	if stopSending == nil {
		stopSending = func() {}
	}

	resp, err := pending.Wait(ctx)
	if err != nil {
		stopSending()
		return common.Result{}, err
	}

	switch resp.Type {
	case common.MsgTResponse:
		stopSending()
		if len(resp.Payload) == 0 {
			return common.EmptyResult(), nil
		}
		return common.UnaryResult(resp.Payload), nil

	case common.MsgTStreamMessage:
		in, err := stream.ReceiveStream(p.dispatcher().AckDispatcher, p.ID, pending.Number, &resp)
		if err != nil {
			stopSending()
			return common.Result{}, err
		}
		go func() {
			<-in.Done()
			stopSending()
		}()
		return common.StreamResult(in), nil

	default:
		stopSending()
		return common.Result{}, common.UnexpectedMessage(&resp, common.MsgTResponse)
	}
}

func (p *Port) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}

func (p *Port) runOnClose() {
	p.mu.Lock()
	callbacks := p.onClose
	p.onClose = nil
	p.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// closeLocal closes the proxy without telling the server, used when the transport is gone
func (p *Port) closeLocal() {
	if p.markClosed() {
		p.runOnClose()
	}
}
