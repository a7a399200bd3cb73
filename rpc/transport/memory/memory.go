package memory

import (
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"sync/atomic"
)

// memoryTransport is one side of an in-process transport pair
type memoryTransport struct {
	*transport.EventHub
	peer      *memoryTransport
	connected atomic.Bool
	closed    atomic.Bool
}

// NewMemoryTransportPair creates two connected transports
func NewMemoryTransportPair() (transport.ITransport, transport.ITransport) {
	a := &memoryTransport{EventHub: transport.NewEventHub()}
	b := &memoryTransport{EventHub: transport.NewEventHub()}
	a.peer, b.peer = b, a

	a.connected.Store(true)
	b.connected.Store(true)
	a.EmitConnect()
	b.EmitConnect()

	return a, b
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *memoryTransport) SendMessage(data []byte) error {
	if !t.connected.Load() || !t.peer.connected.Load() {
		return common.ErrTransportClosed
	}
	// the receiver owns its copy
	t.peer.EmitMessage(append([]byte(nil), data...))
	return nil
}

func (t *memoryTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.connected.Store(false)
	t.EmitClose()
	return t.peer.Close()
}

func (t *memoryTransport) Abort(err error) {
	t.EmitError(err)
	t.Close()
}

func (t *memoryTransport) IsConnected() bool {
	return t.connected.Load()
}
