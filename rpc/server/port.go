package server

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Procedures and Modules
// --------------------------------------------------------------------------

// ProcedureRequest is the input of one procedure invocation
type ProcedureRequest struct {
	// Payload is the request payload, nil for calls with a request stream
	Payload []byte
	// Stream is the request stream of client-streaming and bidirectional calls, otherwise nil.
	// It is closed by the server once the call finished.
	Stream common.ISource
}

// ProcedureFunc implements a procedure. The returned error is sent to the
// caller as a remote error, the connection stays usable.
type ProcedureFunc func(ctx context.Context, req ProcedureRequest) (common.Result, error)

// Procedure is one named procedure of a module
type Procedure struct {
	Name    string
	Handler ProcedureFunc
}

// ModuleFactory creates the procedures of a module when a port loads it.
// The order of the returned procedures is the order of their ids.
type ModuleFactory func(ctx context.Context, port *Port) ([]Procedure, error)

// ModuleDescriptor is a loaded module: its name and the ids of its procedures
type ModuleDescriptor struct {
	Name       string
	Procedures []common.ModuleProcedure
}

// moduleLoad is a memoized module load, done is closed once desc or err is set
type moduleLoad struct {
	done chan struct{}
	desc ModuleDescriptor
	err  error
}

// --------------------------------------------------------------------------
// Port
// --------------------------------------------------------------------------

// Port is a namespace of loaded modules on one connection. It is either open
// or closed; closing is one-way.
type Port struct {
	ID   uint32
	Name string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	factories map[string]ModuleFactory
	onClose   []func()

	loads         *xsync.MapOf[string, *moduleLoad]
	procedures    *xsync.MapOf[uint32, ProcedureFunc]
	nextProcedure atomic.Uint32
}

// NewPort creates an open port. Its context is cancelled when the port closes.
func NewPort(ctx context.Context, id uint32, name string) *Port {
	ctx, cancel := context.WithCancel(ctx)
	return &Port{
		ID:         id,
		Name:       name,
		ctx:        ctx,
		cancel:     cancel,
		factories:  make(map[string]ModuleFactory),
		loads:      xsync.NewMapOf[string, *moduleLoad](),
		procedures: xsync.NewMapOf[uint32, ProcedureFunc](),
	}
}

// RegisterModule makes a module available to LoadModule. The factory runs
// lazily on the first load.
func (p *Port) RegisterModule(name string, factory ModuleFactory) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return common.ErrPortClosed
	}
	if _, ok := p.factories[name]; ok {
		return fmt.Errorf("%w: %s", common.ErrDuplicateModule, name)
	}
	p.factories[name] = factory
	return nil
}

// LoadModule loads a registered module at most once per port. Concurrent and
// later callers share the result of the first load, including its error.
func (p *Port) LoadModule(ctx context.Context, name string) (ModuleDescriptor, error) {
	p.mu.Lock()
	closed := p.closed
	factory, ok := p.factories[name]
	p.mu.Unlock()

	if closed {
		return ModuleDescriptor{}, common.ErrPortClosed
	}
	if !ok {
		return ModuleDescriptor{}, fmt.Errorf("%w: %s", common.ErrModuleNotRegistered, name)
	}

	load, loaded := p.loads.LoadOrCompute(name, func() *moduleLoad {
		return &moduleLoad{done: make(chan struct{})}
	})
	if !loaded {
		load.desc, load.err = p.runFactory(ctx, name, factory)
		close(load.done)
	}

	select {
	case <-load.done:
		return load.desc, load.err
	case <-ctx.Done():
		return ModuleDescriptor{}, ctx.Err()
	}
}

// runFactory creates the procedures of a module and assigns their ids
func (p *Port) runFactory(ctx context.Context, name string, factory ModuleFactory) (ModuleDescriptor, error) {
	procedures, err := factory(ctx, p)
	if err != nil {
		return ModuleDescriptor{}, fmt.Errorf("failed to load module %s: %w", name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ModuleDescriptor{}, common.ErrPortClosed
	}

	desc := ModuleDescriptor{Name: name, Procedures: make([]common.ModuleProcedure, 0, len(procedures))}
	for _, proc := range procedures {
		id := p.nextProcedure.Add(1)
		p.procedures.Store(id, proc.Handler)
		desc.Procedures = append(desc.Procedures, common.ModuleProcedure{ProcedureID: id, ProcedureName: proc.Name})
	}
	Logger.Debugf("port %d: loaded module %s with %d procedures", p.ID, name, len(procedures))
	return desc, nil
}

// CallProcedure invokes the procedure with the given id
func (p *Port) CallProcedure(ctx context.Context, id uint32, req ProcedureRequest) (common.Result, error) {
	if p.IsClosed() {
		return common.Result{}, common.ErrPortClosed
	}
	handler, ok := p.procedures.Load(id)
	if !ok {
		return common.Result{}, fmt.Errorf("%w: %d", common.ErrUnknownProcedure, id)
	}
	return handler(ctx, req)
}

// Context is cancelled when the port closes
func (p *Port) Context() context.Context {
	return p.ctx
}

// IsClosed reports whether the port was closed
func (p *Port) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
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

// Close clears all modules and procedures and runs the close callbacks. It is idempotent.
func (p *Port) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.factories = make(map[string]ModuleFactory)
	callbacks := p.onClose
	p.onClose = nil
	p.mu.Unlock()

	p.cancel()
	p.loads.Clear()
	p.procedures.Clear()

	for _, fn := range callbacks {
		fn()
	}
}
