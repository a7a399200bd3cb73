package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/stream"
)

// --------------------------------------------------------------------------
// Module
// --------------------------------------------------------------------------

// Module is a loaded module of a port. Its procedures are addressed by name.
type Module struct {
	Name       string
	Procedures []common.ModuleProcedure

	port *Port
	ids  map[string]uint32
}

func newModule(p *Port, name string, procedures []common.ModuleProcedure) *Module {
	ids := make(map[string]uint32, len(procedures))
	for _, proc := range procedures {
		ids[proc.ProcedureName] = proc.ProcedureID
	}
	return &Module{Name: name, Procedures: procedures, port: p, ids: ids}
}

// ProcedureID returns the id the server assigned to a procedure
func (m *Module) ProcedureID(procedure string) (uint32, error) {
	id, ok := m.ids[procedure]
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", common.ErrUnknownProcedure, m.Name, procedure)
	}
	return id, nil
}

// Invoke calls a procedure by name and returns its raw result
func (m *Module) Invoke(ctx context.Context, procedure string, payload []byte, clientStream common.ISource) (common.Result, error) {
	id, err := m.ProcedureID(procedure)
	if err != nil {
		if clientStream != nil {
			_ = clientStream.Close()
		}
		return common.Result{}, err
	}
	return m.port.CallProcedure(ctx, id, payload, clientStream)
}

// Call invokes a unary procedure
func (m *Module) Call(ctx context.Context, procedure string, payload []byte) ([]byte, error) {
	result, err := m.Invoke(ctx, procedure, payload, nil)
	if err != nil {
		return nil, err
	}
	return unaryPayload(procedure, result)
}

// CallStream invokes a server-streaming procedure
func (m *Module) CallStream(ctx context.Context, procedure string, payload []byte) (common.ISource, error) {
	result, err := m.Invoke(ctx, procedure, payload, nil)
	if err != nil {
		return nil, err
	}
	return streamSource(procedure, result)
}

// CallClientStream invokes a client-streaming procedure with the elements of source as request
func (m *Module) CallClientStream(ctx context.Context, procedure string, source common.ISource) ([]byte, error) {
	result, err := m.Invoke(ctx, procedure, nil, source)
	if err != nil {
		return nil, err
	}
	return unaryPayload(procedure, result)
}

// CallBidi invokes a bidirectional procedure: source is streamed to the
// procedure while its result stream is read
func (m *Module) CallBidi(ctx context.Context, procedure string, source common.ISource) (common.ISource, error) {
	result, err := m.Invoke(ctx, procedure, nil, source)
	if err != nil {
		return nil, err
	}
	return streamSource(procedure, result)
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func unaryPayload(procedure string, result common.Result) ([]byte, error) {
	switch result.Kind {
	case common.ResultUnary:
		return result.Payload, nil
	case common.ResultEmpty:
		return nil, nil
	default:
		_ = result.Stream.Close()
		return nil, fmt.Errorf("%w: %s answered with a stream", common.ErrUnexpectedMessage, procedure)
	}
}

// streamSource returns the stream of a result. A unary answer is a stream of one element.
func streamSource(procedure string, result common.Result) (common.ISource, error) {
	switch result.Kind {
	case common.ResultStream:
		return result.Stream, nil
	case common.ResultUnary:
		Logger.Debugf("%s answered with a single payload", procedure)
		return stream.FromSlice(result.Payload), nil
	default:
		return stream.FromSlice(), nil
	}
}
