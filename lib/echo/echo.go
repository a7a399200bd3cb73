package echo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/server"
	"github.com/ValentinKolb/portrpc/rpc/stream"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"io"
	"strconv"
)

// Name is the module name the cli registers the module under
const Name = "echo"

// DefaultGenerateCount is the number of elements generate produces for an empty payload
const DefaultGenerateCount = 3

// Module is the server.ModuleFactory of the echo module
func Module(ctx context.Context, port *server.Port) ([]server.Procedure, error) {
	return []server.Procedure{
		{Name: "basic", Handler: basic},
		{Name: "echo", Handler: echo},
		{Name: "generate", Handler: generate},
		{Name: "collect", Handler: collect},
		{Name: "duplex", Handler: duplex},
		{Name: "fail", Handler: fail},
	}, nil
}

// Register is a server.PortInitHandler offering the echo module on every port
func Register(ctx context.Context, port *server.Port, _ transport.ITransport) error {
	return port.RegisterModule(Name, Module)
}

// --------------------------------------------------------------------------
// Procedures
// --------------------------------------------------------------------------

func basic(ctx context.Context, req server.ProcedureRequest) (common.Result, error) {
	return common.UnaryResult([]byte{0, 1, 2}), nil
}

func echo(ctx context.Context, req server.ProcedureRequest) (common.Result, error) {
	return common.UnaryResult(req.Payload), nil
}

func generate(ctx context.Context, req server.ProcedureRequest) (common.Result, error) {
	count := DefaultGenerateCount
	if len(req.Payload) > 0 {
		n, err := strconv.Atoi(string(req.Payload))
		if err != nil || n < 0 {
			return common.Result{}, fmt.Errorf("invalid element count %q", req.Payload)
		}
		count = n
	}

	return common.StreamResult(stream.Generate(func(ctx context.Context, yield stream.YieldFunc) error {
		for i := 0; i < count; i++ {
			if err := yield([]byte(strconv.Itoa(i))); err != nil {
				return err
			}
		}
		return nil
	})), nil
}

func collect(ctx context.Context, req server.ProcedureRequest) (common.Result, error) {
	if req.Stream == nil {
		return common.Result{}, errors.New("collect needs a request stream")
	}

	var buf bytes.Buffer
	for {
		item, err := req.Stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return common.UnaryResult(buf.Bytes()), nil
		}
		if err != nil {
			return common.Result{}, err
		}
		buf.Write(item)
	}
}

func duplex(ctx context.Context, req server.ProcedureRequest) (common.Result, error) {
	if req.Stream == nil {
		return common.Result{}, errors.New("duplex needs a request stream")
	}

	return common.StreamResult(stream.Generate(func(ctx context.Context, yield stream.YieldFunc) error {
		for {
			item, err := req.Stream.Next(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := yield(item); err != nil {
				return err
			}
		}
	})), nil
}

func fail(ctx context.Context, req server.ProcedureRequest) (common.Result, error) {
	return common.Result{}, errors.New(string(req.Payload))
}
