package client

import (
	"context"
	"errors"
	"github.com/ValentinKolb/portrpc/lib/echo"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/serializer"
	"github.com/ValentinKolb/portrpc/rpc/server"
	"github.com/ValentinKolb/portrpc/rpc/stream"
	"github.com/ValentinKolb/portrpc/rpc/transport"
	"github.com/ValentinKolb/portrpc/rpc/transport/memory"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test Helper
// --------------------------------------------------------------------------

// flakyModule streams two elements and fails on the third pull
func flakyModule(ctx context.Context, port *server.Port) ([]server.Procedure, error) {
	return []server.Procedure{{
		Name: "flaky",
		Handler: func(ctx context.Context, req server.ProcedureRequest) (common.Result, error) {
			return common.StreamResult(stream.Generate(func(ctx context.Context, yield stream.YieldFunc) error {
				for _, item := range []string{"one", "two"} {
					if err := yield([]byte(item)); err != nil {
						return err
					}
				}
				return errors.New("flaky failed")
			})), nil
		},
	}}, nil
}

// closeSpy reports when the wrapped source is closed
type closeSpy struct {
	common.ISource
	once   sync.Once
	closed chan struct{}
}

func (s *closeSpy) Close() error {
	s.once.Do(func() { close(s.closed) })
	return s.ISource.Close()
}

// slowStreamModule answers after a delay with an endless stream
func slowStreamModule(spy *closeSpy) server.ModuleFactory {
	return func(ctx context.Context, port *server.Port) ([]server.Procedure, error) {
		return []server.Procedure{{
			Name: "slow",
			Handler: func(ctx context.Context, req server.ProcedureRequest) (common.Result, error) {
				time.Sleep(100 * time.Millisecond)
				spy.ISource = stream.Generate(func(ctx context.Context, yield stream.YieldFunc) error {
					for {
						if err := yield([]byte("tick")); err != nil {
							return err
						}
					}
				})
				return common.StreamResult(spy), nil
			},
		}}, nil
	}
}

func registerModules(ctx context.Context, port *server.Port, t transport.ITransport) error {
	if err := echo.Register(ctx, port, t); err != nil {
		return err
	}
	return port.RegisterModule("flaky", flakyModule)
}

// newClientSetup connects a client to a fresh server over an in-memory transport pair
func newClientSetup(t *testing.T, handler server.PortInitHandler) *RPCClient {
	t.Helper()
	serverSide, clientSide := memory.NewMemoryTransportPair()

	srv := server.NewRPCServer(common.ServerConfig{}, nil, serializer.NewBinarySerializer())
	srv.SetPortInitHandler(handler)
	srv.AttachTransport(context.Background(), serverSide)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := NewRPCClient(ctx, clientSide, serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("NewRPCClient failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func loadEcho(t *testing.T, c *RPCClient) *Module {
	t.Helper()
	ctx := context.Background()
	port, err := c.CreatePort(ctx, "p1")
	if err != nil {
		t.Fatalf("CreatePort failed: %v", err)
	}
	module, err := port.LoadModule(ctx, echo.Name)
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	return module
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func asStrings(items [][]byte) []string {
	result := make([]string, len(items))
	for i, item := range items {
		result[i] = string(item)
	}
	return result
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestBasicCall(t *testing.T) {
	c := newClientSetup(t, registerModules)
	ctx := testContext(t)

	port, err := c.CreatePort(ctx, "p1")
	if err != nil {
		t.Fatalf("CreatePort failed: %v", err)
	}
	if port.ID != 1 {
		t.Errorf("Expected port id 1, got %d", port.ID)
	}

	module, err := port.LoadModule(ctx, echo.Name)
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	if module.Procedures[0] != (common.ModuleProcedure{ProcedureID: 1, ProcedureName: "basic"}) {
		t.Errorf("Unexpected first procedure: %+v", module.Procedures[0])
	}

	payload, err := module.Call(ctx, "basic", nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !reflect.DeepEqual(payload, []byte{0, 1, 2}) {
		t.Errorf("Expected [0 1 2], got %v", payload)
	}

	payload, err = module.Call(ctx, "echo", []byte("hello"))
	if err != nil || string(payload) != "hello" {
		t.Errorf("Expected hello, got %q (%v)", payload, err)
	}
}

func TestCreatePortIsDeduplicated(t *testing.T) {
	c := newClientSetup(t, registerModules)
	ctx := testContext(t)

	ports := make([]*Port, 5)
	var wg sync.WaitGroup
	for i := range ports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			port, err := c.CreatePort(ctx, "x")
			if err != nil {
				t.Errorf("CreatePort failed: %v", err)
			}
			ports[i] = port
		}(i)
	}
	wg.Wait()

	for i, port := range ports {
		if port != ports[0] {
			t.Errorf("Caller %d got a different port", i)
		}
	}
	if later, _ := c.CreatePort(ctx, "x"); later != ports[0] {
		t.Error("A later call must return the same port")
	}
	if other, _ := c.CreatePort(ctx, "y"); other == ports[0] || other.ID == ports[0].ID {
		t.Error("Another name must yield another port")
	}

	if err := ports[0].Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	fresh, err := c.CreatePort(ctx, "x")
	if err != nil {
		t.Fatalf("CreatePort after close failed: %v", err)
	}
	if fresh == ports[0] || fresh.ID == ports[0].ID {
		t.Error("Expected a new port after close")
	}
	if _, err := ports[0].LoadModule(ctx, echo.Name); !errors.Is(err, common.ErrPortClosed) {
		t.Errorf("Expected ErrPortClosed on the closed port, got %v", err)
	}
}

func TestServerStream(t *testing.T) {
	c := newClientSetup(t, registerModules)
	ctx := testContext(t)
	module := loadEcho(t, c)

	source, err := module.CallStream(ctx, "generate", []byte("4"))
	if err != nil {
		t.Fatalf("CallStream failed: %v", err)
	}
	items, err := stream.Collect(ctx, source)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := asStrings(items); !reflect.DeepEqual(got, []string{"0", "1", "2", "3"}) {
		t.Errorf("Expected [0 1 2 3], got %v", got)
	}

	// an empty stream ends right away
	source, err = module.CallStream(ctx, "generate", []byte("0"))
	if err != nil {
		t.Fatalf("CallStream failed: %v", err)
	}
	if _, err := source.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestAbandonedStreamKeepsConnectionUsable(t *testing.T) {
	c := newClientSetup(t, registerModules)
	ctx := testContext(t)
	module := loadEcho(t, c)

	source, err := module.CallStream(ctx, "generate", []byte("1000"))
	if err != nil {
		t.Fatalf("CallStream failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := source.Next(ctx); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	_ = source.Close()

	if payload, err := module.Call(ctx, "echo", []byte("still here")); err != nil || string(payload) != "still here" {
		t.Errorf("Call after abandon failed: %q (%v)", payload, err)
	}
}

func TestRemoteErrorIsolation(t *testing.T) {
	c := newClientSetup(t, registerModules)
	ctx := testContext(t)
	module := loadEcho(t, c)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := module.Call(ctx, "fail", []byte("expected failure"))
		var remote *common.RemoteError
		if !errors.As(err, &remote) || err.Error() != "expected failure" {
			t.Errorf("Expected remote error, got %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if payload, err := module.Call(ctx, "echo", []byte("fine")); err != nil || string(payload) != "fine" {
			t.Errorf("Unrelated call failed: %q (%v)", payload, err)
		}
	}()
	wg.Wait()

	if _, err := module.Call(ctx, "missing", nil); !errors.Is(err, common.ErrUnknownProcedure) {
		t.Errorf("Expected ErrUnknownProcedure, got %v", err)
	}
}

func TestStreamErrorSurfacesAfterElements(t *testing.T) {
	c := newClientSetup(t, registerModules)
	ctx := testContext(t)

	port, _ := c.CreatePort(ctx, "p1")
	module, err := port.LoadModule(ctx, "flaky")
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	source, err := module.CallStream(ctx, "flaky", nil)
	if err != nil {
		t.Fatalf("CallStream failed: %v", err)
	}

	items, err := stream.Collect(ctx, source)
	if got := asStrings(items); !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("Expected [one two] before the error, got %v", got)
	}
	if err == nil || err.Error() != "flaky failed" {
		t.Errorf("Expected the stream error, got %v", err)
	}
}

func TestClientStream(t *testing.T) {
	c := newClientSetup(t, registerModules)
	ctx := testContext(t)
	module := loadEcho(t, c)

	payload, err := module.CallClientStream(ctx, "collect", stream.FromSlice([]byte("a"), []byte("b"), []byte("c")))
	if err != nil {
		t.Fatalf("CallClientStream failed: %v", err)
	}
	if string(payload) != "abc" {
		t.Errorf("Expected abc, got %q", payload)
	}

	// a client stream to a unary procedure ends when the procedure answered
	payload, err = module.CallClientStream(ctx, "basic", stream.Generate(func(ctx context.Context, yield stream.YieldFunc) error {
		for {
			if err := yield([]byte("x")); err != nil {
				return err
			}
		}
	}))
	if err != nil || !reflect.DeepEqual(payload, []byte{0, 1, 2}) {
		t.Errorf("Expected [0 1 2], got %v (%v)", payload, err)
	}
}

func TestClientStreamSourceError(t *testing.T) {
	c := newClientSetup(t, registerModules)
	ctx := testContext(t)
	module := loadEcho(t, c)

	source := stream.Generate(func(ctx context.Context, yield stream.YieldFunc) error {
		if err := yield([]byte("a")); err != nil {
			return err
		}
		return errors.New("source broke")
	})
	_, err := module.CallClientStream(ctx, "collect", source)
	if err == nil || err.Error() != "source broke" {
		t.Errorf("Expected the source error to come back from the procedure, got %v", err)
	}
}

func TestBidiStream(t *testing.T) {
	c := newClientSetup(t, registerModules)
	ctx := testContext(t)
	module := loadEcho(t, c)

	// the procedure answers once it read the first element
	words := []string{"ping", "pong", "done"}
	requests := make(chan []byte, 1)
	requests <- []byte(words[0])

	responses, err := module.CallBidi(ctx, "duplex", stream.FromChannel(requests))
	if err != nil {
		t.Fatalf("CallBidi failed: %v", err)
	}

	for i, word := range words {
		item, err := responses.Next(ctx)
		if err != nil || string(item) != word {
			t.Fatalf("Expected echo %s, got %q (%v)", word, item, err)
		}
		if i+1 < len(words) {
			requests <- []byte(words[i+1])
		}
	}
	close(requests)

	if _, err := responses.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after the request stream ended, got %v", err)
	}
}

func TestFailFastAfterTransportClose(t *testing.T) {
	c := newClientSetup(t, registerModules)
	ctx := testContext(t)
	module := loadEcho(t, c)

	source, err := module.CallStream(ctx, "generate", []byte("1000"))
	if err != nil {
		t.Fatalf("CallStream failed: %v", err)
	}
	if _, err := source.Next(ctx); err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	_ = c.Close()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Client was not torn down")
	}

	if _, err := source.Next(ctx); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("Stream: expected ErrTransportClosed, got %v", err)
	}
	if _, err := module.Call(ctx, "basic", nil); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("Call: expected ErrTransportClosed, got %v", err)
	}
	if _, err := c.CreatePort(ctx, "p2"); !errors.Is(err, common.ErrTransportClosed) {
		t.Errorf("CreatePort: expected ErrTransportClosed, got %v", err)
	}
}

func TestPortInitFailure(t *testing.T) {
	c := newClientSetup(t, func(ctx context.Context, port *server.Port, t transport.ITransport) error {
		return errors.New("init broke")
	})
	ctx := testContext(t)

	_, err := c.CreatePort(ctx, "p1")
	if !errors.Is(err, common.ErrPortInitFailed) {
		t.Errorf("Expected ErrPortInitFailed, got %v", err)
	}

	// the failed creation is not cached
	_, err = c.CreatePort(ctx, "p1")
	if !errors.Is(err, common.ErrPortInitFailed) {
		t.Errorf("Expected ErrPortInitFailed again, got %v", err)
	}
}

func TestCancelledStreamCallStopsServerSource(t *testing.T) {
	spy := &closeSpy{closed: make(chan struct{})}
	c := newClientSetup(t, func(ctx context.Context, port *server.Port, t transport.ITransport) error {
		if err := echo.Register(ctx, port, t); err != nil {
			return err
		}
		return port.RegisterModule("slow", slowStreamModule(spy))
	})
	ctx := testContext(t)

	port, err := c.CreatePort(ctx, "p1")
	if err != nil {
		t.Fatalf("CreatePort failed: %v", err)
	}
	module, err := port.LoadModule(ctx, "slow")
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := module.CallStream(callCtx, "slow", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context.DeadlineExceeded, got %v", err)
	}

	select {
	case <-spy.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Server stream source still open after the caller gave up")
	}

	// the connection is still usable
	echoModule, err := port.LoadModule(ctx, echo.Name)
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	if payload, err := echoModule.Call(ctx, "echo", []byte("still here")); err != nil || string(payload) != "still here" {
		t.Errorf("Call after cancellation failed: %q (%v)", payload, err)
	}
}

func TestCreatePortSurvivesFirstCallerCancel(t *testing.T) {
	c := newClientSetup(t, func(ctx context.Context, port *server.Port, t transport.ITransport) error {
		time.Sleep(200 * time.Millisecond)
		return registerModules(ctx, port, t)
	})
	ctx := testContext(t)

	impatient, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	first := make(chan error, 1)
	go func() {
		_, err := c.CreatePort(impatient, "x")
		first <- err
	}()
	time.Sleep(10 * time.Millisecond)

	port, err := c.CreatePort(ctx, "x")
	if err != nil {
		t.Fatalf("Patient caller failed: %v", err)
	}
	if err := <-first; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected the impatient caller to time out, got %v", err)
	}

	if later, err := c.CreatePort(ctx, "x"); err != nil || later != port {
		t.Errorf("Expected the shared port, got %v (%v)", later, err)
	}
	if _, err := port.LoadModule(ctx, echo.Name); err != nil {
		t.Errorf("LoadModule failed: %v", err)
	}
}
