package stream

import (
	"context"
	"errors"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"io"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Slice Source
// --------------------------------------------------------------------------

type sliceSource struct {
	items  [][]byte
	pos    int
	closed atomic.Bool
	mu     sync.Mutex
}

// FromSlice returns a source yielding items in order
func FromSlice(items ...[]byte) common.ISource {
	return &sliceSource{items: items}
}

func (s *sliceSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() || s.pos >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

func (s *sliceSource) Close() error {
	s.closed.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Channel Source
// --------------------------------------------------------------------------

type channelSource struct {
	ch     <-chan []byte
	closed chan struct{}
	once   sync.Once
}

// FromChannel returns a source yielding the values received from ch until ch is closed
func FromChannel(ch <-chan []byte) common.ISource {
	return &channelSource{ch: ch, closed: make(chan struct{})}
}

func (s *channelSource) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	default:
	}

	select {
	case item, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return item, nil
	case <-s.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *channelSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// --------------------------------------------------------------------------
// Generator Source
// --------------------------------------------------------------------------

// YieldFunc hands one element to the consumer. It blocks until the consumer
// asks for the next element and fails once the source was closed.
type YieldFunc func(payload []byte) error

type generatorResult struct {
	payload []byte
	err     error
}

type generator struct {
	fn     func(ctx context.Context, yield YieldFunc) error
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	pull      chan struct{}
	out       chan generatorResult
	done      chan struct{}
	err       error // final result, set before done is closed
}

// Generate returns a source driven by fn. fn runs in its own goroutine but only
// while a pull is outstanding: it starts on the first Next and every yield
// waits for the following Next. fn returning nil ends the stream with io.EOF,
// an error is returned by the pull that is waiting for it.
func Generate(fn func(ctx context.Context, yield YieldFunc) error) common.ISource {
	ctx, cancel := context.WithCancel(context.Background())
	return &generator{
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		pull:   make(chan struct{}),
		out:    make(chan generatorResult),
		done:   make(chan struct{}),
	}
}

func (g *generator) Next(ctx context.Context) ([]byte, error) {
	g.startOnce.Do(func() { go g.run() })

	select {
	case g.pull <- struct{}{}:
	case <-g.done:
		return nil, g.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-g.out:
		return res.payload, res.err
	case <-g.done:
		return nil, g.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *generator) Close() error {
	g.cancel()
	return nil
}

// run waits for the first pull, then runs fn
func (g *generator) run() {
	defer close(g.done)

	select {
	case <-g.pull:
	case <-g.ctx.Done():
		g.err = io.EOF
		return
	}

	yield := func(payload []byte) error {
		select {
		case g.out <- generatorResult{payload: payload}:
		case <-g.ctx.Done():
			return g.ctx.Err()
		}
		select {
		case <-g.pull:
			return nil
		case <-g.ctx.Done():
			return g.ctx.Err()
		}
	}

	err := g.fn(g.ctx, yield)
	if err == nil || (g.ctx.Err() != nil && errors.Is(err, context.Canceled)) {
		err = io.EOF
	}

	// the pull that made fn return is still waiting
	select {
	case g.out <- generatorResult{err: err}:
	case <-g.ctx.Done():
	}
	g.err = io.EOF
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// Collect pulls every element of source and closes it
func Collect(ctx context.Context, source common.ISource) ([][]byte, error) {
	defer func() { _ = source.Close() }()

	var items [][]byte
	for {
		item, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
}
