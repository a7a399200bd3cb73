package call

import (
	"context"
	"errors"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestBenchUnaryCountsEveryCall(t *testing.T) {
	benchCalls, benchThreads, benchPayloadSize = 50, 4, 8

	var calls atomic.Int64
	timer, elapsed, err := benchUnary(context.Background(), func(ctx context.Context, payload []byte) error {
		if len(payload) != 8 {
			t.Errorf("Expected a payload of 8 bytes, got %d", len(payload))
		}
		calls.Add(1)
		time.Sleep(time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("benchUnary failed: %v", err)
	}
	if calls.Load() != 50 || timer.Count() != 50 {
		t.Errorf("Expected 50 calls, made %d and recorded %d", calls.Load(), timer.Count())
	}
	if elapsed <= 0 || timer.Mean() < float64(time.Millisecond) {
		t.Errorf("Unexpected timings: elapsed %s, mean %f", elapsed, timer.Mean())
	}
}

func TestBenchUnaryStopsOnError(t *testing.T) {
	benchCalls, benchThreads, benchPayloadSize = 1000, 2, 0

	boom := errors.New("boom")
	var calls atomic.Int64
	_, _, err := benchUnary(context.Background(), func(ctx context.Context, payload []byte) error {
		if calls.Add(1) == 10 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the call error, got %v", err)
	}
	if calls.Load() >= 1000 {
		t.Error("Expected the benchmark to stop early")
	}
}

func TestWriteResultsToCSV(t *testing.T) {
	benchCalls, benchThreads, benchPayloadSize = 5, 1, 1
	timer, elapsed, err := benchUnary(context.Background(), func(ctx context.Context, payload []byte) error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "bench.csv")
	config := &common.ClientConfig{Transport: common.ClientTransportConfig{Endpoint: "localhost:8080"}}
	if err := writeResultsToCSV(path, "echo", timer, elapsed, config); err != nil {
		t.Fatalf("writeResultsToCSV failed: %v", err)
	}
}
