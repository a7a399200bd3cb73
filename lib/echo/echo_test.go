package echo

import (
	"context"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"github.com/ValentinKolb/portrpc/rpc/server"
	"github.com/ValentinKolb/portrpc/rpc/stream"
	"reflect"
	"testing"
)

func call(t *testing.T, name string, req server.ProcedureRequest) (common.Result, error) {
	t.Helper()
	ctx := context.Background()
	port := server.NewPort(ctx, 1, "p")
	if err := Register(ctx, port, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	desc, err := port.LoadModule(ctx, Name)
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	for _, proc := range desc.Procedures {
		if proc.ProcedureName == name {
			return port.CallProcedure(ctx, proc.ProcedureID, req)
		}
	}
	t.Fatalf("Procedure %s not found", name)
	return common.Result{}, nil
}

func TestUnaryProcedures(t *testing.T) {
	testCases := []struct {
		name     string
		payload  []byte
		expected []byte
	}{
		{name: "basic", payload: nil, expected: []byte{0, 1, 2}},
		{name: "echo", payload: []byte("hello"), expected: []byte("hello")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := call(t, tc.name, server.ProcedureRequest{Payload: tc.payload})
			if err != nil {
				t.Fatalf("Call failed: %v", err)
			}
			if result.Kind != common.ResultUnary || !reflect.DeepEqual(result.Payload, tc.expected) {
				t.Errorf("Expected %v, got %+v", tc.expected, result)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	testCases := []struct {
		payload  string
		expected []string
	}{
		{payload: "", expected: []string{"0", "1", "2"}},
		{payload: "5", expected: []string{"0", "1", "2", "3", "4"}},
		{payload: "0", expected: nil},
	}

	for _, tc := range testCases {
		t.Run("count="+tc.payload, func(t *testing.T) {
			result, err := call(t, "generate", server.ProcedureRequest{Payload: []byte(tc.payload)})
			if err != nil || result.Kind != common.ResultStream {
				t.Fatalf("Expected a stream, got %+v (%v)", result, err)
			}
			items, err := stream.Collect(context.Background(), result.Stream)
			if err != nil {
				t.Fatalf("Collect failed: %v", err)
			}
			var got []string
			for _, item := range items {
				got = append(got, string(item))
			}
			if !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("Expected %v, got %v", tc.expected, got)
			}
		})
	}

	if _, err := call(t, "generate", server.ProcedureRequest{Payload: []byte("x")}); err == nil {
		t.Error("Expected an error for an invalid count")
	}
}

func TestCollectAndDuplex(t *testing.T) {
	result, err := call(t, "collect", server.ProcedureRequest{Stream: stream.FromSlice([]byte("a"), []byte("b"), []byte("c"))})
	if err != nil || string(result.Payload) != "abc" {
		t.Errorf("Expected abc, got %+v (%v)", result, err)
	}

	result, err = call(t, "duplex", server.ProcedureRequest{Stream: stream.FromSlice([]byte("x"), []byte("y"))})
	if err != nil || result.Kind != common.ResultStream {
		t.Fatalf("Expected a stream, got %+v (%v)", result, err)
	}
	items, err := stream.Collect(context.Background(), result.Stream)
	if err != nil || len(items) != 2 || string(items[0]) != "x" || string(items[1]) != "y" {
		t.Errorf("Expected [x y], got %q (%v)", items, err)
	}

	if _, err := call(t, "collect", server.ProcedureRequest{}); err == nil {
		t.Error("Expected an error without a request stream")
	}
}

func TestFail(t *testing.T) {
	_, err := call(t, "fail", server.ProcedureRequest{Payload: []byte("broken on purpose")})
	if err == nil || err.Error() != "broken on purpose" {
		t.Errorf("Expected the payload as error, got %v", err)
	}
}
