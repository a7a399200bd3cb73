package common

import "context"

// --------------------------------------------------------------------------
// Streams
// --------------------------------------------------------------------------

// ISource is a pull-based sequence of payloads.
// Next blocks until the next element is available and returns io.EOF once the
// sequence is exhausted. Close cancels the sequence and releases its resources;
// it is safe to call more than once and after io.EOF.
type ISource interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// StreamAck is the outcome of sending one stream element: the consumer either
// granted the next element (Ack) or ended the stream (Closed)
type StreamAck struct {
	Closed bool
	Ack    bool
}

// --------------------------------------------------------------------------
// Procedure Results
// --------------------------------------------------------------------------

// ResultKind tags the shape of a procedure result
type ResultKind uint8

const (
	ResultEmpty ResultKind = iota // no payload, answered with an empty response
	ResultUnary                   // a single payload
	ResultStream                  // a sequence of payloads sent as ack-gated stream messages
)

// Result is the outcome of a procedure call on either side of the connection
type Result struct {
	Kind    ResultKind
	Payload []byte
	Stream  ISource
}

// UnaryResult wraps a single payload
func UnaryResult(payload []byte) Result {
	return Result{Kind: ResultUnary, Payload: payload}
}

// StreamResult wraps a payload sequence
func StreamResult(source ISource) Result {
	return Result{Kind: ResultStream, Stream: source}
}

// EmptyResult is returned by procedures without a response payload
func EmptyResult() Result {
	return Result{Kind: ResultEmpty}
}
