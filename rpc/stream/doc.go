// Package stream implements the ack-gated stream protocol on top of the
// dispatch package. Both directions of a stream share one message number.
//
// The producer side (SendStream) pulls one element from a common.ISource,
// sends it as a STREAM_MESSAGE with the next sequence id (starting at 1) and
// waits for the consumer's grant before pulling again:
//
//	producer                         consumer
//	STREAM_MESSAGE{seq:1, e1}   ->
//	                            <-   STREAM_ACK{seq:1}        (consumer pulls e2)
//	STREAM_MESSAGE{seq:2, e2}   ->
//	                            <-   STREAM_ACK{seq:2}
//	STREAM_MESSAGE{seq:2, closed} -> (source exhausted)
//
// The consumer side (ReceiveStream) turns the messages back into an ISource.
// The ack for an element is only sent when the consumer pulls the element
// after it, so the producer never runs ahead of demand. A consumer that stops
// early closes its InboundStream, which sends STREAM_MESSAGE{closed:true} for
// the last received sequence id; the producer then stops without pulling
// another element.
//
// Sources:
//
//   - FromSlice and FromChannel adapt in-memory data
//   - Generate runs a producer function that only advances while a pull is outstanding
//   - Collect drains a source into a slice
package stream
