// Package dispatch correlates the messages of one transport. Many calls and
// streams share a connection and their replies arrive interleaved; the
// dispatchers use the message number (and for stream acks the sequence id) to
// hand every reply to exactly the caller that waits for it.
//
// Key Components:
//
//   - AckDispatcher: used by both peers. Owns the ack table keyed by
//     (message number, sequence id) behind SendStreamMessage, the backpressure
//     primitive of the stream protocol, and the persistent listeners used by
//     inbound streams. Dispatch routes an inbound message to them.
//
//   - MessageDispatcher: the client side. Embeds an AckDispatcher, allocates
//     message numbers, decodes every inbound message and resolves one-shot
//     requests (Request). Decoding failures abort the transport.
//
// Lifecycle:
//
//	When the transport closes, waiting SendStreamMessage calls resolve with
//	{Closed: true} (a graceful end of the stream) while requests and listeners
//	fail with common.ErrTransportClosed. When the transport fails, everything
//	fails with the transport error. Afterwards the dispatcher is inert and every
//	send or registration fails immediately.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Tables are xsync maps; a mutex
//	orders registrations against teardown so no entry can be added after the
//	pending entries were settled.
package dispatch
