// Package transport defines the message transport abstraction the RPC runtime
// is built on, together with the interfaces server and client transports implement.
//
// The runtime only needs a small capability from a connection: send one message,
// and observe inbound messages plus connect, close and error events. Everything
// else (framing, sockets, websockets, in-process pipes) lives in the sub packages.
//
// Key Components:
//
//   - ITransport: one ordered message connection. Events are typed subscriptions
//     (OnMessage, OnConnect, OnClose, OnError) returning an unsubscribe function.
//     Abort reports a protocol error and tears the connection down.
//
//   - EventHub: embeddable implementation of the subscription half of ITransport.
//     It delivers the events of one transport in order on a single goroutine and
//     buffers inbound messages until the first message subscriber exists, so a
//     message sent right after connecting is never lost.
//
//   - IRPCServerTransport: accepts connections and passes each ITransport to a
//     ServerAttachFunc.
//
//   - IRPCClientTransport: dials a server and returns the connected ITransport.
//
// Implementations:
//
//   - memory: an in-process transport pair, used by tests
//   - base: message transport over any framed connection, plus tcp and unix connectors
//   - ws: one binary websocket message per protocol message
package transport
