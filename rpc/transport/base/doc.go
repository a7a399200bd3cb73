// Package base provides the foundation of the socket transports. It implements
// a message transport over any connection that reads and writes whole messages,
// frames messages on stream sockets, and accepts or dials connections through
// protocol-specific connectors.
//
// Key Components:
//
//   - IMessageConn: a connection reading and writing whole messages. NewFrameConn
//     adapts a net.Conn using length prefixed frames, the ws package adapts a
//     websocket connection.
//
//   - NewMessageTransport: turns an IMessageConn into a transport.ITransport. A
//     reader goroutine emits inbound messages and a writer goroutine flushes an
//     unbounded outbound queue, so SendMessage never blocks on the socket. Both
//     goroutines run under one errgroup: when either fails the other is stopped,
//     the error is emitted and the transport closes.
//
//   - IClientConnector/IServerConnector: interfaces for protocol-specific
//     operations (dialing, listening, socket options) used by the tcp and unix packages.
//
// Frame format:
//
//	4 bytes  payload length (uint32, big endian), at most MaxFrameSize
//	N bytes  payload (one serialized protocol message)
//
// Thread Safety:
//
//	All public methods are thread-safe. Events of one transport are delivered
//	in order on the transport's event goroutine.
package base
