// Package rpc provides a message oriented remote procedure call runtime. Clients
// open ports on a server, load modules on those ports and invoke the module's
// procedures as unary, server streaming, client streaming or bidirectional calls.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures used across the runtime, including the
//     protocol Message, identifiers, results, errors, configuration, logging
//     and metrics.
//
//   - serializer: Message encoding with a protobuf wire compatible binary format
//     and a JSON format for debugging.
//
//   - transport: The message transport contract with ordered event delivery and
//     pluggable implementations (in memory, TCP, Unix sockets, WebSocket).
//
//   - dispatch: Correlates requests with responses by message number and routes
//     stream messages and acknowledgements to their listeners.
//
//   - stream: Streams elements over a transport with one element in flight and
//     acknowledgement based backpressure.
//
//   - server: Serves ports and their modules on every attached transport.
//
//   - client: Creates ports, loads modules and calls procedures.
package rpc
