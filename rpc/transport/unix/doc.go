// Package unix implements the Unix domain socket transport of the portrpc
// runtime, for a server and its clients running on the same machine.
//
// This package extends the base transport layer with Unix socket-specific
// connectors while inheriting framing, the reader and writer goroutines and
// the error handling from the base package.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners (removing a stale socket
//     file first) and accepts connections
package unix
