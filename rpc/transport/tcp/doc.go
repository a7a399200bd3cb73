// Package tcp implements the TCP socket transport of the portrpc runtime. It
// provides concrete implementations of the base package's connector interfaces.
//
// This package builds on the base package's message transport: every accepted or
// dialed connection carries length prefixed protocol messages, read and written
// by dedicated goroutines. See the base package documentation for details.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// Both connectors apply the socket options of the configuration (no-delay,
// keep-alive, linger and buffer sizes) to every connection.
package tcp
