// Package ws implements a WebSocket transport for the portrpc runtime using
// github.com/gorilla/websocket. Each protocol message travels as one binary
// websocket message, so no additional framing is needed.
//
// Key Components:
//
//   - wsServerTransport: an HTTP server that upgrades GET requests on the
//     configured path (default "/") and attaches every websocket as a transport.
//     With log level "debug" every upgrade request is logged by a middleware.
//
//   - wsClientTransport: dials ws:// or wss:// urls; a plain host:port endpoint
//     is dialed as ws://host:port/.
//
//   - wsConn: adapts a websocket connection to base.IMessageConn, so reading,
//     writing and teardown are shared with the socket transports.
package ws
