// Package server implements the server side of the port protocol: the port and
// procedure registry and the orchestration of attached transports.
//
// Key Components:
//
//   - Port: a namespace of modules on one connection. Modules are registered
//     with RegisterModule and loaded lazily with LoadModule; every procedure of
//     a loaded module gets the next id of the port-wide counter (starting at 1).
//     A module is loaded at most once per port, so ids are never re-assigned.
//
//   - RPCServer: attaches transports (AttachTransport, or Serve for a server
//     transport), announces itself with SERVER_READY and routes CREATE_PORT,
//     REQUEST_MODULE, REQUEST, DESTROY_PORT and stream messages.
//
//   - PortInitHandler: the hook run for every created port. It registers the
//     modules the port offers. If it fails the client receives a remote error
//     and the port stays without modules.
//
// Usage Example:
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	s.SetPortInitHandler(func(ctx context.Context, port *server.Port, t transport.ITransport) error {
//	  return port.RegisterModule("echo", echo.Module)
//	})
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Procedures return a common.Result: a unary payload is answered with a
// RESPONSE, an empty result with an empty RESPONSE and a stream is sent with
// the ack-gated stream protocol on the request's message number. Errors of
// procedures, module factories and lookups are answered with a
// REMOTE_ERROR_RESPONSE and never close the connection. Input that can not be
// decoded aborts the transport.
//
// When a transport closes or fails, all ports of that connection are closed,
// which cancels the contexts of running procedures and stops stream producers.
package server
