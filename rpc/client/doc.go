// Package client implements the client side of the port protocol.
//
// Key Components:
//
//   - RPCClient: binds to a connected transport (NewRPCClient) or dials one
//     (Dial) and waits for the server's SERVER_READY. CreatePort is
//     deduplicated by name: concurrent and later callers share one *Port until
//     it closes, a failed creation is not cached.
//
//   - Port: the proxy of a server port. LoadModule runs the module handshake,
//     CallProcedure invokes a procedure by id, Close sends DESTROY_PORT.
//
//   - Module: a loaded module whose procedures are called by name with Call
//     (unary), CallStream (server stream), CallClientStream (request stream),
//     CallBidi (both) or Invoke (raw common.Result).
//
// Usage Example:
//
//	c, err := client.Dial(ctx, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	port, _ := c.CreatePort(ctx, "main")
//	module, _ := port.LoadModule(ctx, "echo")
//
//	payload, _ := module.Call(ctx, "echo", []byte("hello"))
//
//	elements, _ := module.CallStream(ctx, "generate", []byte("10"))
//	for {
//	  item, err := elements.Next(ctx)
//	  if err != nil {
//	    break // io.EOF at the end of the stream
//	  }
//	  fmt.Println(string(item))
//	}
//
// Remote errors are returned as *common.RemoteError whose text is the server's
// error text; they unwrap to the matching sentinel (for example
// common.ErrModuleNotRegistered). Once the transport closed every call fails
// with common.ErrTransportClosed or the error the transport failed with.
//
// Thread Safety:
//
//	All types are safe for concurrent use. Calls on one connection are
//	correlated by message number and may complete in any order.
package client
