// Package memory implements an in-process transport pair. Messages written to
// one side are delivered to the other side in order; closing either side closes
// both. It carries no framing and no socket, which makes it the transport of
// choice for tests and for embedding a server and a client in one process.
package memory
