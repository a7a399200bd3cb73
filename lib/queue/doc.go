// Package queue provides an unbounded lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// The RPC runtime uses it wherever a producer must never block on a consumer:
//
//   - transport event delivery: the reader goroutine pushes inbound messages and the
//     delivery goroutine hands them to subscribers in order
//   - outbound writes: event handlers enqueue frames, a writer goroutine flushes them
//   - inbound streams: dispatcher listeners push stream elements, the stream consumer pulls them
//
// Features and Guarantees:
//
//   - Lock-Free Push: atomic operations, any number of goroutines may Push concurrently
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Single Consumer: values are consumed through the channel returned by Recv()
//   - FIFO per producer: values pushed by one goroutine are received in push order
//   - Drain on Close: values pushed before Close are still delivered, then Recv() is closed
package queue
