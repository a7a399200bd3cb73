// Package echo implements the demo module served by "portrpc serve". It
// covers every call shape:
//
//   - basic: unary, always answers [0, 1, 2]
//   - echo: unary, answers the request payload
//   - generate: server stream of N elements "0".."N-1", N is the decimal payload (default 3)
//   - collect: client stream, answers the concatenation of all elements
//   - duplex: bidirectional, echoes every element of the request stream
//   - fail: unary, fails with the payload as error text
package echo
