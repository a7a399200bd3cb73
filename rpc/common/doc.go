// Package common provides the data structures and utilities shared by every
// portrpc package. It defines the protocol message model, the error taxonomy,
// configuration structures, the logger factory and the protocol metrics.
//
// Key Components:
//
//   - Message: a single struct for all twelve protocol message types. Which
//     fields are used depends on the MessageType; factory functions such as
//     NewCreatePort or NewStreamAck build each kind.
//
//   - Message identifiers: every message starts with a 32-bit identifier that
//     packs the 4-bit MessageType (bits 31..27) and the 27-bit MessageNumber
//     (bits 26..0). See CalculateMessageIdentifier and ParseMessageIdentifier.
//
//   - Result and ISource: the tagged union a procedure returns (unary bytes,
//     a pull based stream, or nothing) and the pull iterator streams are built on.
//
//   - Errors: sentinel errors for protocol, transport and registry failures plus
//     RemoteError, which carries the code and text a peer reported.
//
//   - ServerConfig / ClientConfig: settings for the cli and the socket transports.
//
//   - Logger: custom formatter installed into dragonboat's logger registry so all
//     packages log as "LEVEL | package | message".
//
//   - Metrics: VictoriaMetrics counters and histograms for messages, ports and
//     procedure latency.
package common
