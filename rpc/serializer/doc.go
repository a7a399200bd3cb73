// Package serializer provides the wire codec of the portrpc protocol. It defines
// a common interface and two implementations for serializing and deserializing
// protocol messages.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: The production format. Messages use the protobuf wire
//     layout (field tags, varint length prefixes, fixed32 integers) built with
//     google.golang.org/protobuf/encoding/protowire. Field 1 always holds the
//     32-bit message identifier and is written first, so a reader learns the
//     message type before it parses the remaining fields. Zero values are omitted
//     and decode as zero, unknown fields are skipped.
//
//   - jsonSerializerImpl: Human readable encoding (message types as strings),
//     useful for debugging a connection. Both peers must agree on it.
//
// Wire layout (field number: type):
//
//	all                    1: fixed32 identifier (type << 27 | number)
//	CreatePort             4: string portName
//	CreatePortResponse     2: fixed32 portId
//	RequestModule          2: fixed32 portId, 4: string moduleName
//	RequestModuleResponse  2: fixed32 portId, 5: repeated {1: fixed32 id, 2: string name}
//	DestroyPort            2: fixed32 portId
//	Request                2: fixed32 portId, 4: fixed32 procedureId, 6: bytes payload, 7: fixed32 clientStream
//	Response               6: bytes payload
//	RemoteError            2: fixed32 errorCode, 3: string errorMessage
//	StreamMessage/Ack      2: fixed32 portId, 3: fixed32 sequenceId, 4: bool closed, 5: bool ack, 6: bytes payload
//	ServerReady            header only
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	serializer := serializer.NewBinarySerializer()
//	data, err := serializer.Serialize(common.NewCreatePort(1, "p1"))
//	// ... send data ...
//	var receivedMsg common.Message
//	err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
