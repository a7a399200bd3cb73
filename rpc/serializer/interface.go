package serializer

import "github.com/ValentinKolb/portrpc/rpc/common"

// IRPCSerializer is the interface for all Message Serializers (the wire codec).
// Both peers of a transport must use the same implementation.
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array.
	// It fails with common.ErrUnknownMessageType if msg.Type is not a protocol type.
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into a Message.
	// Unknown message types yield common.ErrUnknownMessageType, any other
	// decoding failure an error wrapping common.ErrMalformedMessage.
	Deserialize(b []byte, msg *common.Message) error
}
