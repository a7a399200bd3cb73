package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Identifier
// --------------------------------------------------------------------------

const (
	// messageTypeShift is the bit offset of the MessageType inside a message identifier
	messageTypeShift = 27
	// messageTypeMask keeps the 4-bit type tag
	messageTypeMask = 0xf
	// MessageNumberMask keeps the 27-bit message number
	MessageNumberMask uint32 = 0x07ffffff
	// MessageNumberWrap is the point at which dispatchers restart numbering at 1
	MessageNumberWrap uint32 = 0x01000000
)

// CalculateMessageIdentifier packs a MessageType (bits 31..27) and a MessageNumber
// (bits 26..0) into one 32-bit identifier
func CalculateMessageIdentifier(msgType MessageType, number uint32) uint32 {
	return (uint32(msgType)&messageTypeMask)<<messageTypeShift | number&MessageNumberMask
}

// ParseMessageIdentifier splits an identifier into its MessageType and MessageNumber
func ParseMessageIdentifier(id uint32) (MessageType, uint32) {
	return MessageType((id >> messageTypeShift) & messageTypeMask), id & MessageNumberMask
}

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// ModuleProcedure binds a procedure id to its name inside a RequestModuleResponse
type ModuleProcedure struct {
	ProcedureID   uint32 `json:"procedure_id"`
	ProcedureName string `json:"procedure_name"`
}

// Message represents a single protocol message.
// Which fields are used depends on the type of message.
type Message struct {
	// Header, packed into the message identifier on the wire
	Type   MessageType `json:"type"`
	Number uint32      `json:"number,omitempty"`

	// Port management
	PortName   string            `json:"port_name,omitempty"`   // Used for: CreatePort
	PortID     uint32            `json:"port_id,omitempty"`     // Used for: CreatePortResponse, RequestModule(Response), DestroyPort, Request, Stream*
	ModuleName string            `json:"module_name,omitempty"` // Used for: RequestModule
	Procedures []ModuleProcedure `json:"procedures,omitempty"`  // Used for: RequestModuleResponse

	// Calls
	ProcedureID  uint32 `json:"procedure_id,omitempty"`  // Used for: Request
	Payload      []byte `json:"payload,omitempty"`       // Used for: Request, Response, Stream*
	ClientStream uint32 `json:"client_stream,omitempty"` // Used for: Request (message number of the request stream)

	// Errors
	ErrorCode    uint32 `json:"error_code,omitempty"`    // Used for: RemoteError
	ErrorMessage string `json:"error_message,omitempty"` // Used for: RemoteError

	// Streams
	SequenceID uint32 `json:"sequence_id,omitempty"` // Used for: Stream*
	Closed     bool   `json:"closed,omitempty"`      // Used for: Stream* (terminal marker, empty payload)
	Ack        bool   `json:"ack,omitempty"`         // Used for: Stream* (grant for the next element)
}

// Identifier returns the packed message identifier
func (m *Message) Identifier() uint32 {
	return CalculateMessageIdentifier(m.Type, m.Number)
}

// String returns a compact description used in debug logs
func (m *Message) String() string {
	switch m.Type {
	case MsgTStreamMessage, MsgTStreamAck:
		return fmt.Sprintf("%s#%d(port=%d, seq=%d, closed=%t, ack=%t, %d bytes)",
			m.Type, m.Number, m.PortID, m.SequenceID, m.Closed, m.Ack, len(m.Payload))
	case MsgTRemoteErrorResponse:
		return fmt.Sprintf("%s#%d(code=%d, %q)", m.Type, m.Number, m.ErrorCode, m.ErrorMessage)
	default:
		return fmt.Sprintf("%s#%d", m.Type, m.Number)
	}
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewCreatePort creates a CreatePort request
func NewCreatePort(number uint32, portName string) Message {
	return Message{Type: MsgTCreatePort, Number: number, PortName: portName}
}

// NewCreatePortResponse creates a CreatePortResponse
func NewCreatePortResponse(number, portID uint32) Message {
	return Message{Type: MsgTCreatePortResponse, Number: number, PortID: portID}
}

// NewRequestModule creates a RequestModule request
func NewRequestModule(number, portID uint32, moduleName string) Message {
	return Message{Type: MsgTRequestModule, Number: number, PortID: portID, ModuleName: moduleName}
}

// NewRequestModuleResponse creates a RequestModuleResponse
func NewRequestModuleResponse(number, portID uint32, procedures []ModuleProcedure) Message {
	return Message{Type: MsgTRequestModuleResponse, Number: number, PortID: portID, Procedures: procedures}
}

// NewDestroyPort creates a DestroyPort notification
func NewDestroyPort(number, portID uint32) Message {
	return Message{Type: MsgTDestroyPort, Number: number, PortID: portID}
}

// NewRequest creates a procedure call request
func NewRequest(number, portID, procedureID uint32, payload []byte, clientStream uint32) Message {
	return Message{
		Type:         MsgTRequest,
		Number:       number,
		PortID:       portID,
		ProcedureID:  procedureID,
		Payload:      payload,
		ClientStream: clientStream,
	}
}

// NewResponse creates a unary response
func NewResponse(number uint32, payload []byte) Message {
	return Message{Type: MsgTResponse, Number: number, Payload: payload}
}

// NewRemoteErrorResponse creates a RemoteError correlated to the given number
func NewRemoteErrorResponse(number, code uint32, message string) Message {
	return Message{Type: MsgTRemoteErrorResponse, Number: number, ErrorCode: code, ErrorMessage: message}
}

// NewStreamMessage creates a stream element
func NewStreamMessage(number, portID, sequenceID uint32, payload []byte) Message {
	return Message{Type: MsgTStreamMessage, Number: number, PortID: portID, SequenceID: sequenceID, Payload: payload}
}

// NewStreamClose creates the terminal message of a stream
func NewStreamClose(number, portID, sequenceID uint32) Message {
	return Message{Type: MsgTStreamMessage, Number: number, PortID: portID, SequenceID: sequenceID, Closed: true, Payload: []byte{}}
}

// NewStreamAck creates the grant for the element after sequenceID
func NewStreamAck(number, portID, sequenceID uint32) Message {
	return Message{Type: MsgTStreamAck, Number: number, PortID: portID, SequenceID: sequenceID, Ack: true}
}

// NewServerReady creates the liveness marker sent when a transport is attached
func NewServerReady() Message {
	return Message{Type: MsgTServerReady}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of a protocol message. The values are wire-stable.
type MessageType uint8

const (
	MsgTEmpty                 MessageType = 0
	MsgTRequest               MessageType = 1
	MsgTResponse              MessageType = 2
	MsgTStreamMessage         MessageType = 3
	MsgTStreamAck             MessageType = 4
	MsgTCreatePort            MessageType = 5
	MsgTCreatePortResponse    MessageType = 6
	MsgTRequestModule         MessageType = 7
	MsgTRequestModuleResponse MessageType = 8
	MsgTRemoteErrorResponse   MessageType = 9
	MsgTDestroyPort           MessageType = 10
	MsgTServerReady           MessageType = 11
)

var messageTypeNames = map[MessageType]string{
	MsgTEmpty:                 "empty",
	MsgTRequest:               "request",
	MsgTResponse:              "response",
	MsgTStreamMessage:         "stream_message",
	MsgTStreamAck:             "stream_ack",
	MsgTCreatePort:            "create_port",
	MsgTCreatePortResponse:    "create_port_response",
	MsgTRequestModule:         "request_module",
	MsgTRequestModuleResponse: "request_module_response",
	MsgTRemoteErrorResponse:   "remote_error_response",
	MsgTDestroyPort:           "destroy_port",
	MsgTServerReady:           "server_ready",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Known reports whether t is one of the protocol message types
func (t MessageType) Known() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownMessageType, s)
}
