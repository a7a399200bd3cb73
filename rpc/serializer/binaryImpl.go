package serializer

import (
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
	"google.golang.org/protobuf/encoding/protowire"
)

// NewBinarySerializer creates a new serializer using the protobuf wire layout
// of the protocol messages
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer on top of protowire. Every
// message starts with field 1 (fixed32 identifier), the remaining field numbers
// are interpreted according to the message type found in the identifier.
type binarySerializerImpl struct {
}

// Field numbers of the wire layout. Some numbers are reused by different
// message types with a different meaning.
const (
	fieldIdentifier   protowire.Number = 1
	fieldPortID       protowire.Number = 2 // all port scoped messages
	fieldErrorCode    protowire.Number = 2 // RemoteError
	fieldErrorMessage protowire.Number = 3 // RemoteError
	fieldSequenceID   protowire.Number = 3 // Stream*
	fieldPortName     protowire.Number = 4 // CreatePort
	fieldModuleName   protowire.Number = 4 // RequestModule
	fieldProcedureID  protowire.Number = 4 // Request
	fieldClosed       protowire.Number = 4 // Stream*
	fieldProcedures   protowire.Number = 5 // RequestModuleResponse
	fieldAck          protowire.Number = 5 // Stream*
	fieldPayload      protowire.Number = 6 // Request, Response, Stream*
	fieldClientStream protowire.Number = 7 // Request

	// fields of a ModuleProcedure entry
	fieldProcID   protowire.Number = 1
	fieldProcName protowire.Number = 2
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	if !msg.Type.Known() {
		return nil, fmt.Errorf("%w: %d", common.ErrUnknownMessageType, msg.Type)
	}

	buf := make([]byte, 0, b.sizeHint(&msg))

	// the identifier is always present, even if it is zero
	buf = protowire.AppendTag(buf, fieldIdentifier, protowire.Fixed32Type)
	buf = protowire.AppendFixed32(buf, msg.Identifier())

	switch msg.Type {
	case common.MsgTCreatePort:
		buf = appendString(buf, fieldPortName, msg.PortName)

	case common.MsgTCreatePortResponse, common.MsgTDestroyPort:
		buf = appendFixed32(buf, fieldPortID, msg.PortID)

	case common.MsgTRequestModule:
		buf = appendFixed32(buf, fieldPortID, msg.PortID)
		buf = appendString(buf, fieldModuleName, msg.ModuleName)

	case common.MsgTRequestModuleResponse:
		buf = appendFixed32(buf, fieldPortID, msg.PortID)
		for _, proc := range msg.Procedures {
			var entry []byte
			entry = appendFixed32(entry, fieldProcID, proc.ProcedureID)
			entry = appendString(entry, fieldProcName, proc.ProcedureName)
			buf = protowire.AppendTag(buf, fieldProcedures, protowire.BytesType)
			buf = protowire.AppendBytes(buf, entry)
		}

	case common.MsgTRequest:
		buf = appendFixed32(buf, fieldPortID, msg.PortID)
		buf = appendFixed32(buf, fieldProcedureID, msg.ProcedureID)
		buf = appendBytes(buf, fieldPayload, msg.Payload)
		buf = appendFixed32(buf, fieldClientStream, msg.ClientStream)

	case common.MsgTResponse:
		buf = appendBytes(buf, fieldPayload, msg.Payload)

	case common.MsgTRemoteErrorResponse:
		buf = appendFixed32(buf, fieldErrorCode, msg.ErrorCode)
		buf = appendString(buf, fieldErrorMessage, msg.ErrorMessage)

	case common.MsgTStreamMessage, common.MsgTStreamAck:
		buf = appendFixed32(buf, fieldPortID, msg.PortID)
		buf = appendFixed32(buf, fieldSequenceID, msg.SequenceID)
		buf = appendBool(buf, fieldClosed, msg.Closed)
		buf = appendBool(buf, fieldAck, msg.Ack)
		buf = appendBytes(buf, fieldPayload, msg.Payload)

	case common.MsgTEmpty, common.MsgTServerReady:
		// header only
	}

	return buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty message", common.ErrMalformedMessage)
	}

	// the identifier must come first, it decides how the remaining fields are read
	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return malformed(protowire.ParseError(n))
	}
	if num != fieldIdentifier || typ != protowire.Fixed32Type {
		return fmt.Errorf("%w: message does not start with an identifier (field %d)", common.ErrMalformedMessage, num)
	}
	data = data[n:]

	id, n := protowire.ConsumeFixed32(data)
	if n < 0 {
		return malformed(protowire.ParseError(n))
	}
	data = data[n:]

	msgType, number := common.ParseMessageIdentifier(id)
	if !msgType.Known() {
		return fmt.Errorf("%w: %d", common.ErrUnknownMessageType, msgType)
	}

	*msg = common.Message{Type: msgType, Number: number}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return malformed(protowire.ParseError(n))
		}
		data = data[n:]

		n, err := decodeField(msg, num, typ, data)
		if err != nil {
			return err
		}
		data = data[n:]
	}

	return nil
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// decodeField reads the value of field num into msg and returns the number of
// consumed bytes. Fields that have no meaning for the message type are skipped.
func decodeField(msg *common.Message, num protowire.Number, typ protowire.Type, data []byte) (int, error) {
	switch msg.Type {
	case common.MsgTCreatePort:
		if num == fieldPortName {
			return consumeString(typ, data, &msg.PortName)
		}

	case common.MsgTCreatePortResponse, common.MsgTDestroyPort:
		if num == fieldPortID {
			return consumeFixed32(typ, data, &msg.PortID)
		}

	case common.MsgTRequestModule:
		switch num {
		case fieldPortID:
			return consumeFixed32(typ, data, &msg.PortID)
		case fieldModuleName:
			return consumeString(typ, data, &msg.ModuleName)
		}

	case common.MsgTRequestModuleResponse:
		switch num {
		case fieldPortID:
			return consumeFixed32(typ, data, &msg.PortID)
		case fieldProcedures:
			return consumeProcedure(typ, data, msg)
		}

	case common.MsgTRequest:
		switch num {
		case fieldPortID:
			return consumeFixed32(typ, data, &msg.PortID)
		case fieldProcedureID:
			return consumeFixed32(typ, data, &msg.ProcedureID)
		case fieldPayload:
			return consumeBytes(typ, data, &msg.Payload)
		case fieldClientStream:
			return consumeFixed32(typ, data, &msg.ClientStream)
		}

	case common.MsgTResponse:
		if num == fieldPayload {
			return consumeBytes(typ, data, &msg.Payload)
		}

	case common.MsgTRemoteErrorResponse:
		switch num {
		case fieldErrorCode:
			return consumeFixed32(typ, data, &msg.ErrorCode)
		case fieldErrorMessage:
			return consumeString(typ, data, &msg.ErrorMessage)
		}

	case common.MsgTStreamMessage, common.MsgTStreamAck:
		switch num {
		case fieldPortID:
			return consumeFixed32(typ, data, &msg.PortID)
		case fieldSequenceID:
			return consumeFixed32(typ, data, &msg.SequenceID)
		case fieldClosed:
			return consumeBool(typ, data, &msg.Closed)
		case fieldAck:
			return consumeBool(typ, data, &msg.Ack)
		case fieldPayload:
			return consumeBytes(typ, data, &msg.Payload)
		}
	}

	// unknown field
	n := protowire.ConsumeFieldValue(num, typ, data)
	if n < 0 {
		return 0, malformed(protowire.ParseError(n))
	}
	return n, nil
}

func consumeProcedure(typ protowire.Type, data []byte, msg *common.Message) (int, error) {
	var entry []byte
	n, err := consumeBytes(typ, data, &entry)
	if err != nil {
		return 0, err
	}

	var proc common.ModuleProcedure
	for len(entry) > 0 {
		num, ftyp, m := protowire.ConsumeTag(entry)
		if m < 0 {
			return 0, malformed(protowire.ParseError(m))
		}
		entry = entry[m:]

		switch num {
		case fieldProcID:
			m, err = consumeFixed32(ftyp, entry, &proc.ProcedureID)
		case fieldProcName:
			m, err = consumeString(ftyp, entry, &proc.ProcedureName)
		default:
			if m = protowire.ConsumeFieldValue(num, ftyp, entry); m < 0 {
				err = malformed(protowire.ParseError(m))
			}
		}
		if err != nil {
			return 0, err
		}
		entry = entry[m:]
	}

	msg.Procedures = append(msg.Procedures, proc)
	return n, nil
}

func consumeFixed32(typ protowire.Type, data []byte, dst *uint32) (int, error) {
	if typ != protowire.Fixed32Type {
		return 0, wrongType(typ, protowire.Fixed32Type)
	}
	v, n := protowire.ConsumeFixed32(data)
	if n < 0 {
		return 0, malformed(protowire.ParseError(n))
	}
	*dst = v
	return n, nil
}

func consumeBool(typ protowire.Type, data []byte, dst *bool) (int, error) {
	if typ != protowire.VarintType {
		return 0, wrongType(typ, protowire.VarintType)
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, malformed(protowire.ParseError(n))
	}
	*dst = protowire.DecodeBool(v)
	return n, nil
}

func consumeString(typ protowire.Type, data []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, wrongType(typ, protowire.BytesType)
	}
	v, n := protowire.ConsumeString(data)
	if n < 0 {
		return 0, malformed(protowire.ParseError(n))
	}
	*dst = v
	return n, nil
}

// consumeBytes copies the value so the message does not alias the read buffer
func consumeBytes(typ protowire.Type, data []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, wrongType(typ, protowire.BytesType)
	}
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return 0, malformed(protowire.ParseError(n))
	}
	*dst = append([]byte(nil), v...)
	return n, nil
}

// --------------------------------------------------------------------------
// Encoding helper (zero values are omitted)
// --------------------------------------------------------------------------

func appendFixed32(buf []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(buf, v)
}

func appendBool(buf []byte, num protowire.Number, v bool) []byte {
	if !v {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, protowire.EncodeBool(v))
}

func appendString(buf []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, v)
}

func appendBytes(buf []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, v)
}

// sizeHint returns an upper bound of the encoded size so Serialize allocates once
func (b binarySerializerImpl) sizeHint(msg *common.Message) int {
	// identifier + four fixed32 fields + two bools, each with a one byte tag
	size := 5 + 4*5 + 2*2
	size += protowire.SizeBytes(len(msg.PortName)) + 1
	size += protowire.SizeBytes(len(msg.ModuleName)) + 1
	size += protowire.SizeBytes(len(msg.ErrorMessage)) + 1
	size += protowire.SizeBytes(len(msg.Payload)) + 1
	for _, proc := range msg.Procedures {
		size += protowire.SizeBytes(5+protowire.SizeBytes(len(proc.ProcedureName))+1) + 1
	}
	return size
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

func malformed(err error) error {
	return fmt.Errorf("%w: %v", common.ErrMalformedMessage, err)
}

func wrongType(got, expected protowire.Type) error {
	return fmt.Errorf("%w: wire type %d, expected %d", common.ErrMalformedMessage, got, expected)
}
