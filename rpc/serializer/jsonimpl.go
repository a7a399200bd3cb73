package serializer

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ValentinKolb/portrpc/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	if !msg.Type.Known() {
		return nil, fmt.Errorf("%w: %d", common.ErrUnknownMessageType, msg.Type)
	}
	return json.Marshal(msg)
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	var decoded common.Message
	if err := json.Unmarshal(b, &decoded); err != nil {
		if errors.Is(err, common.ErrUnknownMessageType) {
			return err
		}
		return fmt.Errorf("%w: %v", common.ErrMalformedMessage, err)
	}
	*msg = decoded
	return nil
}
