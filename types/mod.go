package types

import (
	"encoding/json"

	"golang.org/x/xerrors"
)

// Message is implemented by every payload carried in a ProtocolMessage or a
// Reply.
type Message interface {
	Name() string
	String() string
}

// MarshalPayload encodes msg for a ProtocolMessage or Reply payload.
func MarshalPayload(msg Message) (json.RawMessage, error) {
	buf, err := json.Marshal(msg)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal %s: %v", msg.Name(), err)
	}
	return buf, nil
}

// UnmarshalPayload decodes a payload into msg.
func UnmarshalPayload(payload json.RawMessage, msg Message) error {
	err := json.Unmarshal(payload, msg)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal %s: %v", msg.Name(), err)
	}
	return nil
}
