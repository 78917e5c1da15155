package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// ParseFrame checks that data is a JSON object with a string "type" field.
func ParseFrame(data []byte) (Frame, error) {
	if !json.Valid(data) {
		return Frame{}, fmt.Errorf("%w: invalid JSON", ErrMalformedFrame)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Frame{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}

	rawType, ok := fields["type"]
	if !ok {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return Frame{}, fmt.Errorf("%w: type is not a string", ErrMalformedFrame)
	}

	return Frame{Type: MessageType(typ), Data: fields["data"]}, nil
}

// payloadKeys is the exact key set of a sendPayload data object.
var payloadKeys = []string{"payload", "speed"}

// validatePayload checks the sendPayload data object. Unexpected keys are
// reported before missing ones.
func validatePayload(data json.RawMessage) error {
	var fields map[string]json.RawMessage
	if len(bytes.TrimSpace(data)) > 0 && !bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		if err := json.Unmarshal(data, &fields); err != nil {
			return &ValidationError{Kind: KindInvalidProperties, Message: MsgInvalidProperties}
		}
	}

	for key := range fields {
		if !slices.Contains(payloadKeys, key) {
			return &ValidationError{Kind: KindInvalidProperties, Message: MsgInvalidProperties}
		}
	}
	for _, key := range payloadKeys {
		if _, ok := fields[key]; !ok {
			return &ValidationError{Kind: KindMissingProperties, Message: MsgMissingProperties}
		}
	}
	return nil
}

// roomKeyFrom extracts the room key from connectToRoom data.
func roomKeyFrom(data json.RawMessage) string {
	var body struct {
		RoomKey *string `json:"roomKey"`
		Key     *string `json:"key"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	switch {
	case body.RoomKey != nil:
		return *body.RoomKey
	case body.Key != nil:
		return *body.Key
	default:
		return ""
	}
}
