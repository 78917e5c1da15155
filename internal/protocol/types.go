package protocol

import (
	"encoding/json"
	"errors"
)

// MessageType identifies an inbound frame.
type MessageType string

const (
	TypeConnectToRoom MessageType = "connectToRoom"
	TypeSendPayload   MessageType = "sendPayload"
	TypeHeartbeat     MessageType = "heartbeat"
)

// Outbound confirmation types.
const (
	ConfirmRoomConnection = "confirmRoomConnection"
	ConfirmPayloadSent    = "confirmPayloadSent"
)

// Errors that end the connection.
var (
	ErrAuthRejected       = errors.New("auth token rejected")
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrFrameTooLarge      = errors.New("frame too large")
	ErrUnhandledFrameType = errors.New("unhandled frame type")
)

// Error frame texts.
const (
	MsgNoRoomForKey      = "There is no room for the given key"
	MsgInvalidProperties = "sendPayload: Invalid properties provided"
	MsgMissingProperties = "sendPayload: Missing properties"
	MsgNotInRoom         = "sendPayload: Not connected to a room"
)

// ValidationKind classifies a ValidationError.
type ValidationKind int

const (
	KindNoRoomForKey ValidationKind = iota + 1
	KindInvalidProperties
	KindMissingProperties
	KindNotInRoom
)

// ValidationError is a recoverable handler error. Its message has already
// been sent to the peer.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Frame is a parsed inbound frame.
type Frame struct {
	Type MessageType
	Data json.RawMessage
}

// isFatal reports whether err should evict the sender.
func isFatal(err error) bool {
	return errors.Is(err, ErrMalformedFrame) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrUnhandledFrameType)
}
