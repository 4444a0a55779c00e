// pkg/network/protocol.go
package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// MessageType defines the type of network message
type MessageType byte

const (
	ConnectRequest MessageType = iota
	ConnectResponse
	DisconnectNotification
	SampleUpdate
	EventNotice
	KeyInput
	ModeRequest
	PingRequest
	PingResponse
)

var messageTypeNames = map[MessageType]string{
	ConnectRequest:         "connect_request",
	ConnectResponse:        "connect_response",
	DisconnectNotification: "disconnect",
	SampleUpdate:           "sample",
	EventNotice:            "event",
	KeyInput:               "key",
	ModeRequest:            "mode",
	PingRequest:            "ping",
	PingResponse:           "pong",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// MaxPayloadSize is the largest payload a uint16 length prefix can carry.
const MaxPayloadSize = 65535

// ErrMessageTooLarge is returned when a payload does not fit the frame.
var ErrMessageTooLarge = errors.New("message too large")

// ConnectRequestData opens an operator session.
type ConnectRequestData struct {
	OperatorName string `json:"operatorName"`
}

// ConnectResponseData answers a ConnectRequest. On success it carries the
// envelope and the latest sample so the client can draw immediately.
type ConnectResponseData struct {
	Success  bool             `json:"success"`
	Error    string           `json:"error,omitempty"`
	ClientID string           `json:"clientID,omitempty"`
	Envelope physics.Envelope `json:"envelope"`
	Sample   engine.Sample    `json:"sample"`
}

// DisconnectData optionally explains a disconnect.
type DisconnectData struct {
	Reason string `json:"reason,omitempty"`
}

// KeyInputData is one press or release of a key.
type KeyInputData struct {
	Code    string `json:"code"`
	Pressed bool   `json:"pressed"`
}

// ModeRequestData asks for a mode change. Toggle takes precedence over Mode.
type ModeRequestData struct {
	Mode   string `json:"mode,omitempty"`
	Toggle bool   `json:"toggle,omitempty"`
}

// PingData is echoed back unchanged by the server.
type PingData struct {
	SentUnixNano int64 `json:"sentUnixNano"`
}

// encodeFrame serializes msg into a complete frame: 1-byte type, 2-byte
// big-endian payload length, JSON payload. A nil msg has an empty payload.
func encodeFrame(msgType MessageType, msg interface{}) ([]byte, error) {
	var data []byte
	if msg != nil {
		var err error
		data, err = json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", msgType, err)
		}
	}

	if len(data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %s payload is %d bytes", ErrMessageTooLarge, msgType, len(data))
	}

	frame := make([]byte, 3+len(data))
	frame[0] = byte(msgType)
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(data)))
	copy(frame[3:], data)
	return frame, nil
}

// WriteMessage writes one frame to w with a single Write call.
func WriteMessage(w io.Writer, msgType MessageType, msg interface{}) error {
	frame, err := encodeFrame(msgType, msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadMessage reads one frame from r.
func ReadMessage(r io.Reader) (MessageType, []byte, error) {
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	msgLen := binary.BigEndian.Uint16(header[1:3])
	data := make([]byte, msgLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, err
	}

	return MessageType(header[0]), data, nil
}

// isKeyRelease reports whether a frame releases a steering key. Releases
// bypass rate limiting so a held key can always be let go.
func isKeyRelease(msgType MessageType, data []byte) bool {
	if msgType != KeyInput {
		return false
	}
	var in KeyInputData
	return json.Unmarshal(data, &in) == nil && !in.Pressed
}
