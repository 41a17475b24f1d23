package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeTranscript MessageType = "transcript"
	TypeAIResponse MessageType = "aiResponse"
	TypeAudio      MessageType = "audio"
	TypeError      MessageType = "error"

	// TypeUserSpeech is the only inbound control envelope: a typed prompt that
	// bypasses STT.
	TypeUserSpeech MessageType = "userSpeech"
)

var (
	ErrClientProtocol  = errors.New("client protocol error")
	ErrUnsupportedType = errors.New("unsupported message type")
)

// Event is an outbound envelope. The set of implementations is closed:
// Transcript, AIResponse, Audio and ErrorEvent.
type Event interface {
	EventType() MessageType
	isEvent()
}

type Transcript struct {
	Text    string
	IsFinal bool
}

type AIResponse struct {
	Text string
}

// Audio carries synthesized audio. Payload is base64 encoded on the wire.
type Audio struct {
	Payload []byte
}

type ErrorEvent struct {
	Message string
}

func (Transcript) EventType() MessageType { return TypeTranscript }
func (AIResponse) EventType() MessageType { return TypeAIResponse }
func (Audio) EventType() MessageType      { return TypeAudio }
func (ErrorEvent) EventType() MessageType { return TypeError }

func (Transcript) isEvent() {}
func (AIResponse) isEvent() {}
func (Audio) isEvent()      {}
func (ErrorEvent) isEvent() {}

type transcriptWire struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	IsFinal bool        `json:"is_final"`
}

type textWire struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type audioWire struct {
	Type  MessageType `json:"type"`
	Audio []byte      `json:"audio"`
}

type errorWire struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func (e Transcript) MarshalJSON() ([]byte, error) {
	return json.Marshal(transcriptWire{Type: TypeTranscript, Text: e.Text, IsFinal: e.IsFinal})
}

func (e AIResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(textWire{Type: TypeAIResponse, Text: e.Text})
}

func (e Audio) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = []byte{}
	}
	return json.Marshal(audioWire{Type: TypeAudio, Audio: payload})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorWire{Type: TypeError, Message: e.Message})
}

// EncodeEvent renders an outbound envelope as a UTF-8 JSON text frame.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("encode event: nil event")
	}
	return json.Marshal(ev)
}

// ParseServerEvent decodes an outbound envelope. It is used by clients of the
// relay (the probe CLI and tests).
func ParseServerEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	switch env.Type {
	case TypeTranscript:
		var msg transcriptWire
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return Transcript{Text: msg.Text, IsFinal: msg.IsFinal}, nil
	case TypeAIResponse:
		var msg textWire
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return AIResponse{Text: msg.Text}, nil
	case TypeAudio:
		var msg audioWire
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return Audio{Payload: msg.Audio}, nil
	case TypeError:
		var msg errorWire
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return ErrorEvent{Message: msg.Message}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

type Envelope struct {
	Type MessageType `json:"type"`
}

// FrameKind is the transport-level frame type of an inbound message.
type FrameKind int

const (
	FrameText FrameKind = iota + 1
	FrameBinary
)

// Inbound is the result of decoding a client frame: either an AudioFrame or a
// ControlEnvelope.
type Inbound interface {
	isInbound()
}

// AudioFrame is raw PCM16LE mono audio. The slice is owned by whoever holds
// the frame and is never modified after decoding.
type AudioFrame []byte

// ControlEnvelope is a JSON control message from the client.
type ControlEnvelope struct {
	Type MessageType `json:"type"`
	Text string      `json:"text,omitempty"`
}

func (AudioFrame) isInbound()      {}
func (ControlEnvelope) isInbound() {}

// Decode classifies a raw client frame. Binary frames are always audio. Text
// frames must be a known JSON control envelope; anything else is reported as
// ErrClientProtocol and never treated as audio.
func Decode(kind FrameKind, raw []byte) (Inbound, error) {
	switch kind {
	case FrameBinary:
		return AudioFrame(raw), nil
	case FrameText:
		msg, err := parseControl(raw)
		if err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame kind %d", ErrClientProtocol, kind)
	}
}

func parseControl(raw []byte) (ControlEnvelope, error) {
	var msg ControlEnvelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ControlEnvelope{}, fmt.Errorf("%w: invalid envelope: %v", ErrClientProtocol, err)
	}
	switch msg.Type {
	case TypeUserSpeech:
		if strings.TrimSpace(msg.Text) == "" {
			return ControlEnvelope{}, fmt.Errorf("%w: userSpeech requires text", ErrClientProtocol)
		}
		return msg, nil
	case "":
		return ControlEnvelope{}, fmt.Errorf("%w: missing type", ErrClientProtocol)
	default:
		return ControlEnvelope{}, fmt.Errorf("%w: %w %q", ErrClientProtocol, ErrUnsupportedType, msg.Type)
	}
}
