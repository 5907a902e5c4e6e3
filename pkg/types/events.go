package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event names on the wire.
const (
	EventJoinConsultation = "joinConsultation"
	EventMessage          = "message"
	EventJoined           = "joined"
	EventError            = "error"
)

// Envelope is the wire frame for every real-time event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// InboundEvent is the closed set of client-to-server events. Only types in
// this package implement it.
type InboundEvent interface {
	EventName() string
	inbound()
}

// JoinConsultation asks to join a consultation room.
type JoinConsultation struct {
	ConsultationID string `json:"consultationId"`
}

// SendMessage asks to relay a chat line into a consultation room.
type SendMessage struct {
	ConsultationID string `json:"consultationId"`
	Text           string `json:"text"`
}

func (JoinConsultation) EventName() string { return EventJoinConsultation }
func (SendMessage) EventName() string      { return EventMessage }
func (JoinConsultation) inbound()          {}
func (SendMessage) inbound()               {}

// DecodeInbound parses a client frame into its event variant.
// FUNCTIONAL DISCOVERY: Unknown event names are an error, never ignored
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch env.Event {
	case EventJoinConsultation:
		var ev JoinConsultation
		if err := decodeData(env.Data, &ev); err != nil {
			return nil, err
		}
		ev.ConsultationID = strings.TrimSpace(ev.ConsultationID)
		if ev.ConsultationID == "" {
			return nil, ErrMissingConsultationID
		}
		return ev, nil
	case EventMessage:
		var ev SendMessage
		if err := decodeData(env.Data, &ev); err != nil {
			return nil, err
		}
		ev.ConsultationID = strings.TrimSpace(ev.ConsultationID)
		if ev.ConsultationID == "" {
			return nil, ErrMissingConsultationID
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// OutboundEvent is the closed set of server-to-client events.
type OutboundEvent interface {
	EventName() string
	outbound()
}

// Joined acknowledges a successful room join to the requester only.
type Joined struct {
	ConsultationID string `json:"consultationId"`
	Room           string `json:"room"`
}

// MessageEvent carries a persisted message to every room member.
type MessageEvent struct {
	MessageView
}

// ErrorEvent reports a failed operation to the requester only.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (Joined) EventName() string       { return EventJoined }
func (MessageEvent) EventName() string { return EventMessage }
func (ErrorEvent) EventName() string   { return EventError }
func (Joined) outbound()               {}
func (MessageEvent) outbound()         {}
func (ErrorEvent) outbound()           {}

type outboundFrame struct {
	Event string        `json:"event"`
	Data  OutboundEvent `json:"data"`
}

// EncodeOutbound renders an outbound event as a wire frame.
func EncodeOutbound(ev OutboundEvent) ([]byte, error) {
	return json.Marshal(outboundFrame{Event: ev.EventName(), Data: ev})
}
