// Package domain holds the wire model shared by the relay and the peers:
// signaling envelopes, encrypted payloads, rendezvous codes and the error taxonomy.
package domain

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	TypeRegisterCode        MessageType = "register_code"
	TypeRegistrationSuccess MessageType = "registration_success"
	TypeSessionOffer        MessageType = "session_offer"
	TypeSessionAnswer       MessageType = "session_answer"
	TypeWebRTCOffer         MessageType = "webrtc_offer"
	TypeWebRTCAnswer        MessageType = "webrtc_answer"
	TypeICECandidate        MessageType = "webrtc_ice_candidate"
	TypeEncryptedMessage    MessageType = "encrypted_message"
	TypeTerminateSession    MessageType = "terminate_session"
	TypePing                MessageType = "ping"
	TypePong                MessageType = "pong"
	TypeError               MessageType = "error"
)

// Routable reports whether the relay forwards envelopes of this type by toCode.
func (t MessageType) Routable() bool {
	switch t {
	case TypeSessionOffer, TypeSessionAnswer,
		TypeWebRTCOffer, TypeWebRTCAnswer, TypeICECandidate,
		TypeEncryptedMessage, TypeTerminateSession:
		return true
	}
	return false
}

// SessionDescription is an opaque transport description (SDP).
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a transport negotiation candidate.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Envelope is one signaling message on the relay link.
//
// Message is kept raw: for TypeError it is a JSON string, for
// TypeEncryptedMessage it is a Payload object. Attempt tags transport
// offers, answers and candidates with the initiator's negotiation
// attempt; zero means untagged.
type Envelope struct {
	Type        MessageType         `json:"type"`
	Code        string              `json:"code,omitempty"`
	ToCode      string              `json:"toCode,omitempty"`
	FromCode    string              `json:"fromCode,omitempty"`
	PublicKey   string              `json:"publicKey,omitempty"`
	Description *SessionDescription `json:"description,omitempty"`
	Candidate   *ICECandidate       `json:"candidate,omitempty"`
	Attempt     uint64              `json:"attempt,omitempty"`
	Message     json.RawMessage     `json:"message,omitempty"`
}

// NewError builds a relay error envelope carrying a human-readable message.
func NewError(msg string) Envelope {
	raw, _ := json.Marshal(msg)
	return Envelope{Type: TypeError, Message: raw}
}

// ErrorText returns the message of a TypeError envelope.
func (e Envelope) ErrorText() string {
	var s string
	if err := json.Unmarshal(e.Message, &s); err != nil {
		return string(e.Message)
	}
	return s
}

// WithPayload returns an encrypted_message envelope addressed to toCode.
func WithPayload(toCode, fromCode string, p *Payload) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, E(KindParse, "envelope.payload", err)
	}
	return Envelope{Type: TypeEncryptedMessage, ToCode: toCode, FromCode: fromCode, Message: raw}, nil
}

// Payload decodes the message field of an encrypted_message envelope.
func (e Envelope) Payload() (*Payload, error) {
	if e.Type != TypeEncryptedMessage || len(e.Message) == 0 {
		return nil, E(KindParse, "envelope.payload", fmt.Errorf("no payload in %s", e.Type))
	}
	var p Payload
	if err := json.Unmarshal(e.Message, &p); err != nil {
		return nil, E(KindParse, "envelope.payload", err)
	}
	return &p, nil
}

// ParseEnvelope decodes a frame received on the relay link.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, E(KindParse, "envelope.parse", err)
	}
	if env.Type == "" {
		return Envelope{}, E(KindParse, "envelope.parse", fmt.Errorf("missing type"))
	}
	return env, nil
}
