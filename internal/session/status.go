package session

import (
	"github.com/dkeye/nyx/internal/domain"
)

type NegotiationState int

const (
	KeyReady NegotiationState = iota
	AwaitingOffer
	OfferSent
	SecretDerived
)

func (s NegotiationState) String() string {
	switch s {
	case KeyReady:
		return "KEY_READY"
	case AwaitingOffer:
		return "AWAITING_OFFER"
	case OfferSent:
		return "OFFER_SENT"
	case SecretDerived:
		return "SECRET_DERIVED"
	}
	return "UNKNOWN"
}

type ChannelState int

const (
	Unestablished ChannelState = iota
	Negotiating
	Open
	Failed
	Fallback
	Closed
)

func (s ChannelState) String() string {
	switch s {
	case Unestablished:
		return "UNESTABLISHED"
	case Negotiating:
		return "NEGOTIATING"
	case Open:
		return "OPEN"
	case Failed:
		return "FAILED"
	case Fallback:
		return "FALLBACK"
	case Closed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Status is a snapshot of the session reported to the observer.
type Status struct {
	Negotiation NegotiationState
	Channel     ChannelState
	Code        string
	PeerCode    string
	SAS         string
	Verified    bool
	// Message is human readable. Kind is set when it reports a failure.
	Message string
	Kind    domain.Kind
}

// ReceivedFile is a reassembled inbound file. Data is owned by the
// receiver; the session keeps no copy.
type ReceivedFile struct {
	Meta domain.FileMetadata
	Data []byte
}

// Observer receives session notifications on the session goroutine.
// Implementations must not block and must not call back into the
// session's blocking commands.
type Observer interface {
	OnStatus(Status)
	OnText(string)
	OnFile(ReceivedFile)
}
