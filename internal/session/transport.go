package session

import "github.com/dkeye/nyx/internal/domain"

// SignalLink is the session's connection to the relay.
type SignalLink interface {
	Send(domain.Envelope) error
	// BufferedAmount reports bytes queued but not yet written.
	BufferedAmount() uint64
	Close()
}

// PeerTransport is one attempt at a direct channel to the peer.
type PeerTransport interface {
	// CreateOffer is used by the initiator.
	CreateOffer() (domain.SessionDescription, error)
	// AcceptOffer applies the remote offer and returns the local answer.
	AcceptOffer(domain.SessionDescription) (domain.SessionDescription, error)
	SetAnswer(domain.SessionDescription) error
	AddCandidate(domain.ICECandidate) error
	Send([]byte) error
	BufferedAmount() uint64
	Close() error
}

// TransportEvents are called from transport goroutines. The session wraps
// them so every event is tagged with the attempt that produced it.
type TransportEvents struct {
	OnCandidate func(domain.ICECandidate)
	OnOpen      func()
	// OnClosed reports that the data path failed or was closed.
	OnClosed  func()
	OnMessage func([]byte)
	// OnDrained reports that buffered outbound data fell below the
	// low-water mark.
	OnDrained func()
}

// TransportFactory builds a fresh transport for one negotiation attempt.
type TransportFactory func(TransportEvents) (PeerTransport, error)
