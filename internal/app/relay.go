package app

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/core"
	"github.com/dkeye/nyx/internal/domain"
)

var ErrMissingTarget = errors.New("missing target peer code (toCode)")

// PeerUnavailableError reports a toCode with no live, writable connection.
type PeerUnavailableError struct {
	Code string
}

func (e *PeerUnavailableError) Error() string {
	return fmt.Sprintf("peer %s not found or offline", e.Code)
}

// Relay forwards opaque envelopes between rendezvous codes.
// It holds no key material and never decodes payloads.
type Relay struct {
	Registry *Registry
	Metrics  *Metrics
}

func NewRelay(reg *Registry, m *Metrics) *Relay {
	return &Relay{Registry: reg, Metrics: m}
}

// Register binds code to the connection and returns the acknowledgement.
func (r *Relay) Register(id core.ConnID, conn core.SignalConnection, code string) (domain.Envelope, error) {
	if err := r.Registry.Register(id, conn, code); err != nil {
		return domain.Envelope{}, err
	}
	r.Metrics.incRegistrations()
	return domain.Envelope{Type: domain.TypeRegistrationSuccess, Code: code}, nil
}

// Route forwards fields to the connection owning its toCode. Only toCode
// is removed; every other field is passed through untouched. fields is
// modified in place.
func (r *Relay) Route(typ domain.MessageType, fields map[string]json.RawMessage) error {
	var to string
	if raw, ok := fields["toCode"]; ok {
		_ = json.Unmarshal(raw, &to)
	}
	if to == "" {
		r.Metrics.incRouteFailures()
		return domain.E(domain.KindRouting, "relay.route", ErrMissingTarget)
	}

	conn, ok := r.Registry.Lookup(to)
	if !ok {
		r.Metrics.incRouteFailures()
		return domain.E(domain.KindRouting, "relay.route", &PeerUnavailableError{Code: to})
	}

	delete(fields, "toCode")
	frame, err := json.Marshal(fields)
	if err != nil {
		return domain.E(domain.KindParse, "relay.route", err)
	}
	if err := conn.TrySend(frame); err != nil {
		r.Metrics.incRouteFailures()
		log.Warn().Err(err).Str("module", "app.relay").Str("to", to).Str("type", string(typ)).Msg("target not writable")
		return domain.E(domain.KindRouting, "relay.route", &PeerUnavailableError{Code: to})
	}
	r.Metrics.incRouted(typ)
	log.Debug().Str("module", "app.relay").Str("to", to).Str("type", string(typ)).Msg("relayed")
	return nil
}

// Disconnect starts the grace period for the connection's code.
func (r *Relay) Disconnect(id core.ConnID) {
	r.Registry.Disconnect(id)
}

// ErrorText renders err as the message of an error envelope.
func ErrorText(err error) string {
	var pu *PeerUnavailableError
	switch {
	case errors.As(err, &pu):
		return fmt.Sprintf("Peer %s not found or offline.", pu.Code)
	case errors.Is(err, ErrMissingTarget):
		return "Missing target peer code (toCode)."
	case errors.Is(err, domain.ErrCodeEmpty):
		return "Registration requires a code."
	case errors.Is(err, domain.ErrCodeInvalid):
		return "Invalid code format."
	case domain.KindOf(err) == domain.KindParse:
		return "Invalid message format."
	}
	return "Internal relay error."
}
