package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/app"
	"github.com/dkeye/nyx/internal/core"
	"github.com/dkeye/nyx/internal/domain"
)

func (ctl *SignalWSController) handleRegister(
	id core.ConnID,
	conn core.SignalConnection,
	fields map[string]json.RawMessage,
) {
	if !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("registration rate limited")
		ctl.sendJSON(conn, domain.NewError("Too many registration attempts."))
		return
	}

	var code string
	if raw, ok := fields["code"]; ok {
		_ = json.Unmarshal(raw, &code)
	}
	ack, err := ctl.Relay.Register(id, conn, code)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("registration rejected")
		ctl.sendJSON(conn, domain.NewError(app.ErrorText(err)))
		return
	}
	ctl.sendJSON(conn, ack)
}

func (ctl *SignalWSController) handleRoute(
	id core.ConnID,
	conn core.SignalConnection,
	typ domain.MessageType,
	fields map[string]json.RawMessage,
) {
	if err := ctl.Relay.Route(typ, fields); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("type", string(typ)).Msg("route failed")
		ctl.sendJSON(conn, domain.NewError(app.ErrorText(err)))
	}
}
