package signal

import (
	"github.com/dkeye/nyx/internal/core"
	"github.com/dkeye/nyx/internal/domain"
)

func (ctl *SignalWSController) handlePing(conn core.SignalConnection) {
	ctl.sendJSON(conn, domain.Envelope{Type: domain.TypePong})
}
