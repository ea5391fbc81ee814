// Package wsclient is the peer side of the relay link.
package wsclient

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/core"
	"github.com/dkeye/nyx/internal/domain"
	"github.com/dkeye/nyx/internal/session"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 1024
)

// Handler receives link events. session.Session implements it.
type Handler interface {
	Inbound(domain.Envelope)
	LinkClosed(session.SignalLink, error)
	LinkDrained()
}

// Link is a relay connection with a bounded outbound queue. It tracks the
// bytes queued but not yet written so senders can pace themselves.
type Link struct {
	conn     *websocket.Conn
	send     chan []byte
	h        Handler
	lowWater uint64
	buffered atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// Dial connects to the relay at url and starts the link pumps.
func Dial(ctx context.Context, url string, lowWater uint64, h Handler) (*Link, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	l := &Link{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		h:        h,
		lowWater: lowWater,
	}
	go l.writePump()
	go l.readPump()
	log.Info().Str("module", "wsclient").Str("url", url).Msg("relay link up")
	return l, nil
}

func (l *Link) Send(env domain.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return domain.E(domain.KindParse, "wsclient.send", err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return core.ErrClosed
	}
	n := uint64(len(b))
	l.buffered.Add(n)
	select {
	case l.send <- b:
	default:
		l.buffered.Add(^(n - 1))
		return core.ErrBackpressure
	}
	return nil
}

func (l *Link) BufferedAmount() uint64 {
	return l.buffered.Load()
}

func (l *Link) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.send)
	_ = l.conn.Close()
	l.mu.Unlock()
}

func (l *Link) writePump() {
	defer l.Close()
	for b := range l.send {
		if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "wsclient").Msg("writePump set deadline")
			return
		}
		err := l.conn.WriteMessage(websocket.TextMessage, b)
		n := uint64(len(b))
		after := l.buffered.Add(^(n - 1))
		if err != nil {
			log.Error().Err(err).Str("module", "wsclient").Msg("writePump write error")
			return
		}
		if after <= l.lowWater && after+n > l.lowWater {
			l.h.LinkDrained()
		}
	}
}

func (l *Link) readPump() {
	var err error
	defer func() {
		l.Close()
		l.h.LinkClosed(l, err)
	}()
	for {
		var data []byte
		_, data, err = l.conn.ReadMessage()
		if err != nil {
			return
		}
		env, perr := domain.ParseEnvelope(data)
		if perr != nil {
			log.Warn().Err(perr).Str("module", "wsclient").Msg("bad frame from relay")
			continue
		}
		l.h.Inbound(env)
	}
}
