package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/domain"
	"github.com/dkeye/nyx/internal/session"
)

const (
	channelLabel = "nyx"
	// room for a 64 KiB chunk plus its CBOR envelope and AEAD tag
	maxMessageSize = 256 * 1024
)

var ErrNotOpen = errors.New("data channel not open")

type Options struct {
	ICEServers []string
	// LowWater is the buffered amount under which the drained event fires.
	LowWater uint64
	// Loopback allows loopback candidates, for same-host peers.
	Loopback bool
}

// NewFactory returns a session.TransportFactory backed by pion.
func NewFactory(opts Options) session.TransportFactory {
	se := webrtc.SettingEngine{}
	se.SetSCTPMaxMessageSize(maxMessageSize)
	se.SetIncludeLoopbackCandidate(opts.Loopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	conf := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}
	return func(ev session.TransportEvents) (session.PeerTransport, error) {
		return newConnection(api, conf, opts.LowWater, ev)
	}
}

// WebRTCConnection is one peer connection carrying a single ordered,
// reliable data channel.
type WebRTCConnection struct {
	pc       *webrtc.PeerConnection
	events   session.TransportEvents
	lowWater uint64

	mu     sync.Mutex
	dc     *webrtc.DataChannel
	closed bool
}

func newConnection(api *webrtc.API, conf webrtc.Configuration, lowWater uint64, ev session.TransportEvents) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(conf)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{pc: pc, events: ev, lowWater: lowWater}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		ev.OnCandidate(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnConnectionStateChange(c.onState)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != channelLabel {
			log.Warn().Str("module", "webrtc").Str("label", dc.Label()).Msg("unexpected data channel")
			return
		}
		c.bind(dc)
	})
	return c, nil
}

// onState ends the transport on Failed or Closed. Disconnected is often
// transient and ICE may recover from it, so it is only logged.
func (c *WebRTCConnection) onState(s webrtc.PeerConnectionState) {
	log.Info().Str("module", "webrtc").Str("peer_connection_state", s.String()).Msg("Peer state")
	switch s {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		c.fireClosed()
	}
}

func (c *WebRTCConnection) bind(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.SetBufferedAmountLowThreshold(c.lowWater)
	dc.OnBufferedAmountLow(c.events.OnDrained)
	dc.OnOpen(func() {
		log.Info().Str("module", "webrtc").Str("label", dc.Label()).Msg("data channel open")
		c.events.OnOpen()
	})
	dc.OnClose(c.fireClosed)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.events.OnMessage(msg.Data)
	})
}

func (c *WebRTCConnection) fireClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.events.OnClosed()
}

func (c *WebRTCConnection) CreateOffer() (domain.SessionDescription, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return domain.SessionDescription{}, err
	}
	c.bind(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (c *WebRTCConnection) AcceptOffer(d domain.SessionDescription) (domain.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(toPion(d)); err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (c *WebRTCConnection) SetAnswer(d domain.SessionDescription) error {
	return c.pc.SetRemoteDescription(toPion(d))
}

func (c *WebRTCConnection) AddCandidate(cand domain.ICECandidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *WebRTCConnection) channel() *webrtc.DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc
}

func (c *WebRTCConnection) Send(b []byte) error {
	dc := c.channel()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}
	return dc.Send(b)
}

func (c *WebRTCConnection) BufferedAmount() uint64 {
	dc := c.channel()
	if dc == nil {
		return 0
	}
	return dc.BufferedAmount()
}

// Close tears the connection down without firing OnClosed.
func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Msg("closed")
	return nil
}

func toPion(d domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}
