package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/nyx/internal/app"
	"github.com/dkeye/nyx/internal/config"
	"github.com/dkeye/nyx/internal/core"
	"github.com/dkeye/nyx/internal/domain"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testConfig() config.ClientConfig {
	return config.ClientConfig{
		CodeTTL:                60 * time.Second,
		PingInterval:           0,
		PongTimeout:            5 * time.Second,
		ChunkSize:              64 * 1024,
		BufferLowWater:         1024 * 1024,
		NegotiationTimeout:     20 * time.Second,
		MaxNegotiationAttempts: 3,
	}
}

// recorder is an Observer that keeps everything it is told.
type recorder struct {
	mu       sync.Mutex
	statuses []Status
	texts    []string
	files    []ReceivedFile
}

func (r *recorder) OnStatus(s Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recorder) OnText(t string) {
	r.mu.Lock()
	r.texts = append(r.texts, t)
	r.mu.Unlock()
}

func (r *recorder) OnFile(f ReceivedFile) {
	r.mu.Lock()
	r.files = append(r.files, f)
	r.mu.Unlock()
}

func (r *recorder) status(msg string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if s.Message == msg {
			return s, true
		}
	}
	return Status{}, false
}

func (r *recorder) textList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func (r *recorder) fileList() []ReceivedFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReceivedFile(nil), r.files...)
}

// mailbox is the relay-side connection of a memLink. Frames are handed
// to the session in order from their own goroutine.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames []core.Frame
	closed bool
}

func newMailbox(deliver func(domain.Envelope)) *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	go func() {
		for {
			m.mu.Lock()
			for len(m.frames) == 0 && !m.closed {
				m.cond.Wait()
			}
			if m.closed {
				m.mu.Unlock()
				return
			}
			f := m.frames[0]
			m.frames = m.frames[1:]
			m.mu.Unlock()
			env, err := domain.ParseEnvelope(f)
			if err == nil {
				deliver(env)
			}
		}
	}()
	return m
}

func (m *mailbox) TrySend(f core.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.ErrClosed
	}
	m.frames = append(m.frames, f)
	m.cond.Signal()
	return nil
}

func (m *mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// memLink connects a session to an in-process app.Relay.
type memLink struct {
	id     core.ConnID
	relay  *app.Relay
	box    *mailbox
	s      *Session
	closed atomic.Bool

	mu   sync.Mutex
	sent []domain.Envelope
	// drop pings when set, so no pong ever comes back
	mutePong bool
}

var linkSeq atomic.Int64

func newMemLink(relay *app.Relay, s *Session) *memLink {
	l := &memLink{
		id:    core.ConnID(fmt.Sprintf("conn-%d", linkSeq.Add(1))),
		relay: relay,
		s:     s,
	}
	l.box = newMailbox(s.Inbound)
	return l
}

func (l *memLink) Send(env domain.Envelope) error {
	if l.closed.Load() {
		return core.ErrClosed
	}
	l.mu.Lock()
	l.sent = append(l.sent, env)
	mute := l.mutePong
	l.mu.Unlock()

	reply := func(v domain.Envelope) {
		b, _ := json.Marshal(v)
		_ = l.box.TrySend(b)
	}
	switch env.Type {
	case domain.TypeRegisterCode:
		ack, err := l.relay.Register(l.id, l.box, env.Code)
		if err != nil {
			reply(domain.NewError(app.ErrorText(err)))
			return nil
		}
		reply(ack)
	case domain.TypePing:
		if !mute {
			reply(domain.Envelope{Type: domain.TypePong})
		}
	default:
		b, err := json.Marshal(env)
		if err != nil {
			return err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(b, &fields); err != nil {
			return err
		}
		if err := l.relay.Route(env.Type, fields); err != nil {
			reply(domain.NewError(app.ErrorText(err)))
		}
	}
	return nil
}

func (l *memLink) BufferedAmount() uint64 { return 0 }

func (l *memLink) Close() {
	if l.closed.Swap(true) {
		return
	}
	l.relay.Disconnect(l.id)
	l.box.Close()
	go l.s.LinkClosed(l, nil)
}

func (l *memLink) sentOf(t domain.MessageType) []domain.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Envelope
	for _, e := range l.sent {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// pipeNet pairs pipeTransports by the id carried in their descriptions.
type pipeNet struct {
	mu     sync.Mutex
	seq    int
	offers map[string]*pipeTransport
	// broken transports never open
	broken bool
	made   atomic.Int64
}

func newPipeNet(broken bool) *pipeNet {
	return &pipeNet{offers: make(map[string]*pipeTransport), broken: broken}
}

func (n *pipeNet) factory() TransportFactory {
	return func(ev TransportEvents) (PeerTransport, error) {
		n.made.Add(1)
		t := &pipeTransport{net: n, ev: ev, inbox: make(chan []byte, 4096)}
		go func() {
			for b := range t.inbox {
				ev.OnMessage(b)
			}
		}()
		return t, nil
	}
}

type pipeTransport struct {
	net   *pipeNet
	ev    TransportEvents
	inbox chan []byte

	mu        sync.Mutex
	peer      *pipeTransport
	closed    bool
	added     []domain.ICECandidate
	remoteSet bool
}

func (t *pipeTransport) CreateOffer() (domain.SessionDescription, error) {
	t.net.mu.Lock()
	t.net.seq++
	id := fmt.Sprintf("pipe-%d", t.net.seq)
	t.net.offers[id] = t
	t.net.mu.Unlock()
	go t.ev.OnCandidate(domain.ICECandidate{Candidate: "candidate:" + id + ":offerer"})
	return domain.SessionDescription{Type: "offer", SDP: id}, nil
}

func (t *pipeTransport) AcceptOffer(d domain.SessionDescription) (domain.SessionDescription, error) {
	t.net.mu.Lock()
	o, ok := t.net.offers[d.SDP]
	t.net.mu.Unlock()
	if !ok {
		return domain.SessionDescription{}, fmt.Errorf("unknown offer %s", d.SDP)
	}
	t.mu.Lock()
	t.peer = o
	t.remoteSet = true
	t.mu.Unlock()
	o.mu.Lock()
	o.peer = t
	o.mu.Unlock()
	go t.ev.OnCandidate(domain.ICECandidate{Candidate: "candidate:" + d.SDP + ":answerer"})
	return domain.SessionDescription{Type: "answer", SDP: d.SDP}, nil
}

func (t *pipeTransport) SetAnswer(domain.SessionDescription) error {
	t.mu.Lock()
	t.remoteSet = true
	peer := t.peer
	t.mu.Unlock()
	if peer == nil {
		return fmt.Errorf("no peer")
	}
	if !t.net.broken {
		go t.ev.OnOpen()
		go peer.ev.OnOpen()
	}
	return nil
}

func (t *pipeTransport) AddCandidate(c domain.ICECandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.remoteSet {
		return fmt.Errorf("candidate before remote description")
	}
	t.added = append(t.added, c)
	return nil
}

func (t *pipeTransport) addedCandidates() []domain.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.ICECandidate(nil), t.added...)
}

func (t *pipeTransport) Send(b []byte) error {
	t.mu.Lock()
	peer, closed := t.peer, t.closed
	t.mu.Unlock()
	if closed || peer == nil {
		return fmt.Errorf("pipe not connected")
	}
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return fmt.Errorf("peer closed")
	}
	peer.inbox <- append([]byte(nil), b...)
	return nil
}

func (t *pipeTransport) BufferedAmount() uint64 { return 0 }

func (t *pipeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.inbox)
	}
	return nil
}

// peerEnv bundles one running session with its link and observer.
type peerEnv struct {
	s    *Session
	link *memLink
	obs  *recorder
}

func startPeer(t *testing.T, relay *app.Relay, cfg config.ClientConfig, clock clockwork.Clock, factory TransportFactory) *peerEnv {
	t.Helper()
	obs := &recorder{}
	s, err := New(cfg, clock, factory, obs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	link := newMemLink(relay, s)
	require.NoError(t, s.Attach(link))
	return &peerEnv{s: s, link: link, obs: obs}
}

func newRelay() *app.Relay {
	return app.NewRelay(app.NewRegistry(clockwork.NewRealClock(), time.Second, nil), nil)
}

func (p *peerEnv) waitStatus(t *testing.T, cond func(Status) bool) Status {
	t.Helper()
	var last Status
	require.Eventually(t, func() bool {
		st, err := p.s.Status()
		if err != nil {
			return false
		}
		last = st
		return cond(st)
	}, waitFor, tick)
	return last
}

func (p *peerEnv) waitMessage(t *testing.T, msg string) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		var ok bool
		st, ok = p.obs.status(msg)
		return ok
	}, waitFor, tick, "no status %q", msg)
	return st
}

// connectPeers runs the key exchange with b as initiator and waits until
// both sides derived the secret.
func connectPeers(t *testing.T, a, b *peerEnv) string {
	t.Helper()
	code, err := a.s.IssueCode()
	require.NoError(t, err)
	a.waitStatus(t, func(st Status) bool { return st.Code == code })
	a.waitMessage(t, fmt.Sprintf("code %s registered", code))
	require.NoError(t, b.s.Connect(code))
	a.waitStatus(t, func(st Status) bool { return st.Negotiation == SecretDerived })
	b.waitStatus(t, func(st Status) bool { return st.Negotiation == SecretDerived })
	return code
}

// recTransport is an open direct channel that records what is sent on it.
type recTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (r *recTransport) CreateOffer() (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "offer", SDP: "rec"}, nil
}

func (r *recTransport) AcceptOffer(domain.SessionDescription) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "answer", SDP: "rec"}, nil
}

func (r *recTransport) SetAnswer(domain.SessionDescription) error { return nil }
func (r *recTransport) AddCandidate(domain.ICECandidate) error    { return nil }
func (r *recTransport) BufferedAmount() uint64                    { return 0 }

func (r *recTransport) Send(b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("transport closed")
	}
	r.sent = append(r.sent, append([]byte(nil), b...))
	return nil
}

func (r *recTransport) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recTransport) frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.sent...)
}
