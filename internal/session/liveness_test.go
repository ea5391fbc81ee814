package session

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/nyx/internal/domain"
)

func TestPongKeepsSessionAlive(t *testing.T) {
	require := require.New(t)
	clock := clockwork.NewFakeClock()
	cfg := testConfig()
	cfg.PingInterval = 30 * time.Second
	a := startPeer(t, newRelay(), cfg, clock, newPipeNet(false).factory())
	code, err := a.s.IssueCode()
	require.NoError(err)
	a.waitMessage(t, "code "+code+" registered")

	for i := 1; i <= 3; i++ {
		clock.Advance(30 * time.Second)
		require.Eventually(func() bool { return len(a.link.sentOf(domain.TypePing)) == i }, waitFor, tick)
		// let the pong land before the pong timer could fire
		require.Eventually(func() bool {
			var awaiting bool
			_ = a.s.call(func() error {
				awaiting = a.s.live.awaiting
				return nil
			})
			return !awaiting
		}, waitFor, tick)
	}
	clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	_, lost := a.obs.status("connection lost")
	require.False(lost)
	require.False(a.link.closed.Load())
}

func TestMissedPongResetsSession(t *testing.T) {
	require := require.New(t)
	relay := newRelay()
	clock := clockwork.NewFakeClock()
	cfg := testConfig()
	net := newPipeNet(false)
	a := startPeer(t, relay, testConfig(), clock, net.factory())
	cfg.PingInterval = 30 * time.Second
	b := startPeer(t, relay, cfg, clock, net.factory())
	connectPeers(t, a, b)

	b.link.mu.Lock()
	b.link.mutePong = true
	b.link.mu.Unlock()

	require.Eventually(func() bool {
		clock.Advance(5 * time.Second)
		_, lost := b.obs.status("connection lost")
		return lost
	}, waitFor, tick)

	st, _ := b.obs.status("connection lost")
	require.Equal(domain.KindLiveness, st.Kind)
	require.Equal(KeyReady, st.Negotiation)
	require.Equal(Unestablished, st.Channel)
	require.Empty(st.SAS)
	require.Empty(st.PeerCode)
	require.Eventually(b.link.closed.Load, waitFor, tick)
}
