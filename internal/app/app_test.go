package app_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/nyx/internal/app"
	"github.com/dkeye/nyx/internal/core"
	"github.com/dkeye/nyx/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (f *fakeConn) TrySend(b core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, b)
	return nil
}

func (f *fakeConn) Close() {}

func (f *fakeConn) last(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.frames)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(f.frames[len(f.frames)-1], &m))
	return m
}

const grace = 10 * time.Second

func newRegistry() (*app.Registry, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return app.NewRegistry(clock, grace, nil), clock
}

func TestRegisterAndLookup(t *testing.T) {
	require := require.New(t)
	reg, _ := newRegistry()
	c := &fakeConn{}

	require.NoError(reg.Register("a", c, "AbCd1234"))
	got, ok := reg.Lookup("AbCd1234")
	require.True(ok)
	require.Same(c, got)

	_, ok = reg.Lookup("Zzzz9999")
	require.False(ok)
}

func TestRegisterRejectsBadCodes(t *testing.T) {
	require := require.New(t)
	reg, _ := newRegistry()

	err := reg.Register("a", &fakeConn{}, "")
	require.ErrorIs(err, domain.ErrCodeEmpty)
	require.Equal(domain.KindRegistration, domain.KindOf(err))

	err = reg.Register("a", &fakeConn{}, "short")
	require.ErrorIs(err, domain.ErrCodeInvalid)
	require.Zero(reg.Len())
}

func TestReRegisterReleasesOldCode(t *testing.T) {
	require := require.New(t)
	reg, _ := newRegistry()
	c := &fakeConn{}

	require.NoError(reg.Register("a", c, "AAAAAAAA"))
	require.NoError(reg.Register("a", c, "BBBBBBBB"))

	_, ok := reg.Lookup("AAAAAAAA")
	require.False(ok)
	_, ok = reg.Lookup("BBBBBBBB")
	require.True(ok)
	require.Equal([]string{"BBBBBBBB"}, reg.Codes())
}

func TestLastRegistrationWins(t *testing.T) {
	require := require.New(t)
	reg, _ := newRegistry()
	first, second := &fakeConn{}, &fakeConn{}

	require.NoError(reg.Register("a", first, "AAAAAAAA"))
	require.NoError(reg.Register("b", second, "AAAAAAAA"))

	got, ok := reg.Lookup("AAAAAAAA")
	require.True(ok)
	require.Same(second, got)

	_, owns := reg.CodeOf("a")
	require.False(owns)

	// the displaced connection leaving must not release the code
	reg.Disconnect("a")
	_, ok = reg.Lookup("AAAAAAAA")
	require.True(ok)
}

func TestDisconnectGracePeriod(t *testing.T) {
	require := require.New(t)
	reg, clock := newRegistry()

	require.NoError(reg.Register("a", &fakeConn{}, "AAAAAAAA"))
	reg.Disconnect("a")

	_, ok := reg.Lookup("AAAAAAAA")
	require.False(ok, "disconnected owner is not routable")
	require.Equal(1, reg.Len(), "code stays reserved")

	clock.Advance(grace - time.Second)
	require.Equal(1, reg.Len())

	clock.Advance(time.Second)
	require.Eventually(func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestReconnectWithinGraceKeepsCode(t *testing.T) {
	require := require.New(t)
	reg, clock := newRegistry()
	fresh := &fakeConn{}

	require.NoError(reg.Register("a", &fakeConn{}, "AAAAAAAA"))
	reg.Disconnect("a")
	require.NoError(reg.Register("a2", fresh, "AAAAAAAA"))

	clock.Advance(2 * grace)
	// give a stray timer goroutine a chance to run
	time.Sleep(20 * time.Millisecond)

	got, ok := reg.Lookup("AAAAAAAA")
	require.True(ok)
	require.Same(fresh, got)
}

func TestRelayRoutesAndStripsOnlyTarget(t *testing.T) {
	require := require.New(t)
	reg, _ := newRegistry()
	metrics := app.NewMetrics(prometheus.NewRegistry())
	relay := app.NewRelay(reg, metrics)
	bob := &fakeConn{}

	ack, err := relay.Register("b", bob, "BBBBBBBB")
	require.NoError(err)
	require.Equal(domain.TypeRegistrationSuccess, ack.Type)
	require.Equal("BBBBBBBB", ack.Code)

	var fields map[string]json.RawMessage
	require.NoError(json.Unmarshal([]byte(`{"type":"session_offer","toCode":"BBBBBBBB","fromCode":"AAAAAAAA","publicKey":"cGs=","extra":{"x":[1,2]}}`), &fields))
	require.NoError(relay.Route(domain.TypeSessionOffer, fields))

	got := bob.last(t)
	require.NotContains(got, "toCode")
	require.JSONEq(`"AAAAAAAA"`, string(got["fromCode"]))
	require.JSONEq(`"cGs="`, string(got["publicKey"]))
	require.JSONEq(`{"x":[1,2]}`, string(got["extra"]))
	require.Equal(1.0, testutil.ToFloat64(metrics.Routed.WithLabelValues("session_offer")))
	require.Equal(1.0, testutil.ToFloat64(metrics.Registrations))
}

func TestRelayRouteErrors(t *testing.T) {
	require := require.New(t)
	reg, _ := newRegistry()
	metrics := app.NewMetrics(prometheus.NewRegistry())
	relay := app.NewRelay(reg, metrics)

	err := relay.Route(domain.TypeEncryptedMessage, map[string]json.RawMessage{"type": json.RawMessage(`"encrypted_message"`)})
	require.ErrorIs(err, app.ErrMissingTarget)
	require.Equal(domain.KindRouting, domain.KindOf(err))

	err = relay.Route(domain.TypeEncryptedMessage, map[string]json.RawMessage{"toCode": json.RawMessage(`"Nobody12"`)})
	var pu *app.PeerUnavailableError
	require.True(errors.As(err, &pu))
	require.Equal("Nobody12", pu.Code)

	full := &fakeConn{full: true}
	_, err = relay.Register("f", full, "FFFFFFFF")
	require.NoError(err)
	err = relay.Route(domain.TypeEncryptedMessage, map[string]json.RawMessage{"toCode": json.RawMessage(`"FFFFFFFF"`)})
	require.True(errors.As(err, &pu))
	require.Equal(3.0, testutil.ToFloat64(metrics.RouteFailures))
}

func TestRelayDisconnectedTargetIsOffline(t *testing.T) {
	require := require.New(t)
	reg, _ := newRegistry()
	relay := app.NewRelay(reg, nil)

	_, err := relay.Register("b", &fakeConn{}, "BBBBBBBB")
	require.NoError(err)
	relay.Disconnect("b")

	err = relay.Route(domain.TypeICECandidate, map[string]json.RawMessage{"toCode": json.RawMessage(`"BBBBBBBB"`)})
	var pu *app.PeerUnavailableError
	require.ErrorAs(err, &pu)
}
