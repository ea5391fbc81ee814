package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	router "github.com/dkeye/nyx/internal/adapters/http"
	"github.com/dkeye/nyx/internal/adapters/signal"
	"github.com/dkeye/nyx/internal/app"
	"github.com/dkeye/nyx/internal/config"
	"github.com/dkeye/nyx/internal/domain"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{Mode: "test", Secret: "test-secret", ReadLimit: 1 << 20}
	cfg.Relay.SendBuffer = 16

	clock := clockwork.NewRealClock()
	promReg := prometheus.NewRegistry()
	relay := app.NewRelay(app.NewRegistry(clock, time.Second, nil), app.NewMetrics(promReg))
	ctrl := signal.NewSignalWSController(relay, signal.NewRegisterRateLimiter(clock, 10, time.Minute), cfg)

	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, relay, ctrl, promReg))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) domain.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	env, err := domain.ParseEnvelope(data)
	require.NoError(t, err)
	return env
}

func TestSignalEndToEnd(t *testing.T) {
	require := require.New(t)
	srv := newServer(t)
	alice, bob := dial(t, srv), dial(t, srv)

	require.NoError(alice.WriteJSON(domain.Envelope{Type: domain.TypeRegisterCode, Code: "AAAAAAAA"}))
	require.Equal(domain.TypeRegistrationSuccess, read(t, alice).Type)
	require.NoError(bob.WriteJSON(domain.Envelope{Type: domain.TypeRegisterCode, Code: "BBBBBBBB"}))
	require.Equal(domain.TypeRegistrationSuccess, read(t, bob).Type)

	require.NoError(alice.WriteJSON(domain.Envelope{Type: domain.TypeSessionOffer, ToCode: "BBBBBBBB", FromCode: "AAAAAAAA", PublicKey: "pk"}))
	got := read(t, bob)
	require.Equal(domain.TypeSessionOffer, got.Type)
	require.Equal("AAAAAAAA", got.FromCode)

	require.NoError(bob.WriteJSON(domain.Envelope{Type: domain.TypePing}))
	require.Equal(domain.TypePong, read(t, bob).Type)
}

func TestHealthAndStatus(t *testing.T) {
	require := require.New(t)
	srv := newServer(t)
	ws := dial(t, srv)
	require.NoError(ws.WriteJSON(domain.Envelope{Type: domain.TypeRegisterCode, Code: "AAAAAAAA"}))
	read(t, ws)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
	var health struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Codes       int    `json:"codes"`
	}
	require.NoError(json.NewDecoder(resp.Body).Decode(&health))
	require.Equal("ok", health.Status)
	require.Equal(1, health.Connections)
	require.Equal(1, health.Codes)

	st, err := http.Get(srv.URL + "/ws-status")
	require.NoError(err)
	defer st.Body.Close()
	var status struct {
		Codes []string `json:"codes"`
	}
	require.NoError(json.NewDecoder(st.Body).Decode(&status))
	require.Equal([]string{"AAAAAAAA"}, status.Codes)

	m, err := http.Get(srv.URL + "/metrics")
	require.NoError(err)
	defer m.Body.Close()
	require.Equal(http.StatusOK, m.StatusCode)
}
