package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 10*time.Second, cfg.Relay.GracePeriod)
	require.Equal(t, 60*time.Second, cfg.Client.CodeTTL)
	require.Equal(t, 30*time.Second, cfg.Client.PingInterval)
	require.Equal(t, 5*time.Second, cfg.Client.PongTimeout)
	require.Equal(t, 64*1024, cfg.Client.ChunkSize)
	require.Equal(t, 3, cfg.Client.MaxNegotiationAttempts)
	require.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Client.ICEServers)
	require.False(t, cfg.Client.LoopbackCandidates)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte("port: 9090\nrelay:\n  grace_period: 3s\nclient:\n  chunk_size: 1024\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))

	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("NYX_MODE", "debug")
	t.Setenv("NYX_CLIENT_LOOPBACK_CANDIDATES", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "debug", cfg.Mode)
	require.Equal(t, 3*time.Second, cfg.Relay.GracePeriod)
	require.Equal(t, 1024, cfg.Client.ChunkSize)
	require.Equal(t, 5*time.Second, cfg.Client.PongTimeout)
	require.True(t, cfg.Client.LoopbackCandidates)
}

func TestLoadRejectsBadAttempts(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("NYX_CLIENT_MAX_NEGOTIATION_ATTEMPTS", "0")

	_, err := Load()
	require.Error(t, err)
}
