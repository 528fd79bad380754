package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8554, cfg.Server.RTSPPort)
	require.Equal(t, 6, cfg.Timeouts.LiveStreamByeSeconds)
	require.Equal(t, 12, cfg.Timeouts.StreamTimeoutSeconds)
}

func TestValidateRejectsNonMultiple(t *testing.T) {
	cfg := &Config{}
	cfg.Timeouts.LiveStreamByeSeconds = 6
	cfg.Timeouts.StreamTimeoutSeconds = 10
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositive(t *testing.T) {
	cfg := &Config{}
	cfg.Timeouts.LiveStreamByeSeconds = 0
	cfg.Timeouts.StreamTimeoutSeconds = 12
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsMultiple(t *testing.T) {
	cfg := &Config{}
	cfg.Timeouts.LiveStreamByeSeconds = 6
	cfg.Timeouts.StreamTimeoutSeconds = 18
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FENG_SERVER_HOST", "192.0.2.1")
	t.Setenv("FENG_REQUIRE_AUTH", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1", cfg.Server.Host)
	require.True(t, cfg.Auth.RequireAuth)
}
