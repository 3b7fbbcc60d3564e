package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8083", cfg.Port)
	require.Equal(t, 2*time.Hour, cfg.WaveTTL)
	require.Equal(t, 3, cfg.DefaultThreshold)
	require.Equal(t, "UTC", cfg.Location.String())
	require.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	require.Equal(t, "user.events", cfg.BlockEventsExchange)
	require.Equal(t, "wave-service.blocks", cfg.BlockEventsQueue)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("WAVE_TTL", "45m")
	t.Setenv("DEFAULT_THRESHOLD", "4")
	t.Setenv("DEBUG_ROUTES", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 45*time.Minute, cfg.WaveTTL)
	require.Equal(t, 4, cfg.DefaultThreshold)
	require.True(t, cfg.DebugRoutes)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("WAVE_TTL", "soon")

	_, err := Load()
	require.Error(t, err)
}
