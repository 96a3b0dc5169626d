package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("PEREPISKA_DB", "test.db")
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("MESSAGE_WINDOW", "50")
	t.Setenv("SCROLL_THRESHOLD", "80")
	t.Setenv("STORE_RETRY_MAX", "2")
	t.Setenv("STORE_RETRY_BACKOFF", "10ms")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "test.db", cfg.DBFile)
	require.Equal(t, time.Hour, cfg.SessionTTL)
	require.Equal(t, 50, cfg.MessageWindow)
	require.Equal(t, 80, cfg.ScrollThreshold)
	require.Equal(t, uint64(2), cfg.StoreRetryMax)
	require.Equal(t, 10*time.Millisecond, cfg.StoreRetryBackoff)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad ttl", "SESSION_TTL", "soon"},
		{"zero ttl", "SESSION_TTL", "0s"},
		{"bad window", "MESSAGE_WINDOW", "many"},
		{"zero window", "MESSAGE_WINDOW", "0"},
		{"negative threshold", "SCROLL_THRESHOLD", "-1"},
		{"bad retries", "STORE_RETRY_MAX", "-1"},
		{"empty db", "PEREPISKA_DB", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
