package core

import (
	"io"
	"log/slog"
	"testing"

	"carepath/internal/config"
)

const testAdminKey = "admin-key-0123456789"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Security: config.SecurityConfig{AdminAPIKey: testAdminKey},
		Build:    config.BuildInfo{Version: "1.4.0", Commit: "abc123"},
	}
	s, err := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}
