package server

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/assetflow/assetflow/internal/config"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Listen.Address = "127.0.0.1"
	// Port 0 lets the kernel pick a free port so tests never collide.
	cfg.Server.Listen.Port = 0
	return cfg
}

func TestNewRequiresHandler(t *testing.T) {
	_, err := New(testConfig(), slog.New(slog.DiscardHandler), nil)
	require.Error(t, err)
}

func TestRunStopsOnContextAndRunsShutdownHooks(t *testing.T) {
	srv, err := New(testConfig(), slog.New(slog.DiscardHandler), http.NewServeMux())
	require.NoError(t, err)

	var order []int
	srv.OnShutdown(func() { order = append(order, 1) })
	srv.OnShutdown(func() { order = append(order, 2) })
	srv.OnShutdown(nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	// Give the listener a moment to start before asking it to stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancellation")
	}
	require.Equal(t, []int{1, 2}, order, "hooks run in registration order after the drain")
}

func TestRunListenerFailureStillRunsShutdownHooks(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Listen.Address = "256.256.256.256"

	srv, err := New(cfg, slog.New(slog.DiscardHandler), http.NewServeMux())
	require.NoError(t, err)

	ran := false
	srv.OnShutdown(func() { ran = true })

	require.Error(t, srv.Run(context.Background()))
	require.True(t, ran, "cleanup must run even when the listener never came up")
}
