package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNewServer_DefaultPort(t *testing.T) {
	s := NewServer(ServerConfig{})
	assert.Equal(t, 9090, s.Port())
}

func TestServer_Endpoints(t *testing.T) {
	// InitRegistry is never called in this package, metrics are disabled.
	require.False(t, IsEnabled())

	s := NewServer(ServerConfig{Port: freePort(t)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	addrCtx, addrCancel := context.WithTimeout(ctx, 5*time.Second)
	defer addrCancel()
	addr, err := s.Addr(addrCtx)
	require.NoError(t, err)

	port := addr.(*net.TCPAddr).Port
	base := "http://127.0.0.1:" + strconv.Itoa(port)

	status, body := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)

	status, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "disabled")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	// Stop after Start returned is a no-op.
	assert.NoError(t, s.Stop(context.Background()))
}

func TestServer_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	s := NewServer(ServerConfig{Port: ln.Addr().(*net.TCPAddr).Port})
	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics server listen")
}

func TestServer_AddrCancelled(t *testing.T) {
	s := NewServer(ServerConfig{Port: freePort(t)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Addr(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
