package main

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/sensord/internal/client"
	"github.com/dreamware/sensord/internal/config"
)

func testConfig(t *testing.T, args ...string) config.Config {
	t.Helper()
	cfg, err := config.Parse("sensord", append([]string{"-server.listen-addr", "127.0.0.1:0"}, args...))
	require.NoError(t, err)
	return cfg
}

// TestNewApp verifies that the wired application serves the API end to end.
func TestNewApp(t *testing.T) {
	a := newApp(testConfig(t, "-passivation.idle-timeout", "1h"), log.NewNopLogger(), prometheus.NewRegistry())
	ts := httptest.NewServer(a.handler)
	defer ts.Close()
	defer func() { require.NoError(t, a.shutdown()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := client.New(ts.URL)

	v := 4.5
	_, err := c.Record(ctx, "lab", "sensor-1", &v)
	require.NoError(t, err)

	agg, err := c.Aggregate(ctx, "lab", 0)
	require.NoError(t, err)
	require.Contains(t, agg.Readings, "sensor-1")
	assert.Equal(t, 4.5, agg.Readings["sensor-1"].Value)

	assert.True(t, a.monitor.IsTracked("lab", "sensor-1"), "new workers are handed to the idle monitor")
}

// TestRunServerStopsOnCancel verifies a clean return once the context ends.
func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, testConfig(t), log.NewNopLogger()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("runServer did not return")
	}
}

// TestRunServerListenError verifies that an address in use is reported.
func TestRunServerListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = runServer(context.Background(), testConfig(t, "-server.listen-addr", ln.Addr().String()), log.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on")
}
