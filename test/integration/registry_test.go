package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/sensord/internal/actor"
	"github.com/dreamware/sensord/internal/api"
	"github.com/dreamware/sensord/internal/client"
	"github.com/dreamware/sensord/internal/group"
	"github.com/dreamware/sensord/internal/metrics"
	"github.com/dreamware/sensord/internal/passivation"
	"github.com/dreamware/sensord/internal/protocol"
	"github.com/dreamware/sensord/internal/registry"
)

// TestSystem is a complete sensord stack served over a local HTTP server.
type TestSystem struct {
	t       *testing.T
	system  *actor.System
	monitor *passivation.IdleMonitor
	server  *httptest.Server
	client  *client.Client
}

// NewTestSystem wires the registry, idle monitor and HTTP API the way
// cmd/sensord does, with an idle timeout short enough for tests.
func NewTestSystem(t *testing.T, idleTimeout time.Duration) *TestSystem {
	t.Helper()
	promReg := prometheus.NewRegistry()
	monitor := passivation.NewIdleMonitor(20*time.Millisecond, idleTimeout, log.NewNopLogger())

	sys := actor.NewSystem("sensord")
	reg := registry.Start(sys, group.Options{
		Metrics:         metrics.New(promReg),
		Tracker:         monitor,
		QueryTimeout:    time.Second,
		MaxQueryTimeout: 5 * time.Second,
	})
	srv := httptest.NewServer(api.New(reg, api.Options{Gatherer: promReg, AskTimeout: 10 * time.Second}))

	ctx, cancel := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		_ = monitor.Run(ctx)
	}()

	ts := &TestSystem{t: t, system: sys, monitor: monitor, server: srv, client: client.New(srv.URL)}
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-monitorDone
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		require.NoError(t, sys.Shutdown(shutdownCtx))
	})
	return ts
}

func (ts *TestSystem) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	ts.t.Cleanup(cancel)
	return ctx
}

// TestSensorLifecycle walks a group through registration, readings,
// aggregation, passivation and removal.
func TestSensorLifecycle(t *testing.T) {
	ts := NewTestSystem(t, 0)
	c := ts.client
	ctx := ts.ctx()

	for _, id := range []string{"device1", "device2", "device3"} {
		_, err := c.RegisterWorker(ctx, "floor1", id)
		require.NoError(t, err)
	}
	_, err := c.RegisterWorker(ctx, "floor2", "device9")
	require.NoError(t, err)

	one, two := 1.0, 2.0
	_, err = c.Record(ctx, "floor1", "device1", &one)
	require.NoError(t, err)
	_, err = c.Record(ctx, "floor1", "device2", &two)
	require.NoError(t, err)

	agg, err := c.Aggregate(ctx, "floor1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]protocol.Outcome{
		"device1": protocol.ValueOutcome(1.0),
		"device2": protocol.ValueOutcome(2.0),
		"device3": protocol.Absent,
	}, agg.Readings)

	// Passivated workers drop out of the group and of later reads.
	require.NoError(t, c.PassivateWorker(ctx, "floor1", "device2"))
	require.Eventually(t, func() bool {
		workers, err := c.Workers(ctx, "floor1")
		return err == nil && len(workers) == 2
	}, 5*time.Second, 10*time.Millisecond)

	agg, err = c.Aggregate(ctx, "floor1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]protocol.Outcome{
		"device1": protocol.ValueOutcome(1.0),
		"device3": protocol.Absent,
	}, agg.Readings)

	// A re-registered worker starts without a reading.
	reading, err := c.Reading(ctx, "floor1", "device2")
	require.NoError(t, err)
	assert.Nil(t, reading.Value)

	// Groups are isolated from each other.
	agg, err = c.Aggregate(ctx, "floor2", time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]protocol.Outcome{"device9": protocol.Absent}, agg.Readings)

	require.NoError(t, c.StopGroup(ctx, "floor1"))
	require.Eventually(t, func() bool {
		groups, err := c.Groups(ctx)
		return err == nil && len(groups) == 1 && groups[0] == "floor2"
	}, 5*time.Second, 10*time.Millisecond)

	agg, err = c.Aggregate(ctx, "floor1", time.Second)
	require.NoError(t, err)
	assert.Empty(t, agg.Readings)
}

// TestConcurrentClients records from many goroutines and checks that the
// last write of every worker is what an aggregate read sees.
func TestConcurrentClients(t *testing.T) {
	ts := NewTestSystem(t, 0)
	c := ts.client
	ctx := ts.ctx()

	const workers = 20
	const writes = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("device%02d", w)
			for i := 1; i <= writes; i++ {
				v := float64(w*100 + i)
				_, err := c.Record(ctx, "bulk", id, &v)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	agg, err := c.Aggregate(ctx, "bulk", 2*time.Second)
	require.NoError(t, err)
	require.Len(t, agg.Readings, workers)
	for w := 0; w < workers; w++ {
		id := fmt.Sprintf("device%02d", w)
		assert.Equal(t, protocol.ValueOutcome(float64(w*100+writes)), agg.Readings[id], id)
	}
}

// TestIdlePassivation checks that idle workers are stopped by the monitor
// and that a fresh worker replaces them on next use.
func TestIdlePassivation(t *testing.T) {
	ts := NewTestSystem(t, 100*time.Millisecond)
	c := ts.client
	ctx := ts.ctx()

	v := 7.0
	_, err := c.Record(ctx, "attic", "device1", &v)
	require.NoError(t, err)
	assert.True(t, ts.monitor.IsTracked("attic", "device1"))

	require.Eventually(t, func() bool {
		workers, err := c.Workers(ctx, "attic")
		return err == nil && len(workers) == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.False(t, ts.monitor.IsTracked("attic", "device1"))

	reading, err := c.Reading(ctx, "attic", "device1")
	require.NoError(t, err)
	assert.Nil(t, reading.Value, "the reading is lost with the passivated worker")
}
