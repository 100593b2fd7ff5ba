// Package main implements a simulated sensor fleet that feeds a sensord
// server. Every sensor is registered as a worker of one group and records
// a random-walk reading once per interval.
//
// Configuration is read from the environment:
//
//	REGISTRY_ADDR    base URL of the sensord server (default http://127.0.0.1:8080)
//	SENSOR_GROUP     group all sensors belong to (default default)
//	SENSOR_IDS       comma separated sensor ids (default sensor-1,sensor-2,sensor-3)
//	SENSOR_INTERVAL  time between readings (default 5s)
//	LOG_LEVEL        debug, info, warn or error (default info)
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/sensord/internal/client"
	"github.com/dreamware/sensord/internal/logging"
)

// maxConcurrentRecords bounds the requests in flight per tick.
const maxConcurrentRecords = 8

func main() {
	logger, err := logging.New(os.Stderr, getenv("LOG_LEVEL", "info"), "logfmt")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	interval, err := time.ParseDuration(getenv("SENSOR_INTERVAL", "5s"))
	if err != nil || interval <= 0 {
		level.Error(logger).Log("msg", "invalid SENSOR_INTERVAL", "err", err)
		os.Exit(1)
	}
	ids := parseIDs(getenv("SENSOR_IDS", "sensor-1,sensor-2,sensor-3"))
	if len(ids) == 0 {
		level.Error(logger).Log("msg", "SENSOR_IDS names no sensors")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := getenv("REGISTRY_ADDR", "http://127.0.0.1:8080")
	f := newFleet(client.New(addr), getenv("SENSOR_GROUP", "default"), ids, logger)
	if err := f.register(ctx, newBackoff()); err != nil {
		level.Error(logger).Log("msg", "failed to register sensors", "registry", addr, "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "sensors registered", "registry", addr, "group", f.groupID, "sensors", len(ids))

	if err := f.run(ctx, interval); err != nil {
		level.Error(logger).Log("msg", "sensor fleet failed", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "sensor fleet stopped")
}

// fleet is a set of simulated sensors sharing one group.
type fleet struct {
	client  *client.Client
	clock   quartz.Clock
	logger  log.Logger
	rnd     *rand.Rand
	values  map[string]float64 // Last value per sensor
	groupID string
	ids     []string
	mu      sync.Mutex
}

func newFleet(c *client.Client, groupID string, ids []string, logger log.Logger) *fleet {
	values := make(map[string]float64, len(ids))
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for _, id := range ids {
		values[id] = 15 + rnd.Float64()*10
	}
	return &fleet{
		client:  c,
		clock:   quartz.NewReal(),
		logger:  logger,
		rnd:     rnd,
		values:  values,
		groupID: groupID,
		ids:     ids,
	}
}

// newBackoff returns the retry policy for registration.
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0
	b.InitialInterval = 200 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = time.Minute
	b.Reset()
	return b
}

// register creates a worker for every sensor, retrying while the server is
// unreachable or failing. Client errors are not retried.
func (f *fleet) register(ctx context.Context, b backoff.BackOff) error {
	for _, id := range f.ids {
		op := func() error {
			_, err := f.client.RegisterWorker(ctx, f.groupID, id)
			var statusErr *client.StatusError
			if errors.As(err, &statusErr) && statusErr.Code < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		notify := func(err error, next time.Duration) {
			level.Warn(f.logger).Log("msg", "register retry", "sensor", id, "next", next, "err", err)
		}

		b.Reset()
		if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
			return errors.Wrapf(err, "registering %s", id)
		}
		level.Debug(f.logger).Log("msg", "registered sensor", "sensor", id)
	}
	return nil
}

// run records readings every interval until ctx is done. A failed tick is
// logged and the next one proceeds.
func (f *fleet) run(ctx context.Context, interval time.Duration) error {
	err := f.clock.TickerFunc(ctx, interval, func() error {
		if err := f.tick(ctx); err != nil {
			level.Warn(f.logger).Log("msg", "recording readings failed", "err", err)
		}
		return nil
	}, "sensor", "tick").Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// tick records the next reading of every sensor concurrently.
func (f *fleet) tick(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRecords)
	for _, id := range f.ids {
		value := f.next(id)
		g.Go(func() error {
			_, err := f.client.Record(ctx, f.groupID, id, &value)
			return errors.Wrapf(err, "recording %s", id)
		})
	}
	return g.Wait()
}

// next advances the random walk of one sensor.
func (f *fleet) next(id string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.values[id] + f.rnd.NormFloat64()*0.5
	v = math.Round(v*100) / 100
	f.values[id] = v
	return v
}

func parseIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// getenv retrieves an environment variable with a default fallback value.
//
// Example:
//
//	addr := getenv("REGISTRY_ADDR", "http://127.0.0.1:8080")
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
