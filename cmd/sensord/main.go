// Package main implements the sensord server: an in-memory registry of
// sensor workers organised in groups, served over HTTP.
//
// Usage:
//
//	sensord -server.listen-addr=:8080 -passivation.idle-timeout=10m
//	sensord -config.file=sensord.yaml
//
// Run sensord -help for the full list of flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dreamware/sensord/internal/actor"
	"github.com/dreamware/sensord/internal/api"
	"github.com/dreamware/sensord/internal/config"
	"github.com/dreamware/sensord/internal/group"
	"github.com/dreamware/sensord/internal/logging"
	"github.com/dreamware/sensord/internal/metrics"
	"github.com/dreamware/sensord/internal/passivation"
	"github.com/dreamware/sensord/internal/protocol"
	"github.com/dreamware/sensord/internal/registry"
)

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := runServer(context.Background(), cfg, logger); err != nil {
		level.Error(logger).Log("msg", "sensord failed", "err", err)
		os.Exit(1)
	}
}

// app holds the wired components of one sensord process.
type app struct {
	cfg      config.Config
	logger   log.Logger
	system   *actor.System
	registry protocol.RegistryRef
	monitor  *passivation.IdleMonitor
	handler  http.Handler
}

// newApp builds the unit tree and the HTTP handler. Nothing listens yet.
func newApp(cfg config.Config, logger log.Logger, reg *prometheus.Registry) *app {
	monitor := passivation.NewIdleMonitor(cfg.Passivation.CheckInterval, cfg.Passivation.IdleTimeout, log.With(logger, "component", "passivation"))

	system := actor.NewSystem("sensord", actor.WithLogger(logger))
	registryRef := registry.Start(system, group.Options{
		Metrics:         metrics.New(reg),
		Tracker:         monitor,
		QueryTimeout:    cfg.Query.DefaultTimeout,
		MaxQueryTimeout: cfg.Query.MaxTimeout,
	})

	handler := api.New(registryRef, api.Options{
		Gatherer:   reg,
		Logger:     log.With(logger, "component", "api"),
		AskTimeout: cfg.Server.AskTimeout,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		system:   system,
		registry: registryRef,
		monitor:  monitor,
		handler:  handler,
	}
}

// shutdown stops every unit, bounded by the configured shutdown timeout.
func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.system.Shutdown(ctx)
}

// runServer serves until ctx is done, a termination signal arrives or the
// listener fails, then drains HTTP requests and stops all units.
func runServer(ctx context.Context, cfg config.Config, logger log.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := newApp(cfg, logger, reg)

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		_ = a.shutdown()
		return errors.Wrapf(err, "listening on %s", cfg.Server.ListenAddr)
	}

	httpSrv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	var g run.Group
	{
		g.Add(func() error {
			level.Info(logger).Log("msg", "sensord listening", "addr", ln.Addr().String())
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "http server")
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		})
	}
	{
		monitorCtx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return a.monitor.Run(monitorCtx)
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	}

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		level.Info(logger).Log("msg", "received signal, shutting down", "signal", sigErr.Signal)
		err = nil
	} else if errors.Is(err, context.Canceled) {
		err = nil
	}

	if shutdownErr := a.shutdown(); shutdownErr != nil {
		level.Warn(logger).Log("msg", "actor system did not stop cleanly", "err", shutdownErr)
	}
	level.Info(logger).Log("msg", "sensord stopped")
	return err
}
