// Package api exposes the registry over HTTP. Handlers translate each
// request into protocol messages and block on the reply with actor.Ask.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"

	"github.com/dreamware/sensord/internal/actor"
	"github.com/dreamware/sensord/internal/client"
	"github.com/dreamware/sensord/internal/protocol"
)

// DefaultAskTimeout bounds how long a handler waits for the registry when
// Options.AskTimeout is not set.
const DefaultAskTimeout = 70 * time.Second

// errWorkerStopped is returned when a worker stops between lookup and
// delivery twice in a row.
var errWorkerStopped = errors.New("worker stopped before the request reached it")

// Options configures a Server.
type Options struct {
	// Gatherer backs GET /metrics. Without one the route is not served.
	Gatherer   prometheus.Gatherer
	Logger     log.Logger
	AskTimeout time.Duration
}

// Server is the HTTP front of one registry. It is an http.Handler.
type Server struct {
	registry   protocol.RegistryRef
	router     *mux.Router
	logger     log.Logger
	requestIDs atomic.Int64
	askTimeout time.Duration
}

// New builds the routes for reg.
func New(reg protocol.RegistryRef, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.AskTimeout <= 0 {
		opts.AskTimeout = DefaultAskTimeout
	}
	s := &Server{
		registry:   reg,
		logger:     opts.Logger,
		askTimeout: opts.AskTimeout,
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/groups", s.handleListGroups).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group}", s.handleStopGroup).Methods(http.MethodDelete)
	r.HandleFunc("/groups/{group}/workers", s.handleListWorkers).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group}/workers/{worker}", s.handleRegisterWorker).Methods(http.MethodPut)
	r.HandleFunc("/groups/{group}/workers/{worker}", s.handlePassivateWorker).Methods(http.MethodDelete)
	r.HandleFunc("/groups/{group}/workers/{worker}/reading", s.handleGetReading).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group}/workers/{worker}/reading", s.handleRecordReading).Methods(http.MethodPut)
	r.HandleFunc("/groups/{group}/readings", s.handleAggregate).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) nextRequestID() int64 {
	return s.requestIDs.Inc()
}

// ask waits for the reply to one message sent by send, bounded by the
// server's ask timeout and the request context.
func ask[T any](s *Server, r *http.Request, send func(replyTo actor.Receiver[T])) (T, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.askTimeout)
	defer cancel()
	return actor.Ask(ctx, send)
}

func (s *Server) ensureWorker(r *http.Request, groupID, workerID string) (protocol.WorkerRef, error) {
	reg, err := ask(s, r, func(replyTo actor.Receiver[protocol.Registered]) {
		s.registry.Tell(protocol.EnsureWorker{GroupID: groupID, WorkerID: workerID, ReplyTo: replyTo})
	})
	if err != nil {
		return nil, err
	}
	return reg.Worker, reg.Err
}

// askWorker looks the worker up, creating it if needed, and sends it one
// request. A worker that stops in between is looked up again once; the
// group replaces it with a fresh one.
func askWorker[T any](s *Server, r *http.Request, groupID, workerID string, send func(ref protocol.WorkerRef, replyTo actor.Receiver[T]) bool) (T, error) {
	var zero T
	for attempt := 0; attempt < 2; attempt++ {
		ref, err := s.ensureWorker(r, groupID, workerID)
		if err != nil {
			return zero, err
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.askTimeout)
		delivered := true
		reply, err := actor.Ask(ctx, func(replyTo actor.Receiver[T]) {
			if !send(ref, replyTo) {
				delivered = false
				cancel()
			}
		})
		cancel()
		if delivered {
			return reply, err
		}
		level.Debug(s.logger).Log("msg", "worker stopped before delivery, retrying", "group", groupID, "worker", workerID)
	}
	return zero, errWorkerStopped
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, client.ErrorResponse{Error: msg})
}

// writeError maps a failed request to its status code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, protocol.ErrWrongGroup):
		status = http.StatusConflict
	case errors.Is(err, errWorkerStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, actor.ErrAskTimeout):
		status = http.StatusGatewayTimeout
	}
	level.Warn(s.logger).Log("msg", "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	writeJSON(w, status, client.ErrorResponse{Error: err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		level.Debug(s.logger).Log("msg", "http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start))
	})
}
