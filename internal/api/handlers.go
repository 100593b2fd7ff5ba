package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/dreamware/sensord/internal/actor"
	"github.com/dreamware/sensord/internal/client"
	"github.com/dreamware/sensord/internal/protocol"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, client.HealthResponse{Status: "ok"})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	requestID := s.nextRequestID()
	resp, err := ask(s, r, func(replyTo actor.Receiver[protocol.GroupList]) {
		s.registry.Tell(protocol.ListGroups{RequestID: requestID, ReplyTo: replyTo})
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client.GroupsResponse{Groups: nonNil(resp.IDs), RequestID: resp.RequestID})
}

// handleStopGroup is fire-and-forget; the group is gone shortly after.
func (s *Server) handleStopGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group"]
	s.registry.Tell(protocol.StopGroup{GroupID: groupID})
	level.Info(s.logger).Log("msg", "stop requested", "group", groupID)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group"]
	requestID := s.nextRequestID()
	resp, err := ask(s, r, func(replyTo actor.Receiver[protocol.WorkerList]) {
		s.registry.Tell(protocol.ListWorkers{GroupID: groupID, RequestID: requestID, ReplyTo: replyTo})
	})
	if err == nil {
		err = resp.Err
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client.WorkersResponse{
		GroupID:   groupID,
		Workers:   nonNil(resp.IDs),
		RequestID: resp.RequestID,
	})
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ref, err := s.ensureWorker(r, vars["group"], vars["worker"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client.WorkerResponse{
		GroupID:  vars["group"],
		WorkerID: vars["worker"],
		Path:     ref.Path(),
	})
}

func (s *Server) handlePassivateWorker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.registry.Tell(protocol.PassivateWorker{GroupID: vars["group"], WorkerID: vars["worker"]})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetReading(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID := s.nextRequestID()
	resp, err := askWorker(s, r, vars["group"], vars["worker"], func(ref protocol.WorkerRef, replyTo actor.Receiver[protocol.Respond]) bool {
		return ref.Tell(protocol.Read{RequestID: requestID, ReplyTo: replyTo})
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client.ReadingResponse{
		GroupID:   vars["group"],
		WorkerID:  vars["worker"],
		Value:     resp.Value,
		RequestID: resp.RequestID,
	})
}

func (s *Server) handleRecordReading(w http.ResponseWriter, r *http.Request) {
	var req client.RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "bad json")
		return
	}

	vars := mux.Vars(r)
	requestID := s.nextRequestID()
	ack, err := askWorker(s, r, vars["group"], vars["worker"], func(ref protocol.WorkerRef, replyTo actor.Receiver[protocol.Acknowledged]) bool {
		return ref.Tell(protocol.Record{RequestID: requestID, Value: req.Value, ReplyTo: replyTo})
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client.ReadingResponse{
		GroupID:   vars["group"],
		WorkerID:  vars["worker"],
		Value:     req.Value,
		RequestID: ack.RequestID,
	})
}

// handleAggregate runs one aggregate read. The optional timeout query
// parameter is a Go duration; the group applies its default and cap.
func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group"]

	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeBadRequest(w, "timeout must be a non-negative duration such as 500ms")
			return
		}
		timeout = d
	}

	requestID := s.nextRequestID()
	resp, err := ask(s, r, func(replyTo actor.Receiver[protocol.AggregateResponse]) {
		s.registry.Tell(protocol.AggregateRead{
			GroupID:   groupID,
			RequestID: requestID,
			Timeout:   timeout,
			ReplyTo:   replyTo,
		})
	})
	if err == nil {
		err = resp.Err
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	readings := resp.Outcomes
	if readings == nil {
		readings = map[string]protocol.Outcome{}
	}
	writeJSON(w, http.StatusOK, client.AggregateResponse{
		GroupID:   groupID,
		Readings:  readings,
		RequestID: resp.RequestID,
	})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
