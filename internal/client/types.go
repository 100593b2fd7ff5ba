// Package client provides the JSON types of the sensord HTTP API and a
// client for it. The server in internal/api encodes exactly these types.
package client

import (
	"fmt"

	"github.com/dreamware/sensord/internal/protocol"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// GroupsResponse is returned by GET /groups.
type GroupsResponse struct {
	Groups    []string `json:"groups"`
	RequestID int64    `json:"request_id"`
}

// WorkersResponse is returned by GET /groups/{group}/workers.
type WorkersResponse struct {
	GroupID   string   `json:"group"`
	Workers   []string `json:"workers"`
	RequestID int64    `json:"request_id"`
}

// WorkerResponse is returned by PUT /groups/{group}/workers/{worker}.
type WorkerResponse struct {
	GroupID  string `json:"group"`
	WorkerID string `json:"worker"`
	Path     string `json:"path"`
}

// RecordRequest is the body of PUT /groups/{group}/workers/{worker}/reading.
// A missing or null value clears the reading.
type RecordRequest struct {
	Value *float64 `json:"value"`
}

// ReadingResponse is returned by both methods of
// /groups/{group}/workers/{worker}/reading. Value is nil when the worker
// holds no reading.
type ReadingResponse struct {
	Value     *float64 `json:"value"`
	GroupID   string   `json:"group"`
	WorkerID  string   `json:"worker"`
	RequestID int64    `json:"request_id"`
}

// AggregateResponse is returned by GET /groups/{group}/readings.
type AggregateResponse struct {
	Readings  map[string]protocol.Outcome `json:"readings"`
	GroupID   string                      `json:"group"`
	RequestID int64                       `json:"request_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusError is returned by the client helpers for non-2xx responses.
type StatusError struct {
	URL     string
	Message string
	Code    int
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Message)
}
