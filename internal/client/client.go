package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// PutJSON sends body as JSON with PUT and decodes the response into out,
// unless out is nil. A nil body sends no content. A nil hc means
// http.DefaultClient.
func PutJSON(ctx context.Context, hc *http.Client, url string, body any, out any) error {
	return doJSON(ctx, hc, http.MethodPut, url, body, out)
}

// GetJSON decodes the response of a GET into out.
func GetJSON(ctx context.Context, hc *http.Client, url string, out any) error {
	return doJSON(ctx, hc, http.MethodGet, url, nil, out)
}

// Delete sends a DELETE and discards the response body.
func Delete(ctx context.Context, hc *http.Client, url string) error {
	return doJSON(ctx, hc, http.MethodDelete, url, nil, nil)
}

func doJSON(ctx context.Context, hc *http.Client, method, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		statusErr := &StatusError{URL: url, Code: resp.StatusCode}
		var e ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil {
			statusErr.Message = e.Error
		}
		return statusErr
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decoding response of %s %s", method, url)
}

// Client talks to one sensord server.
type Client struct {
	hc      *http.Client
	baseURL string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the http.Client. The default has no timeout of
// its own; callers bound requests with their context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.hc = hc
	}
}

// New returns a client for the server at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	var out HealthResponse
	return GetJSON(ctx, c.hc, c.url("health"), &out)
}

// Groups lists the live groups.
func (c *Client) Groups(ctx context.Context) ([]string, error) {
	var out GroupsResponse
	if err := GetJSON(ctx, c.hc, c.url("groups"), &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

// StopGroup stops a group and all of its workers.
func (c *Client) StopGroup(ctx context.Context, groupID string) error {
	return Delete(ctx, c.hc, c.url("groups", groupID))
}

// Workers lists the workers of a group.
func (c *Client) Workers(ctx context.Context, groupID string) ([]string, error) {
	var out WorkersResponse
	if err := GetJSON(ctx, c.hc, c.url("groups", groupID, "workers"), &out); err != nil {
		return nil, err
	}
	return out.Workers, nil
}

// RegisterWorker creates the worker if it does not exist yet.
func (c *Client) RegisterWorker(ctx context.Context, groupID, workerID string) (WorkerResponse, error) {
	var out WorkerResponse
	err := PutJSON(ctx, c.hc, c.url("groups", groupID, "workers", workerID), nil, &out)
	return out, err
}

// PassivateWorker stops a worker. Its reading is lost.
func (c *Client) PassivateWorker(ctx context.Context, groupID, workerID string) error {
	return Delete(ctx, c.hc, c.url("groups", groupID, "workers", workerID))
}

// Reading returns the current reading of a worker.
func (c *Client) Reading(ctx context.Context, groupID, workerID string) (ReadingResponse, error) {
	var out ReadingResponse
	err := GetJSON(ctx, c.hc, c.url("groups", groupID, "workers", workerID, "reading"), &out)
	return out, err
}

// Record stores a reading for a worker. A nil value clears it.
func (c *Client) Record(ctx context.Context, groupID, workerID string, value *float64) (ReadingResponse, error) {
	var out ReadingResponse
	err := PutJSON(ctx, c.hc, c.url("groups", groupID, "workers", workerID, "reading"), RecordRequest{Value: value}, &out)
	return out, err
}

// Aggregate collects the readings of all workers of a group. A zero
// timeout leaves the choice to the server.
func (c *Client) Aggregate(ctx context.Context, groupID string, timeout time.Duration) (AggregateResponse, error) {
	u := c.url("groups", groupID, "readings")
	if timeout > 0 {
		u += "?" + url.Values{"timeout": {timeout.String()}}.Encode()
	}
	var out AggregateResponse
	err := GetJSON(ctx, c.hc, u, &out)
	return out, err
}

func (c *Client) url(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}
