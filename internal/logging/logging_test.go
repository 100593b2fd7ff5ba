package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewLogfmt verifies logfmt output and level filtering.
func TestNewLogfmt(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", "logfmt")
	require.NoError(t, err)

	level.Debug(logger).Log("msg", "hidden")
	level.Info(logger).Log("msg", "worker started", "worker", "t1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `msg="worker started"`)
	assert.Contains(t, out, "worker=t1")
	assert.Contains(t, out, "level=info")
	assert.Contains(t, out, "ts=")
	assert.Contains(t, out, "caller=")
}

// TestNewJSON verifies that the JSON format emits one object per line.
func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "json")
	require.NoError(t, err)

	level.Debug(logger).Log("msg", "visible", "count", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
	assert.Equal(t, "visible", line["msg"])
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, float64(3), line["count"])
}

// TestLevels verifies which levels pass each filter.
func TestLevels(t *testing.T) {
	tests := []struct {
		level     string
		wantWarn  bool
		wantInfo  bool
		wantError bool
	}{
		{level: "debug", wantInfo: true, wantWarn: true, wantError: true},
		{level: "info", wantInfo: true, wantWarn: true, wantError: true},
		{level: "warn", wantWarn: true, wantError: true},
		{level: "error", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&buf, tt.level, "logfmt")
			require.NoError(t, err)

			level.Info(logger).Log("msg", "info-line")
			level.Warn(logger).Log("msg", "warn-line")
			level.Error(logger).Log("msg", "error-line")

			out := buf.String()
			assert.Equal(t, tt.wantInfo, strings.Contains(out, "info-line"))
			assert.Equal(t, tt.wantWarn, strings.Contains(out, "warn-line"))
			assert.Equal(t, tt.wantError, strings.Contains(out, "error-line"))
		})
	}
}

// TestNewInvalid verifies that unknown settings are rejected.
func TestNewInvalid(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "info", "xml")
	assert.ErrorContains(t, err, "unknown log format")

	_, err = New(&bytes.Buffer{}, "trace", "logfmt")
	assert.ErrorContains(t, err, "unknown log level")
}
