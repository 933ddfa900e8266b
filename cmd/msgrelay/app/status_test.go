package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
)

func TestStatusCommand(t *testing.T) {
	started := time.Now().Add(-time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(model.RelayStatus{
			RelayID:      "mac-mini",
			Mode:         "PushActive",
			Ready:        true,
			PushChannel:  "postgres",
			PollInterval: 5 * time.Second,
			QueueDepth:   2,
			StartedAt:    started,
		})
	}))
	defer srv.Close()

	o := &statusOptions{addr: strings.TrimPrefix(srv.URL, "http://"), timeout: time.Second}
	var out bytes.Buffer
	require.NoError(t, o.run(context.Background(), &out))

	got := out.String()
	assert.Contains(t, got, "mac-mini")
	assert.Contains(t, got, "PushActive")
	assert.Contains(t, got, "never")
	assert.Regexp(t, `QUEUE DEPTH:\s+2`, got)
	assert.NotContains(t, got, "GRPC HEALTH")
}

func TestStatusCommandErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := &statusOptions{addr: strings.TrimPrefix(srv.URL, "http://"), timeout: time.Second}
	assert.ErrorContains(t, o.run(context.Background(), &bytes.Buffer{}), "500")

	srv.Close()
	assert.ErrorContains(t, o.run(context.Background(), &bytes.Buffer{}), "not reachable")
}

func TestPrintStatusLastPoll(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	printStatus(&out, &model.RelayStatus{
		Mode:              "PollFallback",
		LastPollTimestamp: now.Add(-7 * time.Second),
		StartedAt:         now.Add(-time.Minute),
	}, "NOT_SERVING", now)

	assert.Contains(t, out.String(), "2026-03-01T11:59:53Z (7s ago)")
	assert.Contains(t, out.String(), "NOT_SERVING")
}
