package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"hello-pool/internal/events"
	"hello-pool/internal/logger"
	"hello-pool/internal/scenario"
	"hello-pool/internal/worker"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer("127.0.0.1:0")
	require.NoError(t, err)
	s.SetLogger(logger.Discard())
	t.Cleanup(func() {
		s.stopScenario()
		require.Eventually(t, func() bool { return !s.status().Running }, 10*time.Second, 10*time.Millisecond)
	})
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHandlersRejectWrongMethod(t *testing.T) {
	h := newTestServer(t).Handler()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/status"},
		{http.MethodPost, "/api/workers"},
		{http.MethodDelete, "/api/metrics"},
		{http.MethodPut, "/api/presets"},
		{http.MethodGet, "/api/scenario/start"},
		{http.MethodGet, "/api/scenario/stop"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, "")
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		})
	}
}

func TestStatusIdle(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	decode(t, rec, &status)
	assert.False(t, status.Running)
	assert.Empty(t, status.ScenarioName)
	assert.Zero(t, status.Workers)
	assert.Nil(t, status.LastResult)
}

func TestWorkersEmptyBeforeFirstRun(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := do(t, h, http.MethodGet, "/api/workers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestPresets(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := do(t, h, http.MethodGet, "/api/presets", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var presets []PresetInfo
	decode(t, rec, &presets)

	names := scenario.ListPresets()
	require.Len(t, presets, len(names))
	for i, p := range presets {
		assert.Equal(t, names[i], p.Name)
		assert.NotEmpty(t, p.Description)
		assert.Positive(t, p.PoolSize)
	}
}

func TestScenarioRequestToConfig(t *testing.T) {
	tasks := 0
	req := ScenarioRequest{
		Preset:      "burst",
		Duration:    "2s",
		Workers:     3,
		QueueSize:   64,
		PanicPolicy: "stop",
		Tasks:       &tasks,
		Rate:        25,
	}

	config, err := req.toConfig()
	require.NoError(t, err)
	assert.Equal(t, "burst", config.Name)
	assert.Equal(t, 2*time.Second, config.Duration)
	assert.Equal(t, 3, config.PoolSize)
	assert.Equal(t, 64, config.QueueSize)
	assert.Equal(t, worker.PanicStop, config.PanicPolicy)
	assert.Zero(t, config.Tasks)
	assert.Equal(t, 25, config.Rate)
}

func TestScenarioRequestDefaultsToQuick(t *testing.T) {
	config, err := ScenarioRequest{}.toConfig()
	require.NoError(t, err)
	assert.Equal(t, scenario.QuickScenario(), config)
}

func TestScenarioStartRejectsBadRequests(t *testing.T) {
	h := newTestServer(t).Handler()

	for _, body := range []string{
		`not json`,
		`{"preset": "no-such-preset"}`,
		`{"duration": "whenever"}`,
		`{"workers": -2}`,
		`{"panic_policy": "restart"}`,
		`{"panic_ratio": 2}`,
	} {
		t.Run(body, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/scenario/start", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestScenarioStopWithoutRun(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := do(t, h, http.MethodPost, "/api/scenario/stop", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarioRunsToCompletion(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/scenario/start", `{"preset": "quick", "tasks": 20, "workers": 2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"started"`)

	require.Eventually(t, func() bool {
		status := s.status()
		return !status.Running && status.LastResult != nil
	}, 10*time.Second, 10*time.Millisecond)

	status := s.status()
	assert.Equal(t, "quick", status.ScenarioName)
	assert.Equal(t, 2, status.Workers)
	assert.Zero(t, status.LiveWorkers)
	assert.True(t, status.Closed)
	assert.Empty(t, status.LastError)
	assert.Equal(t, uint64(20), status.LastResult.Submitted)
	assert.Equal(t, uint64(20), status.LastResult.Completed)

	rec = do(t, h, http.MethodGet, "/api/workers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var workers []worker.WorkerStatus
	decode(t, rec, &workers)
	require.Len(t, workers, 2)
	for _, w := range workers {
		assert.Equal(t, worker.StateStopped.String(), w.State)
	}

	rec = do(t, h, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var m MetricsResponse
	decode(t, rec, &m)
	assert.Equal(t, uint64(20), m.SubmittedTasks)
	assert.Equal(t, uint64(20), m.CompletedTasks)
	assert.Zero(t, m.BusyWorkers)
}

func TestScenarioStartConflictAndStop(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/scenario/start", `{"preset": "quick", "tasks": 0, "rate": 20, "duration": "1m"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/scenario/start", `{"preset": "quick"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Eventually(t, func() bool {
		return do(t, h, http.MethodPost, "/api/scenario/stop", "").Code == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return !s.status().Running }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, s.status().Closed)
}

func TestPrometheusEndpoint(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "hellopool_workerpool_tasks_submitted_total")
	assert.Contains(t, body, "hellopool_workerpool_active_workers")
}

func TestWebSocketForwardsEvents(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.startBackground(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ws, err := websocket.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", "", ts.URL)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return s.clientCount() == 1 && s.bus.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.bus.Publish(events.NewPoolClosingEvent(3))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg string
	require.NoError(t, websocket.Message.Receive(ws, &msg))

	var envelope struct {
		Type  string       `json:"type"`
		Event events.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg), &envelope))
	assert.Equal(t, "event", envelope.Type)
	assert.Equal(t, events.EventPoolClosing, envelope.Event.Type)
	assert.Equal(t, 3, envelope.Event.Data.Workers)
}
