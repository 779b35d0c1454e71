package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"codeberg.org/mutker/streamctl/internal/breaker"
	"codeberg.org/mutker/streamctl/internal/degradation"
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/logger"
	"codeberg.org/mutker/streamctl/internal/scheduler"
	"codeberg.org/mutker/streamctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	st *scheduler.Status
}

func (f *fakeSource) Status() *scheduler.Status { return f.st }

type fakeController struct {
	calls []string
	mode  degradation.Mode
	state scheduler.State
	err   error
}

func (f *fakeController) ForceReconnect() error {
	f.calls = append(f.calls, "reconnect")
	return f.err
}

func (f *fakeController) ForceState(s scheduler.State, _ string) error {
	f.calls = append(f.calls, "state")
	f.state = s
	return f.err
}

func (f *fakeController) SetMode(m degradation.Mode, _ string) error {
	f.calls = append(f.calls, "mode")
	f.mode = m
	return f.err
}

func (f *fakeController) SetAutoRecovery(bool) error {
	f.calls = append(f.calls, "auto-recovery")
	return f.err
}

func (f *fakeController) SetThresholds(scheduler.Thresholds) error {
	f.calls = append(f.calls, "thresholds")
	return f.err
}

func (f *fakeController) ResetRecovery() error {
	f.calls = append(f.calls, "reset")
	return f.err
}

type fakeTelemetry struct {
	limit int
}

func (f *fakeTelemetry) RecentSamples(limit int) ([]telemetry.Sample, error) {
	f.limit = limit
	return []telemetry.Sample{{State: "connected", Overall: 0.9}}, nil
}

func (f *fakeTelemetry) RecentEvents(limit int) ([]telemetry.EventRecord, error) {
	f.limit = limit
	return nil, nil
}

func newTestServer() (*Server, *fakeSource, *fakeController) {
	src := &fakeSource{st: &scheduler.Status{
		State:    "connected",
		Mode:     "normal",
		Breakers: []breaker.Stats{{Name: "transport", State: "closed"}},
		Health: scheduler.HealthStatus{
			Overall:   0.8,
			Status:    "good",
			Unhealthy: []string{"memory"},
		},
	}}
	ctl := &fakeController{}
	return New(":0", src, ctl, logger.Nop()), src, ctl
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestGetState(t *testing.T) {
	s, _, _ := newTestServer()

	rr := do(s, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "connected", body["state"])
	assert.Equal(t, "normal", body["mode"])
}

func TestGetBreakersAndHealth(t *testing.T) {
	s, _, _ := newTestServer()

	rr := do(s, http.MethodGet, "/api/breakers", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var breakers []breaker.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &breakers))
	require.Len(t, breakers, 1)
	assert.Equal(t, "transport", breakers[0].Name)

	rr = do(s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"good"`)

	var health struct {
		Health scheduler.HealthStatus `json:"health"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, []string{"memory"}, health.Health.Unhealthy)
}

func TestStatusUnavailableBeforeFirstIteration(t *testing.T) {
	s, src, _ := newTestServer()
	src.st = nil

	rr := do(s, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestControlRoutes(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		code int
		call string
	}{
		{"reconnect", "/api/control/reconnect", "", http.StatusAccepted, "reconnect"},
		{"mode", "/api/control/mode", `{"mode":"safe_mode"}`, http.StatusAccepted, "mode"},
		{"unknown mode", "/api/control/mode", `{"mode":"turbo"}`, http.StatusBadRequest, ""},
		{"state", "/api/control/state", `{"state":"maintenance","reason":"upgrade"}`, http.StatusAccepted, "state"},
		{"unknown state", "/api/control/state", `{"state":"asleep"}`, http.StatusBadRequest, ""},
		{"bad body", "/api/control/auto-recovery", `{`, http.StatusBadRequest, ""},
		{"auto recovery", "/api/control/auto-recovery", `{"enabled":false}`, http.StatusAccepted, "auto-recovery"},
		{"reset", "/api/control/recovery/reset", "", http.StatusAccepted, "reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, ctl := newTestServer()
			rr := do(s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.code, rr.Code)
			if tt.call == "" {
				assert.Empty(t, ctl.calls)
			} else {
				assert.Equal(t, []string{tt.call}, ctl.calls)
			}
		})
	}
}

func TestControlPassesParsedValues(t *testing.T) {
	s, _, ctl := newTestServer()

	do(s, http.MethodPost, "/api/control/mode", `{"mode":"recovery"}`)
	do(s, http.MethodPost, "/api/control/state", `{"state":"error"}`)

	assert.Equal(t, degradation.Recovery, ctl.mode)
	assert.Equal(t, scheduler.Error, ctl.state)
}

func TestControlBusy(t *testing.T) {
	s, _, ctl := newTestServer()
	ctl.err = errors.New().New(scheduler.ErrControlBusy)

	rr := do(s, http.MethodPost, "/api/control/reconnect", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestControlRequiresPost(t *testing.T) {
	s, _, ctl := newTestServer()

	rr := do(s, http.MethodGet, "/api/control/reconnect", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Empty(t, ctl.calls)
}

func TestTelemetryRoutes(t *testing.T) {
	s, _, _ := newTestServer()

	rr := do(s, http.MethodGet, "/api/telemetry/health", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	tel := &fakeTelemetry{}
	s.WithTelemetry(tel)

	rr = do(s, http.MethodGet, "/api/telemetry/health?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, tel.limit)
	assert.Contains(t, rr.Body.String(), `"State":"connected"`)

	rr = do(s, http.MethodGet, "/api/telemetry/events?limit=99999", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, maxLimit, tel.limit)

	rr = do(s, http.MethodGet, "/api/telemetry/events?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsMount(t *testing.T) {
	s, _, _ := newTestServer()
	s.WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("streamctl_up 1\n"))
	}))

	rr := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "streamctl_up 1\n", rr.Body.String())
}
