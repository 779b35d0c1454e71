// Package statusapi exposes the control plane status and control surfaces
// over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/streamctl/internal/degradation"
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/logger"
	"codeberg.org/mutker/streamctl/internal/scheduler"
	"codeberg.org/mutker/streamctl/internal/telemetry"
	"github.com/gorilla/mux"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// TelemetryReader serves stored history.
type TelemetryReader interface {
	RecentSamples(limit int) ([]telemetry.Sample, error)
	RecentEvents(limit int) ([]telemetry.EventRecord, error)
}

type Server struct {
	addr      string
	src       scheduler.StatusSource
	ctl       scheduler.Controller
	telemetry TelemetryReader
	log       logger.Logger
	router    *mux.Router
}

func New(addr string, src scheduler.StatusSource, ctl scheduler.Controller, log logger.Logger) *Server {
	s := &Server{
		addr:   addr,
		src:    src,
		ctl:    ctl,
		log:    log,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	api.HandleFunc("/state", s.getState).Methods(http.MethodGet)
	api.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	api.HandleFunc("/breakers", s.getBreakers).Methods(http.MethodGet)
	api.HandleFunc("/network", s.getNetwork).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)

	api.HandleFunc("/telemetry/health", s.getTelemetrySamples).Methods(http.MethodGet)
	api.HandleFunc("/telemetry/events", s.getTelemetryEvents).Methods(http.MethodGet)

	ctl := api.PathPrefix("/control").Subrouter()
	ctl.HandleFunc("/reconnect", s.postReconnect).Methods(http.MethodPost)
	ctl.HandleFunc("/state", s.postState).Methods(http.MethodPost)
	ctl.HandleFunc("/mode", s.postMode).Methods(http.MethodPost)
	ctl.HandleFunc("/auto-recovery", s.postAutoRecovery).Methods(http.MethodPost)
	ctl.HandleFunc("/recovery/reset", s.postResetRecovery).Methods(http.MethodPost)
}

// WithTelemetry enables the stored history routes.
func (s *Server) WithTelemetry(r TelemetryReader) *Server {
	s.telemetry = r
	return s
}

// WithMetrics mounts h at /metrics.
func (s *Server) WithMetrics(h http.Handler) *Server {
	s.router.Handle("/metrics", h).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("Status API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) status(w http.ResponseWriter) (*scheduler.Status, bool) {
	st := s.src.Status()
	if st == nil {
		http.Error(w, "status not yet available", http.StatusServiceUnavailable)
		return nil, false
	}
	return st, true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	if st, ok := s.status(w); ok {
		s.writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	st, ok := s.status(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"state":         st.State,
		"time_in_state": st.TimeInState.String(),
		"boot_reason":   st.BootReason,
		"mode":          st.Mode,
		"features":      st.Features,
		"history":       st.History,
		"state_counts":  st.StateCounts,
		"last_timeout":  st.LastTimeout,
	})
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	st, ok := s.status(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"health":      st.Health,
		"predictions": st.Predictions,
	})
}

func (s *Server) getBreakers(w http.ResponseWriter, _ *http.Request) {
	if st, ok := s.status(w); ok {
		s.writeJSON(w, http.StatusOK, st.Breakers)
	}
}

func (s *Server) getNetwork(w http.ResponseWriter, _ *http.Request) {
	st, ok := s.status(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"active":      st.ActiveNetwork,
		"candidates":  st.Candidates,
		"quality":     st.Quality,
		"connections": st.Connections,
	})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	st, ok := s.status(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"counters":    st.Counters,
		"pool":        st.Pool,
		"recovery":    st.Recovery,
		"persistence": st.Persistence,
		"events":      st.Events,
	})
}

func limitParam(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, maxLimit), true
}

func (s *Server) getTelemetrySamples(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		http.Error(w, "telemetry disabled", http.StatusNotFound)
		return
	}
	limit, ok := limitParam(r)
	if !ok {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	samples, err := s.telemetry.RecentSamples(limit)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read telemetry samples")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, samples)
}

func (s *Server) getTelemetryEvents(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		http.Error(w, "telemetry disabled", http.StatusNotFound)
		return
	}
	limit, ok := limitParam(r)
	if !ok {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	evts, err := s.telemetry.RecentEvents(limit)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read telemetry events")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, evts)
}

type stateRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

type modeRequest struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// accepted reports the result of queueing a command.
func (s *Server) accepted(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	case errors.HasCode(err, scheduler.ErrControlBusy):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (s *Server) postReconnect(w http.ResponseWriter, _ *http.Request) {
	s.accepted(w, s.ctl.ForceReconnect())
}

func (s *Server) postState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if !decode(w, r, &req) {
		return
	}
	st, ok := scheduler.ParseState(req.State)
	if !ok {
		http.Error(w, "unknown state "+strconv.Quote(req.State), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}
	s.accepted(w, s.ctl.ForceState(st, req.Reason))
}

func (s *Server) postMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decode(w, r, &req) {
		return
	}
	m, ok := degradation.ParseMode(req.Mode)
	if !ok {
		http.Error(w, "unknown mode "+strconv.Quote(req.Mode), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}
	s.accepted(w, s.ctl.SetMode(m, req.Reason))
}

func (s *Server) postAutoRecovery(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !decode(w, r, &req) {
		return
	}
	s.accepted(w, s.ctl.SetAutoRecovery(req.Enabled))
}

func (s *Server) postResetRecovery(w http.ResponseWriter, _ *http.Request) {
	s.accepted(w, s.ctl.ResetRecovery())
}
