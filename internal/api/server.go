// Package api is the HTTP surface of the scheduling service. Handlers
// parse HH:MM / YYYY-MM-DD boundary formats, call into the scheduling
// orchestrator and the lifecycle machine, and translate fault kinds onto
// status codes.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldsvc/dispatchd/internal/calendar"
	"github.com/fieldsvc/dispatchd/internal/lifecycle"
	"github.com/fieldsvc/dispatchd/internal/logger"
	"github.com/fieldsvc/dispatchd/internal/metrics"
	"github.com/fieldsvc/dispatchd/internal/scheduling"
	"github.com/fieldsvc/dispatchd/internal/store"
)

// Server wires the handlers to their dependencies.
type Server struct {
	scheduling *scheduling.Service
	machine    *lifecycle.Machine
	store      *store.Store
	cal        *calendar.Calendar
	logger     *logger.Logger
	metrics    *metrics.Metrics
	deadline   time.Duration
}

func NewServer(sched *scheduling.Service, machine *lifecycle.Machine, st *store.Store, cal *calendar.Calendar, log *logger.Logger, m *metrics.Metrics, deadline time.Duration) *Server {
	return &Server{
		scheduling: sched,
		machine:    machine,
		store:      st,
		cal:        cal,
		logger:     log,
		metrics:    m,
		deadline:   deadline,
	}
}

// Routes builds the full handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /availability/{agent}", s.handleAgentAvailability)
	mux.HandleFunc("GET /availability", s.handleQueryAvailability)

	mux.HandleFunc("POST /schedules", s.handleBook)
	mux.HandleFunc("GET /schedules", s.handleListSchedules)
	mux.HandleFunc("GET /schedules/timeline", s.handleTimeline)
	mux.HandleFunc("GET /schedules/{id}", s.handleGetSchedule)
	mux.HandleFunc("PATCH /schedules/{id}", s.handlePatchSchedule)
	mux.HandleFunc("DELETE /schedules/{id}", s.handleCancelSchedule)

	mux.HandleFunc("POST /agents", s.handleCreateAgent)
	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("PUT /agents/{agent}/free-windows/{dow}", s.handleSetFreeWindow)
	mux.HandleFunc("DELETE /agents/{agent}/free-windows/{dow}", s.handleDeleteFreeWindow)
	mux.HandleFunc("POST /agents/{agent}/blocks", s.handleAddBlock)
	mux.HandleFunc("DELETE /agents/{agent}/blocks/{block}", s.handleDeleteBlock)

	mux.HandleFunc("GET /projects/{project}/flags", s.handleProjectFlags)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.withMiddleware(mux)
}

// withMiddleware wraps the mux with the request deadline, access logging
// and the HTTP instruments.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.deadline > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.deadline)
			defer cancel()
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		elapsed := time.Since(start)

		route := r.Method + " " + r.URL.Path
		s.logger.InfoCtx(ctx, "HTTP request",
			logger.Field{Key: "method", Value: r.Method},
			logger.Field{Key: "path", Value: r.URL.Path},
			logger.Field{Key: "status", Value: rec.status},
			logger.Field{Key: "duration_ms", Value: elapsed.Milliseconds()})

		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
			s.metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
