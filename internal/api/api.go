// Package api exposes the fleet service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/andrej220/probemanager/internal/fleet"
	"github.com/andrej220/probemanager/internal/jobs"
	"github.com/andrej220/probemanager/internal/lg"
	"github.com/andrej220/probemanager/internal/serverutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type operation func(*fleet.Service, context.Context, string) (fleet.Report, error)

// operations maps the route segment to the fleet call. Enqueued operations
// answer 202.
var operations = map[string]struct {
	call  operation
	async bool
}{
	"start":        {call: (*fleet.Service).Start},
	"stop":         {call: (*fleet.Service).Stop},
	"restart":      {call: (*fleet.Service).Restart},
	"reload":       {call: (*fleet.Service).Reload},
	"status":       {call: (*fleet.Service).Status},
	"test":         {call: (*fleet.Service).Test},
	"test-root":    {call: (*fleet.Service).TestRoot},
	"uptime":       {call: (*fleet.Service).Uptime},
	"deploy-conf":  {call: (*fleet.Service).DeployConf},
	"install":      {call: (*fleet.Service).Install, async: true},
	"update":       {call: (*fleet.Service).Update, async: true},
	"deploy-rules": {call: (*fleet.Service).DeployRules, async: true},
}

type Server struct {
	fleet   *fleet.Service
	tracker jobs.Tracker
	jobs    jobs.Enqueuer
	logger  lg.Logger
}

func New(svc *fleet.Service, tracker jobs.Tracker, enq jobs.Enqueuer, logger lg.Logger) *Server {
	if logger == nil {
		logger = lg.Discard
	}
	return &Server{fleet: svc, tracker: tracker, jobs: enq, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		serverutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/probes", s.listProbes).Methods(http.MethodGet)
	api.HandleFunc("/probes/status", s.statusAll).Methods(http.MethodGet)
	api.HandleFunc("/probes/{id}", s.getProbe).Methods(http.MethodGet)
	api.HandleFunc("/probes/{id}/jobs", s.probeJobs).Methods(http.MethodGet)
	api.HandleFunc("/probes/{id}/{op}", s.runOperation).Methods(http.MethodPost)
	api.Handle("/jobs", serverutil.NewValidationHandler[jobRequest](http.HandlerFunc(s.submitJob))).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", s.getJob).Methods(http.MethodGet)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", lg.String("method", r.Method), lg.String("path", r.URL.Path),
			lg.Duration("took", time.Since(start)))
	})
}

func (s *Server) listProbes(w http.ResponseWriter, r *http.Request) {
	all, err := s.fleet.List(r.Context())
	if err != nil {
		s.internal(w, "list probes", err)
		return
	}
	serverutil.WriteJSON(w, http.StatusOK, all)
}

func (s *Server) getProbe(w http.ResponseWriter, r *http.Request) {
	rec, err := s.fleet.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, "get probe", err)
		return
	}
	serverutil.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) statusAll(w http.ResponseWriter, r *http.Request) {
	reports, err := s.fleet.StatusAll(r.Context())
	if err != nil {
		s.internal(w, "status of all probes", err)
		return
	}
	serverutil.WriteJSON(w, http.StatusOK, reports)
}

func (s *Server) runOperation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	op, ok := operations[vars["op"]]
	if !ok {
		serverutil.WriteError(w, http.StatusNotFound, errors.New("unknown operation "+vars["op"]))
		return
	}
	rep, err := op.call(s.fleet, r.Context(), vars["id"])
	switch {
	case errors.Is(err, jobs.ErrEnqueue):
		s.logger.Warn("job not enqueued", lg.String("probe", rep.Probe), lg.Err(err))
		serverutil.WriteJSON(w, http.StatusServiceUnavailable, rep)
	case err != nil:
		s.fail(w, vars["op"], err)
	case op.async:
		serverutil.WriteJSON(w, http.StatusAccepted, rep)
	default:
		serverutil.WriteJSON(w, http.StatusOK, rep)
	}
}

type jobRequest struct {
	Job   jobs.Name `json:"job" validate:"required,oneof=install update deployRules"`
	Probe string    `json:"probe" validate:"required"`
}

// submitJob enqueues a job by probe name, without resolving the probe.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	req, _ := serverutil.Request[jobRequest](r)
	h, err := s.jobs.Enqueue(r.Context(), req.Job, req.Probe)
	if err != nil {
		s.logger.Warn("job not enqueued", lg.String("probe", req.Probe), lg.Err(err))
		serverutil.WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	serverutil.WriteJSON(w, http.StatusAccepted, h)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, found, err := s.tracker.Get(r.Context(), id)
	if err != nil {
		s.internal(w, "get job", err)
		return
	}
	if !found {
		serverutil.WriteError(w, http.StatusNotFound, errors.New("job not found: "+id))
		return
	}
	serverutil.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) probeJobs(w http.ResponseWriter, r *http.Request) {
	rec, err := s.fleet.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, "get probe", err)
		return
	}
	list, err := s.tracker.List(r.Context(), rec.Name)
	if err != nil {
		s.internal(w, "list jobs", err)
		return
	}
	serverutil.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, fleet.ErrNotFound) {
		serverutil.WriteError(w, http.StatusNotFound, err)
		return
	}
	s.internal(w, what, err)
}

func (s *Server) internal(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what+" failed", lg.Err(err))
	serverutil.WriteError(w, http.StatusInternalServerError, err)
}
