// Package api binds the HTTP surface of spec §6 onto the sorcerer and
// quest registry using gorilla/mux, the router the pack's other repos
// reach for when they expose a plain REST surface (rather than gRPC, the
// teacher's own choice, which has no analog for flecs-core's single-node
// HTTP API). Route parameters are constrained with mux's own regex path
// variables so malformed input is rejected by the router before it ever
// reaches the sorcerer, matching spec §7's "validation is handled at the
// edge and never reaches the sorcerer" propagation policy.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
	"github.com/flecs-technologies/flecs-core/pkg/log"
	"github.com/flecs-technologies/flecs-core/pkg/metrics"
	"github.com/flecs-technologies/flecs-core/pkg/quest"
	"github.com/flecs-technologies/flecs-core/pkg/sorcerer"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	instanceIDPattern = `{id:[0-9a-f]{8}}`
	envNamePattern    = `{name:[a-zA-Z]+(?:[a-zA-Z0-9_.\-])*}`
	hostRangePattern  = `{hostRange:[0-9]+(?:-[0-9]+)?}`
	protoPattern      = `{proto:tcp|udp|sctp}`
	usbPortPattern    = `{port:usb[1-9][0-9]*|[1-9][0-9]*-[1-9][0-9]*(?:\.[1-9][0-9]*)*}`
	jobIDPattern      = `{id:[0-9]+}`
)

// Server wires HTTP handlers to a Sorcerer and Quest registry, and exposes
// the resulting mux.Router for a caller to bind to a listener.
type Server struct {
	sorcerer *sorcerer.Sorcerer
	quests   *quest.Registry
	router   *mux.Router
}

// New builds a Server with every route of spec §6 registered.
func New(s *sorcerer.Sorcerer, q *quest.Registry) *Server {
	if q == nil {
		q = quest.Default()
	}
	srv := &Server{sorcerer: s, quests: q, router: mux.NewRouter()}
	srv.routes()
	return srv
}

// Router returns the underlying mux.Router, e.g. for use in tests via
// httptest.NewServer.
func (srv *Server) Router() *mux.Router { return srv.router }

// Start runs an HTTP server on addr using the registered routes. It
// blocks until the server stops or errors.
func (srv *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      withMetrics(srv.router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Info("api server listening on " + addr)
	return server.ListenAndServe()
}

func (srv *Server) routes() {
	r := srv.router

	r.HandleFunc("/instances/create", srv.createInstance).Methods(http.MethodPost)
	r.HandleFunc("/instances", srv.listInstances).Methods(http.MethodGet)
	r.HandleFunc("/instances/"+instanceIDPattern, srv.getInstance).Methods(http.MethodGet)
	r.HandleFunc("/instances/"+instanceIDPattern, srv.deleteInstance).Methods(http.MethodDelete)
	r.HandleFunc("/instances/"+instanceIDPattern, srv.patchInstance).Methods(http.MethodPatch)
	r.HandleFunc("/instances/"+instanceIDPattern+"/start", srv.startInstance).Methods(http.MethodPost)
	r.HandleFunc("/instances/"+instanceIDPattern+"/stop", srv.stopInstance).Methods(http.MethodPost)
	r.HandleFunc("/instances/"+instanceIDPattern+"/logs", srv.instanceLogs).Methods(http.MethodGet)

	r.HandleFunc("/instances/"+instanceIDPattern+"/config/environment", srv.getEnvironment).Methods(http.MethodGet)
	r.HandleFunc("/instances/"+instanceIDPattern+"/config/environment", srv.putEnvironment).Methods(http.MethodPut)
	r.HandleFunc("/instances/"+instanceIDPattern+"/config/environment/"+envNamePattern, srv.getEnvironmentVariable).Methods(http.MethodGet)
	r.HandleFunc("/instances/"+instanceIDPattern+"/config/environment/"+envNamePattern, srv.putEnvironmentVariable).Methods(http.MethodPut)
	r.HandleFunc("/instances/"+instanceIDPattern+"/config/environment/"+envNamePattern, srv.deleteEnvironmentVariable).Methods(http.MethodDelete)

	r.HandleFunc("/instances/"+instanceIDPattern+"/config/ports/"+protoPattern, srv.getPortMappings).Methods(http.MethodGet)
	r.HandleFunc("/instances/"+instanceIDPattern+"/config/ports/"+protoPattern, srv.putPortMappingList).Methods(http.MethodPut)
	r.HandleFunc("/instances/"+instanceIDPattern+"/config/ports/"+protoPattern+"/"+hostRangePattern, srv.putPortMappingRange).Methods(http.MethodPut)
	r.HandleFunc("/instances/"+instanceIDPattern+"/config/ports/"+protoPattern+"/"+hostRangePattern, srv.deletePortMappingRange).Methods(http.MethodDelete)

	r.HandleFunc("/instances/"+instanceIDPattern+"/config/devices/usb", srv.getUsbDevices).Methods(http.MethodGet)
	r.HandleFunc("/instances/"+instanceIDPattern+"/config/devices/usb/"+usbPortPattern, srv.putUsbDevice).Methods(http.MethodPut)
	r.HandleFunc("/instances/"+instanceIDPattern+"/config/devices/usb/"+usbPortPattern, srv.deleteUsbDevice).Methods(http.MethodDelete)

	r.HandleFunc("/jobs/"+jobIDPattern, srv.getJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/"+jobIDPattern, srv.cancelJob).Methods(http.MethodDelete)
}

// withMetrics records request counts and latency per the API metrics
// group, the same decorator shape the teacher uses to wrap its gRPC
// interceptor around every call. Each request is also tagged with a
// generated request ID for log correlation, mirroring the stable-ID
// role google/uuid plays for the teacher's Node/Service/Container IDs.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		logger := log.WithComponent("api").With().Str("request_id", requestID).Logger()
		logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request received")

		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, http.StatusText(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// errorResponse is the body written alongside apierr.HTTPStatus(kind).
type errorResponse struct {
	AdditionalInfo string `json:"additional_info"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	writeJSON(w, apierr.HTTPStatus(kind), errorResponse{AdditionalInfo: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type jobResponse struct {
	JobID uint64 `json:"jobId"`
}
