package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
	"github.com/flecs-technologies/flecs-core/pkg/types"
	"github.com/gorilla/mux"
)

type createInstanceRequest struct {
	AppKey types.AppKey `json:"appKey"`
	Name   string       `json:"name,omitempty"`
}

// createInstance implements POST /instances/create: 202 with {jobId}, or
// 400 if the referenced app does not exist (spec §9's resolved Open
// Question — creation never blocks on the image pull / container create).
func (srv *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Newf(apierr.KindValidation, "malformed request body: %v", err))
		return
	}

	_, jobID, err := srv.sorcerer.CreateInstance(r.Context(), req.AppKey, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: jobID})
}

func (srv *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	app := r.URL.Query().Get("app")
	version := r.URL.Query().Get("version")

	var filter *types.AppKey
	if app != "" {
		filter = &types.AppKey{Name: app, Version: version}
	}

	instances, err := srv.sorcerer.ListInstances(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if instances == nil {
		instances = []types.Instance{}
	}
	writeJSON(w, http.StatusOK, instances)
}

func (srv *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	instance, err := srv.sorcerer.GetInstanceDetailed(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

func (srv *Server) deleteInstance(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := srv.sorcerer.DeleteInstance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: jobID})
}

// patchInstance updates an instance's desired runtime state (start/stop
// via the generic PATCH verb spec §6 also allows alongside the dedicated
// start/stop routes). Only the "desired" field is honored.
type patchInstanceRequest struct {
	Desired *types.InstanceStatus `json:"desired,omitempty"`
}

func (srv *Server) patchInstance(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req patchInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Newf(apierr.KindValidation, "malformed request body: %v", err))
		return
	}
	if req.Desired == nil {
		writeError(w, apierr.New(apierr.KindValidation, "no updatable field given"))
		return
	}

	var jobID uint64
	switch *req.Desired {
	case types.InstanceRunning:
		jobID, err = srv.sorcerer.StartInstance(r.Context(), id)
	case types.InstanceStopped:
		jobID, err = srv.sorcerer.StopInstance(r.Context(), id)
	default:
		writeError(w, apierr.Newf(apierr.KindValidation, "unsupported desired status %q", *req.Desired))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: jobID})
}

func (srv *Server) startInstance(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := srv.sorcerer.StartInstance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: jobID})
}

func (srv *Server) stopInstance(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := srv.sorcerer.StopInstance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: jobID})
}

type logsResponse struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

func (srv *Server) instanceLogs(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := srv.sorcerer.InstanceLogs(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logsResponse{Stdout: logs.Stdout, Stderr: logs.Stderr})
}

// instanceID parses and validates the {id} path variable. mux's own route
// regex already rejected anything not 8 lowercase hex digits, so a parse
// failure here would be a programming error, not user input.
func instanceID(r *http.Request) (types.InstanceId, error) {
	raw := mux.Vars(r)["id"]
	var v uint32
	if _, err := fmt.Sscanf(raw, "%08x", &v); err != nil {
		return 0, apierr.Newf(apierr.KindValidation, "invalid instance id %q", raw)
	}
	return types.InstanceId(v), nil
}
