package api

import (
	"encoding/json"
	"net/http"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
	"github.com/flecs-technologies/flecs-core/pkg/instanceconfig"
	"github.com/flecs-technologies/flecs-core/pkg/types"
	"github.com/gorilla/mux"
)

func (srv *Server) getEnvironment(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	vars, err := srv.sorcerer.GetEnvironment(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if vars == nil {
		vars = []types.EnvironmentVariable{}
	}
	writeJSON(w, http.StatusOK, vars)
}

func (srv *Server) putEnvironment(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var vars []types.EnvironmentVariable
	if err := json.NewDecoder(r.Body).Decode(&vars); err != nil {
		writeError(w, apierr.Newf(apierr.KindValidation, "malformed request body: %v", err))
		return
	}
	if err := srv.sorcerer.PutEnvironment(id, vars); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (srv *Server) getEnvironmentVariable(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name := mux.Vars(r)["name"]
	v, found, err := srv.sorcerer.GetEnvironmentVariable(id, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apierr.Newf(apierr.KindNotFound, "environment variable %q not set", name))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type putEnvironmentVariableRequest struct {
	Value *string `json:"value,omitempty"`
}

func (srv *Server) putEnvironmentVariable(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name := mux.Vars(r)["name"]
	var req putEnvironmentVariableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Newf(apierr.KindValidation, "malformed request body: %v", err))
		return
	}

	result, err := srv.sorcerer.PutEnvironmentVariable(id, types.EnvironmentVariable{Name: name, Value: req.Value})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if result == instanceconfig.Created {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
}

func (srv *Server) deleteEnvironmentVariable(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name := mux.Vars(r)["name"]
	deleted, err := srv.sorcerer.DeleteEnvironmentVariable(id, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeError(w, apierr.Newf(apierr.KindNotFound, "environment variable %q not set", name))
		return
	}
	w.WriteHeader(http.StatusOK)
}
