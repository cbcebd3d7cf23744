package api

import (
	"net/http"
	"strconv"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
	"github.com/gorilla/mux"
)

func jobID(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apierr.Newf(apierr.KindValidation, "invalid job id %q", raw)
	}
	return id, nil
}

// getJob implements GET /jobs/{id}: a Quest snapshot.
func (srv *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := srv.quests.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// cancelJob implements DELETE /jobs/{id}: requests cooperative
// cancellation of the quest and any children already spawned.
func (srv *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := srv.quests.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
