package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
	"github.com/flecs-technologies/flecs-core/pkg/instanceconfig"
	"github.com/flecs-technologies/flecs-core/pkg/types"
	"github.com/gorilla/mux"
)

func protocol(r *http.Request) types.TransportProtocol {
	return types.TransportProtocol(mux.Vars(r)["proto"])
}

// parseHostRange parses the {host_port_range} path variable: a bare
// integer denotes the single-port range p..=p, per spec §6.
func parseHostRange(raw string) (types.PortRange, error) {
	var start, end uint16
	if _, err := fmt.Sscanf(raw, "%d-%d", &start, &end); err == nil {
		rng, rerr := types.NewPortRange(start, end)
		if rerr != nil {
			return types.PortRange{}, apierr.Newf(apierr.KindValidation, "%v", rerr)
		}
		return rng, nil
	}
	if _, err := fmt.Sscanf(raw, "%d", &start); err != nil {
		return types.PortRange{}, apierr.Newf(apierr.KindValidation, "invalid host port range %q", raw)
	}
	rng, rerr := types.NewPortRange(start, start)
	if rerr != nil {
		return types.PortRange{}, apierr.Newf(apierr.KindValidation, "%v", rerr)
	}
	return rng, nil
}

func (srv *Server) getPortMappings(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	mappings, err := srv.sorcerer.GetPortMappings(id, protocol(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if mappings == nil {
		mappings = []types.PortMapping{}
	}
	writeJSON(w, http.StatusOK, mappings)
}

func (srv *Server) putPortMappingList(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var list []types.PortMapping
	if err := json.NewDecoder(r.Body).Decode(&list); err != nil {
		writeError(w, apierr.Newf(apierr.KindValidation, "malformed request body: %v", err))
		return
	}
	if err := srv.sorcerer.PutPortMappingList(id, protocol(r), list); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type putPortMappingRangeRequest struct {
	Container types.PortRange `json:"container"`
}

func (srv *Server) putPortMappingRange(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	host, err := parseHostRange(mux.Vars(r)["hostRange"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req putPortMappingRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Newf(apierr.KindValidation, "malformed request body: %v", err))
		return
	}

	result, err := srv.sorcerer.PutPortMappingRange(id, protocol(r), host, req.Container)
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

func (srv *Server) deletePortMappingRange(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	host, err := parseHostRange(mux.Vars(r)["hostRange"])
	if err != nil {
		writeError(w, err)
		return
	}
	found, err := srv.sorcerer.DeletePortMappingRange(id, protocol(r), host)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apierr.Newf(apierr.KindNotFound, "no port mapping with host range %s", host))
		return
	}
	w.WriteHeader(http.StatusOK)
}
