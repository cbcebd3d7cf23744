package api

import (
	"encoding/json"
	"net/http"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
	"github.com/flecs-technologies/flecs-core/pkg/instanceconfig"
	"github.com/flecs-technologies/flecs-core/pkg/types"
	"github.com/gorilla/mux"
)

func (srv *Server) getUsbDevices(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	devices, err := srv.sorcerer.GetUsbDevices(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if devices == nil {
		devices = map[string]types.UsbBinding{}
	}
	writeJSON(w, http.StatusOK, devices)
}

type putUsbDeviceRequest struct {
	VendorID  string `json:"vendor_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

func (srv *Server) putUsbDevice(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	port := mux.Vars(r)["port"]
	if err := instanceconfig.ValidateUsbPort(port); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, "invalid usb port", err))
		return
	}

	var req putUsbDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Newf(apierr.KindValidation, "malformed request body: %v", err))
		return
	}

	result, err := srv.sorcerer.PutUsbDevice(id, types.UsbBinding{HostPort: port, VendorID: req.VendorID, ProductID: req.ProductID})
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

func (srv *Server) deleteUsbDevice(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	port := mux.Vars(r)["port"]
	deleted, err := srv.sorcerer.DeleteUsbDevice(id, port)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeError(w, apierr.Newf(apierr.KindNotFound, "usb port %q not bound", port))
		return
	}
	w.WriteHeader(http.StatusOK)
}
