package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/descriptor"
	"github.com/jbweber/virtmirror/internal/libvirt"
	"github.com/jbweber/virtmirror/internal/osdetect"
	"github.com/jbweber/virtmirror/internal/store"
	"github.com/jbweber/virtmirror/internal/vm"
)

const maxDeviceXML = 64 << 10

// operationStatus maps an operation error to an HTTP status.
func operationStatus(err error) int {
	var remote *libvirt.RemoteCallError
	switch {
	case errors.Is(err, vm.ErrUnknown):
		return http.StatusNotFound
	case errors.Is(err, vm.ErrNotPermitted):
		return http.StatusConflict
	case errors.Is(err, descriptor.ErrInvalidDevice):
		return http.StatusBadRequest
	case errors.Is(err, libvirt.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &remote):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respond writes the outcome of an operation on key. On success the
// refreshed record is returned.
func (s *Server) respond(w http.ResponseWriter, kind v1alpha1.Kind, key v1alpha1.Key, err error) {
	if err != nil {
		writeError(w, operationStatus(err), err.Error())
		return
	}

	record, ok := s.opts.Store.Get(kind, key)
	if !ok {
		// Transient objects vanish when stopped.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if s.opts.Operations == nil {
		writeError(w, http.StatusNotImplemented, "operations are disabled")
		return
	}
	kind, record, ok := s.target(w, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["action"]
	op, ok := s.opts.Operations.Actions(kind)[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown "+kind.RecordKind()+" action "+name)
		return
	}

	key := store.KeyOf(record)
	zerolog.Ctx(s.base).Info().
		Str("scope", string(key.Scope)).
		Str("path", key.Path).
		Str("action", name).
		Msg("operation requested")
	s.respond(w, kind, key, op(r.Context(), key))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.opts.Operations == nil {
		writeError(w, http.StatusNotImplemented, "operations are disabled")
		return
	}
	_, record, ok := s.target(w, r)
	if !ok {
		return
	}
	// The record leaves the store with the undefine event.
	if err := s.opts.Operations.Delete(r.Context(), store.KeyOf(record)); err != nil {
		writeError(w, operationStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type autostartRequest struct {
	Autostart bool `json:"autostart"`
}

func (s *Server) handleAutostart(w http.ResponseWriter, r *http.Request) {
	if s.opts.Operations == nil {
		writeError(w, http.StatusNotImplemented, "operations are disabled")
		return
	}
	_, record, ok := s.target(w, r)
	if !ok {
		return
	}
	var req autostartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	key := store.KeyOf(record)
	s.respond(w, v1alpha1.KindDomain, key, s.opts.Operations.SetAutostart(r.Context(), key, req.Autostart))
}

// handleDevice attaches (POST) or detaches (DELETE) the device XML in the
// request body.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if s.opts.Operations == nil {
		writeError(w, http.StatusNotImplemented, "operations are disabled")
		return
	}
	_, record, ok := s.target(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeviceXML))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	key := store.KeyOf(record)
	if r.Method == http.MethodDelete {
		err = s.opts.Operations.DetachDevice(r.Context(), key, string(body))
	} else {
		err = s.opts.Operations.AttachDevice(r.Context(), key, string(body))
	}
	s.respond(w, v1alpha1.KindDomain, key, err)
}

type usageRequest struct {
	Polling bool `json:"polling"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.opts.Poller == nil {
		writeError(w, http.StatusNotImplemented, "usage polling is disabled")
		return
	}
	_, record, ok := s.target(w, r)
	if !ok {
		return
	}
	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	key := store.KeyOf(record)
	if req.Polling {
		if !s.opts.Poller.Start(s.base, key) {
			writeError(w, http.StatusNotFound, "domain vanished")
			return
		}
	} else {
		s.opts.Poller.Stop(key)
	}
	s.respond(w, v1alpha1.KindDomain, key, nil)
}

type visibilityBody struct {
	Hidden bool `json:"hidden"`
}

func (s *Server) handleGetVisibility(w http.ResponseWriter, r *http.Request) {
	if s.opts.Visibility == nil {
		writeError(w, http.StatusNotImplemented, "visibility is not tracked")
		return
	}
	writeJSON(w, http.StatusOK, visibilityBody{Hidden: s.opts.Visibility.Hidden()})
}

func (s *Server) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	if s.opts.Visibility == nil {
		writeError(w, http.StatusNotImplemented, "visibility is not tracked")
		return
	}
	var req visibilityBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	s.opts.Visibility.SetHidden(req.Hidden)
	writeJSON(w, http.StatusOK, req)
}

// handleOSInfo runs OS detection on ?path=. A request replaced by a newer
// one answers 409 so the client can drop it.
func (s *Server) handleOSInfo(w http.ResponseWriter, r *http.Request) {
	if s.opts.Detector == nil {
		writeError(w, http.StatusNotImplemented, "OS detection is disabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	res, err := s.opts.Detector.Detect(r.Context(), path)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case osdetect.IsCancelled(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, osdetect.ErrUnsupported):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
