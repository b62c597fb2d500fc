package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/output"
)

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// scopes returns the scopes a list request covers: the ?scope= value, or
// every configured scope.
func (s *Server) scopes(r *http.Request) ([]v1alpha1.Scope, error) {
	raw := r.URL.Query().Get("scope")
	if raw == "" {
		return s.opts.Scopes, nil
	}
	scope, err := v1alpha1.ParseScope(raw)
	if err != nil {
		return nil, err
	}
	return []v1alpha1.Scope{scope}, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	kind, err := v1alpha1.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	scopes, err := s.scopes(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, output.NewList(kind.RecordKind(), s.opts.Store.List(kind, scopes)))
}

// target resolves the {kind}, {scope} and {name} route variables.
// It writes the error response and returns false when they do not name a
// stored record.
func (s *Server) target(w http.ResponseWriter, r *http.Request) (v1alpha1.Kind, any, bool) {
	vars := mux.Vars(r)
	kind := v1alpha1.KindDomain
	if raw, ok := vars["kind"]; ok {
		var err error
		if kind, err = v1alpha1.ParseKind(raw); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return "", nil, false
		}
	}
	scope, err := v1alpha1.ParseScope(vars["scope"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", nil, false
	}

	record, ok := s.opts.Store.ByName(kind, scope, vars["name"])
	if !ok {
		writeError(w, http.StatusNotFound, "no "+kind.RecordKind()+" "+vars["name"]+" in scope "+string(scope))
		return "", nil, false
	}
	return kind, record, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	_, record, ok := s.target(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type versionResponse struct {
	Version uint64           `json:"version"`
	Scopes  []v1alpha1.Scope `json:"scopes"`
}

// handleVersion returns the store version. With ?since=N it waits until
// the version moves past N, for at most ?wait= (capped by MaxWait).
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("since") == "" {
		writeJSON(w, http.StatusOK, versionResponse{Version: s.opts.Store.Version(), Scopes: s.opts.Scopes})
		return
	}

	since, err := strconv.ParseUint(q.Get("since"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since: "+err.Error())
		return
	}
	wait := s.opts.MaxWait
	if raw := q.Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "wait: "+err.Error())
			return
		}
		wait = min(d, s.opts.MaxWait)
	}

	changes, stop := s.opts.Store.Changes()
	defer stop()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for s.opts.Store.Version() <= since {
		select {
		case <-changes:
		case <-timer.C:
			writeJSON(w, http.StatusOK, versionResponse{Version: s.opts.Store.Version(), Scopes: s.opts.Scopes})
			return
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, http.StatusOK, versionResponse{Version: s.opts.Store.Version(), Scopes: s.opts.Scopes})
}
