// Package server exposes the record store over HTTP.
//
// Reads are served straight from the store and never touch the remote
// side. The write endpoints toggle console visibility, start and stop
// usage polling, and forward lifecycle operations to vm.Operations, whose
// refetch brings the store up to date.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/jbweber/virtmirror/api/v1alpha1"
	"github.com/jbweber/virtmirror/internal/osdetect"
	"github.com/jbweber/virtmirror/internal/store"
	"github.com/jbweber/virtmirror/internal/vm"
)

// Poller starts and stops usage polling loops.
//
// In production, this is satisfied by *usage.Poller.
type Poller interface {
	Start(ctx context.Context, key v1alpha1.Key) bool
	Stop(key v1alpha1.Key)
}

// Visibility is the host console visibility flag.
//
// In production, this is satisfied by *hostenv.Visibility.
type Visibility interface {
	Hidden() bool
	SetHidden(hidden bool)
}

// Detector runs OS detection on install media.
//
// In production, this is satisfied by *osdetect.Tracker.
type Detector interface {
	Detect(ctx context.Context, path string) (osdetect.Result, error)
}

// Options configures a Server. Store and Scopes are required; the other
// collaborators are optional and their routes answer 501 when unset.
type Options struct {
	Store  *store.Store
	Scopes []v1alpha1.Scope

	Poller     Poller
	Visibility Visibility
	Operations *vm.Operations
	Detector   Detector

	// MaxWait caps the long-poll wait of GET /v1/version.
	MaxWait time.Duration
}

// Server serves the HTTP API.
type Server struct {
	opts Options

	// base outlives requests; polling loops started over HTTP run under it.
	base context.Context

	router *mux.Router
}

// New creates a Server. Polling loops started through the API run under
// ctx, which also carries the logger.
func New(ctx context.Context, opts Options) *Server {
	if opts.MaxWait <= 0 {
		opts.MaxWait = 60 * time.Second
	}
	s := &Server{opts: opts, base: ctx}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	v1.HandleFunc("/visibility", s.handleGetVisibility).Methods(http.MethodGet)
	v1.HandleFunc("/visibility", s.handleSetVisibility).Methods(http.MethodPut)
	v1.HandleFunc("/osinfo", s.handleOSInfo).Methods(http.MethodGet)

	v1.HandleFunc("/domains/{scope}/{name}/usage", s.handleUsage).Methods(http.MethodPost)
	v1.HandleFunc("/domains/{scope}/{name}/autostart", s.handleAutostart).Methods(http.MethodPut)
	v1.HandleFunc("/domains/{scope}/{name}/devices", s.handleDevice).Methods(http.MethodPost, http.MethodDelete)
	v1.HandleFunc("/{kind}/{scope}/{name}/{action}", s.handleAction).Methods(http.MethodPost)
	v1.HandleFunc("/domains/{scope}/{name}", s.handleDelete).Methods(http.MethodDelete)

	v1.HandleFunc("/{kind}", s.handleList).Methods(http.MethodGet)
	v1.HandleFunc("/{kind}/{scope}/{name}", s.handleGet).Methods(http.MethodGet)
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Errorf("listen %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.base },
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	zerolog.Ctx(ctx).Info().Str("addr", ln.Addr().String()).Msg("HTTP API listening")

	select {
	case err := <-errc:
		return errors.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Errorf("http shutdown: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		zerolog.Ctx(s.base).Debug().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
