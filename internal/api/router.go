// Package api serves the synchronized state as read-only JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dmxsync/internal/board"
	"dmxsync/internal/console"
	"dmxsync/internal/device"
	"dmxsync/internal/logger"
	"dmxsync/internal/poller"
	"github.com/gorilla/mux"
)

// ConsoleState is the console store as seen by the API.
type ConsoleState interface {
	Snapshot() console.Snapshot
}

// BoardState is the board store as seen by the API.
type BoardState interface {
	Snapshot() board.Snapshot
	Log() []device.LogEntry
}

// Resources is the poll scheduler as seen by the API.
type Resources interface {
	Snapshot(key string) (poller.Resource, bool)
	Keys() []string
}

type resourceView struct {
	Key       string    `json:"key"`
	State     string    `json:"state"`
	InFlight  bool      `json:"inFlight"`
	Outcome   string    `json:"outcome"`
	UpdatedAt time.Time `json:"updatedAt"`
	LastError string    `json:"lastError,omitempty"`
	Failures  int       `json:"failures"`
}

func newResourceView(r poller.Resource) resourceView {
	v := resourceView{
		Key:       r.Key,
		State:     r.State.String(),
		InFlight:  r.InFlight,
		Outcome:   r.Outcome.String(),
		UpdatedAt: r.UpdatedAt,
		Failures:  r.Failures,
	}
	if r.LastErr != nil {
		v.LastError = r.LastErr.Error()
	}
	return v
}

// NewRouter builds the API routes.
func NewRouter(cons ConsoleState, brd BoardState, res Resources) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "OK")
	}).Methods("GET")
	r.HandleFunc("/api/console", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cons.Snapshot())
	}).Methods("GET")
	r.HandleFunc("/api/console/window", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cons.Snapshot().Window())
	}).Methods("GET")
	r.HandleFunc("/api/board", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, brd.Snapshot())
	}).Methods("GET")
	r.HandleFunc("/api/log", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, brd.Log())
	}).Methods("GET")
	r.HandleFunc("/api/resources", func(w http.ResponseWriter, r *http.Request) {
		keys := res.Keys()
		out := make([]resourceView, 0, len(keys))
		for _, k := range keys {
			if snap, ok := res.Snapshot(k); ok {
				out = append(out, newResourceView(snap))
			}
		}
		writeJSON(w, http.StatusOK, out)
	}).Methods("GET")
	// buffer keys contain a slash
	r.HandleFunc("/api/resources/{key:.+}", func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]
		snap, ok := res.Snapshot(key)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource " + key})
			return
		}
		writeJSON(w, http.StatusOK, newResourceView(snap))
	}).Methods("GET")
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Server runs the router until its context is done.
type Server struct {
	log  *logger.Log
	http *http.Server
}

func NewServer(log logger.Logger, listen string, handler http.Handler) *Server {
	return &Server{
		log: log.With(logger.Fields{"module": "api"}),
		http: &http.Server{
			Addr:              listen,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
