// Package control implements the switcher's control plane: the HTTP
// endpoint and console key handler that are the sole mutators of
// active-source state.
package control

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/mswitch/internal/http/middleware"
	"github.com/jmylchreest/mswitch/internal/mswitch"
)

// Switcher is the subset of *mswitch.Switcher the control plane needs.
// Declared as an interface so handlers can be tested against a fake.
type Switcher interface {
	RequestSwitch(n int) error
	Status() mswitch.Status
}

// Server is the control plane's HTTP listener.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer builds the chi router for POST|GET /switch/{n} and GET /status,
// wrapped with the request-ID, recovery, and access-logging middleware the
// rest of the daemon uses.
func NewServer(addr string, sw Switcher, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))

	h := &handlers{sw: sw}
	r.Get("/switch/{n}", h.handleSwitch)
	r.Post("/switch/{n}", h.handleSwitch)
	r.Get("/status", h.handleStatus)

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: r},
		log:        logger,
	}
}

// ListenAndServe blocks, serving the control plane until the listener is
// closed. Close closes the listener, which releases the blocked Accept.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("control plane listening", slog.String("addr", s.httpServer.Addr))
	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close shuts the control plane down, releasing any blocked Accept.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

type handlers struct {
	sw Switcher
}

type switchResponse struct {
	Status string `json:"status"`
	Source string `json:"source"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) handleSwitch(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "n")
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad switch target"})
		return
	}

	if err := h.sw.RequestSwitch(n); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, switchResponse{Status: "ok", Source: strconv.Itoa(n)})
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sw.Status())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
