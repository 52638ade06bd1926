package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jpalmerr/tandem"
	"github.com/jpalmerr/tandem/internal/store"
)

const (
	// sseWriteTimeout bounds a single SSE write so slow or gone clients
	// cannot pin a handler goroutine. Must be <= shutdownTimeout.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second
)

// StatusGetter resolves the status of an application.
// [*tandem.StatusPoller] implements it.
type StatusGetter interface {
	GetStatus(ctx context.Context, id string) tandem.ApplicationStatus
}

// statusView is the JSON body of the status endpoint.
type statusView struct {
	Result          string     `json:"result"`
	ID              string     `json:"id,omitempty"`
	Status          string     `json:"status,omitempty"`
	LastAttemptTime *time.Time `json:"last_attempt_time,omitempty"`
	AttemptCount    *int       `json:"attempt_count,omitempty"`
}

type deliveriesView struct {
	Totals     store.Totals           `json:"totals"`
	Deliveries []store.DeliveryRecord `json:"deliveries"`
}

// Server exposes the status poller and delivery records over HTTP.
//
// Routes:
//   - GET /api/applications/{id}/status: polls both backends and returns the result
//   - GET /api/deliveries: latest delivery record per recipient plus totals
//   - GET /api/sse: Server-Sent Events stream of new delivery records
//   - GET /healthz: liveness probe
//
// Either dependency may be nil; its routes then answer 404.
type Server struct {
	poller StatusGetter
	store  store.Store
	port   int
	logger *slog.Logger

	httpServer *http.Server
}

// NewServer creates a [Server] listening on port once started.
func NewServer(poller StatusGetter, st store.Store, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		poller: poller,
		store:  st,
		port:   port,
		logger: logger,
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.poller != nil {
		mux.HandleFunc("GET /api/applications/{id}/status", s.handleStatus)
	}
	if s.store != nil {
		mux.HandleFunc("GET /api/deliveries", s.handleDeliveries)
		mux.HandleFunc("GET /api/sse", s.handleSSE)
	}
	return mux
}

// Start binds the port and serves in a background goroutine until ctx is
// cancelled, then shuts down with a 5-second grace period.
//
// Returns an error if the port cannot be bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so SSE handlers end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Run is the blocking form of [Server.Start]: it returns once ctx is
// cancelled and the server has shut down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleStatus runs one poll per request; the request context bounds it
// together with the poller's own timeout.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "application id is required", http.StatusBadRequest)
		return
	}

	var view statusView
	switch st := s.poller.GetStatus(r.Context(), id).(type) {
	case tandem.SuccessStatus:
		view = statusView{Result: "success", ID: st.ApplicationID, Status: st.Status}
	case tandem.FailureStatus:
		view = statusView{Result: "failure", AttemptCount: &st.AttemptCount}
		if st.HasAttempt() {
			at := st.LastAttemptTime
			view.LastAttemptTime = &at
		}
	default:
		s.logger.Error("unexpected application status", "app_id", id, "type", fmt.Sprintf("%T", st))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, view)
}

func (s *Server) handleDeliveries(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, deliveriesView{
		Totals:     s.store.Totals(),
		Deliveries: s.store.GetAll(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleSSE streams delivery records via Server-Sent Events.
//
// Writes carry a deadline so a blocked write cannot keep the handler from
// seeing cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// replay the current snapshot first
	for _, rec := range s.store.GetAll() {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}
		case <-r.Context().Done():
			// fires on client disconnect and on server shutdown
			return
		}
	}
}
