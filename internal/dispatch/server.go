package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/deskhook/deskhook/internal/pending"
	"github.com/deskhook/deskhook/pkg/events"
)

// Server exposes the inbound webhook receiver endpoints. Receivers decode
// the payload and enqueue a job; they respond 200 immediately after enqueue,
// regardless of eventual processing outcome. This is the backpressure
// boundary that keeps webhook senders fast no matter how slow the remote
// platforms are.
type Server struct {
	dispatcher    *Dispatcher
	store         *pending.Store
	messagingPath string
	ticketingPath string
	listenAddr    string
	altPort       int

	server    *http.Server
	altServer *http.Server
}

// NewServer creates the webhook receiver server. When altPort is non-zero a
// second plain-http listener is bound on that port for ticketing callbacks
// that cannot reach the primary listener.
func NewServer(d *Dispatcher, store *pending.Store, listenAddr, messagingPath, ticketingPath string, altPort int) *Server {
	return &Server{
		dispatcher:    d,
		store:         store,
		messagingPath: messagingPath,
		ticketingPath: ticketingPath,
		listenAddr:    listenAddr,
		altPort:       altPort,
	}
}

// Router builds the HTTP routes. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Post(s.messagingPath, s.handleMessagingWebhook)
	r.Post(s.ticketingPath, s.handleTicketingWebhook)
	r.Get("/healthz", s.handleHealth)

	return r
}

// Start binds the listener(s) in the background.
func (s *Server) Start() error {
	handler := s.Router()

	s.server = &http.Server{
		Addr:         s.listenAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Server] Listener error: %v", err)
		}
	}()
	log.Printf("[Server] Listening on %s", s.listenAddr)

	if s.altPort != 0 {
		s.altServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", s.altPort),
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			if err := s.altServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[Server] Alternate listener error: %v", err)
			}
		}()
		log.Printf("[Server] Alternate listener on :%d", s.altPort)
	}

	return nil
}

// Shutdown gracefully shuts down the listener(s).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	if s.altServer != nil {
		return s.altServer.Shutdown(ctx)
	}
	return nil
}

// handleMessagingWebhook receives messaging-platform webhook deliveries.
func (s *Server) handleMessagingWebhook(w http.ResponseWriter, r *http.Request) {
	var event events.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	if err := s.dispatcher.OnMessagingEvent(r.Context(), &event); err != nil {
		log.Printf("[Server] Failed to accept messaging event: %v", err)
		http.Error(w, "failed to accept event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleTicketingWebhook receives the ticketing platform's trigger
// notifications.
func (s *Server) handleTicketingWebhook(w http.ResponseWriter, r *http.Request) {
	var event events.CommentEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	if err := s.dispatcher.OnTicketingEvent(r.Context(), &event); err != nil {
		log.Printf("[Server] Failed to accept ticketing event: %v", err)
		http.Error(w, "failed to accept event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleHealth reports Redis connectivity.
// Returns 200 OK if Redis is accessible, 503 Service Unavailable otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := healthResponse{Status: "healthy", Redis: "connected"}
	status := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		response = healthResponse{Status: "unhealthy", Redis: "disconnected", Error: err.Error()}
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

type healthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}
