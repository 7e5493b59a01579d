// Package api provides the HTTP admin surface of the bot.
//
// It exposes endpoints for flow definition management, conversation
// administration, queue statistics and the Twilio inbound webhook.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dtalero78/bot-bsl-sub000/internal/messaging"
	"github.com/dtalero78/bot-bsl-sub000/internal/queue"
	"github.com/dtalero78/bot-bsl-sub000/internal/store"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default API listen address
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithQueue exposes queue statistics on the server.
func WithQueue(q *queue.Manager) Option {
	return func(s *Server) { s.queue = q }
}

// WithTwilioWebhook mounts the Twilio inbound webhook handler.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(s *Server) { s.twilioWebhook = h }
}

// Server wires the store, messaging service and queue into HTTP handlers.
type Server struct {
	addr          string
	st            store.Store
	msgService    messaging.Service
	queue         *queue.Manager
	twilioWebhook http.HandlerFunc
	httpServer    *http.Server
}

// NewServer creates the admin API server.
func NewServer(st store.Store, msgService messaging.Service, opts ...Option) *Server {
	s := &Server{
		addr:       DefaultAddr,
		st:         st,
		msgService: msgService,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/send", s.sendHandler)
	mux.HandleFunc("/flows", s.flowsHandler)
	mux.HandleFunc("/flows/validate", s.validateFlowHandler)
	mux.HandleFunc("/conversations", s.conversationsHandler)
	mux.HandleFunc("/conversations/reset", s.resetConversationHandler)
	mux.HandleFunc("/conversations/observations", s.observationsHandler)
	if s.twilioWebhook != nil {
		mux.HandleFunc("/webhook/twilio", s.twilioWebhook)
	}
	return mux
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("api.Run: shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
