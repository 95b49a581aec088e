// Package server exposes the engine over HTTP: NDJSON-streamed turns, client
// tool result submission, event replay, and registry metadata listings.
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/seafield/agentrelay/agent"
	"github.com/seafield/agentrelay/logging"
	"github.com/seafield/agentrelay/runner"
	"github.com/seafield/agentrelay/tool"
)

// Options configure the server.
type Options struct {
	// Auth resolves request identity. Defaults to AllowAll.
	Auth Authenticator
	// Logger receives structured request logs.
	Logger logging.Logger
}

// Server routes HTTP traffic into the runner. It implements http.Handler.
type Server struct {
	router *mux.Router
	runner *runner.Runner
	agents *agent.Registry
	tools  *tool.Registry
	auth   Authenticator
	logger logging.Logger
}

// New constructs a Server with optional overrides.
func New(run *runner.Runner, agents *agent.Registry, tools *tool.Registry, optFns ...func(o *Options)) *Server {
	opts := Options{
		Auth:   AllowAll{},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &Server{
		router: mux.NewRouter(),
		runner: run,
		agents: agents,
		tools:  tools,
		auth:   opts.Auth,
		logger: opts.Logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := s.router.NewRoute().Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	api.HandleFunc("/tools", s.handleListTools).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", s.handleMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/tool-results", s.handleToolResults).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/turns/{turnID}/events", s.handleReplay).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/turns/{turnID}", s.handleCancelTurn).Methods(http.MethodDelete)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
