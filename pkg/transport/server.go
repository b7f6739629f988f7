// Package transport exposes the orchestrator and connection manager over
// HTTP: an OpenAI-compatible streaming chat-completions endpoint, the
// connection-management REST surface, and a non-streaming natural-language
// query endpoint.
package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/queryagent/pkg/connection"
	"github.com/kadirpekel/queryagent/pkg/handler"
	"github.com/kadirpekel/queryagent/pkg/llm"
	"github.com/kadirpekel/queryagent/pkg/orchestrator"
)

// Server wires the core components to chi routes.
type Server struct {
	manager      *connection.Manager
	llmClient    *llm.Client
	orchestrator *orchestrator.Orchestrator
	router       chi.Router
}

func NewServer(manager *connection.Manager, llmClient *llm.Client, orchestratorBudget int) *Server {
	s := &Server{
		manager:      manager,
		llmClient:    llmClient,
		orchestrator: orchestrator.New(llmClient, manager, orchestratorBudget),
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/query", s.handleNaturalLanguageQuery)

	r.Route("/v1/connections", func(r chi.Router) {
		r.Get("/kinds", s.handleListKinds)
		r.Post("/test", s.handleTestConnection)
		r.Get("/", s.handleListConnections)
		r.Post("/", s.handleCreateConnection)
		r.Put("/{id}", s.handleUpdateConnection)
		r.Delete("/{id}", s.handleDeleteConnection)
		r.Post("/{id}/activate", s.handleActivateConnection)
		r.Get("/{id}/schema", s.handleGetSchema)
		r.Post("/{id}/execute", s.handleExecute)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"active_connection": s.manager.Active(),
	})
}

func (s *Server) handleListKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, handler.DescribeAll())
}

// loggingMiddleware logs method/path/duration without wrapping
// ResponseWriter in a way that loses http.Flusher, since the streaming
// chat-completions handler needs to flush SSE frames as they're produced.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
