// Package httpapi exposes the gateway's REST surface with a chi router.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/index"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/observability"
)

const apiTimeout = 120 * time.Second

// Controller is the slice of the gateway the HTTP layer drives.
type Controller interface {
	// Tool execution
	CallTool(ctx context.Context, toolName string, arguments map[string]interface{}) (*contracts.ToolCallResult, error)

	// Retrieval
	Retrieve(ctx context.Context, task string, topK int, officialOnly bool) (*contracts.RetrievalResult, error)

	// Backend management
	ListBackends() []contracts.BackendInfo
	AddBackend(ctx context.Context, backend *config.BackendConfig) error
	RemoveBackend(ctx context.Context, name string) error

	// Health and search
	HealthReport() *contracts.HealthReport
	IsReady() bool
	SearchTools(query string, limit int) ([]*index.SearchHit, error)
}

// Server provides HTTP API endpoints with chi router
type Server struct {
	controller Controller
	logger     *zap.SugaredLogger
	router     *chi.Mux
	metrics    *observability.MetricsManager
	tracing    *observability.TracingManager
	apiKey     string
}

// NewServer creates a new HTTP API server. metrics and tracing may be nil;
// apiKey empty disables authentication.
func NewServer(controller Controller, logger *zap.SugaredLogger, metrics *observability.MetricsManager,
	tracing *observability.TracingManager, apiKey string) *Server {
	s := &Server{
		controller: controller,
		logger:     logger,
		router:     chi.NewRouter(),
		metrics:    metrics,
		tracing:    tracing,
		apiKey:     apiKey,
	}

	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware())
	}
	if s.tracing != nil {
		s.router.Use(s.tracing.HTTPMiddleware())
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(correlationIDMiddleware)
	s.router.Use(requestLoggingMiddleware(s.logger))

	// Liveness and readiness
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if s.controller.IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ready":true}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ready":false}`))
	})

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(apiTimeout))
		r.Use(s.apiKeyAuthMiddleware())

		r.Post("/call", s.handleCallTool)
		r.Post("/retrieve", s.handleRetrieve)

		r.Get("/health", s.handleGetHealth)

		r.Get("/servers", s.handleGetServers)
		r.Post("/servers", s.handleAddServer)
		r.Delete("/servers/{name}", s.handleRemoveServer)

		r.Get("/index/search", s.handleSearchTools)
	})
}

// apiKeyAuthMiddleware validates the X-API-Key header when a key is
// configured. An empty configured key disables the check.
func (s *Server) apiKeyAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("apikey")
			}
			if key != s.apiKey {
				s.logger.Warnw("Request with invalid or missing API key",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr)
				s.writeError(w, http.StatusUnauthorized,
					contracts.Errorf(contracts.KindConfiguration, "invalid or missing API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, contracts.NewErrorResponse(err))
}

func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, contracts.NewSuccessResponse(data))
}

// API v1 handlers

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req contracts.ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest,
			contracts.NewError(contracts.KindConfiguration, "invalid request body", err))
		return
	}
	if strings.TrimSpace(req.ToolName) == "" {
		s.writeError(w, http.StatusBadRequest,
			contracts.Errorf(contracts.KindConfiguration, "tool_name is required"))
		return
	}

	result, err := s.controller.CallTool(r.Context(), req.ToolName, req.Arguments)
	if err != nil {
		kind := contracts.KindOf(err)
		status := contracts.HTTPStatus(kind)

		// Tool-reported errors still carry the tool's own output.
		if kind == contracts.KindInvocationError && result != nil {
			resp := contracts.NewErrorResponse(err)
			resp.Data = result
			s.writeJSON(w, status, resp)
			return
		}

		s.logger.Errorw("Tool call failed",
			"tool", req.ToolName,
			"kind", string(kind),
			"error", err)
		s.writeError(w, status, err)
		return
	}

	s.writeSuccess(w, result)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskDescription string `json:"task_description"`
		TopK            int    `json:"top_k"`
		OfficialOnly    bool   `json:"official_only"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest,
			contracts.NewError(contracts.KindConfiguration, "invalid request body", err))
		return
	}
	if strings.TrimSpace(req.TaskDescription) == "" {
		s.writeError(w, http.StatusBadRequest,
			contracts.Errorf(contracts.KindConfiguration, "task_description is required"))
		return
	}

	result, err := s.controller.Retrieve(r.Context(), req.TaskDescription, req.TopK, req.OfficialOnly)
	if err != nil {
		s.logger.Errorw("Tool retrieval failed", "error", err)
		s.writeError(w, contracts.HTTPStatus(contracts.KindOf(err)), err)
		return
	}

	s.writeSuccess(w, result)
}

func (s *Server) handleGetHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.controller.HealthReport())
}

func (s *Server) handleGetServers(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, map[string]interface{}{
		"servers": s.controller.ListBackends(),
	})
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var backend config.BackendConfig
	if err := json.NewDecoder(r.Body).Decode(&backend); err != nil {
		s.writeError(w, http.StatusBadRequest,
			contracts.NewError(contracts.KindConfiguration, "invalid request body", err))
		return
	}

	if err := s.controller.AddBackend(r.Context(), &backend); err != nil {
		s.writeError(w, contracts.HTTPStatus(contracts.KindOf(err)), err)
		return
	}

	s.logger.Infow("Backend registered via API", "backend", backend.Name)
	s.writeJSON(w, http.StatusCreated, contracts.NewSuccessResponse(map[string]interface{}{
		"name": backend.Name,
	}))
}

func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		s.writeError(w, http.StatusBadRequest,
			contracts.Errorf(contracts.KindConfiguration, "server name is required"))
		return
	}

	if err := s.controller.RemoveBackend(r.Context(), name); err != nil {
		if errors.Is(err, &contracts.Error{Kind: contracts.KindNotFound}) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, contracts.HTTPStatus(contracts.KindOf(err)), err)
		return
	}

	s.logger.Infow("Backend removed via API", "backend", name)
	s.writeSuccess(w, map[string]interface{}{"name": name})
}

func (s *Server) handleSearchTools(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest,
			contracts.Errorf(contracts.KindConfiguration, "query parameter 'q' required"))
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	hits, err := s.controller.SearchTools(query, limit)
	if err != nil {
		s.logger.Errorw("Failed to search tools", "query", query, "error", err)
		s.writeError(w, http.StatusInternalServerError,
			contracts.NewError(contracts.KindServiceUnavailable, fmt.Sprintf("search failed for %q", query), err))
		return
	}

	s.writeSuccess(w, map[string]interface{}{
		"query":   query,
		"results": hits,
		"total":   len(hits),
	})
}
