// Package rest exposes the local debug surface: health, metrics, and
// read-only views of the sync engine's state. It never mutates the graph;
// all edits flow through the engine API and the message channel.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"flowsync/application/sync"
	"flowsync/interfaces/http/rest/middleware"
	"flowsync/pkg/common"
)

// DebugServer serves the debug surface for one engine.
type DebugServer struct {
	engine     *sync.Engine
	enableCORS bool
	logger     *zap.Logger
}

// NewDebugServer creates a debug server.
func NewDebugServer(engine *sync.Engine, enableCORS bool, logger *zap.Logger) *DebugServer {
	return &DebugServer{
		engine:     engine,
		enableCORS: enableCORS,
		logger:     logger,
	}
}

// Setup configures all routes and middleware.
func (s *DebugServer) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(s.logger))

	if s.enableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	router.Get("/health", s.healthCheck)
	router.Get("/ready", s.readinessCheck)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/debug", func(r chi.Router) {
		r.Get("/snapshot", s.snapshot)
		r.Get("/history", s.history)
		r.Get("/session", s.session)
	})

	return router
}

func (s *DebugServer) healthCheck(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *DebugServer) readinessCheck(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *DebugServer) snapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	s.respond(w, http.StatusOK, map[string]interface{}{
		"nodes":       snap.Nodes,
		"connections": snap.Connections,
	})
}

func (s *DebugServer) history(w http.ResponseWriter, _ *http.Request) {
	undo, redo := s.engine.HistoryDepth()
	s.respond(w, http.StatusOK, map[string]interface{}{
		"undo_depth": undo,
		"redo_depth": redo,
		"can_undo":   s.engine.CanUndo(),
		"can_redo":   s.engine.CanRedo(),
	})
}

func (s *DebugServer) session(w http.ResponseWriter, _ *http.Request) {
	sess := s.engine.Session()
	s.respond(w, http.StatusOK, map[string]string{
		"user_id":  sess.UserID,
		"graph_id": sess.GraphID,
	})
}

func (s *DebugServer) respond(w http.ResponseWriter, code int, body interface{}) {
	if err := common.RespondJSON(w, code, body); err != nil {
		s.logger.Error("failed to write response", zap.Error(err))
	}
}
