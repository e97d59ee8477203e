package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"lilychat/internal/database"
	"lilychat/internal/engine"
	"lilychat/internal/middleware"
	"lilychat/internal/realtime"
	"lilychat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Server holds all server dependencies, including the actor system and engine
type Server struct {
	System         *actor.ActorSystem
	Context        *actor.RootContext
	Engine         *engine.Engine
	Metrics        *utils.MetricsCollector
	Hub            *realtime.Hub
	DB             database.DBAdapter
	RequestTimeout time.Duration
}

// NewServer creates a new Server instance with the given components
func NewServer(
	system *actor.ActorSystem,
	eng *engine.Engine,
	metrics *utils.MetricsCollector,
	hub *realtime.Hub,
	db database.DBAdapter,
) *Server {
	return &Server{
		System:         system,
		Context:        system.Root,
		Engine:         eng,
		Metrics:        metrics,
		Hub:            hub,
		DB:             db,
		RequestTimeout: 5 * time.Second,
	}
}

// writeJSON encodes v with the standard headers.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error onto an HTTP status and a JSON error body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	if appErr, ok := err.(*utils.AppError); ok {
		status = utils.AppErrorToHTTPStatus(appErr.Code)
		code = appErr.Code
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

// respondActorResult handles the common pattern of forwarding an actor reply:
// application errors map to their HTTP status, anything else is encoded as-is.
func (s *Server) respondActorResult(w http.ResponseWriter, result interface{}, err error) {
	if err != nil {
		writeError(w, utils.NewAppError(utils.ErrActorTimeout, "request timed out", err))
		s.Metrics.IncrementErrors()
		return
	}
	if appErr, ok := result.(*utils.AppError); ok {
		writeError(w, appErr)
		s.Metrics.IncrementErrors()
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// callerID extracts the authenticated user from the request context.
func callerID(r *http.Request) (uuid.UUID, bool) {
	return middleware.GetUserIDFromContext(r.Context())
}
