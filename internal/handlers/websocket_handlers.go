package handlers

import (
	"log/slog"
	"net/http"

	"lilychat/internal/middleware"
	"lilychat/internal/realtime"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin restrictions are enforced by the CORS layer for the REST
		// surface; the feed accepts any origin holding a valid token.
		return true
	},
}

// HandleFeed upgrades the connection and subscribes the caller to the
// change feed. Browsers cannot set headers on upgrade requests, so the JWT
// arrives as a query parameter.
func (s *Server) HandleFeed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.URL.Query().Get("token")
		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		claims, err := middleware.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		userID := claims.UserID
		if userID == uuid.Nil {
			http.Error(w, "Invalid user ID in token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("feed upgrade failed", "userId", userID, "error", err)
			return
		}

		client := realtime.NewClient(s.Hub, userID, conn)
		s.Hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}
