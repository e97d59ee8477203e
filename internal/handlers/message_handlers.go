package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"lilychat/internal/engine/actors"
	"lilychat/internal/utils"

	"github.com/google/uuid"
)

// SendMessageRequest represents a request to send a direct message. The
// sender is always the authenticated caller.
type SendMessageRequest struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// MarkSeenRequest marks everything the given sender sent the caller as seen
type MarkSeenRequest struct {
	SenderID string `json:"senderId"`
}

// ResolveConversationRequest opens (or finds) the thread with another user
type ResolveConversationRequest struct {
	OtherID string `json:"otherId"`
}

// HandleSendMessage handles requests to send a direct message
func (s *Server) HandleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := callerID(r)
		if !ok {
			writeError(w, utils.NewUnauthorizedError("missing session"))
			return
		}

		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		recipientID, err := uuid.Parse(req.RecipientID)
		if err != nil {
			http.Error(w, "Invalid recipient ID format", http.StatusBadRequest)
			return
		}

		start := time.Now()
		future := s.Context.RequestFuture(
			s.Engine.GetMessageActor(),
			&actors.SendMessageMsg{
				SenderID:    userID,
				RecipientID: recipientID,
				Content:     req.Content,
			},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.Metrics.AddOperationLatency("send_message", time.Since(start))
		s.respondActorResult(w, result, err)
	}
}

// HandleConversation returns the message history with another user, oldest
// first. The caller is always one of the two participants.
func (s *Server) HandleConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := callerID(r)
		if !ok {
			writeError(w, utils.NewUnauthorizedError("missing session"))
			return
		}

		otherStr := r.URL.Query().Get("with")
		if otherStr == "" {
			http.Error(w, "Query parameter 'with' required", http.StatusBadRequest)
			return
		}
		otherID, err := uuid.Parse(otherStr)
		if err != nil {
			http.Error(w, "Invalid participant ID format", http.StatusBadRequest)
			return
		}

		limit := 0
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if parsed, err := strconv.Atoi(limitStr); err == nil {
				limit = parsed
			}
		}

		future := s.Context.RequestFuture(
			s.Engine.GetMessageActor(),
			&actors.GetConversationMsg{UserID: userID, OtherID: otherID, Limit: limit},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.respondActorResult(w, result, err)
	}
}

// HandleResolveConversation finds or creates the single thread between the
// caller and another user.
func (s *Server) HandleResolveConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := callerID(r)
		if !ok {
			writeError(w, utils.NewUnauthorizedError("missing session"))
			return
		}

		var req ResolveConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		otherID, err := uuid.Parse(req.OtherID)
		if err != nil {
			http.Error(w, "Invalid participant ID format", http.StatusBadRequest)
			return
		}

		future := s.Context.RequestFuture(
			s.Engine.GetMessageActor(),
			&actors.ResolveConversationMsg{UserID: userID, OtherID: otherID},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.respondActorResult(w, result, err)
	}
}

// HandleMarkSeen marks all messages from the given sender to the caller as
// seen and returns the updated messages.
func (s *Server) HandleMarkSeen() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := callerID(r)
		if !ok {
			writeError(w, utils.NewUnauthorizedError("missing session"))
			return
		}

		var req MarkSeenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		senderID, err := uuid.Parse(req.SenderID)
		if err != nil {
			http.Error(w, "Invalid sender ID format", http.StatusBadRequest)
			return
		}

		future := s.Context.RequestFuture(
			s.Engine.GetMessageActor(),
			&actors.MarkSeenMsg{SenderID: senderID, ViewerID: userID},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.respondActorResult(w, result, err)
	}
}

// HandleMarkDelivered is the idempotent catch-up a client issues on connect:
// everything still addressed to the caller as sent advances to delivered.
func (s *Server) HandleMarkDelivered() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := callerID(r)
		if !ok {
			writeError(w, utils.NewUnauthorizedError("missing session"))
			return
		}

		future := s.Context.RequestFuture(
			s.Engine.GetMessageActor(),
			&actors.MarkDeliveredMsg{RecipientID: userID},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.respondActorResult(w, result, err)
	}
}
