package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"lilychat/internal/engine/actors"
	"lilychat/internal/utils"

	"github.com/google/uuid"
)

// UpdateProfileRequest carries owner mutations. Empty fields are unchanged.
type UpdateProfileRequest struct {
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// HandleProfile handles requests to look up a profile by id or handle
func (s *Server) HandleProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if handle := r.URL.Query().Get("handle"); handle != "" {
			future := s.Context.RequestFuture(
				s.Engine.GetProfileSupervisor(),
				&actors.GetProfileByHandleMsg{Handle: handle},
				s.RequestTimeout,
			)
			result, err := future.Result()
			s.respondActorResult(w, result, err)
			return
		}

		idStr := r.URL.Query().Get("id")
		if idStr == "" {
			http.Error(w, "Profile ID or handle required", http.StatusBadRequest)
			return
		}
		profileID, err := uuid.Parse(idStr)
		if err != nil {
			http.Error(w, "Invalid profile ID format", http.StatusBadRequest)
			return
		}

		future := s.Context.RequestFuture(
			s.Engine.GetProfileSupervisor(),
			&actors.GetProfileMsg{ProfileID: profileID},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.respondActorResult(w, result, err)
	}
}

// HandleSearchProfiles handles directory searches against handles
func (s *Server) HandleSearchProfiles() http.HandlerFunc {
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

		limit := 10
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if parsed, err := strconv.Atoi(limitStr); err == nil {
				limit = parsed
			}
		}

		future := s.Context.RequestFuture(
			s.Engine.GetProfileSupervisor(),
			&actors.SearchProfilesMsg{
				Query:     r.URL.Query().Get("q"),
				Limit:     limit,
				ExcludeID: userID,
			},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.respondActorResult(w, result, err)
	}
}

// HandleUpdateProfile handles owner mutations of the caller's profile
func (s *Server) HandleUpdateProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut && r.Method != http.MethodPatch {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, ok := callerID(r)
		if !ok {
			writeError(w, utils.NewUnauthorizedError("missing session"))
			return
		}

		var req UpdateProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		future := s.Context.RequestFuture(
			s.Engine.GetProfileSupervisor(),
			&actors.UpdateProfileMsg{
				ProfileID:   userID,
				Handle:      req.Handle,
				DisplayName: req.DisplayName,
				AvatarURL:   req.AvatarURL,
			},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.respondActorResult(w, result, err)
	}
}

// HandleHeartbeat refreshes the caller's last-active timestamp. Clients send
// this periodically so presence stays current.
func (s *Server) HandleHeartbeat() http.HandlerFunc {
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
			s.Engine.GetProfileSupervisor(),
			&actors.HeartbeatMsg{ProfileID: userID},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.respondActorResult(w, result, err)
	}
}
