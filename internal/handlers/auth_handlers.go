package handlers

import (
	"encoding/json"
	"net/http"

	"lilychat/internal/engine/actors"
	"lilychat/internal/middleware"
	"lilychat/internal/models"
	"lilychat/internal/utils"
)

// RegisterRequest represents a request to create an account
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// LoginRequest represents a request to sign in
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries the session token alongside the caller's profile
type AuthResponse struct {
	Token   string          `json:"token"`
	Profile *models.Profile `json:"profile"`
}

func (s *Server) authResult(w http.ResponseWriter, result interface{}, err error) {
	if err != nil {
		writeError(w, utils.NewAppError(utils.ErrActorTimeout, "authentication timed out", err))
		s.Metrics.IncrementErrors()
		return
	}
	if appErr, ok := result.(*utils.AppError); ok {
		writeError(w, appErr)
		s.Metrics.IncrementErrors()
		return
	}

	profile, ok := result.(*models.Profile)
	if !ok {
		writeError(w, utils.NewAppError(utils.ErrDatabase, "unexpected authentication result", nil))
		return
	}

	token, err := middleware.GenerateToken(profile.ID)
	if err != nil {
		writeError(w, utils.NewAppError(utils.ErrDatabase, "failed to generate auth token", err))
		return
	}
	writeJSON(w, http.StatusOK, &AuthResponse{Token: token, Profile: profile})
}

// HandleRegister handles account creation requests
func (s *Server) HandleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if req.Email == "" || req.Password == "" {
			writeError(w, utils.NewAppError(utils.ErrInvalidInput, "email and password are required", nil))
			return
		}

		future := s.Context.RequestFuture(
			s.Engine.GetProfileSupervisor(),
			&actors.RegisterProfileMsg{
				Email:       req.Email,
				Password:    req.Password,
				Handle:      req.Handle,
				DisplayName: req.DisplayName,
			},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.authResult(w, result, err)
	}
}

// HandleLogin handles sign-in requests
func (s *Server) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		future := s.Context.RequestFuture(
			s.Engine.GetProfileSupervisor(),
			&actors.LoginMsg{Email: req.Email, Password: req.Password},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.authResult(w, result, err)
	}
}

// HandleSession returns the caller's own profile, refreshing its activity.
// Clients call this on startup to restore a persisted session.
func (s *Server) HandleSession() http.HandlerFunc {
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

		future := s.Context.RequestFuture(
			s.Engine.GetProfileSupervisor(),
			&actors.HeartbeatMsg{ProfileID: userID},
			s.RequestTimeout,
		)
		result, err := future.Result()
		s.respondActorResult(w, result, err)
	}
}

// HandleLogout acknowledges sign-out. Tokens are stateless; the client simply
// discards its copy, so there is no server-side session to tear down.
func (s *Server) HandleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
	}
}
