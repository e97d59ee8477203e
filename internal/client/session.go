package client

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lilychat/internal/models"
	"lilychat/internal/utils"

	"github.com/google/uuid"
)

// HeartbeatInterval is how often an active session refreshes its presence.
const HeartbeatInterval = 30 * time.Second

// AuthState describes the session at a point in time. A nil Profile means
// signed out.
type AuthState struct {
	Profile *models.Profile
	Token   string
}

// Session owns the authentication lifecycle: sign-in/sign-up, session
// restore from a saved token, presence heartbeats, and an auth-state channel
// consumers watch to react to changes.
type Session struct {
	api *API

	mu      sync.RWMutex
	profile *models.Profile

	// States receives a snapshot after every auth transition.
	States chan AuthState

	heartbeatCancel context.CancelFunc
}

// NewSession builds a session against the given server. The base URL is the
// one piece of configuration the client cannot run without.
func NewSession(baseURL string) (*Session, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, utils.NewAppError(utils.ErrConfigMissing, "server base URL is not configured", nil)
	}
	return &Session{
		api:    NewAPI(baseURL),
		States: make(chan AuthState, 8),
	}, nil
}

// API exposes the underlying transport for the directory, store, and feed.
func (s *Session) API() *API {
	return s.api
}

// Profile returns the signed-in profile, or nil.
func (s *Session) Profile() *models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// SelfID returns the signed-in user's id, or uuid.Nil.
func (s *Session) SelfID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return uuid.Nil
	}
	return s.profile.ID
}

func (s *Session) setProfile(profile *models.Profile) {
	s.mu.Lock()
	s.profile = profile
	token := s.api.Token
	s.mu.Unlock()

	select {
	case s.States <- AuthState{Profile: profile, Token: token}:
	default:
		// A slow consumer loses intermediate states, never the latest poll.
	}
}

// SignUp creates an account. Auth failures come back as form-ready text.
func (s *Session) SignUp(ctx context.Context, email, password, handle, displayName string) (*models.Profile, error) {
	profile, err := s.api.Register(ctx, email, password, handle, displayName)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidCredentials, utils.HumanizeAuthError(err), err)
	}
	s.setProfile(profile)
	return profile, nil
}

// SignIn authenticates with email and password.
func (s *Session) SignIn(ctx context.Context, email, password string) (*models.Profile, error) {
	profile, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidCredentials, utils.HumanizeAuthError(err), err)
	}
	s.setProfile(profile)
	return profile, nil
}

// Restore resumes a previous session from a saved token. When the server
// cannot produce the profile but the token decodes, a local placeholder
// keeps the UI usable until connectivity returns.
func (s *Session) Restore(ctx context.Context, token, email string) (*models.Profile, error) {
	if token == "" {
		return nil, utils.NewAppError(utils.ErrUnauthorized, "no saved session", nil)
	}
	s.api.Token = token

	profile, err := s.api.Session(ctx)
	if err != nil {
		if utils.IsAuthError(err) || utils.IsErrorCode(err, utils.ErrInvalidToken) {
			s.api.Token = ""
			return nil, err
		}
		slog.Warn("session restore degraded to placeholder profile", "error", err)
		profile = placeholderProfile(email)
	}
	s.setProfile(profile)
	return profile, nil
}

// placeholderProfile derives a display-only profile from the email when the
// backend is unreachable. The handle falls back to the email local-part.
func placeholderProfile(email string) *models.Profile {
	handle := email
	if at := strings.Index(email, "@"); at > 0 {
		handle = email[:at]
	}
	return &models.Profile{
		Handle:      handle,
		DisplayName: handle,
		Email:       email,
	}
}

// SignOut tears down the session.
func (s *Session) SignOut(ctx context.Context) {
	s.StopHeartbeat()
	if err := s.api.Logout(ctx); err != nil {
		slog.Debug("logout request failed", "error", err)
	}
	s.setProfile(nil)
}

// StartHeartbeat begins periodic presence refreshes. Stops automatically
// when the context ends.
func (s *Session) StartHeartbeat(ctx context.Context) {
	s.StopHeartbeat()
	hbCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.heartbeatCancel = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				profile, err := s.api.Heartbeat(hbCtx)
				if err != nil {
					slog.Debug("heartbeat failed", "error", err)
					continue
				}
				s.mu.Lock()
				s.profile = profile
				s.mu.Unlock()
			}
		}
	}()
}

// StopHeartbeat cancels the presence ticker if one is running.
func (s *Session) StopHeartbeat() {
	s.mu.Lock()
	cancel := s.heartbeatCancel
	s.heartbeatCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
