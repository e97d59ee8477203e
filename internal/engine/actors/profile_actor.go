package actors

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	stdctx "context"

	"lilychat/internal/database"
	"lilychat/internal/models"
	"lilychat/internal/realtime"
	"lilychat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ProfileSupervisor manages all profile actors
type ProfileSupervisor struct {
	profileActors map[uuid.UUID]*actor.PID
	mu            sync.RWMutex
	db            database.DBAdapter
	hub           *realtime.Hub
}

func NewProfileSupervisor(db database.DBAdapter, hub *realtime.Hub) actor.Actor {
	return &ProfileSupervisor{
		profileActors: make(map[uuid.UUID]*actor.PID),
		db:            db,
		hub:           hub,
	}
}

type (
	RegisterProfileMsg struct {
		Email       string
		Password    string
		Handle      string
		DisplayName string
	}

	LoginMsg struct {
		Email    string
		Password string
	}

	GetProfileMsg struct {
		ProfileID uuid.UUID
	}

	GetProfileByHandleMsg struct {
		Handle string
	}

	UpdateProfileMsg struct {
		ProfileID   uuid.UUID
		Handle      string
		DisplayName string
		AvatarURL   string
	}

	SearchProfilesMsg struct {
		Query     string
		Limit     int
		ExcludeID uuid.UUID
	}

	HeartbeatMsg struct {
		ProfileID uuid.UUID
	}
)

func (s *ProfileSupervisor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *RegisterProfileMsg:
		s.mu.Lock()

		ctx := stdctx.Background()
		existing, _ := s.db.GetProfileByEmail(ctx, msg.Email)
		if existing != nil {
			s.mu.Unlock()
			context.Respond(utils.NewAppError(utils.ErrDuplicate, "email already registered", nil))
			return
		}

		profileID := uuid.New()
		props := actor.PropsFromProducer(func() actor.Actor {
			return NewProfileActor(profileID, s.db, s.hub)
		})
		pid := context.Spawn(props)
		s.profileActors[profileID] = pid
		s.mu.Unlock()

		future := context.RequestFuture(pid, msg, 5*time.Second)
		result, err := future.Result()
		if err != nil {
			slog.Error("profile registration failed", "error", err)
			context.Respond(utils.NewAppError(utils.ErrActorTimeout, "profile creation failed", err))
			return
		}
		context.Respond(result)

	case *LoginMsg:
		ctx := stdctx.Background()
		profile, err := s.db.GetProfileByEmail(ctx, msg.Email)
		if err != nil {
			context.Respond(utils.NewAppError(utils.ErrInvalidCredentials, "invalid credentials", nil))
			return
		}

		pid := s.getOrSpawnActor(context, profile)
		future := context.RequestFuture(pid, msg, 5*time.Second)
		result, err := future.Result()
		if err != nil {
			slog.Error("login request to profile actor failed", "error", err)
			context.Respond(utils.NewAppError(utils.ErrActorTimeout, "login failed", err))
			return
		}
		context.Respond(result)

	case *GetProfileMsg:
		pid, err := s.getOrCreateProfileActor(context, msg.ProfileID)
		if err != nil {
			context.Respond(utils.NewAppError(utils.ErrUserNotFound, "profile not found", err))
			return
		}
		s.forward(context, pid, msg)

	case *GetProfileByHandleMsg:
		ctx := stdctx.Background()
		handle := strings.TrimPrefix(strings.TrimSpace(msg.Handle), "@")
		profile, err := s.db.GetProfileByHandle(ctx, handle)
		if err != nil {
			context.Respond(err)
			return
		}
		context.Respond(profile)

	case *UpdateProfileMsg:
		pid, err := s.getOrCreateProfileActor(context, msg.ProfileID)
		if err != nil {
			context.Respond(utils.NewAppError(utils.ErrUserNotFound, "profile not found", err))
			return
		}
		s.forward(context, pid, msg)

	case *HeartbeatMsg:
		pid, err := s.getOrCreateProfileActor(context, msg.ProfileID)
		if err != nil {
			context.Respond(utils.NewAppError(utils.ErrUserNotFound, "profile not found", err))
			return
		}
		s.forward(context, pid, msg)

	case *SearchProfilesMsg:
		context.Respond(s.searchProfiles(msg))
	}
}

func (s *ProfileSupervisor) forward(context actor.Context, pid *actor.PID, msg interface{}) {
	future := context.RequestFuture(pid, msg, 5*time.Second)
	result, err := future.Result()
	if err != nil {
		context.Respond(utils.NewAppError(utils.ErrActorTimeout, "profile actor request failed", err))
		return
	}
	context.Respond(result)
}

// searchProfiles queries the directory. The query is matched against handles
// case-insensitively; a leading "@" is stripped; the caller is excluded.
func (s *ProfileSupervisor) searchProfiles(msg *SearchProfilesMsg) interface{} {
	query := strings.TrimPrefix(strings.TrimSpace(msg.Query), "@")
	if query == "" {
		return []*models.Profile{}
	}
	limit := msg.Limit
	if limit <= 0 || limit > 10 {
		limit = 10
	}

	ctx := stdctx.Background()
	// Over-fetch by one so excluding the caller still fills the cap.
	profiles, err := s.db.SearchProfiles(ctx, query, limit+1)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "directory search failed", err)
	}

	results := make([]*models.Profile, 0, limit)
	for _, profile := range profiles {
		if profile.ID == msg.ExcludeID {
			continue
		}
		results = append(results, profile)
		if len(results) == limit {
			break
		}
	}
	return results
}

func (s *ProfileSupervisor) getOrSpawnActor(context actor.Context, profile *models.Profile) *actor.PID {
	s.mu.RLock()
	pid, exists := s.profileActors[profile.ID]
	s.mu.RUnlock()
	if exists {
		return pid
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewProfileActor(profile.ID, s.db, s.hub)
	})
	pid = context.Spawn(props)

	s.mu.Lock()
	s.profileActors[profile.ID] = pid
	s.mu.Unlock()
	return pid
}

func (s *ProfileSupervisor) getOrCreateProfileActor(context actor.Context, profileID uuid.UUID) (*actor.PID, error) {
	s.mu.RLock()
	pid, exists := s.profileActors[profileID]
	s.mu.RUnlock()
	if exists {
		return pid, nil
	}

	ctx := stdctx.Background()
	profile, err := s.db.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return s.getOrSpawnActor(context, profile), nil
}

// ProfileActor owns a single profile's mutations
type ProfileActor struct {
	id  uuid.UUID
	db  database.DBAdapter
	hub *realtime.Hub
}

func NewProfileActor(id uuid.UUID, db database.DBAdapter, hub *realtime.Hub) *ProfileActor {
	return &ProfileActor{id: id, db: db, hub: hub}
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(bytes), err
}

// deriveHandle falls back to the email local-part when no handle was chosen.
func deriveHandle(email, handle string) string {
	if handle != "" {
		return handle
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

func (a *ProfileActor) publishProfileUpdate(profile *models.Profile) {
	if a.hub == nil {
		return
	}
	a.hub.PublishEvent(&models.ChangeEvent{
		Table:   models.TableProfiles,
		Kind:    models.EventUpdate,
		Profile: profile,
	})
}

func (a *ProfileActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *RegisterProfileMsg:
		hashedPassword, err := hashPassword(msg.Password)
		if err != nil {
			context.Respond(utils.NewAppError(utils.ErrInvalidInput, "failed to hash password", err))
			return
		}

		handle := deriveHandle(msg.Email, msg.Handle)
		displayName := msg.DisplayName
		if displayName == "" {
			displayName = handle
		}

		now := time.Now()
		profile := &models.Profile{
			ID:             a.id,
			Handle:         handle,
			DisplayName:    displayName,
			Email:          msg.Email,
			HashedPassword: hashedPassword,
			CreatedAt:      now,
			LastActive:     now,
		}

		ctx := stdctx.Background()
		if err := a.db.SaveProfile(ctx, profile); err != nil {
			slog.Error("failed to save profile", "error", err)
			context.Respond(err)
			return
		}

		if a.hub != nil {
			a.hub.PublishEvent(&models.ChangeEvent{
				Table:   models.TableProfiles,
				Kind:    models.EventInsert,
				Profile: profile,
			})
		}
		context.Respond(profile)

	case *LoginMsg:
		ctx := stdctx.Background()
		profile, err := a.db.GetProfileByEmail(ctx, msg.Email)
		if err != nil {
			context.Respond(utils.NewAppError(utils.ErrInvalidCredentials, "invalid credentials", nil))
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(profile.HashedPassword), []byte(msg.Password)); err != nil {
			context.Respond(utils.NewAppError(utils.ErrInvalidCredentials, "invalid credentials", nil))
			return
		}

		if err := a.db.TouchProfileActivity(ctx, profile.ID); err != nil {
			slog.Warn("failed to touch activity on login", "profileId", profile.ID, "error", err)
		} else {
			profile.LastActive = time.Now()
		}
		a.publishProfileUpdate(profile)
		context.Respond(profile)

	case *GetProfileMsg:
		ctx := stdctx.Background()
		profile, err := a.db.GetProfile(ctx, msg.ProfileID)
		if err != nil {
			context.Respond(err)
			return
		}
		context.Respond(profile)

	case *UpdateProfileMsg:
		ctx := stdctx.Background()
		profile, err := a.db.GetProfile(ctx, msg.ProfileID)
		if err != nil {
			context.Respond(err)
			return
		}

		if msg.Handle != "" {
			profile.Handle = msg.Handle
		}
		if msg.DisplayName != "" {
			profile.DisplayName = msg.DisplayName
		}
		if msg.AvatarURL != "" {
			profile.AvatarURL = msg.AvatarURL
		}

		if err := a.db.UpdateProfile(ctx, profile); err != nil {
			context.Respond(err)
			return
		}
		a.publishProfileUpdate(profile)
		context.Respond(profile)

	case *HeartbeatMsg:
		ctx := stdctx.Background()
		if err := a.db.TouchProfileActivity(ctx, msg.ProfileID); err != nil {
			context.Respond(err)
			return
		}
		profile, err := a.db.GetProfile(ctx, msg.ProfileID)
		if err != nil {
			context.Respond(err)
			return
		}
		a.publishProfileUpdate(profile)
		context.Respond(profile)
	}
}
