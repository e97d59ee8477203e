// internal/database/memory.go
package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lilychat/internal/models"
	"lilychat/internal/utils"

	"github.com/google/uuid"
)

// MemoryDB is an in-memory DBAdapter used by tests and local development
// (DB_TYPE=memory). It applies the same status-advancement rules as the
// durable adapters.
type MemoryDB struct {
	mu            sync.RWMutex
	profiles      map[uuid.UUID]*models.Profile
	conversations map[[2]uuid.UUID]*models.Conversation
	messages      map[uuid.UUID]*models.Message
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		profiles:      make(map[uuid.UUID]*models.Profile),
		conversations: make(map[[2]uuid.UUID]*models.Conversation),
		messages:      make(map[uuid.UUID]*models.Message),
	}
}

func (m *MemoryDB) Close(ctx context.Context) error {
	return nil
}

// --- Profile Methods ---

func copyProfile(p *models.Profile) *models.Profile {
	cp := *p
	return &cp
}

func (m *MemoryDB) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.profiles[id]
	if !ok {
		return nil, utils.NewAppError(utils.ErrUserNotFound, "profile not found", nil)
	}
	return copyProfile(profile), nil
}

func (m *MemoryDB) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, profile := range m.profiles {
		if profile.Email == email {
			return copyProfile(profile), nil
		}
	}
	return nil, utils.NewAppError(utils.ErrUserNotFound, "profile not found", nil)
}

func (m *MemoryDB) GetProfileByHandle(ctx context.Context, handle string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, profile := range m.profiles {
		if strings.EqualFold(profile.Handle, handle) {
			return copyProfile(profile), nil
		}
	}
	return nil, utils.NewAppError(utils.ErrUserNotFound, "profile not found", nil)
}

func (m *MemoryDB) SaveProfile(ctx context.Context, profile *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.profiles[profile.ID]; exists {
		return utils.NewAppError(utils.ErrDuplicate, "profile already exists", nil)
	}
	for _, existing := range m.profiles {
		if existing.Email == profile.Email {
			return utils.NewAppError(utils.ErrDuplicate, "email already registered", nil)
		}
		if strings.EqualFold(existing.Handle, profile.Handle) {
			return utils.NewAppError(utils.ErrDuplicate, "handle already taken", nil)
		}
	}

	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now()
	}
	if profile.LastActive.IsZero() {
		profile.LastActive = profile.CreatedAt
	}
	m.profiles[profile.ID] = copyProfile(profile)
	return nil
}

func (m *MemoryDB) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.profiles[profile.ID]
	if !ok {
		return utils.NewAppError(utils.ErrUserNotFound, "profile not found for update", nil)
	}
	for id, other := range m.profiles {
		if id != profile.ID && strings.EqualFold(other.Handle, profile.Handle) {
			return utils.NewAppError(utils.ErrDuplicate, "handle already taken", nil)
		}
	}
	existing.Handle = profile.Handle
	existing.DisplayName = profile.DisplayName
	existing.AvatarURL = profile.AvatarURL
	return nil
}

func (m *MemoryDB) SearchProfiles(ctx context.Context, query string, limit int) ([]*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(query)
	matches := []*models.Profile{}
	for _, profile := range m.profiles {
		if strings.Contains(strings.ToLower(profile.Handle), needle) {
			matches = append(matches, copyProfile(profile))
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Handle < matches[j].Handle
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *MemoryDB) TouchProfileActivity(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[id]
	if !ok {
		return utils.NewAppError(utils.ErrUserNotFound, "profile not found for activity update", nil)
	}
	profile.LastActive = time.Now()
	return nil
}

func (m *MemoryDB) ProfileActiveSince(ctx context.Context, id uuid.UUID, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.profiles[id]
	if !ok {
		return false, utils.NewAppError(utils.ErrUserNotFound, "profile not found", nil)
	}
	return !profile.LastActive.Before(since), nil
}

// --- Conversation Methods ---

func (m *MemoryDB) ResolveConversation(ctx context.Context, userA, userB uuid.UUID) (*models.Conversation, error) {
	a, b := models.CanonicalPair(userA, userB)
	key := [2]uuid.UUID{a, b}

	m.mu.Lock()
	defer m.mu.Unlock()

	if conv, ok := m.conversations[key]; ok {
		cp := *conv
		return &cp, nil
	}

	now := time.Now()
	conv := &models.Conversation{
		ID:           uuid.New(),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.conversations[key] = conv
	cp := *conv
	return &cp, nil
}

func (m *MemoryDB) TouchConversation(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conv := range m.conversations {
		if conv.ID == id {
			conv.UpdatedAt = time.Now()
			return nil
		}
	}
	return utils.NewAppError(utils.ErrConversationNotFound, "conversation not found", nil)
}

// --- Message Methods ---

func (m *MemoryDB) joinSenderLocked(msg *models.Message) *models.Message {
	cp := *msg
	if sender, ok := m.profiles[msg.SenderID]; ok {
		cp.SenderHandle = sender.Handle
		cp.SenderDisplayName = sender.DisplayName
		cp.SenderAvatarURL = sender.AvatarURL
	}
	return &cp
}

func (m *MemoryDB) SaveMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.messages[msg.ID]; exists {
		return utils.NewAppError(utils.ErrDuplicate, "message already exists", nil)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Status == "" || msg.Status == models.StatusSending {
		msg.Status = models.StatusSent
	}
	if msg.SentAt == nil {
		now := time.Now()
		msg.SentAt = &now
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *MemoryDB) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, utils.NewAppError(utils.ErrMessageNotFound, "message not found", nil)
	}
	return m.joinSenderLocked(msg), nil
}

func (m *MemoryDB) GetConversationMessages(ctx context.Context, userA, userB uuid.UUID, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := []*models.Message{}
	for _, msg := range m.messages {
		if (msg.SenderID == userA && msg.RecipientID == userB) ||
			(msg.SenderID == userB && msg.RecipientID == userA) {
			matches = append(matches, msg)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	// Cap keeps the most recent window, still in chronological order
	if len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}

	out := make([]*models.Message, 0, len(matches))
	for _, msg := range matches {
		out = append(out, m.joinSenderLocked(msg))
	}
	return out, nil
}

func advanceLocked(msg *models.Message, next models.MessageStatus, now time.Time) bool {
	if !msg.Status.CanAdvanceTo(next) {
		return false
	}
	switch next {
	case models.StatusDelivered:
		msg.Status = models.StatusDelivered
		msg.DeliveredAt = &now
	case models.StatusSeen:
		msg.Status = models.StatusSeen
		msg.SeenAt = &now
		if msg.DeliveredAt == nil {
			msg.DeliveredAt = &now
		}
	default:
		return false
	}
	return true
}

func (m *MemoryDB) AdvanceMessageStatus(ctx context.Context, id uuid.UUID, next models.MessageStatus) (bool, error) {
	if next != models.StatusDelivered && next != models.StatusSeen {
		return false, utils.NewAppError(utils.ErrStatusRegression, "cannot advance message to status "+string(next), nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return false, utils.NewAppError(utils.ErrMessageNotFound, "message not found", nil)
	}
	return advanceLocked(msg, next, time.Now()), nil
}

func (m *MemoryDB) MarkDelivered(ctx context.Context, recipientID uuid.UUID) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	updated := []*models.Message{}
	for _, msg := range m.messages {
		if msg.RecipientID == recipientID && msg.Status == models.StatusSent {
			if advanceLocked(msg, models.StatusDelivered, now) {
				updated = append(updated, m.joinSenderLocked(msg))
			}
		}
	}
	sort.Slice(updated, func(i, j int) bool {
		return updated[i].CreatedAt.Before(updated[j].CreatedAt)
	})
	return updated, nil
}

func (m *MemoryDB) MarkSeen(ctx context.Context, senderID, viewerID uuid.UUID) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	updated := []*models.Message{}
	for _, msg := range m.messages {
		if msg.SenderID == senderID && msg.RecipientID == viewerID &&
			(msg.Status == models.StatusSent || msg.Status == models.StatusDelivered) {
			if advanceLocked(msg, models.StatusSeen, now) {
				updated = append(updated, m.joinSenderLocked(msg))
			}
		}
	}
	sort.Slice(updated, func(i, j int) bool {
		return updated[i].CreatedAt.Before(updated[j].CreatedAt)
	})
	return updated, nil
}
