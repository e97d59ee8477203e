package client

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"lilychat/internal/models"

	"github.com/google/uuid"
)

// seenMarkDelay spaces out seen-marks so a burst of incoming messages
// collapses into one round trip.
const seenMarkDelay = 300 * time.Millisecond

// ConversationStore holds the live message list for one thread. Sends are
// optimistic: a local placeholder appears immediately and is reconciled with
// the server's row, while feed events keep both sides' status current.
type ConversationStore struct {
	api     *API
	selfID  uuid.UUID
	otherID uuid.UUID

	mu       sync.RWMutex
	messages []*models.Message

	// onChange, when set, fires after every mutation of the message list.
	onChange func()

	seenTimer *time.Timer
}

func NewConversationStore(api *API, selfID, otherID uuid.UUID) *ConversationStore {
	return &ConversationStore{
		api:     api,
		selfID:  selfID,
		otherID: otherID,
	}
}

// OnChange registers a callback fired after each mutation. Must be set
// before the store is shared across goroutines.
func (s *ConversationStore) OnChange(fn func()) {
	s.onChange = fn
}

func (s *ConversationStore) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Close cancels any pending deferred seen-mark. Call when switching peers so
// a stale timer cannot mark the previous thread.
func (s *ConversationStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenTimer != nil {
		s.seenTimer.Stop()
		s.seenTimer = nil
	}
}

// Load fetches the history and marks the other side's messages seen, since
// opening the thread means the viewer is looking at them.
func (s *ConversationStore) Load(ctx context.Context) error {
	messages, err := s.api.GetConversation(ctx, s.otherID, 0)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.messages = messages
	// Never trust arrival order from the wire.
	s.sortLocked()
	s.mu.Unlock()
	s.notify()

	if _, err := s.api.MarkSeen(ctx, s.otherID); err != nil {
		return err
	}
	return nil
}

// Messages returns a snapshot of the current list, oldest first.
func (s *ConversationStore) Messages() []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Send appends an optimistic placeholder, then reconciles it with the
// durable row. On failure the placeholder is removed and the error returned
// so the caller can restore the input. A successful send also refreshes the
// sender's presence and catches up on delivery in the background.
func (s *ConversationStore) Send(ctx context.Context, content string) (*models.Message, error) {
	tempID := uuid.New()
	placeholder := &models.Message{
		ID:          tempID,
		SenderID:    s.selfID,
		RecipientID: s.otherID,
		Content:     content,
		Status:      models.StatusSending,
		CreatedAt:   time.Now(),
		Local:       true,
	}

	s.mu.Lock()
	s.messages = append(s.messages, placeholder)
	s.mu.Unlock()
	s.notify()

	sent, err := s.api.SendMessage(ctx, s.otherID, content)
	if err != nil {
		s.removeByID(tempID)
		s.notify()
		return nil, err
	}

	s.replaceByID(tempID, sent)
	s.notify()

	go func() {
		if _, err := s.api.Heartbeat(context.Background()); err != nil {
			slog.Debug("post-send activity ping failed", "error", err)
		}
	}()
	go func() {
		if _, err := s.api.MarkDelivered(context.Background()); err != nil {
			slog.Debug("post-send delivery catch-up failed", "error", err)
		}
	}()
	return sent, nil
}

func (s *ConversationStore) removeByID(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(id)
}

// replaceByID swaps the optimistic placeholder for the durable row. The feed
// event for the same message may land before the send response, so the
// durable-id dedup runs first: if the row is already present the placeholder
// simply goes away.
func (s *ConversationStore) replaceByID(id uuid.UUID, with *models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, msg := range s.messages {
		if msg.ID == with.ID {
			s.messages[i] = with
			s.dropLocked(id)
			s.sortLocked()
			return
		}
	}
	for i, msg := range s.messages {
		if msg.ID == id {
			s.messages[i] = with
			s.sortLocked()
			return
		}
	}
	s.messages = append(s.messages, with)
	s.sortLocked()
}

func (s *ConversationStore) dropLocked(id uuid.UUID) {
	for i, msg := range s.messages {
		if msg.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *ConversationStore) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
}

// Relevant reports whether a feed event belongs to this thread.
func (s *ConversationStore) Relevant(event *models.ChangeEvent) bool {
	if event.Table != models.TableMessages || event.Message == nil {
		return false
	}
	m := event.Message
	return (m.SenderID == s.selfID && m.RecipientID == s.otherID) ||
		(m.SenderID == s.otherID && m.RecipientID == s.selfID)
}

// ApplyEvent folds a feed event into the store. Irrelevant events are
// ignored. Inserts dedup by id; updates only ever advance status. The feed
// always carries the full joined row, so the payload is applied directly.
func (s *ConversationStore) ApplyEvent(ctx context.Context, event *models.ChangeEvent) {
	if !s.Relevant(event) {
		return
	}
	incoming := event.Message

	switch event.Kind {
	case models.EventInsert:
		s.mu.Lock()
		duplicate := false
		for _, msg := range s.messages {
			if msg.ID == incoming.ID {
				duplicate = true
				break
			}
		}
		if !duplicate {
			s.messages = append(s.messages, incoming)
			s.sortLocked()
		}
		s.mu.Unlock()
		if !duplicate {
			s.notify()
		}

		// A message from the other side, arriving while this thread is open,
		// is being read right now.
		if incoming.SenderID == s.otherID {
			s.scheduleSeenMark(ctx)
		}

	case models.EventUpdate:
		s.mu.Lock()
		changed := false
		for i, msg := range s.messages {
			if msg.ID != incoming.ID {
				continue
			}
			if msg.Status.CanAdvanceTo(incoming.Status) || msg.Status == incoming.Status {
				s.messages[i] = incoming
				changed = true
			}
			break
		}
		s.mu.Unlock()
		if changed {
			s.notify()
		}
	}
}

// scheduleSeenMark issues a debounced mark-seen for the other participant.
func (s *ConversationStore) scheduleSeenMark(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenTimer != nil {
		s.seenTimer.Stop()
	}
	s.seenTimer = time.AfterFunc(seenMarkDelay, func() {
		if _, err := s.api.MarkSeen(ctx, s.otherID); err != nil {
			slog.Debug("deferred seen-mark failed", "error", err)
		}
	})
}
