package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"lilychat/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	sendStatus   int
	sendResponse *models.Message
	history      []*models.Message

	seenCalls  atomic.Int32
	heartbeats atomic.Int32
	deliveries atomic.Int32
}

func newFakeBackend(t *testing.T) (*fakeBackend, *API) {
	t.Helper()
	fb := &fakeBackend{sendStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		if fb.sendStatus != http.StatusOK {
			w.WriteHeader(fb.sendStatus)
			json.NewEncoder(w).Encode(map[string]string{"error": "send rejected", "code": "SEND_FAILED"})
			return
		}
		json.NewEncoder(w).Encode(fb.sendResponse)
	})
	mux.HandleFunc("/conversations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(fb.history)
	})
	mux.HandleFunc("/messages/mark-seen", func(w http.ResponseWriter, r *http.Request) {
		fb.seenCalls.Add(1)
		json.NewEncoder(w).Encode([]*models.Message{})
	})
	mux.HandleFunc("/messages/mark-delivered", func(w http.ResponseWriter, r *http.Request) {
		fb.deliveries.Add(1)
		json.NewEncoder(w).Encode([]*models.Message{})
	})
	mux.HandleFunc("/profiles/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		fb.heartbeats.Add(1)
		json.NewEncoder(w).Encode(&models.Profile{ID: uuid.New()})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return fb, NewAPI(server.URL)
}

func TestSendReconcilesOptimisticPlaceholder(t *testing.T) {
	fb, api := newFakeBackend(t)
	self := uuid.New()
	other := uuid.New()
	store := NewConversationStore(api, self, other)

	serverMsg := &models.Message{
		ID:          uuid.New(),
		SenderID:    self,
		RecipientID: other,
		Content:     "hello",
		Status:      models.StatusSent,
		CreatedAt:   time.Now(),
	}
	fb.sendResponse = serverMsg

	sent, err := store.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, serverMsg.ID, sent.ID)

	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, serverMsg.ID, messages[0].ID)
	assert.Equal(t, models.StatusSent, messages[0].Status)
	assert.False(t, messages[0].Local)
}

func TestSendFailureRemovesPlaceholder(t *testing.T) {
	fb, api := newFakeBackend(t)
	store := NewConversationStore(api, uuid.New(), uuid.New())

	fb.sendStatus = http.StatusInternalServerError
	_, err := store.Send(context.Background(), "doomed")
	require.Error(t, err)
	assert.Empty(t, store.Messages())
}

// The feed event announcing the durable row can beat the HTTP response back
// to the client. Reconciliation must still collapse to a single message.
func TestSendToleratesFeedEventBeforeResponse(t *testing.T) {
	self := uuid.New()
	other := uuid.New()
	serverMsg := &models.Message{
		ID:          uuid.New(),
		SenderID:    self,
		RecipientID: other,
		Content:     "raced",
		Status:      models.StatusSent,
		CreatedAt:   time.Now(),
	}

	var store *ConversationStore
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		store.ApplyEvent(context.Background(), &models.ChangeEvent{
			Table:   models.TableMessages,
			Kind:    models.EventInsert,
			Message: serverMsg,
		})
		json.NewEncoder(w).Encode(serverMsg)
	})
	mux.HandleFunc("/profiles/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&models.Profile{ID: self})
	})
	mux.HandleFunc("/messages/mark-delivered", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]*models.Message{})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store = NewConversationStore(NewAPI(server.URL), self, other)

	sent, err := store.Send(context.Background(), "raced")
	require.NoError(t, err)
	assert.Equal(t, serverMsg.ID, sent.ID)

	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, serverMsg.ID, messages[0].ID)
	assert.False(t, messages[0].Local)
}

func TestSendRefreshesPresenceAndDelivery(t *testing.T) {
	fb, api := newFakeBackend(t)
	self := uuid.New()
	other := uuid.New()
	store := NewConversationStore(api, self, other)

	fb.sendResponse = &models.Message{
		ID:          uuid.New(),
		SenderID:    self,
		RecipientID: other,
		Content:     "hi",
		Status:      models.StatusSent,
		CreatedAt:   time.Now(),
	}

	_, err := store.Send(context.Background(), "hi")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return fb.heartbeats.Load() >= 1 && fb.deliveries.Load() >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestApplyEventDedupsInserts(t *testing.T) {
	_, api := newFakeBackend(t)
	self := uuid.New()
	other := uuid.New()
	store := NewConversationStore(api, self, other)

	msg := &models.Message{
		ID:          uuid.New(),
		SenderID:    self,
		RecipientID: other,
		Content:     "hi",
		Status:      models.StatusSent,
		CreatedAt:   time.Now(),
	}
	event := &models.ChangeEvent{Table: models.TableMessages, Kind: models.EventInsert, Message: msg}

	store.ApplyEvent(context.Background(), event)
	store.ApplyEvent(context.Background(), event)
	assert.Len(t, store.Messages(), 1)
}

func TestApplyEventIgnoresIrrelevantEvents(t *testing.T) {
	_, api := newFakeBackend(t)
	store := NewConversationStore(api, uuid.New(), uuid.New())

	// A message between two strangers
	stranger := &models.Message{
		ID:          uuid.New(),
		SenderID:    uuid.New(),
		RecipientID: uuid.New(),
		Content:     "psst",
		Status:      models.StatusSent,
		CreatedAt:   time.Now(),
	}
	store.ApplyEvent(context.Background(), &models.ChangeEvent{
		Table: models.TableMessages, Kind: models.EventInsert, Message: stranger,
	})

	// A profile event
	store.ApplyEvent(context.Background(), &models.ChangeEvent{
		Table: models.TableProfiles, Kind: models.EventUpdate, Profile: &models.Profile{ID: uuid.New()},
	})

	assert.Empty(t, store.Messages())
}

func TestApplyEventAdvancesStatusForwardOnly(t *testing.T) {
	_, api := newFakeBackend(t)
	self := uuid.New()
	other := uuid.New()
	store := NewConversationStore(api, self, other)

	msg := &models.Message{
		ID:          uuid.New(),
		SenderID:    self,
		RecipientID: other,
		Content:     "hi",
		Status:      models.StatusSeen,
		CreatedAt:   time.Now(),
	}
	store.ApplyEvent(context.Background(), &models.ChangeEvent{
		Table: models.TableMessages, Kind: models.EventInsert, Message: msg,
	})

	// A stale update carrying an earlier status must not regress the row
	stale := *msg
	stale.Status = models.StatusDelivered
	store.ApplyEvent(context.Background(), &models.ChangeEvent{
		Table: models.TableMessages, Kind: models.EventUpdate, Message: &stale,
	})

	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, models.StatusSeen, messages[0].Status)
}

func TestIncomingInsertSchedulesSeenMark(t *testing.T) {
	fb, api := newFakeBackend(t)
	self := uuid.New()
	other := uuid.New()
	store := NewConversationStore(api, self, other)

	incoming := &models.Message{
		ID:          uuid.New(),
		SenderID:    other,
		RecipientID: self,
		Content:     "ping",
		Status:      models.StatusDelivered,
		CreatedAt:   time.Now(),
	}
	store.ApplyEvent(context.Background(), &models.ChangeEvent{
		Table: models.TableMessages, Kind: models.EventInsert, Message: incoming,
	})

	require.Eventually(t, func() bool {
		return fb.seenCalls.Load() >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCloseCancelsPendingSeenMark(t *testing.T) {
	fb, api := newFakeBackend(t)
	self := uuid.New()
	other := uuid.New()
	store := NewConversationStore(api, self, other)

	incoming := &models.Message{
		ID:          uuid.New(),
		SenderID:    other,
		RecipientID: self,
		Content:     "ping",
		Status:      models.StatusDelivered,
		CreatedAt:   time.Now(),
	}
	store.ApplyEvent(context.Background(), &models.ChangeEvent{
		Table: models.TableMessages, Kind: models.EventInsert, Message: incoming,
	})
	store.Close()

	time.Sleep(seenMarkDelay + 200*time.Millisecond)
	assert.Zero(t, fb.seenCalls.Load())
}

func TestLoadFetchesHistoryAndMarksSeen(t *testing.T) {
	fb, api := newFakeBackend(t)
	self := uuid.New()
	other := uuid.New()
	store := NewConversationStore(api, self, other)

	fb.history = []*models.Message{
		{ID: uuid.New(), SenderID: other, RecipientID: self, Content: "old", Status: models.StatusSeen, CreatedAt: time.Now().Add(-time.Minute)},
		{ID: uuid.New(), SenderID: self, RecipientID: other, Content: "newer", Status: models.StatusSent, CreatedAt: time.Now()},
	}

	require.NoError(t, store.Load(context.Background()))
	assert.Len(t, store.Messages(), 2)
	assert.Equal(t, int32(1), fb.seenCalls.Load())
}

func TestLoadSortsHistoryChronologically(t *testing.T) {
	fb, api := newFakeBackend(t)
	self := uuid.New()
	other := uuid.New()
	store := NewConversationStore(api, self, other)

	now := time.Now()
	fb.history = []*models.Message{
		{ID: uuid.New(), SenderID: self, RecipientID: other, Content: "third", Status: models.StatusSent, CreatedAt: now},
		{ID: uuid.New(), SenderID: other, RecipientID: self, Content: "first", Status: models.StatusSeen, CreatedAt: now.Add(-2 * time.Minute)},
		{ID: uuid.New(), SenderID: self, RecipientID: other, Content: "second", Status: models.StatusSeen, CreatedAt: now.Add(-time.Minute)},
	}

	require.NoError(t, store.Load(context.Background()))
	messages := store.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
	assert.Equal(t, "third", messages[2].Content)
}
