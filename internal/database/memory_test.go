package database

import (
	"context"
	"testing"
	"time"

	"lilychat/internal/models"
	"lilychat/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProfile(t *testing.T, db *MemoryDB, handle string) *models.Profile {
	t.Helper()
	profile := &models.Profile{
		ID:          uuid.New(),
		Handle:      handle,
		DisplayName: handle,
		Email:       handle + "@example.com",
	}
	require.NoError(t, db.SaveProfile(context.Background(), profile))
	return profile
}

func TestResolveConversationIsIdempotentAcrossOrdering(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	alice := newTestProfile(t, db, "alice")
	bob := newTestProfile(t, db, "bob")

	conv1, err := db.ResolveConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	conv2, err := db.ResolveConversation(ctx, bob.ID, alice.ID)
	require.NoError(t, err)

	assert.Equal(t, conv1.ID, conv2.ID)
	assert.Equal(t, conv1.ParticipantA, conv2.ParticipantA)
	assert.Equal(t, conv1.ParticipantB, conv2.ParticipantB)
}

func TestSaveMessageDefaultsToSent(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	alice := newTestProfile(t, db, "alice")
	bob := newTestProfile(t, db, "bob")

	msg := &models.Message{
		ID:          uuid.New(),
		SenderID:    alice.ID,
		RecipientID: bob.ID,
		Content:     "hello",
		Status:      models.StatusSending,
	}
	require.NoError(t, db.SaveMessage(ctx, msg))

	saved, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, saved.Status)
	assert.NotNil(t, saved.SentAt)
	assert.Equal(t, "alice", saved.SenderHandle)
}

func TestAdvanceMessageStatusIsForwardOnly(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	alice := newTestProfile(t, db, "alice")
	bob := newTestProfile(t, db, "bob")

	msg := &models.Message{ID: uuid.New(), SenderID: alice.ID, RecipientID: bob.ID, Content: "hi"}
	require.NoError(t, db.SaveMessage(ctx, msg))

	ok, err := db.AdvanceMessageStatus(ctx, msg.ID, models.StatusDelivered)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.AdvanceMessageStatus(ctx, msg.ID, models.StatusSeen)
	require.NoError(t, err)
	assert.True(t, ok)

	// Re-advancing a seen message is a no-op, not an error
	ok, err = db.AdvanceMessageStatus(ctx, msg.ID, models.StatusDelivered)
	require.NoError(t, err)
	assert.False(t, ok)

	saved, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSeen, saved.Status)
	assert.NotNil(t, saved.DeliveredAt)
	assert.NotNil(t, saved.SeenAt)
}

func TestAdvanceToSendingIsRejected(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	alice := newTestProfile(t, db, "alice")
	bob := newTestProfile(t, db, "bob")

	msg := &models.Message{ID: uuid.New(), SenderID: alice.ID, RecipientID: bob.ID, Content: "hi"}
	require.NoError(t, db.SaveMessage(ctx, msg))

	_, err := db.AdvanceMessageStatus(ctx, msg.ID, models.StatusSending)
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrStatusRegression))
}

func TestGetConversationMessagesIsChronological(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	alice := newTestProfile(t, db, "alice")
	bob := newTestProfile(t, db, "bob")
	carol := newTestProfile(t, db, "carol")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		sender, recipient := alice, bob
		if i%2 == 1 {
			sender, recipient = bob, alice
		}
		require.NoError(t, db.SaveMessage(ctx, &models.Message{
			ID:          uuid.New(),
			SenderID:    sender.ID,
			RecipientID: recipient.ID,
			Content:     "msg",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// Unrelated thread must not leak in
	require.NoError(t, db.SaveMessage(ctx, &models.Message{
		ID: uuid.New(), SenderID: alice.ID, RecipientID: carol.ID, Content: "other",
	}))

	messages, err := db.GetConversationMessages(ctx, bob.ID, alice.ID, 100)
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i := 1; i < len(messages); i++ {
		assert.True(t, messages[i].CreatedAt.After(messages[i-1].CreatedAt))
	}

	// The limit keeps the most recent window, still oldest first
	capped, err := db.GetConversationMessages(ctx, alice.ID, bob.ID, 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.True(t, capped[1].CreatedAt.After(capped[0].CreatedAt))
	assert.Equal(t, messages[4].ID, capped[1].ID)
}

func TestMarkDeliveredAndSeen(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	alice := newTestProfile(t, db, "alice")
	bob := newTestProfile(t, db, "bob")

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id := uuid.New()
		ids = append(ids, id)
		require.NoError(t, db.SaveMessage(ctx, &models.Message{
			ID: id, SenderID: alice.ID, RecipientID: bob.ID, Content: "hi",
		}))
	}

	delivered, err := db.MarkDelivered(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, delivered, 3)
	for _, m := range delivered {
		assert.Equal(t, models.StatusDelivered, m.Status)
		assert.NotNil(t, m.DeliveredAt)
	}

	// Second pass finds nothing left to deliver
	delivered, err = db.MarkDelivered(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, delivered)

	seen, err := db.MarkSeen(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Len(t, seen, 3)
	for _, m := range seen {
		assert.Equal(t, models.StatusSeen, m.Status)
		assert.NotNil(t, m.SeenAt)
	}

	// Seen messages never regress; nothing left to mark
	seen, err = db.MarkSeen(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, seen)
}

func TestMarkSeenBackfillsDeliveredAt(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	alice := newTestProfile(t, db, "alice")
	bob := newTestProfile(t, db, "bob")

	msg := &models.Message{ID: uuid.New(), SenderID: alice.ID, RecipientID: bob.ID, Content: "hi"}
	require.NoError(t, db.SaveMessage(ctx, msg))

	seen, err := db.MarkSeen(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.NotNil(t, seen[0].DeliveredAt)
	assert.NotNil(t, seen[0].SeenAt)
}

func TestSearchProfilesOrderingAndLimit(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	newTestProfile(t, db, "Alice")
	newTestProfile(t, db, "alina")
	newTestProfile(t, db, "malik")
	newTestProfile(t, db, "bob")

	results, err := db.SearchProfiles(ctx, "ali", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Alice", results[0].Handle)
	assert.Equal(t, "alina", results[1].Handle)
	assert.Equal(t, "malik", results[2].Handle)

	capped, err := db.SearchProfiles(ctx, "ali", 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestSaveProfileRejectsDuplicates(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	newTestProfile(t, db, "alice")

	err := db.SaveProfile(ctx, &models.Profile{
		ID:     uuid.New(),
		Handle: "ALICE",
		Email:  "other@example.com",
	})
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrDuplicate))

	err = db.SaveProfile(ctx, &models.Profile{
		ID:     uuid.New(),
		Handle: "fresh",
		Email:  "alice@example.com",
	})
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrDuplicate))
}

func TestProfileActiveSince(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	alice := newTestProfile(t, db, "alice")

	active, err := db.ProfileActiveSince(ctx, alice.ID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, active)

	active, err = db.ProfileActiveSince(ctx, alice.ID, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, active)

	_, err = db.ProfileActiveSince(ctx, uuid.New(), time.Now())
	require.Error(t, err)
}
