package actors

import (
	"context"
	"testing"
	"time"

	"lilychat/internal/database"
	"lilychat/internal/models"
	"lilychat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnMessageActor(t *testing.T, db database.DBAdapter) (*actor.RootContext, *actor.PID) {
	t.Helper()
	system := actor.NewActorSystem()
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMessageActor(db, nil)
	})
	pid := system.Root.Spawn(props)
	return system.Root, pid
}

func saveProfile(t *testing.T, db database.DBAdapter, handle string, lastActive time.Time) *models.Profile {
	t.Helper()
	profile := &models.Profile{
		ID:          uuid.New(),
		Handle:      handle,
		DisplayName: handle,
		Email:       handle + "@example.com",
		LastActive:  lastActive,
	}
	require.NoError(t, db.SaveProfile(context.Background(), profile))
	return profile
}

func TestSendMessageToActiveRecipientIsDelivered(t *testing.T) {
	db := database.NewMemoryDB()
	alice := saveProfile(t, db, "alice", time.Now())
	bob := saveProfile(t, db, "bob", time.Now())

	root, pid := spawnMessageActor(t, db)
	result, err := root.RequestFuture(pid, &SendMessageMsg{
		SenderID:    alice.ID,
		RecipientID: bob.ID,
		Content:     "hello bob",
	}, 5*time.Second).Result()
	require.NoError(t, err)

	msg, ok := result.(*models.Message)
	require.True(t, ok, "unexpected result type %T", result)
	assert.Equal(t, models.StatusDelivered, msg.Status)
	assert.NotNil(t, msg.DeliveredAt)
	assert.NotNil(t, msg.ConversationID)
	assert.Equal(t, "alice", msg.SenderHandle)
}

func TestSendMessageToIdleRecipientStaysSent(t *testing.T) {
	db := database.NewMemoryDB()
	alice := saveProfile(t, db, "alice", time.Now())
	bob := saveProfile(t, db, "bob", time.Now().Add(-time.Hour))

	root, pid := spawnMessageActor(t, db)
	result, err := root.RequestFuture(pid, &SendMessageMsg{
		SenderID:    alice.ID,
		RecipientID: bob.ID,
		Content:     "hello bob",
	}, 5*time.Second).Result()
	require.NoError(t, err)

	msg, ok := result.(*models.Message)
	require.True(t, ok, "unexpected result type %T", result)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Nil(t, msg.DeliveredAt)
}

func TestSendMessageValidation(t *testing.T) {
	db := database.NewMemoryDB()
	alice := saveProfile(t, db, "alice", time.Now())

	root, pid := spawnMessageActor(t, db)

	result, err := root.RequestFuture(pid, &SendMessageMsg{
		SenderID:    alice.ID,
		RecipientID: alice.ID,
		Content:     "note to self",
	}, 5*time.Second).Result()
	require.NoError(t, err)
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrInvalidInput, appErr.Code)

	result, err = root.RequestFuture(pid, &SendMessageMsg{
		SenderID:    alice.ID,
		RecipientID: uuid.New(),
		Content:     "   ",
	}, 5*time.Second).Result()
	require.NoError(t, err)
	appErr, ok = result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrInvalidInput, appErr.Code)

	result, err = root.RequestFuture(pid, &SendMessageMsg{
		SenderID:    alice.ID,
		RecipientID: uuid.New(),
		Content:     "hello stranger",
	}, 5*time.Second).Result()
	require.NoError(t, err)
	appErr, ok = result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrUserNotFound, appErr.Code)
}

func TestConversationRoundTripAndSeen(t *testing.T) {
	db := database.NewMemoryDB()
	alice := saveProfile(t, db, "alice", time.Now())
	bob := saveProfile(t, db, "bob", time.Now().Add(-time.Hour))

	root, pid := spawnMessageActor(t, db)

	for _, content := range []string{"one", "two", "three"} {
		_, err := root.RequestFuture(pid, &SendMessageMsg{
			SenderID:    alice.ID,
			RecipientID: bob.ID,
			Content:     content,
		}, 5*time.Second).Result()
		require.NoError(t, err)
	}

	result, err := root.RequestFuture(pid, &GetConversationMsg{
		UserID:  bob.ID,
		OtherID: alice.ID,
	}, 5*time.Second).Result()
	require.NoError(t, err)
	messages, ok := result.([]*models.Message)
	require.True(t, ok, "unexpected result type %T", result)
	require.Len(t, messages, 3)
	assert.Equal(t, "one", messages[0].Content)
	assert.Equal(t, "three", messages[2].Content)

	// Bob reads the thread
	result, err = root.RequestFuture(pid, &MarkSeenMsg{
		SenderID: alice.ID,
		ViewerID: bob.ID,
	}, 5*time.Second).Result()
	require.NoError(t, err)
	seen, ok := result.([]*models.Message)
	require.True(t, ok)
	assert.Len(t, seen, 3)
	for _, m := range seen {
		assert.Equal(t, models.StatusSeen, m.Status)
	}

	// Marking again is a harmless no-op
	result, err = root.RequestFuture(pid, &MarkSeenMsg{
		SenderID: alice.ID,
		ViewerID: bob.ID,
	}, 5*time.Second).Result()
	require.NoError(t, err)
	seen, ok = result.([]*models.Message)
	require.True(t, ok)
	assert.Empty(t, seen)
}

func TestMarkDeliveredCatchUp(t *testing.T) {
	db := database.NewMemoryDB()
	alice := saveProfile(t, db, "alice", time.Now())
	bob := saveProfile(t, db, "bob", time.Now().Add(-time.Hour))

	root, pid := spawnMessageActor(t, db)
	_, err := root.RequestFuture(pid, &SendMessageMsg{
		SenderID:    alice.ID,
		RecipientID: bob.ID,
		Content:     "while you were out",
	}, 5*time.Second).Result()
	require.NoError(t, err)

	result, err := root.RequestFuture(pid, &MarkDeliveredMsg{
		RecipientID: bob.ID,
	}, 5*time.Second).Result()
	require.NoError(t, err)
	delivered, ok := result.([]*models.Message)
	require.True(t, ok)
	require.Len(t, delivered, 1)
	assert.Equal(t, models.StatusDelivered, delivered[0].Status)
}

func TestResolveConversationSharedAcrossDirections(t *testing.T) {
	db := database.NewMemoryDB()
	alice := saveProfile(t, db, "alice", time.Now())
	bob := saveProfile(t, db, "bob", time.Now())

	root, pid := spawnMessageActor(t, db)

	r1, err := root.RequestFuture(pid, &ResolveConversationMsg{UserID: alice.ID, OtherID: bob.ID}, 5*time.Second).Result()
	require.NoError(t, err)
	r2, err := root.RequestFuture(pid, &ResolveConversationMsg{UserID: bob.ID, OtherID: alice.ID}, 5*time.Second).Result()
	require.NoError(t, err)

	conv1, ok := r1.(*models.Conversation)
	require.True(t, ok, "unexpected result type %T", r1)
	conv2, ok := r2.(*models.Conversation)
	require.True(t, ok)
	assert.Equal(t, conv1.ID, conv2.ID)
}
