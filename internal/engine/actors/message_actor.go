package actors

import (
	"log/slog"
	"strings"
	"time"

	stdctx "context"

	"lilychat/internal/database"
	"lilychat/internal/models"
	"lilychat/internal/realtime"
	"lilychat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Message types for MessageActor
type (
	SendMessageMsg struct {
		SenderID    uuid.UUID `json:"senderId"`
		RecipientID uuid.UUID `json:"recipientId"`
		Content     string    `json:"content"`
	}

	GetConversationMsg struct {
		UserID  uuid.UUID `json:"userId"`
		OtherID uuid.UUID `json:"otherId"`
		Limit   int       `json:"limit"`
	}

	ResolveConversationMsg struct {
		UserID  uuid.UUID `json:"userId"`
		OtherID uuid.UUID `json:"otherId"`
	}

	// MarkSeenMsg records that ViewerID has read everything SenderID sent them.
	MarkSeenMsg struct {
		SenderID uuid.UUID `json:"senderId"`
		ViewerID uuid.UUID `json:"viewerId"`
	}

	// MarkDeliveredMsg is the idempotent catch-up a client issues on connect.
	MarkDeliveredMsg struct {
		RecipientID uuid.UUID `json:"recipientId"`
	}
)

// DefaultConversationLimit caps how many messages a conversation load returns.
const DefaultConversationLimit = 100

// MessageActor serializes all direct-message writes so status transitions
// never race. Reads go straight to the adapter.
type MessageActor struct {
	db  database.DBAdapter
	hub *realtime.Hub
}

func NewMessageActor(db database.DBAdapter, hub *realtime.Hub) *MessageActor {
	return &MessageActor{db: db, hub: hub}
}

func (a *MessageActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *SendMessageMsg:
		a.handleSend(context, msg)
	case *GetConversationMsg:
		a.handleGetConversation(context, msg)
	case *ResolveConversationMsg:
		a.handleResolveConversation(context, msg)
	case *MarkSeenMsg:
		a.handleMarkSeen(context, msg)
	case *MarkDeliveredMsg:
		a.handleMarkDelivered(context, msg)
	}
}

func (a *MessageActor) publishMessageEvent(kind string, msg *models.Message) {
	if a.hub == nil {
		return
	}
	a.hub.PublishEvent(&models.ChangeEvent{
		Table:   models.TableMessages,
		Kind:    kind,
		Message: msg,
	})
}

func (a *MessageActor) handleSend(context actor.Context, msg *SendMessageMsg) {
	if strings.TrimSpace(msg.Content) == "" {
		context.Respond(utils.NewAppError(utils.ErrInvalidInput, "message content is empty", nil))
		return
	}
	if msg.SenderID == msg.RecipientID {
		context.Respond(utils.NewAppError(utils.ErrInvalidInput, "cannot message yourself", nil))
		return
	}

	ctx := stdctx.Background()

	// The recipient must exist before a thread can involve them.
	if _, err := a.db.GetProfile(ctx, msg.RecipientID); err != nil {
		context.Respond(utils.NewAppError(utils.ErrUserNotFound, "recipient not found", err))
		return
	}

	conv, err := a.db.ResolveConversation(ctx, msg.SenderID, msg.RecipientID)
	if err != nil {
		context.Respond(utils.NewAppError(utils.ErrSendFailed, "failed to resolve conversation", err))
		return
	}

	// A recipient that is connected or was active inside the window gets the
	// message stored delivered immediately.
	status := models.StatusSent
	var deliveredAt *time.Time
	recentlyActive, err := a.db.ProfileActiveSince(ctx, msg.RecipientID, time.Now().Add(-database.RecentActivityWindow))
	if err != nil {
		slog.Warn("failed to check recipient activity", "recipientId", msg.RecipientID, "error", err)
	}
	if recentlyActive || (a.hub != nil && a.hub.IsConnected(msg.RecipientID)) {
		status = models.StatusDelivered
		now := time.Now()
		deliveredAt = &now
	}

	message := &models.Message{
		ID:             uuid.New(),
		ConversationID: &conv.ID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Content:        msg.Content,
		Status:         status,
		CreatedAt:      time.Now(),
		DeliveredAt:    deliveredAt,
	}
	if err := a.db.SaveMessage(ctx, message); err != nil {
		context.Respond(utils.NewAppError(utils.ErrSendFailed, "failed to save message", err))
		return
	}

	if err := a.db.TouchConversation(ctx, conv.ID); err != nil {
		slog.Warn("failed to touch conversation", "conversationId", conv.ID, "error", err)
	}

	// Respond with the joined row so the caller gets sender display fields.
	saved, err := a.db.GetMessage(ctx, message.ID)
	if err != nil {
		saved = message
	}

	a.publishMessageEvent(models.EventInsert, saved)
	context.Respond(saved)
}

func (a *MessageActor) handleGetConversation(context actor.Context, msg *GetConversationMsg) {
	limit := msg.Limit
	if limit <= 0 || limit > DefaultConversationLimit {
		limit = DefaultConversationLimit
	}

	ctx := stdctx.Background()
	messages, err := a.db.GetConversationMessages(ctx, msg.UserID, msg.OtherID, limit)
	if err != nil {
		context.Respond(utils.NewAppError(utils.ErrDatabase, "failed to load conversation", err))
		return
	}
	context.Respond(messages)
}

func (a *MessageActor) handleResolveConversation(context actor.Context, msg *ResolveConversationMsg) {
	ctx := stdctx.Background()

	if _, err := a.db.GetProfile(ctx, msg.OtherID); err != nil {
		context.Respond(utils.NewAppError(utils.ErrUserNotFound, "participant not found", err))
		return
	}

	conv, err := a.db.ResolveConversation(ctx, msg.UserID, msg.OtherID)
	if err != nil {
		context.Respond(utils.NewAppError(utils.ErrDatabase, "failed to resolve conversation", err))
		return
	}
	context.Respond(conv)
}

func (a *MessageActor) handleMarkSeen(context actor.Context, msg *MarkSeenMsg) {
	ctx := stdctx.Background()
	updated, err := a.db.MarkSeen(ctx, msg.SenderID, msg.ViewerID)
	if err != nil {
		context.Respond(utils.NewAppError(utils.ErrDatabase, "failed to mark messages seen", err))
		return
	}
	for _, m := range updated {
		a.publishMessageEvent(models.EventUpdate, m)
	}
	context.Respond(updated)
}

func (a *MessageActor) handleMarkDelivered(context actor.Context, msg *MarkDeliveredMsg) {
	ctx := stdctx.Background()
	updated, err := a.db.MarkDelivered(ctx, msg.RecipientID)
	if err != nil {
		context.Respond(utils.NewAppError(utils.ErrDatabase, "failed to mark messages delivered", err))
		return
	}
	for _, m := range updated {
		a.publishMessageEvent(models.EventUpdate, m)
	}
	context.Respond(updated)
}
