// internal/database/message_repository.go
package database

import (
	"context"
	"fmt"
	"time"

	"lilychat/internal/models"
	"lilychat/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConversationDocument represents the MongoDB schema for a conversation
type ConversationDocument struct {
	ID           string    `bson:"_id"`
	ParticipantA string    `bson:"participantA"`
	ParticipantB string    `bson:"participantB"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

// MessageDocument represents the MongoDB schema for a direct message
type MessageDocument struct {
	ID             string     `bson:"_id"`
	ConversationID string     `bson:"conversationId,omitempty"`
	SenderID       string     `bson:"senderId"`
	RecipientID    string     `bson:"recipientId"`
	Content        string     `bson:"content"`
	Status         string     `bson:"status"`
	CreatedAt      time.Time  `bson:"createdAt"`
	SentAt         *time.Time `bson:"sentAt,omitempty"`
	DeliveredAt    *time.Time `bson:"deliveredAt,omitempty"`
	SeenAt         *time.Time `bson:"seenAt,omitempty"`
}

func messageFromDocument(doc *MessageDocument) (*models.Message, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid message ID in database: %v", err)
	}
	senderID, err := uuid.Parse(doc.SenderID)
	if err != nil {
		return nil, fmt.Errorf("invalid sender ID in database: %v", err)
	}
	recipientID, err := uuid.Parse(doc.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient ID in database: %v", err)
	}

	msg := &models.Message{
		ID:          id,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     doc.Content,
		Status:      models.MessageStatus(doc.Status),
		CreatedAt:   doc.CreatedAt,
		SentAt:      doc.SentAt,
		DeliveredAt: doc.DeliveredAt,
		SeenAt:      doc.SeenAt,
	}
	if doc.ConversationID != "" {
		convID, err := uuid.Parse(doc.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("invalid conversation ID in database: %v", err)
		}
		msg.ConversationID = &convID
	}
	return msg, nil
}

// attachSender joins the sender profile fields onto the message for display
func (m *MongoDB) attachSender(ctx context.Context, msg *models.Message) error {
	sender, err := m.GetProfile(ctx, msg.SenderID)
	if err != nil {
		return err
	}
	msg.SenderHandle = sender.Handle
	msg.SenderDisplayName = sender.DisplayName
	msg.SenderAvatarURL = sender.AvatarURL
	return nil
}

// --- Conversation Methods ---

// ResolveConversation returns the conversation for the unordered pair,
// creating it if absent
func (m *MongoDB) ResolveConversation(ctx context.Context, userA, userB uuid.UUID) (*models.Conversation, error) {
	a, b := models.CanonicalPair(userA, userB)

	filter := bson.M{"participantA": a.String(), "participantB": b.String()}
	now := time.Now()
	update := bson.M{"$setOnInsert": ConversationDocument{
		ID:           uuid.New().String(),
		ParticipantA: a.String(),
		ParticipantB: b.String(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc ConversationDocument
	err := m.Conversations.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to resolve conversation", err)
	}

	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation ID in database: %v", err)
	}
	pa, err := uuid.Parse(doc.ParticipantA)
	if err != nil {
		return nil, fmt.Errorf("invalid participant ID in database: %v", err)
	}
	pb, err := uuid.Parse(doc.ParticipantB)
	if err != nil {
		return nil, fmt.Errorf("invalid participant ID in database: %v", err)
	}
	return &models.Conversation{
		ID:           id,
		ParticipantA: pa,
		ParticipantB: pb,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

// TouchConversation bumps the conversation's updated time
func (m *MongoDB) TouchConversation(ctx context.Context, id uuid.UUID) error {
	update := bson.M{"$set": bson.M{"updatedAt": time.Now()}}
	_, err := m.Conversations.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to touch conversation", err)
	}
	return nil
}

// --- Message Methods ---

// SaveMessage inserts a new direct message
func (m *MongoDB) SaveMessage(ctx context.Context, msg *models.Message) error {
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

	doc := MessageDocument{
		ID:          msg.ID.String(),
		SenderID:    msg.SenderID.String(),
		RecipientID: msg.RecipientID.String(),
		Content:     msg.Content,
		Status:      string(msg.Status),
		CreatedAt:   msg.CreatedAt,
		SentAt:      msg.SentAt,
		DeliveredAt: msg.DeliveredAt,
		SeenAt:      msg.SeenAt,
	}
	if msg.ConversationID != nil {
		doc.ConversationID = msg.ConversationID.String()
	}

	_, err := m.Messages.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return utils.NewAppError(utils.ErrDuplicate, "message already exists", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to save message", err)
	}
	return nil
}

// GetMessage fetches a single message with its sender profile attached
func (m *MongoDB) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var doc MessageDocument
	err := m.Messages.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, utils.NewAppError(utils.ErrMessageNotFound, "message not found", err)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query message", err)
	}

	msg, err := messageFromDocument(&doc)
	if err != nil {
		return nil, err
	}
	if err := m.attachSender(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetConversationMessages fetches up to limit of the most recent messages
// between the pair, in ascending creation order
func (m *MongoDB) GetConversationMessages(ctx context.Context, userA, userB uuid.UUID, limit int) ([]*models.Message, error) {
	filter := bson.M{"$or": []bson.M{
		{"senderId": userA.String(), "recipientId": userB.String()},
		{"senderId": userB.String(), "recipientId": userA.String()},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := m.Messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query conversation messages", err)
	}
	defer cursor.Close(ctx)

	messages := []*models.Message{}
	for cursor.Next(ctx) {
		var doc MessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode message", err)
		}
		msg, err := messageFromDocument(&doc)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	// Most-recent-first capped query, returned in chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	// Sender profiles are few per conversation, so join them from a small cache
	senders := map[uuid.UUID]*models.Profile{}
	for _, msg := range messages {
		sender, ok := senders[msg.SenderID]
		if !ok {
			var err error
			sender, err = m.GetProfile(ctx, msg.SenderID)
			if err != nil {
				return nil, err
			}
			senders[msg.SenderID] = sender
		}
		msg.SenderHandle = sender.Handle
		msg.SenderDisplayName = sender.DisplayName
		msg.SenderAvatarURL = sender.AvatarURL
	}
	return messages, nil
}

// AdvanceMessageStatus moves a message's status forward, stamping the
// matching milestone timestamp. Backward transitions are refused; returns
// whether a document was updated
func (m *MongoDB) AdvanceMessageStatus(ctx context.Context, id uuid.UUID, next models.MessageStatus) (bool, error) {
	now := time.Now()

	var filter, update bson.M
	switch next {
	case models.StatusDelivered:
		filter = bson.M{"_id": id.String(), "status": string(models.StatusSent)}
		update = bson.M{"$set": bson.M{
			"status":      string(models.StatusDelivered),
			"deliveredAt": now,
		}}
	case models.StatusSeen:
		filter = bson.M{"_id": id.String(), "status": bson.M{
			"$in": []string{string(models.StatusSent), string(models.StatusDelivered)},
		}}
		update = bson.M{"$set": bson.M{
			"status": string(models.StatusSeen),
			"seenAt": now,
		}}
	default:
		return false, utils.NewAppError(utils.ErrStatusRegression, fmt.Sprintf("cannot advance message to status %q", next), nil)
	}

	result, err := m.Messages.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, utils.NewAppError(utils.ErrDatabase, "failed to advance message status", err)
	}
	if next == models.StatusSeen && result.ModifiedCount > 0 {
		// Backfill deliveredAt on messages seen before an explicit delivery mark
		_, _ = m.Messages.UpdateOne(ctx,
			bson.M{"_id": id.String(), "deliveredAt": nil},
			bson.M{"$set": bson.M{"deliveredAt": now}})
	}
	return result.ModifiedCount > 0, nil
}

// MarkDelivered advances all outstanding messages addressed to the recipient
// from sent to delivered and returns the refreshed messages
func (m *MongoDB) MarkDelivered(ctx context.Context, recipientID uuid.UUID) ([]*models.Message, error) {
	filter := bson.M{
		"recipientId": recipientID.String(),
		"status":      string(models.StatusSent),
	}
	ids, err := m.collectMessageIDs(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	update := bson.M{"$set": bson.M{
		"status":      string(models.StatusDelivered),
		"deliveredAt": now,
	}}
	if _, err := m.Messages.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}, "status": string(models.StatusSent)}, update); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to mark messages delivered", err)
	}
	return m.getMessagesByIDs(ctx, ids)
}

// MarkSeen advances all messages from sender to viewer that the viewer has
// not yet seen, and returns the refreshed messages
func (m *MongoDB) MarkSeen(ctx context.Context, senderID, viewerID uuid.UUID) ([]*models.Message, error) {
	filter := bson.M{
		"senderId":    senderID.String(),
		"recipientId": viewerID.String(),
		"status": bson.M{
			"$in": []string{string(models.StatusSent), string(models.StatusDelivered)},
		},
	}
	ids, err := m.collectMessageIDs(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	update := bson.M{"$set": bson.M{
		"status": string(models.StatusSeen),
		"seenAt": now,
	}}
	if _, err := m.Messages.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, update); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to mark messages seen", err)
	}
	_, _ = m.Messages.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "deliveredAt": nil},
		bson.M{"$set": bson.M{"deliveredAt": now}})
	return m.getMessagesByIDs(ctx, ids)
}

func (m *MongoDB) collectMessageIDs(ctx context.Context, filter bson.M) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := m.Messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to collect message ids", err)
	}
	defer cursor.Close(ctx)

	ids := []string{}
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode message id", err)
		}
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

func (m *MongoDB) getMessagesByIDs(ctx context.Context, ids []string) ([]*models.Message, error) {
	if len(ids) == 0 {
		return []*models.Message{}, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := m.Messages.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query messages by ids", err)
	}
	defer cursor.Close(ctx)

	messages := []*models.Message{}
	for cursor.Next(ctx) {
		var doc MessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode message", err)
		}
		msg, err := messageFromDocument(&doc)
		if err != nil {
			return nil, err
		}
		if err := m.attachSender(ctx, msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
