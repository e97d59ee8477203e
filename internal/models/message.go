package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus tracks the delivery lifecycle of a direct message.
// Transitions only ever move forward: sending -> sent -> delivered -> seen.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusSeen:      3,
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Message is a direct message between two users. Content is immutable after
// creation; only the status and its milestone timestamps advance.
type Message struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	ConversationID *uuid.UUID    `json:"conversationId,omitempty" db:"conversation_id"`
	SenderID       uuid.UUID     `json:"senderId" db:"sender_id"`
	RecipientID    uuid.UUID     `json:"recipientId" db:"recipient_id"`
	Content        string        `json:"content" db:"content"`
	Status         MessageStatus `json:"status" db:"status"`
	CreatedAt      time.Time     `json:"createdAt" db:"created_at"`
	SentAt         *time.Time    `json:"sentAt,omitempty" db:"sent_at"`
	DeliveredAt    *time.Time    `json:"deliveredAt,omitempty" db:"delivered_at"`
	SeenAt         *time.Time    `json:"seenAt,omitempty" db:"seen_at"`

	// Joined sender profile fields for display
	SenderHandle      string `json:"senderHandle,omitempty" db:"sender_handle"`
	SenderDisplayName string `json:"senderDisplayName,omitempty" db:"sender_display_name"`
	SenderAvatarURL   string `json:"senderAvatarUrl,omitempty" db:"sender_avatar_url"`

	// Local marks a client-optimistic placeholder that has no durable row yet.
	Local bool `json:"-" db:"-"`
}
