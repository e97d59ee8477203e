package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Conversation identifies the single thread between an unordered pair of
// users. Participants are stored in canonical order (smaller id first) so a
// uniqueness constraint on the pair guarantees exactly one row per pair.
type Conversation struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ParticipantA uuid.UUID `json:"participantA" db:"participant_a"`
	ParticipantB uuid.UUID `json:"participantB" db:"participant_b"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// CanonicalPair orders two user ids deterministically, smaller first, so both
// participants resolve the same conversation regardless of who initiates.
func CanonicalPair(x, y uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(x[:], y[:]) <= 0 {
		return x, y
	}
	return y, x
}
