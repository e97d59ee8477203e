package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the durable record backing an authenticated identity. It is
// created on first authentication and never deleted.
type Profile struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Handle         string    `json:"handle" db:"handle"`
	DisplayName    string    `json:"displayName" db:"display_name"`
	AvatarURL      string    `json:"avatarUrl" db:"avatar_url"`
	Email          string    `json:"-" db:"email"`
	HashedPassword string    `json:"-" db:"password_hash"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	LastActive     time.Time `json:"lastActive" db:"last_active"`
}
