// internal/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"lilychat/internal/models"
	"lilychat/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RecentActivityWindow is how recently a recipient must have been active for
// a message to be stored delivered at insert time.
const RecentActivityWindow = 5 * time.Minute

// DBAdapter defines the common interface for database operations.
// PostgreSQL is the primary backend; MongoDB and an in-memory adapter
// implement the same surface.
type DBAdapter interface {
	// Connection
	Close(ctx context.Context) error

	// Profile methods
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error)
	GetProfileByHandle(ctx context.Context, handle string) (*models.Profile, error)
	SaveProfile(ctx context.Context, profile *models.Profile) error
	UpdateProfile(ctx context.Context, profile *models.Profile) error
	SearchProfiles(ctx context.Context, query string, limit int) ([]*models.Profile, error)
	TouchProfileActivity(ctx context.Context, id uuid.UUID) error
	ProfileActiveSince(ctx context.Context, id uuid.UUID, since time.Time) (bool, error)

	// Conversation methods
	ResolveConversation(ctx context.Context, userA, userB uuid.UUID) (*models.Conversation, error)
	TouchConversation(ctx context.Context, id uuid.UUID) error

	// Message methods
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	GetConversationMessages(ctx context.Context, userA, userB uuid.UUID, limit int) ([]*models.Message, error)
	AdvanceMessageStatus(ctx context.Context, id uuid.UUID, next models.MessageStatus) (bool, error)
	MarkDelivered(ctx context.Context, recipientID uuid.UUID) ([]*models.Message, error)
	MarkSeen(ctx context.Context, senderID, viewerID uuid.UUID) ([]*models.Message, error)
}

// PostgresDB represents a PostgreSQL database connection
type PostgresDB struct {
	DB *sqlx.DB
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %v", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %v", err)
	}

	slog.Info("connected to PostgreSQL")

	return &PostgresDB{
		DB: db,
	}, nil
}

// Close closes the database connection
func (p *PostgresDB) Close(ctx context.Context) error {
	slog.Info("closing PostgreSQL connection")
	return p.DB.Close()
}

// InitializeTables creates all necessary tables if they don't exist
func (p *PostgresDB) InitializeTables(ctx context.Context) error {
	// Profiles table
	_, err := p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			id UUID PRIMARY KEY,
			handle VARCHAR(50) UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			avatar_url VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(100) UNIQUE NOT NULL,
			password_hash VARCHAR(100) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			last_active TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create profiles table: %v", err)
	}

	// Conversations table. Participants are stored in canonical order so the
	// pair constraint guarantees one conversation per unordered pair.
	_, err = p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			participant_a UUID NOT NULL REFERENCES profiles(id),
			participant_b UUID NOT NULL REFERENCES profiles(id),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE (participant_a, participant_b)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create conversations table: %v", err)
	}

	// Messages table
	_, err = p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			conversation_id UUID REFERENCES conversations(id),
			sender_id UUID NOT NULL REFERENCES profiles(id),
			recipient_id UUID NOT NULL REFERENCES profiles(id),
			content TEXT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'sent',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			sent_at TIMESTAMP WITH TIME ZONE,
			delivered_at TIMESTAMP WITH TIME ZONE,
			seen_at TIMESTAMP WITH TIME ZONE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages table: %v", err)
	}

	_, err = p.DB.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_messages_pair
		ON messages (sender_id, recipient_id, created_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages index: %v", err)
	}

	return nil
}

// --- Profile Methods ---

const profileColumns = `id, handle, display_name, avatar_url, email, password_hash, created_at, last_active`

// GetProfile fetches a profile by its ID.
func (p *PostgresDB) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	var profile models.Profile
	err := p.DB.GetContext(ctx, &profile, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewAppError(utils.ErrUserNotFound, "profile not found", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query profile by id", err)
	}
	return &profile, nil
}

// GetProfileByEmail fetches a profile by its email address.
func (p *PostgresDB) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE email = $1`
	var profile models.Profile
	err := p.DB.GetContext(ctx, &profile, query, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewAppError(utils.ErrUserNotFound, "profile not found", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query profile by email", err)
	}
	return &profile, nil
}

// GetProfileByHandle fetches a profile by its exact handle.
func (p *PostgresDB) GetProfileByHandle(ctx context.Context, handle string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE LOWER(handle) = LOWER($1)`
	var profile models.Profile
	err := p.DB.GetContext(ctx, &profile, query, handle)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewAppError(utils.ErrUserNotFound, "profile not found", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query profile by handle", err)
	}
	return &profile, nil
}

// SaveProfile inserts a new profile.
func (p *PostgresDB) SaveProfile(ctx context.Context, profile *models.Profile) error {
	now := time.Now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	if profile.LastActive.IsZero() {
		profile.LastActive = profile.CreatedAt
	}

	query := `
		INSERT INTO profiles (id, handle, display_name, avatar_url, email, password_hash, created_at, last_active)
		VALUES (:id, :handle, :display_name, :avatar_url, :email, :password_hash, :created_at, :last_active)
	`
	_, err := p.DB.NamedExecContext(ctx, query, profile)
	if err != nil {
		// Check for duplicate key violation (handle or email)
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return utils.NewAppError(utils.ErrDuplicate, fmt.Sprintf("profile already exists: %v", pqErr.Constraint), err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to save profile", err)
	}
	return nil
}

// UpdateProfile applies owner mutations (handle, display name, avatar).
func (p *PostgresDB) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	query := `UPDATE profiles SET handle = $1, display_name = $2, avatar_url = $3 WHERE id = $4`
	result, err := p.DB.ExecContext(ctx, query, profile.Handle, profile.DisplayName, profile.AvatarURL, profile.ID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return utils.NewAppError(utils.ErrDuplicate, "handle already taken", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to update profile", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to get rows affected after update", err)
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrUserNotFound, "profile not found for update", nil)
	}
	return nil
}

// SearchProfiles finds profiles whose handle contains the query substring,
// case-insensitively, ordered alphabetically.
func (p *PostgresDB) SearchProfiles(ctx context.Context, query string, limit int) ([]*models.Profile, error) {
	sqlQuery := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE handle ILIKE '%' || $1 || '%'
		ORDER BY handle ASC
		LIMIT $2
	`
	profiles := []*models.Profile{}
	err := p.DB.SelectContext(ctx, &profiles, sqlQuery, query, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to search profiles", err)
	}
	return profiles, nil
}

// TouchProfileActivity updates the profile's last active time.
func (p *PostgresDB) TouchProfileActivity(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE profiles SET last_active = NOW() WHERE id = $1`
	result, err := p.DB.ExecContext(ctx, query, id)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to update profile activity", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrUserNotFound, "profile not found for activity update", nil)
	}
	return nil
}

// ProfileActiveSince reports whether the profile's last activity is at or
// after the given instant.
func (p *PostgresDB) ProfileActiveSince(ctx context.Context, id uuid.UUID, since time.Time) (bool, error) {
	query := `SELECT last_active >= $2 FROM profiles WHERE id = $1`
	var active bool
	err := p.DB.GetContext(ctx, &active, query, id, since)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, utils.NewAppError(utils.ErrUserNotFound, "profile not found", err)
		}
		return false, utils.NewAppError(utils.ErrDatabase, "failed to query profile activity", err)
	}
	return active, nil
}

// --- Conversation Methods ---

// ResolveConversation returns the conversation for the unordered pair,
// creating it if absent. The pair is canonicalized before lookup so both
// participants resolve the same row.
func (p *PostgresDB) ResolveConversation(ctx context.Context, userA, userB uuid.UUID) (*models.Conversation, error) {
	a, b := models.CanonicalPair(userA, userB)

	// Insert-if-absent first; the unique constraint makes this idempotent
	// even when both participants race to create the row.
	insertQuery := `
		INSERT INTO conversations (id, participant_a, participant_b, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (participant_a, participant_b) DO NOTHING
	`
	if _, err := p.DB.ExecContext(ctx, insertQuery, uuid.New(), a, b); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to create conversation", err)
	}

	query := `
		SELECT id, participant_a, participant_b, created_at, updated_at
		FROM conversations
		WHERE participant_a = $1 AND participant_b = $2
	`
	var conv models.Conversation
	if err := p.DB.GetContext(ctx, &conv, query, a, b); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to resolve conversation", err)
	}
	return &conv, nil
}

// TouchConversation bumps the conversation's updated_at timestamp.
func (p *PostgresDB) TouchConversation(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE conversations SET updated_at = NOW() WHERE id = $1`
	if _, err := p.DB.ExecContext(ctx, query, id); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to touch conversation", err)
	}
	return nil
}

// --- Message Methods ---

const joinedMessageColumns = `
	m.id, m.conversation_id, m.sender_id, m.recipient_id, m.content, m.status,
	m.created_at, m.sent_at, m.delivered_at, m.seen_at,
	u.handle AS sender_handle, u.display_name AS sender_display_name, u.avatar_url AS sender_avatar_url`

// SaveMessage inserts a new direct message.
func (p *PostgresDB) SaveMessage(ctx context.Context, msg *models.Message) error {
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

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, status, created_at, sent_at, delivered_at, seen_at)
		VALUES (:id, :conversation_id, :sender_id, :recipient_id, :content, :status, :created_at, :sent_at, :delivered_at, :seen_at)
	`
	_, err := p.DB.NamedExecContext(ctx, query, msg)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to save message", err)
	}
	return nil
}

// GetMessage fetches a single message joined with its sender profile.
func (p *PostgresDB) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	query := `
		SELECT ` + joinedMessageColumns + `
		FROM messages m
		JOIN profiles u ON m.sender_id = u.id
		WHERE m.id = $1
	`
	var msg models.Message
	err := p.DB.GetContext(ctx, &msg, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewAppError(utils.ErrMessageNotFound, "message not found", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query message by id", err)
	}
	return &msg, nil
}

// GetConversationMessages fetches up to limit of the most recent messages
// between the pair, in ascending creation order, joined with sender profiles.
func (p *PostgresDB) GetConversationMessages(ctx context.Context, userA, userB uuid.UUID, limit int) ([]*models.Message, error) {
	query := `
		SELECT ` + joinedMessageColumns + `
		FROM messages m
		JOIN profiles u ON m.sender_id = u.id
		WHERE (m.sender_id = $1 AND m.recipient_id = $2)
		   OR (m.sender_id = $2 AND m.recipient_id = $1)
		ORDER BY m.created_at DESC
		LIMIT $3
	`
	messages := []*models.Message{}
	err := p.DB.SelectContext(ctx, &messages, query, userA, userB, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query conversation messages", err)
	}
	// Most-recent-first capped query, returned in chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// AdvanceMessageStatus moves a message's status forward, stamping the
// matching milestone timestamp. Backward transitions are refused; returns
// whether a row was updated.
func (p *PostgresDB) AdvanceMessageStatus(ctx context.Context, id uuid.UUID, next models.MessageStatus) (bool, error) {
	var query string
	switch next {
	case models.StatusDelivered:
		query = `
			UPDATE messages SET status = 'delivered', delivered_at = NOW()
			WHERE id = $1 AND status = 'sent'
		`
	case models.StatusSeen:
		query = `
			UPDATE messages SET status = 'seen', seen_at = NOW(),
				delivered_at = COALESCE(delivered_at, NOW())
			WHERE id = $1 AND status IN ('sent', 'delivered')
		`
	default:
		return false, utils.NewAppError(utils.ErrStatusRegression, fmt.Sprintf("cannot advance message to status %q", next), nil)
	}

	result, err := p.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, utils.NewAppError(utils.ErrDatabase, "failed to advance message status", err)
	}
	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

// MarkDelivered advances all outstanding messages addressed to the recipient
// from sent to delivered and returns the refreshed joined rows.
func (p *PostgresDB) MarkDelivered(ctx context.Context, recipientID uuid.UUID) ([]*models.Message, error) {
	query := `
		UPDATE messages SET status = 'delivered', delivered_at = NOW()
		WHERE recipient_id = $1 AND status = 'sent'
		RETURNING id
	`
	var ids []uuid.UUID
	if err := p.DB.SelectContext(ctx, &ids, query, recipientID); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to mark messages delivered", err)
	}
	return p.getMessagesByIDs(ctx, ids)
}

// MarkSeen advances all messages from sender to viewer that the viewer has
// not yet seen, and returns the refreshed joined rows.
func (p *PostgresDB) MarkSeen(ctx context.Context, senderID, viewerID uuid.UUID) ([]*models.Message, error) {
	query := `
		UPDATE messages SET status = 'seen', seen_at = NOW(),
			delivered_at = COALESCE(delivered_at, NOW())
		WHERE sender_id = $1 AND recipient_id = $2 AND status IN ('sent', 'delivered')
		RETURNING id
	`
	var ids []uuid.UUID
	if err := p.DB.SelectContext(ctx, &ids, query, senderID, viewerID); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to mark messages seen", err)
	}
	return p.getMessagesByIDs(ctx, ids)
}

func (p *PostgresDB) getMessagesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Message, error) {
	if len(ids) == 0 {
		return []*models.Message{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT `+joinedMessageColumns+`
		FROM messages m
		JOIN profiles u ON m.sender_id = u.id
		WHERE m.id IN (?)
		ORDER BY m.created_at ASC
	`, ids)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to build messages-by-ids query", err)
	}
	query = p.DB.Rebind(query) // Rebind ? to $1, $2, etc. for PostgreSQL

	messages := []*models.Message{}
	if err := p.DB.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query messages by ids", err)
	}
	return messages, nil
}
