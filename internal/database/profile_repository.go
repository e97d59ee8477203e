// internal/database/profile_repository.go
package database

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"lilychat/internal/models"
	"lilychat/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ProfileDocument represents the MongoDB schema for a profile
type ProfileDocument struct {
	ID             string    `bson:"_id"`
	Handle         string    `bson:"handle"`
	DisplayName    string    `bson:"displayName"`
	AvatarURL      string    `bson:"avatarUrl"`
	Email          string    `bson:"email"`
	HashedPassword string    `bson:"hashedPassword"`
	CreatedAt      time.Time `bson:"createdAt"`
	LastActive     time.Time `bson:"lastActive"`
}

func profileFromDocument(doc *ProfileDocument) (*models.Profile, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid profile ID in database: %v", err)
	}
	return &models.Profile{
		ID:             id,
		Handle:         doc.Handle,
		DisplayName:    doc.DisplayName,
		AvatarURL:      doc.AvatarURL,
		Email:          doc.Email,
		HashedPassword: doc.HashedPassword,
		CreatedAt:      doc.CreatedAt,
		LastActive:     doc.LastActive,
	}, nil
}

// GetProfile retrieves a profile from MongoDB by its ID
func (m *MongoDB) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var doc ProfileDocument
	err := m.Profiles.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, utils.NewAppError(utils.ErrUserNotFound, "profile not found", err)
	}
	if err != nil {
		return nil, err
	}
	return profileFromDocument(&doc)
}

// GetProfileByEmail retrieves a profile from MongoDB by its email address
func (m *MongoDB) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	var doc ProfileDocument
	err := m.Profiles.FindOne(ctx, bson.M{"email": email}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, utils.NewAppError(utils.ErrUserNotFound, "profile not found", err)
	}
	if err != nil {
		return nil, err
	}
	return profileFromDocument(&doc)
}

// GetProfileByHandle retrieves a profile by its exact handle, case-insensitively
func (m *MongoDB) GetProfileByHandle(ctx context.Context, handle string) (*models.Profile, error) {
	filter := bson.M{"handle": bson.M{
		"$regex":   "^" + regexp.QuoteMeta(handle) + "$",
		"$options": "i",
	}}
	var doc ProfileDocument
	err := m.Profiles.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, utils.NewAppError(utils.ErrUserNotFound, "profile not found", err)
	}
	if err != nil {
		return nil, err
	}
	return profileFromDocument(&doc)
}

// SaveProfile creates a new profile in MongoDB
func (m *MongoDB) SaveProfile(ctx context.Context, profile *models.Profile) error {
	now := time.Now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	if profile.LastActive.IsZero() {
		profile.LastActive = profile.CreatedAt
	}

	doc := ProfileDocument{
		ID:             profile.ID.String(),
		Handle:         profile.Handle,
		DisplayName:    profile.DisplayName,
		AvatarURL:      profile.AvatarURL,
		Email:          profile.Email,
		HashedPassword: profile.HashedPassword,
		CreatedAt:      profile.CreatedAt,
		LastActive:     profile.LastActive,
	}

	_, err := m.Profiles.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return utils.NewAppError(utils.ErrDuplicate, "profile already exists", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to save profile", err)
	}
	return nil
}

// UpdateProfile applies owner mutations (handle, display name, avatar)
func (m *MongoDB) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	update := bson.M{"$set": bson.M{
		"handle":      profile.Handle,
		"displayName": profile.DisplayName,
		"avatarUrl":   profile.AvatarURL,
	}}
	result, err := m.Profiles.UpdateOne(ctx, bson.M{"_id": profile.ID.String()}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return utils.NewAppError(utils.ErrDuplicate, "handle already taken", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to update profile", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewAppError(utils.ErrUserNotFound, "profile not found for update", nil)
	}
	return nil
}

// SearchProfiles finds profiles whose handle contains the query substring,
// case-insensitively, ordered alphabetically
func (m *MongoDB) SearchProfiles(ctx context.Context, query string, limit int) ([]*models.Profile, error) {
	filter := bson.M{"handle": bson.M{
		"$regex":   regexp.QuoteMeta(query),
		"$options": "i",
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "handle", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := m.Profiles.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to search profiles", err)
	}
	defer cursor.Close(ctx)

	profiles := []*models.Profile{}
	for cursor.Next(ctx) {
		var doc ProfileDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode profile", err)
		}
		profile, err := profileFromDocument(&doc)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// TouchProfileActivity updates the profile's last active time
func (m *MongoDB) TouchProfileActivity(ctx context.Context, id uuid.UUID) error {
	update := bson.M{"$set": bson.M{"lastActive": time.Now()}}
	result, err := m.Profiles.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to update profile activity", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewAppError(utils.ErrUserNotFound, "profile not found for activity update", nil)
	}
	return nil
}

// ProfileActiveSince reports whether the profile was active at or after the
// given instant
func (m *MongoDB) ProfileActiveSince(ctx context.Context, id uuid.UUID, since time.Time) (bool, error) {
	var doc ProfileDocument
	err := m.Profiles.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return false, utils.NewAppError(utils.ErrUserNotFound, "profile not found", err)
	}
	if err != nil {
		return false, err
	}
	return !doc.LastActive.Before(since), nil
}
