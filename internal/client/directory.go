package client

import (
	"context"
	"strings"

	"lilychat/internal/models"
	"lilychat/internal/utils"

	"github.com/google/uuid"
)

// DirectorySearchLimit caps how many results a directory search returns.
const DirectorySearchLimit = 10

// Directory searches the user directory by handle. A leading "@" is
// stripped, matching is case-insensitive, results come back alphabetically,
// and the searching user never appears in their own results.
type Directory struct {
	api    *API
	selfID uuid.UUID
}

func NewDirectory(api *API, selfID uuid.UUID) *Directory {
	return &Directory{api: api, selfID: selfID}
}

// Lookup resolves one profile by its exact handle, with the same
// "@"-stripping as Search.
func (d *Directory) Lookup(ctx context.Context, handle string) (*models.Profile, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "handle is empty", nil)
	}
	return d.api.GetProfileByHandle(ctx, handle)
}

// Search returns up to DirectorySearchLimit matching profiles. A blank query
// yields no results rather than the whole directory.
func (d *Directory) Search(ctx context.Context, query string) ([]*models.Profile, error) {
	query = strings.TrimPrefix(strings.TrimSpace(query), "@")
	if query == "" {
		return []*models.Profile{}, nil
	}

	profiles, err := d.api.SearchProfiles(ctx, query, DirectorySearchLimit)
	if err != nil {
		return nil, err
	}

	// The server already excludes the caller; filter again so a stale or
	// mismatched token can't surface the searcher to themselves.
	results := make([]*models.Profile, 0, len(profiles))
	for _, profile := range profiles {
		if profile.ID == d.selfID {
			continue
		}
		results = append(results, profile)
		if len(results) == DirectorySearchLimit {
			break
		}
	}
	return results, nil
}
