package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lilychat/internal/models"
	"lilychat/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionRequiresBaseURL(t *testing.T) {
	_, err := NewSession("")
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrConfigMissing))

	_, err = NewSession("   ")
	require.Error(t, err)

	_, err = NewSession("http://localhost:8080")
	require.NoError(t, err)
}

func TestSignInPublishesAuthState(t *testing.T) {
	profile := &models.Profile{ID: uuid.New(), Handle: "alice"}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AuthResponse{Token: "tok-123", Profile: profile})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, err := NewSession(server.URL)
	require.NoError(t, err)

	got, err := session.SignIn(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, got.ID)
	assert.Equal(t, "tok-123", session.API().Token)
	assert.Equal(t, profile.ID, session.SelfID())

	state := <-session.States
	require.NotNil(t, state.Profile)
	assert.Equal(t, "alice", state.Profile.Handle)
	assert.Equal(t, "tok-123", state.Token)
}

func TestSignInHumanizesFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "invalid credentials",
			"code":  utils.ErrInvalidCredentials,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, err := NewSession(server.URL)
	require.NoError(t, err)

	_, err = session.SignIn(context.Background(), "alice@example.com", "bad")
	require.Error(t, err)
	assert.Equal(t, "Incorrect email or password.", err.(*utils.AppError).Message)
}

func TestRestoreFallsBackToPlaceholderProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "database down", "code": utils.ErrDatabase})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, err := NewSession(server.URL)
	require.NoError(t, err)

	profile, err := session.Restore(context.Background(), "stale-but-present", "carol.smith@example.com")
	require.NoError(t, err)
	assert.Equal(t, "carol.smith", profile.Handle)
	assert.Equal(t, "carol.smith", profile.DisplayName)
}

func TestRestoreRejectsInvalidToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid token", "code": utils.ErrInvalidToken})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, err := NewSession(server.URL)
	require.NoError(t, err)

	_, err = session.Restore(context.Background(), "expired", "alice@example.com")
	require.Error(t, err)
	assert.Empty(t, session.API().Token)

	_, err = session.Restore(context.Background(), "", "alice@example.com")
	require.Error(t, err)
}

func TestDirectorySearchStripsAtAndExcludesSelf(t *testing.T) {
	self := uuid.New()
	other := &models.Profile{ID: uuid.New(), Handle: "alina"}

	var gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/profiles/search", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		json.NewEncoder(w).Encode([]*models.Profile{
			{ID: self, Handle: "alice"},
			other,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	directory := NewDirectory(NewAPI(server.URL), self)

	results, err := directory.Search(context.Background(), "@ali")
	require.NoError(t, err)
	assert.Equal(t, "ali", gotQuery)
	require.Len(t, results, 1)
	assert.Equal(t, "alina", results[0].Handle)
}

func TestDirectoryLookupStripsAt(t *testing.T) {
	alina := &models.Profile{ID: uuid.New(), Handle: "alina"}

	var gotHandle string
	mux := http.NewServeMux()
	mux.HandleFunc("/profiles", func(w http.ResponseWriter, r *http.Request) {
		gotHandle = r.URL.Query().Get("handle")
		json.NewEncoder(w).Encode(alina)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	directory := NewDirectory(NewAPI(server.URL), uuid.New())

	profile, err := directory.Lookup(context.Background(), " @alina ")
	require.NoError(t, err)
	assert.Equal(t, "alina", gotHandle)
	assert.Equal(t, alina.ID, profile.ID)
}

func TestDirectoryLookupRejectsBlankHandle(t *testing.T) {
	directory := NewDirectory(NewAPI("http://localhost:0"), uuid.New())

	for _, handle := range []string{"", "@", "   "} {
		_, err := directory.Lookup(context.Background(), handle)
		require.Error(t, err)
		assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))
	}
}

func TestDirectoryBlankQueryShortCircuits(t *testing.T) {
	called := false
	mux := http.NewServeMux()
	mux.HandleFunc("/profiles/search", func(w http.ResponseWriter, r *http.Request) {
		called = true
		json.NewEncoder(w).Encode([]*models.Profile{})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	directory := NewDirectory(NewAPI(server.URL), uuid.New())

	for _, query := range []string{"", "@", "   "} {
		results, err := directory.Search(context.Background(), query)
		require.NoError(t, err)
		assert.Empty(t, results)
	}
	assert.False(t, called)
}
