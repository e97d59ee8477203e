package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lilychat/internal/database"
	"lilychat/internal/engine"
	"lilychat/internal/middleware"
	"lilychat/internal/models"
	"lilychat/internal/realtime"
	"lilychat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authPayload struct {
	Token   string          `json:"token"`
	Profile *models.Profile `json:"profile"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db := database.NewMemoryDB()
	hub := realtime.NewHub()
	go hub.Run()

	metrics := utils.NewMetricsCollector()
	system := actor.NewActorSystem()
	eng := engine.NewEngine(system, db, hub, metrics)
	server := NewServer(system, eng, metrics, hub, db)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HandleHealth())
	mux.HandleFunc("/metrics", server.HandleMetrics())
	mux.HandleFunc("/auth/register", server.HandleRegister())
	mux.HandleFunc("/auth/login", server.HandleLogin())
	mux.HandleFunc("/auth/session", server.HandleSession())
	mux.HandleFunc("/auth/logout", server.HandleLogout())
	mux.HandleFunc("/profiles", server.HandleProfile())
	mux.HandleFunc("/profiles/search", server.HandleSearchProfiles())
	mux.HandleFunc("/profiles/me", server.HandleUpdateProfile())
	mux.HandleFunc("/profiles/heartbeat", server.HandleHeartbeat())
	mux.HandleFunc("/messages", server.HandleSendMessage())
	mux.HandleFunc("/messages/mark-seen", server.HandleMarkSeen())
	mux.HandleFunc("/messages/mark-delivered", server.HandleMarkDelivered())
	mux.HandleFunc("/conversations", server.HandleConversation())
	mux.HandleFunc("/conversations/resolve", server.HandleResolveConversation())
	mux.HandleFunc("/feed", server.HandleFeed())

	ts := httptest.NewServer(middleware.AuthMiddleware(mux))
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body, out interface{}) *http.Response {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil && resp.StatusCode < 400 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func registerUser(t *testing.T, ts *httptest.Server, email, handle string) *authPayload {
	t.Helper()
	var auth authPayload
	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/register", "", map[string]string{
		"email":    email,
		"password": "hunter22",
		"handle":   handle,
	}, &auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, auth.Token)
	require.NotNil(t, auth.Profile)
	return &auth
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	alice := registerUser(t, ts, "alice@example.com", "alice")
	assert.Equal(t, "alice", alice.Profile.Handle)

	// Duplicate registration conflicts
	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter22",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Wrong password rejected
	resp = doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Correct login yields a fresh token that the session endpoint accepts
	var auth authPayload
	resp = doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter22",
	}, &auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var session models.Profile
	resp = doJSON(t, http.MethodGet, ts.URL+"/auth/session", auth.Token, nil, &session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, alice.Profile.ID, session.ID)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/profiles/search?q=ali", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/messages", "garbage-token", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSearchExcludesCaller(t *testing.T) {
	ts := newTestServer(t)
	alice := registerUser(t, ts, "alice@example.com", "alice")
	registerUser(t, ts, "alina@example.com", "alina")

	var results []*models.Profile
	resp := doJSON(t, http.MethodGet, ts.URL+"/profiles/search?q=ali", alice.Token, nil, &results)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, results, 1)
	assert.Equal(t, "alina", results[0].Handle)
}

func TestMessageLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	alice := registerUser(t, ts, "alice@example.com", "alice")
	bob := registerUser(t, ts, "bob@example.com", "bob")

	var sent models.Message
	resp := doJSON(t, http.MethodPost, ts.URL+"/messages", alice.Token, map[string]string{
		"recipientId": bob.Profile.ID.String(),
		"content":     "hello bob",
	}, &sent)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// Bob just registered, so he counts as recently active
	assert.Equal(t, models.StatusDelivered, sent.Status)

	var history []*models.Message
	resp = doJSON(t, http.MethodGet, ts.URL+"/conversations?with="+alice.Profile.ID.String(), bob.Token, nil, &history)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, history, 1)
	assert.Equal(t, "hello bob", history[0].Content)
	assert.Equal(t, "alice", history[0].SenderHandle)

	var seen []*models.Message
	resp = doJSON(t, http.MethodPost, ts.URL+"/messages/mark-seen", bob.Token, map[string]string{
		"senderId": alice.Profile.ID.String(),
	}, &seen)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, seen, 1)
	assert.Equal(t, models.StatusSeen, seen[0].Status)
}

func TestFeedDeliversMessageEvents(t *testing.T) {
	ts := newTestServer(t)
	alice := registerUser(t, ts, "alice@example.com", "alice")
	bob := registerUser(t, ts, "bob@example.com", "bob")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/feed?token=" + bob.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/messages", alice.Token, map[string]string{
		"recipientId": bob.Profile.ID.String(),
		"content":     "ping",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var event models.ChangeEvent
		require.NoError(t, json.Unmarshal(payload, &event))
		if event.Table != models.TableMessages || event.Kind != models.EventInsert {
			// Profile presence updates may interleave; skip them
			continue
		}
		require.NotNil(t, event.Message)
		assert.Equal(t, "ping", event.Message.Content)
		assert.Equal(t, bob.Profile.ID, event.Message.RecipientID)
		return
	}
}

func TestFeedRejectsMissingToken(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/feed"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
