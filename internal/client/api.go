// Package client is the Go SDK for the lilychat API. It wraps the REST
// surface and the realtime change feed behind typed calls, and layers the
// session, directory, and conversation state machines on top.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lilychat/internal/models"
	"lilychat/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// API is the low-level HTTP transport. It is safe for concurrent use once
// the token is set.
type API struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// AuthResponse mirrors the server's authentication payload.
type AuthResponse struct {
	Token   string          `json:"token"`
	Profile *models.Profile `json:"profile"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (a *API) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+endpoint, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			code := eb.Code
			if code == "" {
				code = utils.ErrSendFailed
			}
			return utils.NewAppError(code, eb.Error, nil)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %v", err)
		}
	}
	return nil
}

// Register creates an account and installs the returned session token.
func (a *API) Register(ctx context.Context, email, password, handle, displayName string) (*models.Profile, error) {
	var resp AuthResponse
	err := a.do(ctx, http.MethodPost, "/auth/register", map[string]string{
		"email":       email,
		"password":    password,
		"handle":      handle,
		"displayName": displayName,
	}, &resp)
	if err != nil {
		return nil, err
	}
	a.Token = resp.Token
	return resp.Profile, nil
}

// Login signs in and installs the returned session token.
func (a *API) Login(ctx context.Context, email, password string) (*models.Profile, error) {
	var resp AuthResponse
	err := a.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	a.Token = resp.Token
	return resp.Profile, nil
}

// Session restores the profile behind the current token.
func (a *API) Session(ctx context.Context) (*models.Profile, error) {
	var profile models.Profile
	if err := a.do(ctx, http.MethodGet, "/auth/session", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Logout tells the server the session ended and drops the local token.
func (a *API) Logout(ctx context.Context) error {
	err := a.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	a.Token = ""
	return err
}

// GetProfile looks up a profile by id.
func (a *API) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	endpoint := "/profiles?id=" + url.QueryEscape(id.String())
	if err := a.do(ctx, http.MethodGet, endpoint, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetProfileByHandle looks up a profile by its exact handle.
func (a *API) GetProfileByHandle(ctx context.Context, handle string) (*models.Profile, error) {
	var profile models.Profile
	endpoint := "/profiles?handle=" + url.QueryEscape(handle)
	if err := a.do(ctx, http.MethodGet, endpoint, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// SearchProfiles queries the user directory.
func (a *API) SearchProfiles(ctx context.Context, query string, limit int) ([]*models.Profile, error) {
	profiles := []*models.Profile{}
	endpoint := "/profiles/search?q=" + url.QueryEscape(query) + "&limit=" + strconv.Itoa(limit)
	if err := a.do(ctx, http.MethodGet, endpoint, nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// UpdateProfile applies owner mutations. Empty fields are left unchanged.
func (a *API) UpdateProfile(ctx context.Context, handle, displayName, avatarURL string) (*models.Profile, error) {
	var profile models.Profile
	err := a.do(ctx, http.MethodPut, "/profiles/me", map[string]string{
		"handle":      handle,
		"displayName": displayName,
		"avatarUrl":   avatarURL,
	}, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Heartbeat refreshes the caller's presence.
func (a *API) Heartbeat(ctx context.Context) (*models.Profile, error) {
	var profile models.Profile
	if err := a.do(ctx, http.MethodPost, "/profiles/heartbeat", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// SendMessage delivers a direct message to the recipient.
func (a *API) SendMessage(ctx context.Context, recipientID uuid.UUID, content string) (*models.Message, error) {
	var msg models.Message
	err := a.do(ctx, http.MethodPost, "/messages", map[string]string{
		"recipientId": recipientID.String(),
		"content":     content,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetConversation loads the history with another user, oldest first.
func (a *API) GetConversation(ctx context.Context, otherID uuid.UUID, limit int) ([]*models.Message, error) {
	messages := []*models.Message{}
	endpoint := "/conversations?with=" + url.QueryEscape(otherID.String())
	if limit > 0 {
		endpoint += "&limit=" + strconv.Itoa(limit)
	}
	if err := a.do(ctx, http.MethodGet, endpoint, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// ResolveConversation finds or creates the thread with another user.
func (a *API) ResolveConversation(ctx context.Context, otherID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := a.do(ctx, http.MethodPost, "/conversations/resolve", map[string]string{
		"otherId": otherID.String(),
	}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// MarkSeen records that the caller has read everything the sender sent them.
func (a *API) MarkSeen(ctx context.Context, senderID uuid.UUID) ([]*models.Message, error) {
	updated := []*models.Message{}
	err := a.do(ctx, http.MethodPost, "/messages/mark-seen", map[string]string{
		"senderId": senderID.String(),
	}, &updated)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkDelivered is the idempotent catch-up issued on connect.
func (a *API) MarkDelivered(ctx context.Context) ([]*models.Message, error) {
	updated := []*models.Message{}
	if err := a.do(ctx, http.MethodPost, "/messages/mark-delivered", nil, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DialFeed opens the realtime change-feed websocket.
func (a *API) DialFeed(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/feed"
	q := u.Query()
	q.Set("token", a.Token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial feed: %v", err)
	}
	return conn, nil
}
