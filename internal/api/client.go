// ABOUTME: HTTP client for the platform REST API (history, send persistence, profiles)
// ABOUTME: All endpoints share the {success, data|message} envelope contract

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/peerly/mentorsync/internal/config"
	"github.com/peerly/mentorsync/internal/timeline"
)

// Error is a failed API call: a non-2xx status or a success:false envelope.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error (status %d)", e.StatusCode)
}

// Client talks to the platform REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient builds a client for the given API config and access token.
// Pass nil logger for default.
func NewClient(cfg config.APIConfig, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger.With("component", "api"),
	}
}

// historyResponse is the history-fetch envelope.
type historyResponse struct {
	Success  bool               `json:"success"`
	Message  string             `json:"message"`
	Messages []timeline.Message `json:"messages"`
}

// History fetches the stored conversation with a counterparty, oldest first.
func (c *Client) History(ctx context.Context, counterpartyID string) ([]timeline.Message, error) {
	var resp historyResponse
	err := c.do(ctx, http.MethodGet, "/messages/"+counterpartyID, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", counterpartyID, err)
	}
	return resp.Messages, nil
}

// sendRequest is the send-persistence request body.
type sendRequest struct {
	Body          string `json:"body"`
	CorrelationID string `json:"correlationId"`
}

// sendResponse is the send-persistence envelope.
type sendResponse struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message"`
	NewMessage *timeline.Message `json:"newMessage"`
}

// PersistMessage stores an outgoing message and returns the durable version
// the server assigned, used to reconcile the optimistic timeline entry. The
// correlation id is echoed back in the durable message.
func (c *Client) PersistMessage(ctx context.Context, counterpartyID, body, correlationID string) (*timeline.Message, error) {
	req := sendRequest{Body: body, CorrelationID: correlationID}

	var resp sendResponse
	err := c.do(ctx, http.MethodPost, "/messages/send/"+counterpartyID, req, &resp)
	if err != nil {
		return nil, fmt.Errorf("persisting message to %s: %w", counterpartyID, err)
	}
	if resp.NewMessage == nil {
		return nil, &Error{StatusCode: http.StatusOK, Message: "response missing newMessage"}
	}
	return resp.NewMessage, nil
}

// User is a counterparty profile used to enrich roster ids with display data.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	Role      string `json:"role"`
}

// userResponse is the profile-lookup envelope.
type userResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	User    *User  `json:"user"`
}

// GetUser looks up a user profile by id.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var resp userResponse
	err := c.do(ctx, http.MethodGet, "/users/"+id, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetching user %s: %w", id, err)
	}
	if resp.User == nil {
		return nil, &Error{StatusCode: http.StatusOK, Message: "response missing user"}
	}
	return resp.User, nil
}

// envelope is the minimal shape shared by every API response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// do performs one request and decodes the response into out. A non-2xx
// status or a success:false envelope both become an *Error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Non-JSON error bodies still map onto the status code.
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &Error{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("decoding response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		c.logger.Debug("api call failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"message", env.Message)
		return &Error{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
