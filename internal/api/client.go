// Package api implements the request/response side of the backend contract:
// the calls the engine uses on session open and whenever the persistent
// connection is down. Payload shapes from this path and from push events are
// both normalized into the canonical models before reconciliation sees them.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/real-rm/golog"

	"github.com/real-rm/livechat/internal/availability"
	"github.com/real-rm/livechat/internal/constants"
	chaterrors "github.com/real-rm/livechat/internal/errors"
	"github.com/real-rm/livechat/internal/message"
	"github.com/real-rm/livechat/internal/session"
	"github.com/real-rm/livechat/internal/util"
)

// Client is the REST client for the chat backend. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *golog.Logger
}

// NewClient creates a REST client rooted at baseURL (including the API prefix)
// authenticating with the given bearer token.
func NewClient(baseURL, token string, logger *golog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: constants.DefaultContextTimeout},
		logger:  logger.WithGroup("api"),
	}
}

// CreateSession asks the backend for a new session. When the customer already
// has a non-terminal session the server answers with the existing one and
// this returns adopted=true; the caller adopts it rather than treating the
// conflict as an error.
func (c *Client) CreateSession(ctx context.Context, req session.CreateRequest) (*session.ChatSession, bool, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/sessions", req)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, false, err
	}

	switch status {
	case http.StatusCreated:
		sess, err := decodeSession(body)
		return sess, false, err
	case http.StatusOK, http.StatusConflict:
		// The server enforces the one-open-session guard and returned the
		// existing session
		sess, err := decodeSession(body)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return nil, false, err
		}
		return sess, true, nil
	default:
		return nil, false, c.unexpected("create session", status, body)
	}
}

// ListSessions fetches the sessions the authenticated participant is a party to.
func (c *Client) ListSessions(ctx context.Context) ([]*session.ChatSession, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/sessions", nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	// No else needed: early return pattern (guard clause)
	if status != http.StatusOK {
		return nil, c.unexpected("list sessions", status, body)
	}

	var sessions []*session.ChatSession
	// No else needed: early return pattern (guard clause)
	if err := util.UnmarshalJSON(body, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// FetchSession fetches one session by id.
func (c *Client) FetchSession(ctx context.Context, sessionID string) (*session.ChatSession, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID, nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	// No else needed: early return pattern (guard clause)
	if status != http.StatusOK {
		return nil, c.unexpected("fetch session", status, body)
	}
	return decodeSession(body)
}

// FetchHistory fetches the ordered authoritative message history for a
// session. Each entry is normalized at this boundary; the reconciliation
// engine never sees the raw shape.
func (c *Client) FetchHistory(ctx context.Context, sessionID string) ([]*message.Message, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID+"/messages", nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	// No else needed: early return pattern (guard clause)
	if status != http.StatusOK {
		return nil, c.unexpected("fetch history", status, body)
	}

	var raw []map[string]interface{}
	// No else needed: early return pattern (guard clause)
	if err := util.UnmarshalJSON(body, &raw); err != nil {
		return nil, err
	}

	history := make([]*message.Message, 0, len(raw))
	for _, payload := range raw {
		msg, err := message.Normalize(payload)
		// No else needed: error handling with continue (skips to next iteration)
		if err != nil {
			c.logger.Warn("Dropping malformed history entry",
				"session_id", sessionID,
				"error", err)
			continue
		}
		history = append(history, msg)
	}
	return history, nil
}

// SendMessage is the request/response fallback for sending a message when the
// socket is down. Returns the authoritative message the backend stored.
func (c *Client) SendMessage(ctx context.Context, sessionID, content string, attachments []string) (*message.Message, error) {
	req := map[string]interface{}{
		"content":     content,
		"attachments": attachments,
	}
	status, body, err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/messages", req)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	// No else needed: early return pattern (guard clause)
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, c.unexpected("send message", status, body)
	}

	var payload map[string]interface{}
	// No else needed: early return pattern (guard clause)
	if err := util.UnmarshalJSON(body, &payload); err != nil {
		return nil, err
	}
	return message.Normalize(payload)
}

// ClaimSession requests assignment of the session to the authenticated admin.
// claimed=false with the authoritative session means another admin holds it.
func (c *Client) ClaimSession(ctx context.Context, sessionID string) (*session.ChatSession, bool, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/claim", nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, false, err
	}

	switch status {
	case http.StatusOK:
		sess, err := decodeSession(body)
		return sess, true, err
	case http.StatusConflict:
		sess, err := decodeSession(body)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return nil, false, err
		}
		return sess, false, nil
	default:
		return nil, false, c.unexpected("claim session", status, body)
	}
}

// UpdateStatus requests a lifecycle transition, optionally with resolution notes.
func (c *Client) UpdateStatus(ctx context.Context, sessionID string, to session.Status, notes string) (*session.ChatSession, error) {
	req := map[string]interface{}{
		"status": to,
	}
	if notes != "" {
		req["resolution_notes"] = notes
	}
	status, body, err := c.do(ctx, http.MethodPatch, "/sessions/"+sessionID+"/status", req)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	// No else needed: early return pattern (guard clause)
	if status != http.StatusOK {
		return nil, c.unexpected("update status", status, body)
	}
	return decodeSession(body)
}

// SubmitRating attaches post-resolution feedback to a session.
func (c *Client) SubmitRating(ctx context.Context, sessionID string, rating *session.Rating) error {
	status, body, err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/rating", rating)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}
	// No else needed: early return pattern (guard clause)
	if status != http.StatusOK && status != http.StatusCreated {
		return c.unexpected("submit rating", status, body)
	}
	return nil
}

// CheckAvailability asks the backend whether live support is currently
// staffed. The backend is authoritative; local schedule math is the fallback.
func (c *Client) CheckAvailability(ctx context.Context) (availability.Result, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/availability", nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return availability.Result{}, err
	}
	// No else needed: early return pattern (guard clause)
	if status != http.StatusOK {
		return availability.Result{}, c.unexpected("check availability", status, body)
	}

	var result availability.Result
	// No else needed: early return pattern (guard clause)
	if err := util.UnmarshalJSON(body, &result); err != nil {
		return availability.Result{}, err
	}
	return result, nil
}

// do executes one request and returns the status code and body. Authorization
// failures are mapped to the fatal auth taxonomy here so every caller
// surfaces the re-authentication prompt consistently.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := util.MarshalJSON(body)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(constants.HeaderAuthorization, constants.BearerPrefix+c.token)
	}
	if traceID := util.TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set(constants.HeaderTraceID, traceID)
	}

	resp, err := c.http.Do(req)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	// No else needed: early return pattern (guard clause)
	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, data, chaterrors.ErrExpiredToken(nil)
	}
	// No else needed: early return pattern (guard clause)
	if resp.StatusCode == http.StatusForbidden {
		return resp.StatusCode, data, chaterrors.NewAuthError(chaterrors.ErrCodeForbidden, "Operation not permitted", nil)
	}

	return resp.StatusCode, data, nil
}

// unexpected builds the error for a status code no endpoint handler expected.
func (c *Client) unexpected(operation string, status int, body []byte) error {
	snippet := body
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	return fmt.Errorf("%s: unexpected status %d: %s", operation, status, snippet)
}

func decodeSession(body []byte) (*session.ChatSession, error) {
	var sess session.ChatSession
	if err := json.Unmarshal(body, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	// No else needed: early return pattern (guard clause)
	if sess.ID == "" {
		return nil, fmt.Errorf("decode session: missing id")
	}
	return &sess, nil
}
