// Package api is the REST client for the chat backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zhouzirui/z-tavern/client/internal/config"
	"github.com/zhouzirui/z-tavern/client/internal/model/chat"
)

// maxErrorBody bounds how much of a failed response is read for the message.
const maxErrorBody = 4 << 10

// Client talks to the sessions/messages/chat endpoints.
type Client struct {
	baseURL    string
	pushURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient builds a client from the client configuration.
func NewClient(cfg config.ClientConfig, opts ...Option) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		pushURL:    strings.TrimRight(cfg.WSURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PushURL returns the push channel endpoint for a session.
func (c *Client) PushURL(sessionID string) string {
	return c.pushURL + "/" + url.PathEscape(sessionID)
}

// ListSessions fetches every session, newest first as ordered by the server.
func (c *Client) ListSessions(ctx context.Context) ([]chat.Session, error) {
	var sessions []chat.Session
	if err := c.do(ctx, "list sessions", http.MethodGet, "/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	return sessions, nil
}

// CreateSession asks the server to create a session with the given title.
func (c *Client) CreateSession(ctx context.Context, title string) (chat.Session, error) {
	body := struct {
		Title string `json:"title"`
	}{Title: title}

	var session chat.Session
	if err := c.do(ctx, "create session", http.MethodPost, "/sessions", body, &session); err != nil {
		return chat.Session{}, err
	}
	if session.ID == "" {
		return chat.Session{}, &ServerError{Op: "create session", Message: "response missing id"}
	}
	return session, nil
}

// DeleteSession removes a session and its history on the server.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, "delete session", http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// ListMessages fetches the stored transcript of a session.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var wire []chat.WireMessage
	if err := c.do(ctx, "list messages", http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/messages", nil, &wire); err != nil {
		return nil, err
	}
	return chat.MessagesFromWire(wire), nil
}

// SendChat posts a user message and returns the tagged reply.
func (c *Client) SendChat(ctx context.Context, sessionID, text string) (chat.Reply, error) {
	const op = "send chat"
	req := chat.ChatRequest{UserMessage: text, SessionID: sessionID}

	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodPost, "/chat", req, &raw); err != nil {
		return chat.Reply{}, err
	}
	reply, err := chat.ParseReply(raw)
	if err != nil {
		return chat.Reply{}, &ServerError{Op: op, Message: err.Error()}
	}
	return reply, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "%s: encode request", op)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrapf(err, "%s: build request", op)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ServerError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServerError{Op: op, Message: err.Error()}
	}
	return nil
}

// errorMessage pulls a human readable message out of an error body. FastAPI
// uses "detail", the mock backend uses "error".
func errorMessage(data []byte, fallback string) string {
	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if s, ok := payload.Detail.(string); ok && s != "" {
			return s
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return fallback
}
