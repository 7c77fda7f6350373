// Package rasa is a small REST client for the Rasa dialogue server: the REST
// webhook channel, the conversation tracker and the version endpoint.
package rasa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"stayassist/internal/types"
)

const DefaultWebhookPath = "/webhooks/rest/webhook"

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rasa %s failed: %d %s", e.Path, e.Status, e.Body)
}

// Message is one item of a webhook reply.
type Message struct {
	RecipientID string          `json:"recipient_id,omitempty"`
	Text        string          `json:"text,omitempty"`
	Custom      json.RawMessage `json:"custom,omitempty"`
	JSONMessage json.RawMessage `json:"json_message,omitempty"`
	Image       string          `json:"image,omitempty"`
	Buttons     []types.Button  `json:"buttons,omitempty"`
}

// Tracker holds the parts of the conversation tracker the gateway reads.
type Tracker struct {
	SenderID string         `json:"sender_id"`
	Slots    map[string]any `json:"slots"`
}

// Slot returns the named slot as a string, or "" when unset or not a string.
func (t *Tracker) Slot(name string) string {
	if t == nil {
		return ""
	}
	s, _ := t.Slots[name].(string)
	return s
}

type Client struct {
	httpClient  *http.Client
	baseURL     string
	webhookPath string
}

func New(baseURL, webhookPath string, timeout time.Duration) *Client {
	if webhookPath == "" {
		webhookPath = DefaultWebhookPath
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		webhookPath: webhookPath,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

// call performs a request and decodes a 2xx JSON body into out, if non-nil.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return errors.Wrapf(err, "rasa %s", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decode rasa %s", path)
}

func trackerPath(sender string) string {
	return "/conversations/" + url.PathEscape(sender) + "/tracker"
}

// SendMessage posts one user message to the REST webhook channel.
func (c *Client) SendMessage(ctx context.Context, sender, message string, metadata types.Context) ([]Message, error) {
	payload := map[string]any{
		"sender":   sender,
		"message":  message,
		"metadata": metadata,
	}
	var out []Message
	if err := c.call(ctx, http.MethodPost, c.webhookPath, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Tracker(ctx context.Context, sender string) (*Tracker, error) {
	var t Tracker
	if err := c.call(ctx, http.MethodGet, trackerPath(sender), nil, &t); err != nil {
		return nil, err
	}
	if t.Slots == nil {
		t.Slots = map[string]any{}
	}
	return &t, nil
}

// SetSlot appends a slot event to the sender's tracker. A nil value unsets it.
func (c *Client) SetSlot(ctx context.Context, sender, name string, value any) error {
	event := map[string]any{"event": "slot", "name": name, "value": value}
	return c.call(ctx, http.MethodPost, trackerPath(sender)+"/events", event, nil)
}

// Version returns the server's version document.
func (c *Client) Version(ctx context.Context) (map[string]any, error) {
	var v map[string]any
	if err := c.call(ctx, http.MethodGet, "/version", nil, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// BackendMessage converts a webhook item into the client wire shape. Custom
// payloads that arrive as JSON strings are unwrapped into json_message.
func (m Message) BackendMessage() types.BackendMessage {
	out := types.BackendMessage{
		Text:        m.Text,
		JSONMessage: m.JSONMessage,
		Image:       m.Image,
		Buttons:     m.Buttons,
	}
	if len(out.JSONMessage) == 0 && len(m.Custom) > 0 {
		raw := bytes.TrimSpace(m.Custom)
		if len(raw) > 0 && raw[0] == '"' {
			var inner string
			if err := json.Unmarshal(raw, &inner); err == nil && json.Valid([]byte(inner)) {
				raw = []byte(inner)
			}
		}
		if len(raw) > 0 && raw[0] == '{' {
			out.JSONMessage = json.RawMessage(raw)
		} else {
			out.Custom = m.Custom
		}
	}
	return out
}
