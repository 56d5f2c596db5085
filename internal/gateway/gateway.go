// Package gateway sends outbound replies, typing indicators, and
// read-receipts back to the WhatsApp gateway (Evolution API-compatible).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxConnsPerHost:     16,
				MaxIdleConnsPerHost: 8,
			},
		},
	}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway call %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

// SendMessage sends a text reply to phone on the given instance.
func (c *Client) SendMessage(ctx context.Context, instanceID, phone, text string) error {
	return c.post(ctx, "/message/sendText/"+instanceID, map[string]any{
		"number": phone,
		"text":   text,
	})
}

// SendTyping toggles the typing indicator for phone.
func (c *Client) SendTyping(ctx context.Context, instanceID, phone string, typing bool) error {
	return c.post(ctx, "/chat/sendPresence/"+instanceID, map[string]any{
		"number":   phone,
		"presence": presenceFor(typing),
	})
}

func presenceFor(typing bool) string {
	if typing {
		return "composing"
	}
	return "paused"
}

// MarkAsRead marks messageID as read on the given instance.
func (c *Client) MarkAsRead(ctx context.Context, instanceID, messageID string) error {
	return c.post(ctx, "/chat/markMessageAsRead/"+instanceID, map[string]any{
		"readMessages": []map[string]string{{"id": messageID}},
	})
}
