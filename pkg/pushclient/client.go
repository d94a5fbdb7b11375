/**
 * @description
 * This package provides a client for the push-notification gateway. Device
 * registrations live on the gateway side, keyed by our user ID, so the
 * client only addresses recipients by ID.
 *
 * Key features:
 * - Manages the gateway base URL and API key.
 * - Runs in log-only mode when no gateway URL is configured.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package pushclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Message is one push notification addressed to a registered user.
type Message struct {
	RecipientID string `json:"recipient_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

// Client is a client for the push gateway API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new push gateway client. An empty baseURL puts the
// client in log-only mode.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Send delivers one push notification through the gateway.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if msg.RecipientID == "" {
		return fmt.Errorf("missing recipient id")
	}
	if c.baseURL == "" {
		slog.Info("push gateway not configured; logging delivery only", "recipient_id", msg.RecipientID, "title", msg.Title)
		return nil
	}

	jsonBody, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/push", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("push gateway error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
