// Package notify delivers alert push notifications and records every
// trigger to history, delivered or not.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"adsb_tracker/internal/storage"
)

const pushoverURL = "https://api.pushover.net/1/messages.json"

// Message is one push notification. Alert triggers go out at priority 1;
// test notifications at 0.
type Message struct {
	Title    string
	Body     string
	Priority int
}

// Pusher sends a push notification using the given credentials.
type Pusher interface {
	Push(ctx context.Context, creds storage.NotifySettings, msg Message) error
}

// PushoverClient sends high-priority notifications through Pushover.
type PushoverClient struct {
	url  string
	http *http.Client
}

// NewPushoverClient creates a Pushover client.
func NewPushoverClient() *PushoverClient {
	return &PushoverClient{
		url:  pushoverURL,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewPushoverClientWithURL creates a client against an alternate endpoint,
// for tests.
func NewPushoverClientWithURL(endpoint string) *PushoverClient {
	c := NewPushoverClient()
	c.url = endpoint
	return c
}

// Push sends one notification with the siren sound.
func (c *PushoverClient) Push(ctx context.Context, creds storage.NotifySettings, msg Message) error {
	form := url.Values{
		"token":    {creds.APIToken},
		"user":     {creds.UserKey},
		"title":    {msg.Title},
		"message":  {msg.Body},
		"priority": {strconv.Itoa(msg.Priority)},
		"sound":    {"siren"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pushover request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushover status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
