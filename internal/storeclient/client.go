// Package storeclient talks to the remote persistence API using its action
// protocol: every call is a POST to {base}/api.php?action=<name> with a JSON
// body.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ampnm/core-go/internal/model"
)

// Client is a thin HTTP client for the store API.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
	// header is copied onto every request (session cookies, API keys).
	header http.Header
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithHeader(key, value string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.header.Set(key, value)
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for the given base URL (e.g. http://host/ampnm).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     zerolog.Nop(),
		header:  make(http.Header),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) endpoint(action string) string {
	return c.baseURL + "/api.php?action=" + url.QueryEscape(action)
}

type statusBody struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (b statusBody) text() string {
	if b.Error != "" {
		return b.Error
	}
	return b.Message
}

// call posts body to action and decodes the reply into out (if non-nil).
func (c *Client) call(ctx context.Context, action string, body any, out any) error {
	if body == nil {
		body = struct{}{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(action), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("store %s: %w", action, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("store %s: read response: %w", action, err)
	}
	c.log.Debug().Str("action", action).Int("status", res.StatusCode).Dur("duration", time.Since(start)).Msg("store call")

	var sb statusBody
	_ = json.Unmarshal(raw, &sb)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := sb.text()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if msg == "" {
			msg = res.Status
		}
		return &model.RemoteError{Action: action, Status: res.StatusCode, Message: msg}
	}
	if sb.Success != nil && !*sb.Success {
		msg := sb.text()
		if msg == "" {
			msg = "request rejected"
		}
		return &model.RemoteError{Action: action, Status: res.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("store %s: decode response: %w", action, err)
	}
	return nil
}

// IsRemote reports whether err is a store rejection.
func IsRemote(err error) bool {
	var re *model.RemoteError
	return errors.As(err, &re)
}
