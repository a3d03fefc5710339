package vk_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jdelaire/vkbot/core"
)

const (
	DefaultBaseURL = "https://api.vk.com/method"
	DefaultVersion = "5.199"
	callTimeout    = 10 * time.Second
	// Added on top of the long-poll wait so the server can answer first.
	pollGrace = 10 * time.Second
)

// Client calls VK API methods with a community access token and performs
// long-poll requests. It holds no mutable state and is safe to share.
type Client struct {
	token   string
	baseURL string
	version string
	client  *http.Client
}

var _ core.Client = (*Client)(nil)

// New creates a client for the given access token.
func New(token string) *Client {
	return &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		version: DefaultVersion,
		client:  &http.Client{},
	}
}

// WithBaseURL overrides the API method base URL (for testing).
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// WithVersion overrides the API version sent as the v parameter.
func (c *Client) WithVersion(v string) *Client {
	c.version = v
	return c
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *APIError       `json:"error"`
}

// Call invokes an API method. When out is non-nil the "response" member is
// decoded into it. A VK error object is returned as *APIError.
func (c *Client) Call(ctx context.Context, method string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	form := url.Values{}
	for k, vs := range params {
		form[k] = append([]string(nil), vs...)
	}
	form.Set("v", c.version)

	endpoint := c.baseURL + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http post: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: api status: %d", method, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if env.Error != nil {
		env.Error.Method = method
		return env.Error
	}
	if out == nil {
		return nil
	}
	if len(env.Response) == 0 {
		return fmt.Errorf("%s: empty response", method)
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Cursor is a long-poll position. VK sends it as a string, but some servers
// send a bare number, so both are accepted.
type Cursor string

func (c *Cursor) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Cursor(s)
		return nil
	}
	if string(data) == "null" {
		*c = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cursor: %w", err)
	}
	*c = Cursor(n.String())
	return nil
}

// LongPollServer is the session triple returned by groups.getLongPollServer.
type LongPollServer struct {
	Key    string `json:"key"`
	Server string `json:"server"`
	TS     Cursor `json:"ts"`
}

// LongPollResponse is the body of a long-poll check. Failed is zero on
// success, otherwise 1, 2 or 3.
type LongPollResponse struct {
	TS      Cursor       `json:"ts"`
	Updates []core.Event `json:"updates"`
	Failed  int          `json:"failed"`
}

// LongPoll performs one a_check request against server and waits up to
// wait seconds for events.
func (c *Client) LongPoll(ctx context.Context, server, key, ts string, wait int) (*LongPollResponse, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parse long-poll server %q: %w", server, err)
	}
	if u.Scheme == "" {
		// Older API versions return the server without a scheme.
		u, err = url.Parse("https://" + server)
		if err != nil {
			return nil, fmt.Errorf("parse long-poll server %q: %w", server, err)
		}
	}
	q := u.Query()
	q.Set("act", "a_check")
	q.Set("key", key)
	q.Set("ts", ts)
	q.Set("wait", strconv.Itoa(wait))
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(wait)*time.Second+pollGrace)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("long-poll status: %d", resp.StatusCode)
	}

	var lp LongPollResponse
	if err := json.NewDecoder(resp.Body).Decode(&lp); err != nil {
		return nil, fmt.Errorf("decode long-poll response: %w", err)
	}
	return &lp, nil
}
