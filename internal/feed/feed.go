// Package feed fetches presence data from the game server's public
// HTTP endpoints: the online-player snapshot and per-character bios.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Entry is one connected client slot as reported by the feed. A slot
// may carry an active character.
type Entry struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	ChatClient string `json:"chatClient"`
	PCID       string `json:"pcId"`
	PCName     string `json:"pcName"`
	Portrait   string `json:"portrait"`
}

// FetchError reports a transport failure or non-success status from
// the feed.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Unwrap returns the underlying transport error, if any.
func (e *FetchError) Unwrap() error { return e.Err }

// noBioPattern matches the server's "no bio" sentinel (ERROR followed
// by digits), which is a valid empty answer rather than a failure.
var noBioPattern = regexp.MustCompile(`^ERROR[0-9]*$`)

// Client talks to the game server's presence endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	bioRetries uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBioRetries sets how many times a failed bio fetch is retried.
func WithBioRetries(n uint64) Option {
	return func(c *Client) { c.bioRetries = n }
}

// New creates a feed client for the given base URL
// (e.g. "http://nwn.sinfar.net").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		bioRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnlineSnapshot fetches the full list of currently connected client
// slots. Transport failures, non-success statuses, and malformed
// bodies all surface as errors; the caller aborts the cycle and waits
// for the next poll.
func (c *Client) OnlineSnapshot(ctx context.Context) ([]Entry, error) {
	u := c.baseURL + "/getonlineplayers.php"
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parse online snapshot: %w", err)
	}
	return entries, nil
}

// CharacterBio fetches a character's description text. The server's
// ERROR<digits> sentinel means "no bio" and maps to an empty string.
// Bio fetches are off the critical path, so transient failures are
// retried with exponential backoff.
func (c *Client) CharacterBio(ctx context.Context, characterID string) (string, error) {
	u := c.baseURL + "/getcharbio.php?pc_id=" + url.QueryEscape(characterID)

	var bio string
	op := func() error {
		body, err := c.get(ctx, u)
		if err != nil {
			return err
		}
		if noBioPattern.Match(body) {
			bio = ""
		} else {
			bio = string(body)
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.bioRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", err
	}
	return bio, nil
}

// Ping issues a keep-alive request against the given URL, discarding
// the response.
func (c *Client) Ping(ctx context.Context, pingURL string) error {
	_, err := c.get(ctx, pingURL)
	return err
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{URL: u, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	return body, nil
}
