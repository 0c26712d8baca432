// Package scanclient is the scanner-side client of the check-in endpoint.
package scanclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cimillas/boxoffice/internal/domain"
)

// ErrScanInFlight is returned when the same payload is scanned again before
// the first scan's result is known.
var ErrScanInFlight = errors.New("scan already in flight")

type Ticket struct {
	ID           string     `json:"id"`
	Zone         string     `json:"zone"`
	Seat         string     `json:"seat,omitempty"`
	AttendeeName string     `json:"attendee_name"`
	State        string     `json:"state"`
	RedeemedAt   *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy   string     `json:"redeemed_by,omitempty"`
}

type Result struct {
	Outcome domain.ScanOutcome `json:"outcome"`
	Admit   bool               `json:"admit"`
	Message string             `json:"message"`
	Ticket  *Ticket            `json:"ticket,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("check-in failed (%d %s): %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a client for baseURL authenticating with a scanner bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     &http.Client{Timeout: 10 * time.Second},
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Scan submits one payload for eventID. A second Scan of the same payload
// fails with ErrScanInFlight until the first returns.
func (c *Client) Scan(ctx context.Context, eventID, payload string) (Result, error) {
	key := strings.TrimSpace(payload)
	if !c.acquire(key) {
		return Result{}, ErrScanInFlight
	}
	defer c.release(key)

	body, err := json.Marshal(map[string]string{"payload": payload})
	if err != nil {
		return Result{}, err
	}
	endpoint := c.baseURL + "/events/" + url.PathEscape(eventID) + "/checkins"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("post check-in: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return Result{}, apiErr
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode check-in result: %w", err)
	}
	return res, nil
}

func (c *Client) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

func (c *Client) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}
