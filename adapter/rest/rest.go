package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/yitech/perpchart/model/candle"
)

// Client fetches one-minute history from the venue's candles endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a Client for the API rooted at baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchMinutes returns up to limit of the most recent one-minute candles for
// symbol in ascending order.
func (c *Client) FetchMinutes(ctx context.Context, symbol string, limit int) ([]candle.Candle, error) {
	return fetchMinutes(ctx, c.httpClient, c.baseURL, symbol, limit)
}
