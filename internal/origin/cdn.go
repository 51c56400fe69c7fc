package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const userAgent = "hibana/1.0 (+https://wiki.52poke.com)"

// Client fetches emoji from a CDN. The request shape matches what the
// Discord emoji CDN expects, but any origin serving <base>/<id> works.
type Client struct {
	baseURL  string
	maxBytes int64
	http     *http.Client
}

var _ Fetcher = (*Client)(nil)

func NewClient(baseURL string, maxBytes int64, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch performs one GET against the origin and reads at most maxBytes+1
// bytes of the body. It never retries; retry policy, if any, belongs to the
// caller.
func (c *Client) Fetch(ctx context.Context, id string) ([]byte, error) {
	url := c.SourceURL(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "image/webp,image/*")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	// Read one byte past the ceiling so an oversized body is detected
	// without buffering the rest of it.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, c.maxBytes)
	}
	return body, nil
}

// SourceURL is the exact URL Fetch requests for an id.
func (c *Client) SourceURL(id string) string {
	return fmt.Sprintf("%s/%s?size=160&animated=true", c.baseURL, id)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
