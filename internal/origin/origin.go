// Package origin fetches encoded source images from the upstream CDN.
package origin

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the origin has no image for the identifier.
	ErrNotFound = errors.New("origin: emoji not found")
	// ErrUpstream covers transport failures and origin 5xx responses.
	ErrUpstream = errors.New("origin: upstream unavailable")
	// ErrTimeout means the bounded wait on the origin expired.
	ErrTimeout = errors.New("origin: upstream timeout")
	// ErrTooLarge means the response body exceeded the configured ceiling.
	ErrTooLarge = errors.New("origin: source payload too large")
)

// Fetcher retrieves the raw encoded bytes for an emoji id. Implementations
// perform a single outbound call and no retries.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}
