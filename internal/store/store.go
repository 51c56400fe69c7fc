// Package store holds transformed artifacts and the optional shared tier
// replicas publish them to.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

// Artifact is one transformed emoji: the encoded output plus the metadata
// needed to serve it. Immutable once created; concurrent readers share it by
// reference.
type Artifact struct {
	Body        []byte
	ContentType string
	ETag        string
	CreatedAt   time.Time
}

// Size is the byte cost an artifact occupies in a capacity-bounded cache.
func (a *Artifact) Size() int64 {
	return int64(len(a.Body))
}

// Expired reports whether the artifact's age exceeds ttl. A non-positive ttl
// means artifacts never expire.
func (a *Artifact) Expired(ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	if a.CreatedAt.IsZero() {
		return true
	}
	return a.CreatedAt.Add(ttl).Before(time.Now())
}

// Shared is an artifact store visible to every replica.
type Shared interface {
	Get(ctx context.Context, key string) (*Artifact, error)
	Put(ctx context.Context, key string, art *Artifact) error
	Delete(ctx context.Context, key string) error
}
