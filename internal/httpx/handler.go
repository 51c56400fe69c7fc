// Package httpx serves the emoji transform endpoint.
package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/52poke/hibana/internal/cache"
	"github.com/52poke/hibana/internal/emoji"
	"github.com/52poke/hibana/internal/etag"
	"github.com/52poke/hibana/internal/origin"
	"github.com/52poke/hibana/internal/resize"
	"github.com/52poke/hibana/internal/store"
)

const (
	// Matches the cache TTL: clients may hold an emoji for a day and
	// revalidate with If-None-Match afterwards.
	cacheControl = "public, max-age=86400, stale-while-revalidate=600"
	contentType  = "image/webp"

	cacheStatusHeader = "X-Hibana-Cache"
)

// Handler orchestrates one request: validate the name, get-or-compute the
// artifact, then decide between 200, 304 and the error mappings.
type Handler struct {
	cache     *cache.Cache
	fetcher   origin.Fetcher
	transform *resize.Transformer
	sem       *semaphore.Weighted
	log       *zap.Logger
}

func NewHandler(c *cache.Cache, f origin.Fetcher, t *resize.Transformer, maxConcurrentTransforms int, log *zap.Logger) *Handler {
	if maxConcurrentTransforms <= 0 {
		maxConcurrentTransforms = 16
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		cache:     c,
		fetcher:   f,
		transform: t,
		sem:       semaphore.NewWeighted(int64(maxConcurrentTransforms)),
		log:       log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/e/")
	key, err := emoji.ParseName(name)
	if err != nil {
		http.Error(w, "malformed emoji name", http.StatusBadRequest)
		return
	}

	art, status, err := h.cache.GetOrCompute(r.Context(), key.String(), func(ctx context.Context) (*store.Artifact, error) {
		return h.build(ctx, key)
	})
	if err != nil {
		h.writeError(w, key, err)
		return
	}

	w.Header().Set("ETag", art.ETag)
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set(cacheStatusHeader, string(status))

	if etag.Match(r.Header.Get("If-None-Match"), art.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Body)

	h.log.Info("served emoji",
		zap.String("emoji", key.ID),
		zap.String("cache", string(status)),
		zap.Int("bytes", len(art.Body)))
}

// build is the compute half of a cache round: fetch, transform under the
// concurrency bound, fingerprint.
func (h *Handler) build(ctx context.Context, key emoji.Key) (*store.Artifact, error) {
	raw, err := h.fetcher.Fetch(ctx, key.ID)
	if err != nil {
		return nil, err
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)

	out, err := h.transform.Transform(raw)
	if err != nil {
		// enough context to diagnose without logging payloads
		h.log.Warn("transform failed",
			zap.String("emoji", key.ID),
			zap.Int("sourceBytes", len(raw)),
			zap.Error(err))
		return nil, err
	}

	return &store.Artifact{
		Body:        out,
		ContentType: contentType,
		ETag:        etag.Make(out),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (h *Handler) writeError(w http.ResponseWriter, key emoji.Key, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
		return
	case errors.Is(err, origin.ErrNotFound):
		http.Error(w, "emoji not found", http.StatusNotFound)
	case errors.Is(err, origin.ErrTooLarge):
		http.Error(w, "source image too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, origin.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	case errors.Is(err, origin.ErrUpstream):
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
	case errors.Is(err, resize.ErrDecode):
		http.Error(w, "source image not decodable", http.StatusUnsupportedMediaType)
	default:
		http.Error(w, "transform failed", http.StatusInternalServerError)
	}
	h.log.Warn("request failed", zap.String("emoji", key.ID), zap.Error(err))
}
