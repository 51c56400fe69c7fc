// Package purge invalidates cached emoji so the next request re-fetches.
package purge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/52poke/hibana/internal/cache"
	"github.com/52poke/hibana/internal/emoji"
)

// Handler serves PURGE /e/<name>: the key is dropped from every cache tier
// and, when configured, the purge is propagated to the nginx layer in front.
type Handler struct {
	Cache      *cache.Cache
	NginxPurge string
	HTTPClient *http.Client
	Log        *zap.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/e/")
	key, err := emoji.ParseName(name)
	if err != nil {
		http.Error(w, "malformed emoji name", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := h.Cache.Invalidate(ctx, key.String()); err != nil {
		h.logger().Warn("purge failed", zap.String("emoji", key.ID), zap.Error(err))
		http.Error(w, "purge failed", http.StatusBadGateway)
		return
	}

	if err := h.purgeNginx(ctx, name); err != nil {
		h.logger().Warn("nginx purge failed", zap.String("emoji", key.ID), zap.Error(err))
		http.Error(w, "nginx purge failed", http.StatusBadGateway)
		return
	}

	h.logger().Info("purged emoji", zap.String("emoji", key.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) purgeNginx(ctx context.Context, name string) error {
	if strings.TrimSpace(h.NginxPurge) == "" {
		return nil
	}
	base, err := url.Parse(h.NginxPurge)
	if err != nil {
		return err
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/e/" + name
	req, err := http.NewRequestWithContext(ctx, "PURGE", base.String(), nil)
	if err != nil {
		return err
	}
	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("nginx purge returned status %d", resp.StatusCode)
	}
	return nil
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}
