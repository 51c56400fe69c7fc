// Package etag derives HTTP validation tokens from transformed bytes.
package etag

import (
	"crypto/sha1"
	"fmt"
	"strings"
)

// Make returns a weak validator for the exact byte sequence. Identical bytes
// always yield the identical token, across processes and restarts.
func Make(b []byte) string {
	return fmt.Sprintf("W/%q", fmt.Sprintf("%x", sha1.Sum(b)))
}

// Match reports whether an If-None-Match header value matches the given
// validator. Comparison is weak: a W/ prefix on either side is ignored.
func Match(headerValue, tag string) bool {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" {
		return false
	}
	if headerValue == "*" {
		return true
	}
	want := opaqueTag(tag)
	for _, candidate := range strings.Split(headerValue, ",") {
		if opaqueTag(strings.TrimSpace(candidate)) == want {
			return true
		}
	}
	return false
}

func opaqueTag(tag string) string {
	return strings.TrimPrefix(tag, "W/")
}
