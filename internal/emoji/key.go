// Package emoji validates request names and turns them into cache keys.
package emoji

import (
	"errors"
	"strings"
)

var ErrBadName = errors.New("malformed emoji name")

const (
	minIDLen = 15
	maxIDLen = 20
)

// Key identifies one transform request. Output parameters (box size, target
// format) are fixed service-wide, so the source id alone is the key.
type Key struct {
	ID string
}

func (k Key) String() string { return k.ID }

// ParseName validates "<id>.<ext>" as served under /e/. The id is a snowflake
// (all digits, fixed length range); the extension must be one we recognize.
// Everything else is rejected before the cache or the origin sees it.
func ParseName(name string) (Key, error) {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		return Key{}, ErrBadName
	}
	id, ext := name[:dot], name[dot+1:]
	if !validExt(ext) {
		return Key{}, ErrBadName
	}
	if len(id) < minIDLen || len(id) > maxIDLen {
		return Key{}, ErrBadName
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return Key{}, ErrBadName
		}
	}
	return Key{ID: id}, nil
}

func validExt(ext string) bool {
	switch strings.ToLower(ext) {
	case "webp", "gif", "png":
		return true
	}
	return false
}
