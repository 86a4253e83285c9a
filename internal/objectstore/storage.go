// Package objectstore uploads binary objects (source images) and resolves
// their public URLs. Two backends exist: S3-compatible storage and the local
// filesystem.
package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	ErrStorageDisabled = errors.New("object storage is not configured")
	ErrInvalidKey      = errors.New("invalid object key")
)

type Storage interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PublicURL(key string) string
}

// cleanKey rejects keys that could escape the storage root.
func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" || strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	return key, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
