package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// LocalStorage writes objects below a base directory. Without a base URL the
// public URL is a file:// URL.
type LocalStorage struct {
	basePath string
	baseURL  string
	log      zerolog.Logger
}

func NewLocalStorage(basePath, baseURL string, log zerolog.Logger) (*LocalStorage, error) {
	logger := log.With().Str("component", "local-storage").Logger()

	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, fmt.Errorf("%w: local storage path is empty", ErrStorageDisabled)
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local storage directory: %w", err)
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve local storage path: %w", err)
	}

	logger.Debug().Str("path", abs).Str("base_url", baseURL).Msg("local storage initialized")

	return &LocalStorage{
		basePath: abs,
		baseURL:  strings.TrimSpace(baseURL),
		log:      logger,
	}, nil
}

func (s *LocalStorage) Upload(ctx context.Context, key string, body io.Reader, _ int64, _ string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create object file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close object: %w", err)
	}

	s.log.Debug().Str("key", key).Str("path", path).Msg("object stored")
	return nil
}

func (s *LocalStorage) PublicURL(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.baseURL != "" {
		return joinURL(s.baseURL, key)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(s.path(key))}
	return u.String()
}

func (s *LocalStorage) path(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
