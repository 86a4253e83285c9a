package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/manash/adcraft/internal/security"
	"github.com/manash/adcraft/pkg/models"
)

const (
	defaultTimeout = 60 * time.Second

	// MaxDownloadBytes bounds a single image download.
	MaxDownloadBytes = 25 << 20
)

var (
	ErrNoImage         = errors.New("suggestion has no generated image")
	ErrDownloadTooLong = errors.New("image download exceeds size limit")
)

// Saver fetches generated ad images by URL and writes them to disk.
type Saver struct {
	httpClient *http.Client
	maxBytes   int64
}

func NewSaver() *Saver {
	return &Saver{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		maxBytes: MaxDownloadBytes,
	}
}

// Fetch downloads url and returns the body and its detected MIME type.
func (s *Saver) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if err := security.ValidateDownloadURL(url); err != nil {
		return nil, "", fmt.Errorf("refusing to download %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, "", fmt.Errorf("%w: more than %s", ErrDownloadTooLong, humanize.IBytes(uint64(s.maxBytes)))
	}

	mime, _ := models.DetectImageType(data)
	return data, mime, nil
}

// SaveSuggestion downloads the suggestion's current image. An empty dest
// derives the file name from the headline and the detected image type.
func (s *Saver) SaveSuggestion(ctx context.Context, sug models.AdSuggestion, dest string) (string, error) {
	if !sug.HasImage() {
		return "", ErrNoImage
	}

	if dest != "" {
		if err := security.ValidateDownloadPath(dest); err != nil {
			return "", fmt.Errorf("invalid save path: %w", err)
		}
	}

	data, mime, err := s.Fetch(ctx, sug.GeneratedImageURL)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(mime, "image/") {
		log.Warn().Str("url", sug.GeneratedImageURL).Str("mime", mime).Msg("downloaded content is not an image")
	}

	if dest == "" {
		_, ext := models.DetectImageType(data)
		dest = security.DownloadFilename(sug.Headline, ext)
	}

	if err := s.write(dest, data); err != nil {
		return "", err
	}

	log.Debug().Str("suggestionId", sug.ID).Str("path", dest).Str("size", humanize.IBytes(uint64(len(data)))).
		Msg("image downloaded")
	return dest, nil
}

// SaveSuggestionInDir downloads the suggestion's image into dir, naming the
// file "<prefix>-<headline>.<ext>".
func (s *Saver) SaveSuggestionInDir(ctx context.Context, sug models.AdSuggestion, dir, prefix string) (string, error) {
	if !sug.HasImage() {
		return "", ErrNoImage
	}

	data, _, err := s.Fetch(ctx, sug.GeneratedImageURL)
	if err != nil {
		return "", err
	}

	_, ext := models.DetectImageType(data)
	name := security.DownloadFilename(sug.Headline, ext)
	if prefix != "" {
		name = prefix + "-" + name
	}

	path := filepath.Join(dir, name)
	if err := s.write(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Saver) write(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
