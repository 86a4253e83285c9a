// Package imagestore is the image store the refinement session persists to:
// generated-image history in the relational log and uploaded source images in
// object storage.
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/manash/adcraft/internal/objectstore"
	"github.com/manash/adcraft/internal/store"
	"github.com/manash/adcraft/pkg/models"
)

const uploadPrefix = "uploads/"

var ErrNoImageURL = errors.New("image URL is required")

type Service struct {
	store   *store.Store
	objects objectstore.Storage
}

// New builds the service. objects may be nil, in which case uploads fail with
// objectstore.ErrStorageDisabled.
func New(st *store.Store, objects objectstore.Storage) *Service {
	return &Service{store: st, objects: objects}
}

// PersistGeneratedImage records imageURL as a version of sug. Persisting the
// same image for the same suggestion again returns the existing record id.
func (s *Service) PersistGeneratedImage(ctx context.Context, imageURL string, sug models.AdSuggestion, chatMessage, source string) (string, error) {
	if strings.TrimSpace(imageURL) == "" {
		return "", ErrNoImageURL
	}
	if err := sug.Validate(); err != nil {
		return "", err
	}

	prompt := sug.RevisedPrompt
	if prompt == "" {
		prompt = sug.ImageRecommendation
	}

	rec := &models.GeneratedImageRecord{
		SuggestionID: sug.ID,
		ImageURL:     imageURL,
		Prompt:       prompt,
		Platform:     sug.Platform,
		ChatMessage:  chatMessage,
		Metadata: models.RecordMetadata{
			Headline:   sug.Headline,
			Dimensions: sug.Dimensions,
			Source:     source,
		},
	}

	id, created, err := s.store.CreateGeneratedImage(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to persist generated image: %w", err)
	}

	log.Debug().
		Str("suggestionId", sug.ID).
		Str("recordId", id).
		Bool("created", created).
		Str("source", source).
		Msg("generated image recorded")
	return id, nil
}

// ListGeneratedImagesForSuggestion returns the image history of one
// suggestion, oldest first.
func (s *Service) ListGeneratedImagesForSuggestion(ctx context.Context, suggestionID string) ([]*models.GeneratedImageRecord, error) {
	records, err := s.store.ListGeneratedImages(ctx, suggestionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list generated images: %w", err)
	}
	return records, nil
}

// ListRecentGeneratedImages returns images across all suggestions, newest first.
func (s *Service) ListRecentGeneratedImages(ctx context.Context, limit int) ([]*models.GeneratedImageRecord, error) {
	records, err := s.store.ListRecentGeneratedImages(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent images: %w", err)
	}
	return records, nil
}

// UploadSourceImage validates data as an image within the upload ceiling,
// stores it under a fresh key and returns its public URL.
func (s *Service) UploadSourceImage(ctx context.Context, data []byte, filename string) (string, error) {
	if s.objects == nil {
		return "", objectstore.ErrStorageDisabled
	}

	mime, err := models.ValidateImageFile(data, models.MaxUploadBytes)
	if err != nil {
		return "", err
	}

	_, ext := models.DetectImageType(data)
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(filename))
	}
	key := uploadPrefix + uuid.New().String() + ext

	if err := s.objects.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), mime); err != nil {
		return "", fmt.Errorf("failed to upload source image: %w", err)
	}

	url := s.objects.PublicURL(key)
	log.Info().
		Str("key", key).
		Str("filename", filename).
		Str("size", humanize.IBytes(uint64(len(data)))).
		Msg("source image uploaded")
	return url, nil
}
