package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrMissingContext  = errors.New("campaign context is required")
	ErrNoImageData     = errors.New("image data is required")
	ErrNotAnImage      = errors.New("file is not an image")
	ErrImageTooLarge   = errors.New("image exceeds maximum size")
	ErrInvalidPlatform = errors.New("invalid platform")
	ErrEmptySuggestion = errors.New("suggestion id is required")
)

const (
	DefaultTargetAudience = "Property Managers in Boston"
	DefaultTopicArea      = "Smart Space Optimization"

	// MaxUploadBytes caps source images accepted for upload to object storage.
	MaxUploadBytes = 10 << 20
)

type Platform string

const (
	PlatformLinkedIn Platform = "linkedin"
	PlatformGoogle   Platform = "google"
)

func ValidPlatforms() []Platform {
	return []Platform{PlatformLinkedIn, PlatformGoogle}
}

func (p Platform) IsValid() bool {
	return slices.Contains(ValidPlatforms(), p)
}

func (p Platform) String() string {
	return string(p)
}

// DisplayName is the label used when rendering a platform partition.
func (p Platform) DisplayName() string {
	switch p {
	case PlatformLinkedIn:
		return "LinkedIn"
	case PlatformGoogle:
		return "Google Ads"
	default:
		return string(p)
	}
}

func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlatform, s)
	}
	return p, nil
}

// AdInput holds the campaign form. It lives only in memory.
type AdInput struct {
	Image           []byte
	ImageFilename   string
	Context         string
	BrandGuidelines string
	LandingPageURL  string
	TargetAudience  string
	TopicArea       string
}

func (in *AdInput) HasImage() bool {
	return len(in.Image) > 0
}

// Audience returns the target audience, falling back to the default.
func (in *AdInput) Audience() string {
	if s := strings.TrimSpace(in.TargetAudience); s != "" {
		return s
	}
	return DefaultTargetAudience
}

// Topic returns the topic area, falling back to the default.
func (in *AdInput) Topic() string {
	if s := strings.TrimSpace(in.TopicArea); s != "" {
		return s
	}
	return DefaultTopicArea
}

func (in *AdInput) Validate() error {
	if strings.TrimSpace(in.Context) == "" {
		return ErrMissingContext
	}
	if in.HasImage() {
		if _, err := ValidateImageFile(in.Image, MaxUploadBytes); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears every field, used by "start over".
func (in *AdInput) Reset() {
	*in = AdInput{}
}

// ValidateImageFile checks that data is an image no larger than maxBytes and
// returns its detected MIME type.
func ValidateImageFile(data []byte, maxBytes int) (string, error) {
	if len(data) == 0 {
		return "", ErrNoImageData
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return "", fmt.Errorf("%w: %s > %s", ErrImageTooLarge,
			humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(maxBytes)))
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotAnImage, mt.String())
	}
	return mt.String(), nil
}

// DetectImageType returns the MIME type and canonical extension of data.
func DetectImageType(data []byte) (string, string) {
	mt := mimetype.Detect(data)
	return mt.String(), mt.Extension()
}

type AdSuggestion struct {
	ID                  string   `json:"id"`
	Platform            Platform `json:"platform"`
	Headline            string   `json:"headline"`
	Description         string   `json:"description"`
	ImageRecommendation string   `json:"imageRecommendation"`
	Dimensions          string   `json:"dimensions"`
	GeneratedImageURL   string   `json:"generatedImageUrl,omitempty"`
	RevisedPrompt       string   `json:"revisedPrompt,omitempty"`
}

func (s *AdSuggestion) HasImage() bool {
	return s.GeneratedImageURL != ""
}

func (s *AdSuggestion) Validate() error {
	if s.ID == "" {
		return ErrEmptySuggestion
	}
	if !s.Platform.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPlatform, s.Platform)
	}
	return nil
}
