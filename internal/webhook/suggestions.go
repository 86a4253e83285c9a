package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/manash/adcraft/internal/security"
	"github.com/manash/adcraft/pkg/models"
)

type suggestionRequest struct {
	Input                suggestionInput       `json:"input"`
	GeneratedSuggestions []models.AdSuggestion `json:"generated_suggestions"`
	UploadedImage        string                `json:"uploadedImage,omitempty"`
	Metadata             *imageMetadata        `json:"metadata,omitempty"`
}

type suggestionInput struct {
	Context         string `json:"context"`
	BrandGuidelines string `json:"brand_guidelines"`
	LandingPageURL  string `json:"landing_page_url"`
	TargetAudience  string `json:"target_audience"`
	TopicArea       string `json:"topic_area"`
	Timestamp       string `json:"timestamp"`
	HasImage        bool   `json:"has_image"`
}

type imageMetadata struct {
	ImageType     string `json:"imageType"`
	ImageSize     int    `json:"imageSize"`
	ImageFilename string `json:"imageFilename"`
}

type imagesResponse struct {
	Images []webhookImage `json:"images"`
}

type webhookImage struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt"`
}

// Synthesize builds the fixed LinkedIn and Google suggestions for in. The
// webhook only enriches these with images; it never replaces the copy.
func Synthesize(in models.AdInput) []models.AdSuggestion {
	audience := in.Audience()
	topic := in.Topic()

	return []models.AdSuggestion{
		{
			ID:                  uuid.New().String(),
			Platform:            models.PlatformLinkedIn,
			Headline:            fmt.Sprintf("%s: What %s Are Doing Differently", topic, audience),
			Description:         fmt.Sprintf("%s are using %s to cut wasted square footage and lower operating costs. See the numbers behind the shift and what it means for your portfolio.", audience, topic),
			ImageRecommendation: fmt.Sprintf("Professional photo of a modern, well-organised building interior with subtle data overlays illustrating %s, aimed at %s.", topic, audience),
			Dimensions:          "1200x627 px",
		},
		{
			ID:                  uuid.New().String(),
			Platform:            models.PlatformGoogle,
			Headline:            fmt.Sprintf("%s Made Simple", topic),
			Description:         fmt.Sprintf("Built for %s. Bring %s to every property and start saving this quarter.", audience, topic),
			ImageRecommendation: fmt.Sprintf("Clean, bright image of an optimised workspace with one clear focal point suggesting %s.", topic),
			Dimensions:          "1200x628 px",
		},
	}
}

// GenerateSuggestions returns the synthesized suggestion set for in, spliced
// with any images the suggestion webhook produced. Webhook failures are
// logged and never reach the caller.
func (c *Client) GenerateSuggestions(ctx context.Context, in models.AdInput) []models.AdSuggestion {
	suggestions := Synthesize(in)
	req := c.buildSuggestionRequest(in, suggestions)

	images, err := c.requestSuggestionImages(ctx, req)
	if err != nil && req.UploadedImage != "" {
		log.Warn().Err(err).Msg("suggestion webhook failed, retrying without image payload")
		req.UploadedImage = ""
		req.Metadata = nil
		images, err = c.requestSuggestionImages(ctx, req)
	}
	if err != nil {
		log.Warn().Err(err).Str("endpoint", c.suggestionURL).Msg("suggestion webhook failed, using generated copy only")
		return suggestions
	}

	spliceImages(suggestions, images)
	return suggestions
}

func (c *Client) buildSuggestionRequest(in models.AdInput, suggestions []models.AdSuggestion) *suggestionRequest {
	req := &suggestionRequest{
		Input: suggestionInput{
			Context:         in.Context,
			BrandGuidelines: in.BrandGuidelines,
			LandingPageURL:  in.LandingPageURL,
			TargetAudience:  in.Audience(),
			TopicArea:       in.Topic(),
			Timestamp:       c.now().UTC().Format(time.RFC3339),
			HasImage:        in.HasImage(),
		},
		GeneratedSuggestions: suggestions,
	}

	if encoded, ok := c.encodeImage(in.Image); ok {
		mime, _ := models.DetectImageType(in.Image)
		req.UploadedImage = encoded
		req.Metadata = &imageMetadata{
			ImageType:     mime,
			ImageSize:     len(in.Image),
			ImageFilename: in.ImageFilename,
		}
	}
	return req
}

// encodeImage base64-encodes data when both the raw and the encoded size fit
// within the configured ceilings.
func (c *Client) encodeImage(data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	if len(data) > c.maxImageBytes {
		log.Info().Int("size", len(data)).Msg("image too large to embed, sending without it")
		return "", false
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	if len(encoded) > c.maxEncodedBytes {
		log.Info().Int("encodedSize", len(encoded)).Msg("encoded image too large to embed, sending without it")
		return "", false
	}
	return encoded, true
}

func (c *Client) requestSuggestionImages(ctx context.Context, req *suggestionRequest) ([]webhookImage, error) {
	status, body, err := c.post(ctx, AgentSuggestions, c.suggestionURL, req)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, fmt.Errorf("suggestion webhook returned status %d", status)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var resp imagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse suggestion response: %w", err)
	}
	return resp.Images, nil
}

// spliceImages assigns images by position: LinkedIn suggestions take the
// leading entries, Google suggestions the remainder.
func spliceImages(suggestions []models.AdSuggestion, images []webhookImage) {
	var order []int
	for _, p := range models.ValidPlatforms() {
		for i := range suggestions {
			if suggestions[i].Platform == p {
				order = append(order, i)
			}
		}
	}

	for n, idx := range order {
		if n >= len(images) {
			break
		}
		img := images[n]
		if img.URL == "" {
			continue
		}
		if err := security.ValidateResultURL(img.URL); err != nil {
			log.Warn().Err(err).Str("url", img.URL).Msg("ignoring invalid image URL from suggestion webhook")
			continue
		}
		suggestions[idx].GeneratedImageURL = img.URL
		suggestions[idx].RevisedPrompt = img.RevisedPrompt
	}
}
