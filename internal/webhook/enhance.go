package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/manash/adcraft/internal/security"
)

type EnhanceRequest struct {
	ImageURL       string
	TargetAudience string
	TopicArea      string
}

type EnhanceResult struct {
	EnhancedImageURL string
	Prompt           string
}

type enhancePayload struct {
	ImageURL       string `json:"imageUrl"`
	ImageURLSnake  string `json:"image_url"`
	TargetAudience string `json:"targetAudience"`
	TopicArea      string `json:"topicArea"`
}

type enhanceResponse struct {
	EnhancedImageURL string          `json:"enhancedImageUrl"`
	Prompt           string          `json:"prompt"`
	Error            json.RawMessage `json:"error"`
}

// EnhanceImage asks the enhancement function for an improved version of an
// existing ad image.
func (c *Client) EnhanceImage(ctx context.Context, req EnhanceRequest) (*EnhanceResult, error) {
	if c.enhanceURL == "" {
		return nil, ErrEndpointRequired
	}
	if err := security.ValidateResultURL(req.ImageURL); err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}

	payload := &enhancePayload{
		ImageURL:       req.ImageURL,
		ImageURLSnake:  req.ImageURL,
		TargetAudience: req.TargetAudience,
		TopicArea:      req.TopicArea,
	}

	status, body, err := c.post(ctx, AgentEnhance, c.enhanceURL, payload)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrEnhanceFailed, c.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrEnhanceFailed, err)
	}

	var resp enhanceResponse
	parseErr := json.Unmarshal(body, &resp)

	if msg := errorText(resp.Error); parseErr == nil && msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrEnhanceFailed, msg)
	}
	if !isSuccess(status) {
		return nil, fmt.Errorf("%w: status %d", ErrEnhanceFailed, status)
	}
	if parseErr != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrEnhanceFailed, parseErr)
	}
	if resp.EnhancedImageURL == "" {
		return nil, fmt.Errorf("%w: no image in response", ErrEnhanceFailed)
	}
	if err := security.ValidateResultURL(resp.EnhancedImageURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnhanceFailed, err)
	}

	return &EnhanceResult{
		EnhancedImageURL: resp.EnhancedImageURL,
		Prompt:           resp.Prompt,
	}, nil
}
