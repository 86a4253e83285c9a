package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/manash/adcraft/internal/security"
	"github.com/manash/adcraft/pkg/models"
)

var errEmptyResponse = errors.New("empty response body")

type chatRequest struct {
	ChatHistory        []models.ChatHistoryItem `json:"chatHistory"`
	CurrentInstruction string                   `json:"currentInstruction"`
	CurrentImageURL    string                   `json:"currentImageUrl"`
}

// chatShape tags which of the accepted response layouts a chat reply used.
type chatShape int

const (
	shapeUnknown chatShape = iota
	shapeDirect            // {imageUrl|url, dallePrompt|revised_prompt}
	shapeImages            // {images: [{url, revised_prompt}]}
	shapeError             // {error}
)

type chatReply struct {
	shape         chatShape
	imageURL      string
	revisedPrompt string
	errText       string
}

type rawChatReply struct {
	ImageURL      string          `json:"imageUrl"`
	URL           string          `json:"url"`
	DallePrompt   string          `json:"dallePrompt"`
	RevisedPrompt string          `json:"revised_prompt"`
	Images        []webhookImage  `json:"images"`
	Error         json.RawMessage `json:"error"`
}

// decodeChatReply classifies body into one of the known shapes. Some workflow
// engines wrap the object in a one-element array; that is unwrapped first.
func decodeChatReply(body []byte) (chatReply, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return chatReply{}, errEmptyResponse
	}

	var raw rawChatReply
	if body[0] == '[' {
		var list []rawChatReply
		if err := json.Unmarshal(body, &list); err != nil {
			return chatReply{}, err
		}
		if len(list) == 0 {
			return chatReply{}, errEmptyResponse
		}
		raw = list[0]
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return chatReply{}, err
	}

	if msg := errorText(raw.Error); msg != "" {
		return chatReply{shape: shapeError, errText: msg}, nil
	}

	if u := firstNonEmpty(raw.ImageURL, raw.URL); u != "" {
		return chatReply{
			shape:         shapeDirect,
			imageURL:      u,
			revisedPrompt: firstNonEmpty(raw.DallePrompt, raw.RevisedPrompt),
		}, nil
	}

	if len(raw.Images) > 0 && raw.Images[0].URL != "" {
		return chatReply{
			shape:         shapeImages,
			imageURL:      raw.Images[0].URL,
			revisedPrompt: raw.Images[0].RevisedPrompt,
		}, nil
	}

	return chatReply{shape: shapeUnknown}, nil
}

// SendChatInstruction asks the chat webhook for a revised image. It always
// returns a result; failures are reported through ChatResult.Error.
func (c *Client) SendChatInstruction(ctx context.Context, history []models.ChatHistoryItem, instruction, currentImageURL string) models.ChatResult {
	if history == nil {
		history = []models.ChatHistoryItem{}
	}
	req := &chatRequest{
		ChatHistory:        history,
		CurrentInstruction: instruction,
		CurrentImageURL:    currentImageURL,
	}

	status, body, err := c.post(ctx, AgentChat, c.chatURL, req)
	if err != nil {
		if isTimeout(err) {
			return models.ChatResult{Error: fmt.Sprintf("Request timed out after %s", c.timeout)}
		}
		return models.ChatResult{Error: fmt.Sprintf("Chat request failed: %v", err)}
	}

	reply, decodeErr := decodeChatReply(body)

	if !isSuccess(status) {
		msg := fmt.Sprintf("Chat webhook returned status %d", status)
		if decodeErr == nil && reply.shape == shapeError {
			msg += ": " + reply.errText
		}
		return models.ChatResult{Error: msg}
	}

	if decodeErr != nil {
		log.Warn().Err(decodeErr).Str("body", truncate(body, 200)).Msg("invalid chat webhook response")
		return models.ChatResult{Error: fmt.Sprintf("Invalid response from chat webhook: %v", decodeErr)}
	}

	switch reply.shape {
	case shapeError:
		return models.ChatResult{Error: reply.errText}
	case shapeDirect, shapeImages:
		if err := security.ValidateResultURL(reply.imageURL); err != nil {
			log.Warn().Err(err).Str("url", reply.imageURL).Msg("chat webhook returned invalid image URL")
			return models.ChatResult{Error: fmt.Sprintf("Chat webhook returned an invalid image URL: %v", err)}
		}
		return models.ChatResult{ImageURL: reply.imageURL, RevisedPrompt: reply.revisedPrompt}
	default:
		log.Warn().Str("body", truncate(body, 200)).Msg("unrecognized chat webhook response")
		return models.ChatResult{Error: "Unrecognized response from chat webhook"}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
