package models

import (
	"encoding/json"
	"time"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// ChatMessage is one line of the human-readable transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	ImageURL  string    `json:"imageUrl,omitempty"`
}

// ChatHistoryItem is the machine context for one refinement round. It is sent
// back to the chat webhook on every subsequent instruction.
type ChatHistoryItem struct {
	UserInstruction string `json:"userInstruction"`
	DallePrompt     string `json:"dallePrompt,omitempty"`
	ImageURL        string `json:"imageUrl,omitempty"`
}

// ChatResult is the canonical outcome of one chat webhook call, whatever shape
// the endpoint answered with.
type ChatResult struct {
	ImageURL      string `json:"imageUrl,omitempty"`
	RevisedPrompt string `json:"revisedPrompt,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (r ChatResult) Failed() bool {
	return r.Error != "" || r.ImageURL == ""
}

// GeneratedImageRecord is one persisted image version of a suggestion.
type GeneratedImageRecord struct {
	ID           string
	SuggestionID string
	ImageURL     string
	Prompt       string
	Platform     Platform
	ChatMessage  string
	Metadata     RecordMetadata
	CreatedAt    time.Time
}

// Record sources, stored in RecordMetadata.Source.
const (
	SourceChat    = "chat"
	SourceSave    = "save"
	SourceEnhance = "enhance"
)

type RecordMetadata struct {
	Headline   string `json:"headline,omitempty"`
	Dimensions string `json:"dimensions,omitempty"`
	Source     string `json:"source,omitempty"`
}

func (m *RecordMetadata) ToJSON() string {
	data, _ := json.Marshal(m)
	return string(data)
}

func ParseRecordMetadata(data string) RecordMetadata {
	var m RecordMetadata
	if data != "" {
		json.Unmarshal([]byte(data), &m)
	}
	return m
}

// APICall is an audit entry for one outbound webhook attempt.
type APICall struct {
	ID         int64
	Agent      string
	Endpoint   string
	StatusCode int
	Success    bool
	DurationMs int64
	Error      string
	CreatedAt  time.Time
}

type AgentCallSummary struct {
	Agent     string
	Calls     int
	Failures  int
	AvgMillis float64
}
