package session

import (
	"context"
	"errors"

	"github.com/manash/adcraft/pkg/models"
)

var (
	ErrSuggestionNotFound = errors.New("suggestion not found")
	ErrEmptyInstruction   = errors.New("instruction is empty")
	ErrNoSelection        = errors.New("no suggestion selected")
	ErrBusy               = errors.New("a refinement request is already in progress")
	ErrNoImage            = errors.New("no image available to refine")
	ErrNoPersister        = errors.New("image history is not configured")
)

type State int

const (
	StateIdle State = iota
	StateActive
	StateAwaitingResponse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateAwaitingResponse:
		return "awaiting response"
	default:
		return "unknown"
	}
}

// ChatClient sends one refinement instruction. It reports failures through
// the result, never by returning an error.
type ChatClient interface {
	SendChatInstruction(ctx context.Context, history []models.ChatHistoryItem, instruction, currentImageURL string) models.ChatResult
}

// Persister writes a generated image version to the image store.
type Persister interface {
	PersistGeneratedImage(ctx context.Context, imageURL string, sug models.AdSuggestion, chatMessage, source string) (string, error)
}

type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeError
)

// Notifier surfaces background outcomes to the user, like a toast.
type Notifier interface {
	Notify(level NoticeLevel, message string)
}

type NotifierFunc func(level NoticeLevel, message string)

func (f NotifierFunc) Notify(level NoticeLevel, message string) {
	f(level, message)
}

// Round is one submitted instruction. Done closes once the outcome has been
// applied to the suggestion set and transcript.
type Round struct {
	SuggestionID string
	Instruction  string

	done      chan struct{}
	result    models.ChatResult
	persisted chan error
}

func newRound(suggestionID, instruction string) *Round {
	return &Round{
		SuggestionID: suggestionID,
		Instruction:  instruction,
		done:         make(chan struct{}),
		persisted:    make(chan error, 1),
	}
}

func (r *Round) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the round completes and returns the chat result.
func (r *Round) Wait() models.ChatResult {
	<-r.done
	return r.result
}

// Persisted yields the outcome of the detached history write. It is closed
// without a value when the round produced nothing to persist.
func (r *Round) Persisted() <-chan error {
	return r.persisted
}

func (r *Round) finish(result models.ChatResult) {
	r.result = result
	close(r.done)
}
