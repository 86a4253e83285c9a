package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/manash/adcraft/internal/suggestion"
	"github.com/manash/adcraft/internal/transcript"
	"github.com/manash/adcraft/pkg/models"
)

const defaultPersistTimeout = 30 * time.Second

type Options struct {
	Persister      Persister
	Notifier       Notifier
	PersistTimeout time.Duration
}

// Manager runs the refinement conversation for the selected suggestion.
type Manager struct {
	suggestions *suggestion.Set
	chat        ChatClient
	persister   Persister
	notifier    Notifier

	persistTimeout time.Duration
	pending        sync.WaitGroup

	mu         sync.Mutex
	state      State
	selectedID string
	history    []models.ChatHistoryItem
	transcript *transcript.Transcript
	// generation changes on every select and close; rounds started under an
	// older generation do not touch the current transcript or history.
	generation uint64
}

func NewManager(suggestions *suggestion.Set, chat ChatClient, opts Options) *Manager {
	timeout := opts.PersistTimeout
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}
	return &Manager{
		suggestions:    suggestions,
		chat:           chat,
		persister:      opts.Persister,
		notifier:       opts.Notifier,
		persistTimeout: timeout,
		transcript:     transcript.New(),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) HasSelection() bool {
	return m.State() != StateIdle
}

func (m *Manager) SelectedID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectedID
}

// Selected returns the current state of the selected suggestion, read from
// the suggestion set.
func (m *Manager) Selected() (models.AdSuggestion, bool) {
	id := m.SelectedID()
	if id == "" {
		return models.AdSuggestion{}, false
	}
	return m.suggestions.Get(id)
}

func (m *Manager) Messages() []models.ChatMessage {
	return m.transcript.Messages()
}

func (m *Manager) History() []models.ChatHistoryItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

// Select opens a conversation on id. Choosing a different suggestion starts a
// fresh history and transcript; choosing the active one again changes nothing.
func (m *Manager) Select(id string) error {
	sug, ok := m.suggestions.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSuggestionNotFound, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle && m.selectedID == id {
		return nil
	}

	m.generation++
	m.selectedID = id
	m.history = nil
	m.transcript.Reset()
	m.transcript.Seed(
		models.ChatMessage{
			Sender:  models.SenderUser,
			Content: fmt.Sprintf("I'd like to refine the %s ad \"%s\".", sug.Platform.DisplayName(), sug.Headline),
		},
		models.ChatMessage{
			Sender:  models.SenderAI,
			Content: "What would you like to change about this image? Describe colours, composition, text or style.",
		},
	)
	m.state = StateActive

	log.Debug().Str("suggestionId", id).Msg("suggestion selected")
	return nil
}

// Close ends the conversation and returns to Idle.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.selectedID = ""
	m.history = nil
	m.transcript.Reset()
	m.state = StateIdle
}

// Submit sends text as a refinement instruction for the selected suggestion.
// The user message is appended before Submit returns; the chat call runs in
// the background and its outcome is applied when the returned Round is done.
func (m *Manager) Submit(ctx context.Context, text string) (*Round, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInstruction
	}

	m.mu.Lock()
	switch m.state {
	case StateIdle:
		m.mu.Unlock()
		return nil, ErrNoSelection
	case StateAwaitingResponse:
		m.mu.Unlock()
		return nil, ErrBusy
	}

	m.transcript.Append(models.SenderUser, text, "")

	sug, ok := m.suggestions.Get(m.selectedID)
	if !ok {
		m.transcript.Append(models.SenderAI, "This suggestion is no longer available. Generate new suggestions to continue.", "")
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSuggestionNotFound, m.selectedID)
	}

	current := m.currentImageLocked(sug)
	if current == "" {
		m.transcript.Append(models.SenderAI, "No image available to refine. Generate an image for this suggestion first.", "")
		m.mu.Unlock()
		return nil, ErrNoImage
	}

	m.state = StateAwaitingResponse
	round := newRound(sug.ID, text)
	gen := m.generation
	history := slices.Clone(m.history)
	m.mu.Unlock()

	go m.run(ctx, round, gen, history, current)
	return round, nil
}

// currentImageLocked falls back to the last image returned in this
// conversation when the suggestion itself has none.
func (m *Manager) currentImageLocked(sug models.AdSuggestion) string {
	if sug.GeneratedImageURL != "" {
		return sug.GeneratedImageURL
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ImageURL != "" {
			return m.history[i].ImageURL
		}
	}
	return ""
}

func (m *Manager) run(ctx context.Context, round *Round, gen uint64, history []models.ChatHistoryItem, current string) {
	result := m.send(ctx, history, round.Instruction, current)
	m.apply(round, gen, result)
}

func (m *Manager) send(ctx context.Context, history []models.ChatHistoryItem, instruction, current string) (result models.ChatResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("chat client panicked")
			result = models.ChatResult{Error: fmt.Sprintf("Unexpected error: %v", r)}
		}
	}()
	return m.chat.SendChatInstruction(ctx, history, instruction, current)
}

func (m *Manager) apply(round *Round, gen uint64, result models.ChatResult) {
	m.mu.Lock()
	live := gen == m.generation

	if result.Failed() {
		msg := result.Error
		if msg == "" {
			msg = "no image was returned"
		}
		log.Warn().Str("suggestionId", round.SuggestionID).Str("error", msg).Msg("refinement round failed")
		if live {
			m.transcript.Append(models.SenderAI, "Sorry, I couldn't update the image: "+msg, "")
			m.state = StateActive
		}
		m.mu.Unlock()
		close(round.persisted)
		round.finish(result)
		return
	}

	updated, err := m.suggestions.UpdateImage(round.SuggestionID, result.ImageURL, result.RevisedPrompt)
	if err != nil {
		log.Warn().Err(err).Str("suggestionId", round.SuggestionID).Msg("refined suggestion no longer exists")
		if live {
			m.transcript.Append(models.SenderAI, "The image was updated, but this suggestion is no longer available.", "")
			m.state = StateActive
		}
		m.mu.Unlock()
		close(round.persisted)
		round.finish(result)
		return
	}

	if live {
		m.history = append(m.history, models.ChatHistoryItem{
			UserInstruction: round.Instruction,
			DallePrompt:     result.RevisedPrompt,
			ImageURL:        result.ImageURL,
		})
		m.transcript.Append(models.SenderAI, confirmation(result.RevisedPrompt), result.ImageURL)
		m.state = StateActive
	} else {
		log.Info().Str("suggestionId", round.SuggestionID).Msg("applied late refinement result to a suggestion that is no longer selected")
	}
	m.mu.Unlock()

	m.persistAsync(round.persisted, updated, round.Instruction, models.SourceChat)
	round.finish(result)
}

func confirmation(prompt string) string {
	if prompt == "" {
		return "Here's your updated image."
	}
	return "Here's your updated image.\n\nPrompt used: " + prompt
}

// ApplyImage records an image produced outside the chat endpoint, such as an
// enhancement, as a new version of the selected suggestion.
func (m *Manager) ApplyImage(imageURL, prompt, note string) (<-chan error, error) {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
		m.mu.Unlock()
		return nil, ErrNoSelection
	case StateAwaitingResponse:
		m.mu.Unlock()
		return nil, ErrBusy
	}

	updated, err := m.suggestions.UpdateImage(m.selectedID, imageURL, prompt)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrSuggestionNotFound, err)
	}
	m.history = append(m.history, models.ChatHistoryItem{
		UserInstruction: note,
		DallePrompt:     prompt,
		ImageURL:        imageURL,
	})
	m.transcript.Append(models.SenderAI, confirmation(prompt), imageURL)
	m.mu.Unlock()

	out := make(chan error, 1)
	m.persistAsync(out, updated, note, models.SourceEnhance)
	return out, nil
}

// Save persists the selected suggestion's current image and returns the
// record id. Saving an image that is already recorded returns that record.
func (m *Manager) Save(ctx context.Context) (string, error) {
	if m.persister == nil {
		return "", ErrNoPersister
	}

	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return "", ErrNoSelection
	}
	sug, ok := m.suggestions.Get(m.selectedID)
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrSuggestionNotFound, m.selectedID)
	}
	current := m.currentImageLocked(sug)
	m.mu.Unlock()

	if current == "" {
		return "", ErrNoImage
	}

	id, err := m.persister.PersistGeneratedImage(ctx, current, sug, "", models.SourceSave)
	if err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}
	return id, nil
}

// persistAsync writes sug's image on a detached goroutine. The result is
// delivered on out, which is then closed. Failures are logged and reported
// but leave the in-memory state as it is.
func (m *Manager) persistAsync(out chan<- error, sug models.AdSuggestion, chatMessage, source string) {
	if m.persister == nil {
		close(out)
		return
	}

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		defer close(out)

		ctx, cancel := context.WithTimeout(context.Background(), m.persistTimeout)
		defer cancel()

		id, err := m.persister.PersistGeneratedImage(ctx, sug.GeneratedImageURL, sug, chatMessage, source)
		if err != nil {
			log.Error().Err(err).Str("suggestionId", sug.ID).Str("imageUrl", sug.GeneratedImageURL).
				Msg("failed to persist generated image")
			m.notify(NoticeError, fmt.Sprintf("Failed to save image history: %v", err))
		} else {
			log.Debug().Str("suggestionId", sug.ID).Str("recordId", id).Msg("generated image persisted")
		}
		out <- err
	}()
}

// Wait blocks until every detached persistence task has finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}

func (m *Manager) notify(level NoticeLevel, message string) {
	if m.notifier != nil {
		m.notifier.Notify(level, message)
	}
}
