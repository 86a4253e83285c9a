package suggestion

import (
	"errors"
	"fmt"
	"sync"

	"github.com/manash/adcraft/pkg/models"
)

var ErrNotFound = errors.New("suggestion not found")

// Set is the single indexed store of the current suggestion batch. Callers
// refer to entries by id, so a refined image is visible to every reader.
type Set struct {
	mu    sync.RWMutex
	byID  map[string]*models.AdSuggestion
	order []string
}

func NewSet() *Set {
	return &Set{byID: make(map[string]*models.AdSuggestion)}
}

// Load replaces the collection with batch. Invalid entries are rejected as a
// whole so a half-loaded batch is never visible.
func (s *Set) Load(batch []models.AdSuggestion) error {
	byID := make(map[string]*models.AdSuggestion, len(batch))
	order := make([]string, 0, len(batch))
	for i := range batch {
		sug := batch[i]
		if err := sug.Validate(); err != nil {
			return fmt.Errorf("suggestion %d: %w", i, err)
		}
		if _, dup := byID[sug.ID]; dup {
			return fmt.Errorf("duplicate suggestion id %q", sug.ID)
		}
		byID[sug.ID] = &sug
		order = append(order, sug.ID)
	}

	s.mu.Lock()
	s.byID = byID
	s.order = order
	s.mu.Unlock()
	return nil
}

func (s *Set) Get(id string) (models.AdSuggestion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sug, ok := s.byID[id]
	if !ok {
		return models.AdSuggestion{}, false
	}
	return *sug, true
}

// All returns copies of every suggestion in batch order.
func (s *Set) All() []models.AdSuggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AdSuggestion, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

func (s *Set) ByPlatform(p models.Platform) []models.AdSuggestion {
	var out []models.AdSuggestion
	for _, sug := range s.All() {
		if sug.Platform == p {
			out = append(out, sug)
		}
	}
	return out
}

// Partition groups the batch by platform, keeping batch order within each.
func (s *Set) Partition() map[models.Platform][]models.AdSuggestion {
	parts := make(map[models.Platform][]models.AdSuggestion)
	for _, sug := range s.All() {
		parts[sug.Platform] = append(parts[sug.Platform], sug)
	}
	return parts
}

// UpdateImage sets the generated image and prompt of one suggestion in place.
func (s *Set) UpdateImage(id, imageURL, revisedPrompt string) (models.AdSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sug, ok := s.byID[id]
	if !ok {
		return models.AdSuggestion{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sug.GeneratedImageURL = imageURL
	sug.RevisedPrompt = revisedPrompt
	return *sug, nil
}

// Replace swaps the entry with the same id for updated.
func (s *Set) Replace(updated models.AdSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sug, ok := s.byID[updated.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, updated.ID)
	}
	*sug = updated
	return nil
}

func (s *Set) Clear() {
	s.mu.Lock()
	s.byID = make(map[string]*models.AdSuggestion)
	s.order = nil
	s.mu.Unlock()
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
