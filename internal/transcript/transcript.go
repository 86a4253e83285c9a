package transcript

import (
	"strconv"
	"sync"
	"time"

	"github.com/manash/adcraft/pkg/models"
)

// Transcript is the append-only display log of one refinement session.
type Transcript struct {
	mu       sync.Mutex
	messages []models.ChatMessage
	now      func() time.Time
}

func New() *Transcript {
	return &Transcript{now: time.Now}
}

// Append adds a message stamped with the current time. The id is the creation
// time in nanoseconds; two messages may share one, order is what counts.
func (t *Transcript) Append(sender models.Sender, content, imageURL string) models.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := t.newMessage(sender, content, imageURL)
	t.messages = append(t.messages, msg)
	return msg
}

// Seed appends msgs only if the transcript is empty and reports whether it did.
func (t *Transcript) Seed(msgs ...models.ChatMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) > 0 {
		return false
	}
	for _, m := range msgs {
		t.messages = append(t.messages, t.newMessage(m.Sender, m.Content, m.ImageURL))
	}
	return true
}

func (t *Transcript) Messages() []models.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.ChatMessage(nil), t.messages...)
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Last returns the newest message, if any.
func (t *Transcript) Last() (models.ChatMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return models.ChatMessage{}, false
	}
	return t.messages[len(t.messages)-1], true
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	t.messages = nil
	t.mu.Unlock()
}

func (t *Transcript) newMessage(sender models.Sender, content, imageURL string) models.ChatMessage {
	ts := t.now()
	return models.ChatMessage{
		ID:        strconv.FormatInt(ts.UnixNano(), 10),
		Content:   content,
		Sender:    sender,
		Timestamp: ts,
		ImageURL:  imageURL,
	}
}
