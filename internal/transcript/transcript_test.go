package transcript

import (
	"testing"
	"time"

	"github.com/manash/adcraft/pkg/models"
)

func TestTranscript_Append(t *testing.T) {
	tr := New()
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 42, time.UTC)
	tr.now = func() time.Time { return fixed }

	msg := tr.Append(models.SenderUser, "make it brighter", "")
	if msg.ID != "1777629600000000042" {
		t.Errorf("ID = %q", msg.ID)
	}
	if !msg.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v", msg.Timestamp)
	}

	// Same instant: duplicate ids are tolerated and order is preserved.
	tr.Append(models.SenderAI, "done", "https://x/a.png")

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Len = %d, want 2", len(msgs))
	}
	if msgs[0].Sender != models.SenderUser || msgs[1].Sender != models.SenderAI {
		t.Errorf("order = %v, %v", msgs[0].Sender, msgs[1].Sender)
	}
	if msgs[1].ImageURL != "https://x/a.png" {
		t.Errorf("ImageURL = %q", msgs[1].ImageURL)
	}

	last, ok := tr.Last()
	if !ok || last.Content != "done" {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestTranscript_MessagesIsCopy(t *testing.T) {
	tr := New()
	tr.Append(models.SenderUser, "a", "")
	msgs := tr.Messages()
	msgs[0].Content = "changed"
	if tr.Messages()[0].Content != "a" {
		t.Error("Messages() exposed internal slice")
	}
}

func TestTranscript_Seed(t *testing.T) {
	tr := New()
	seeded := tr.Seed(
		models.ChatMessage{Sender: models.SenderUser, Content: "hello"},
		models.ChatMessage{Sender: models.SenderAI, Content: "what next?"},
	)
	if !seeded || tr.Len() != 2 {
		t.Fatalf("Seed() = %v, Len() = %d", seeded, tr.Len())
	}
	if tr.Messages()[0].ID == "" {
		t.Error("seeded message has no id")
	}

	if tr.Seed(models.ChatMessage{Sender: models.SenderAI, Content: "again"}) {
		t.Error("Seed() on non-empty transcript = true")
	}
	if tr.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tr.Len())
	}
}

func TestTranscript_Reset(t *testing.T) {
	tr := New()
	tr.Append(models.SenderUser, "a", "")
	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("Len() after Reset() = %d", tr.Len())
	}
	if _, ok := tr.Last(); ok {
		t.Error("Last() after Reset() ok = true")
	}
}
