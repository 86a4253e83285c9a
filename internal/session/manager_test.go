package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/manash/adcraft/internal/suggestion"
	"github.com/manash/adcraft/internal/webhook"
	"github.com/manash/adcraft/pkg/models"
)

type chatCall struct {
	history     []models.ChatHistoryItem
	instruction string
	current     string
}

type fakeChat struct {
	mu      sync.Mutex
	calls   []chatCall
	respond func(instruction string) models.ChatResult
}

func (f *fakeChat) SendChatInstruction(_ context.Context, history []models.ChatHistoryItem, instruction, current string) models.ChatResult {
	f.mu.Lock()
	f.calls = append(f.calls, chatCall{history: history, instruction: instruction, current: current})
	respond := f.respond
	f.mu.Unlock()
	return respond(instruction)
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeChat) lastCall() chatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func replyWith(result models.ChatResult) *fakeChat {
	return &fakeChat{respond: func(string) models.ChatResult { return result }}
}

// blockingChat returns a client that holds every call until release is closed.
func blockingChat(result models.ChatResult) (*fakeChat, chan struct{}) {
	release := make(chan struct{})
	return &fakeChat{respond: func(string) models.ChatResult {
		<-release
		return result
	}}, release
}

type persistCall struct {
	imageURL    string
	sug         models.AdSuggestion
	chatMessage string
	source      string
}

type fakePersister struct {
	mu    sync.Mutex
	calls []persistCall
	err   error
}

func (p *fakePersister) PersistGeneratedImage(_ context.Context, imageURL string, sug models.AdSuggestion, chatMessage, source string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, persistCall{imageURL, sug, chatMessage, source})
	if p.err != nil {
		return "", p.err
	}
	return "rec-" + imageURL, nil
}

func (p *fakePersister) snapshot() []persistCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]persistCall(nil), p.calls...)
}

const (
	imgA = "https://cdn.example.com/a.png"
	imgB = "https://cdn.example.com/b.png"
	imgX = "https://cdn.example.com/x.png"
)

func testSet(t *testing.T) *suggestion.Set {
	t.Helper()
	set := suggestion.NewSet()
	err := set.Load([]models.AdSuggestion{
		{ID: "A", Platform: models.PlatformLinkedIn, Headline: "Alpha", GeneratedImageURL: imgA},
		{ID: "B", Platform: models.PlatformGoogle, Headline: "Beta", GeneratedImageURL: imgB},
		{ID: "N", Platform: models.PlatformGoogle, Headline: "No image"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return set
}

func testManager(t *testing.T, chat ChatClient) (*Manager, *suggestion.Set, *fakePersister) {
	t.Helper()
	set := testSet(t)
	p := &fakePersister{}
	m := NewManager(set, chat, Options{Persister: p})
	t.Cleanup(m.Wait)
	return m, set, p
}

func waitRound(t *testing.T, r *Round) models.ChatResult {
	t.Helper()
	select {
	case <-r.Done():
		return r.Wait()
	case <-time.After(5 * time.Second):
		t.Fatal("round did not complete")
		return models.ChatResult{}
	}
}

func mustSelect(t *testing.T, m *Manager, id string) {
	t.Helper()
	if err := m.Select(id); err != nil {
		t.Fatalf("Select(%s) error = %v", id, err)
	}
}

func TestNewManager(t *testing.T) {
	m, _, _ := testManager(t, replyWith(models.ChatResult{}))
	if m.State() != StateIdle {
		t.Errorf("State() = %v, want idle", m.State())
	}
	if m.HasSelection() {
		t.Error("HasSelection() = true")
	}
	if _, ok := m.Selected(); ok {
		t.Error("Selected() ok = true")
	}
	if m.persistTimeout != defaultPersistTimeout {
		t.Errorf("persistTimeout = %v", m.persistTimeout)
	}
}

func TestManager_Select(t *testing.T) {
	m, _, _ := testManager(t, replyWith(models.ChatResult{}))

	mustSelect(t, m, "A")

	if m.State() != StateActive {
		t.Errorf("State() = %v, want active", m.State())
	}
	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("seeded %d messages, want 2", len(msgs))
	}
	if msgs[0].Sender != models.SenderUser || !strings.Contains(msgs[0].Content, "Alpha") {
		t.Errorf("first seed message = %+v", msgs[0])
	}
	if msgs[1].Sender != models.SenderAI {
		t.Errorf("second seed message sender = %v", msgs[1].Sender)
	}
	if len(m.History()) != 0 {
		t.Error("History() not empty after select")
	}
	sel, ok := m.Selected()
	if !ok || sel.ID != "A" {
		t.Errorf("Selected() = %+v, %v", sel, ok)
	}
}

func TestManager_Select_Unknown(t *testing.T) {
	m, _, _ := testManager(t, replyWith(models.ChatResult{}))
	if err := m.Select("missing"); !errors.Is(err, ErrSuggestionNotFound) {
		t.Errorf("Select() error = %v, want ErrSuggestionNotFound", err)
	}
	if m.State() != StateIdle {
		t.Errorf("State() = %v, want idle", m.State())
	}
}

func TestManager_Submit_Validation(t *testing.T) {
	m, _, _ := testManager(t, replyWith(models.ChatResult{ImageURL: imgX}))

	if _, err := m.Submit(context.Background(), "brighter"); !errors.Is(err, ErrNoSelection) {
		t.Errorf("Submit() without selection error = %v, want ErrNoSelection", err)
	}

	mustSelect(t, m, "A")
	before := len(m.Messages())
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := m.Submit(context.Background(), text); !errors.Is(err, ErrEmptyInstruction) {
			t.Errorf("Submit(%q) error = %v, want ErrEmptyInstruction", text, err)
		}
	}
	if len(m.Messages()) != before {
		t.Error("rejected Submit() changed the transcript")
	}
}

func TestManager_Submit_UserMessageBeforeResponse(t *testing.T) {
	chat, release := blockingChat(models.ChatResult{ImageURL: imgX, RevisedPrompt: "P"})
	m, _, _ := testManager(t, chat)
	mustSelect(t, m, "A")

	round, err := m.Submit(context.Background(), "  make it warmer  ")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msgs := m.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len(Messages()) = %d, want 3", len(msgs))
	}
	if msgs[2].Sender != models.SenderUser || msgs[2].Content != "make it warmer" {
		t.Errorf("user message = %+v", msgs[2])
	}
	if m.State() != StateAwaitingResponse {
		t.Errorf("State() = %v, want awaiting response", m.State())
	}

	close(release)
	waitRound(t, round)

	if got := len(m.Messages()); got != 4 {
		t.Errorf("len(Messages()) after response = %d, want 4", got)
	}
	if m.State() != StateActive {
		t.Errorf("State() = %v, want active", m.State())
	}
}

func TestManager_Submit_BusyIsNoop(t *testing.T) {
	chat, release := blockingChat(models.ChatResult{ImageURL: imgX})
	m, _, _ := testManager(t, chat)
	mustSelect(t, m, "A")

	round, err := m.Submit(context.Background(), "first")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	before := len(m.Messages())

	if _, err := m.Submit(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("Submit() while awaiting error = %v, want ErrBusy", err)
	}
	if got := len(m.Messages()); got != before {
		t.Errorf("transcript length changed from %d to %d", before, got)
	}
	if _, err := m.ApplyImage(imgB, "", "enhance"); !errors.Is(err, ErrBusy) {
		t.Errorf("ApplyImage() while awaiting error = %v, want ErrBusy", err)
	}

	close(release)
	waitRound(t, round)
	if chat.callCount() != 1 {
		t.Errorf("chat called %d times, want 1", chat.callCount())
	}
}

func TestManager_Submit_SuccessPropagates(t *testing.T) {
	chat := replyWith(models.ChatResult{ImageURL: imgX, RevisedPrompt: "P"})
	m, set, persister := testManager(t, chat)
	mustSelect(t, m, "A")

	round, err := m.Submit(context.Background(), "add a skyline")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	result := waitRound(t, round)
	if result.ImageURL != imgX {
		t.Errorf("result.ImageURL = %q", result.ImageURL)
	}

	if call := chat.lastCall(); call.current != imgA || call.instruction != "add a skyline" {
		t.Errorf("chat call = %+v", call)
	}

	sel, _ := m.Selected()
	if sel.GeneratedImageURL != imgX || sel.RevisedPrompt != "P" {
		t.Errorf("Selected() = %+v", sel)
	}
	fromSet, _ := set.Get("A")
	if fromSet.GeneratedImageURL != imgX {
		t.Errorf("set entry = %q, want %q", fromSet.GeneratedImageURL, imgX)
	}
	for _, s := range set.All() {
		if s.ID == "A" && s.GeneratedImageURL != imgX {
			t.Errorf("All() entry = %q, want %q", s.GeneratedImageURL, imgX)
		}
	}

	history := m.History()
	if len(history) != 1 || history[0].ImageURL != imgX || history[0].DallePrompt != "P" || history[0].UserInstruction != "add a skyline" {
		t.Errorf("History() = %+v", history)
	}

	last := m.Messages()[len(m.Messages())-1]
	if last.Sender != models.SenderAI || last.ImageURL != imgX || !strings.Contains(last.Content, "P") {
		t.Errorf("AI message = %+v", last)
	}

	if err := <-round.Persisted(); err != nil {
		t.Errorf("Persisted() = %v", err)
	}
	calls := persister.snapshot()
	if len(calls) != 1 {
		t.Fatalf("persist calls = %d, want 1", len(calls))
	}
	if calls[0].imageURL != imgX || calls[0].sug.ID != "A" || calls[0].chatMessage != "add a skyline" || calls[0].source != models.SourceChat {
		t.Errorf("persist call = %+v", calls[0])
	}
}

func TestManager_Submit_SecondRoundSendsHistory(t *testing.T) {
	chat := replyWith(models.ChatResult{ImageURL: imgX, RevisedPrompt: "P"})
	m, _, _ := testManager(t, chat)
	mustSelect(t, m, "A")

	r1, _ := m.Submit(context.Background(), "one")
	waitRound(t, r1)
	r2, err := m.Submit(context.Background(), "two")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitRound(t, r2)

	call := chat.lastCall()
	if len(call.history) != 1 || call.history[0].UserInstruction != "one" {
		t.Errorf("history sent = %+v", call.history)
	}
	if call.current != imgX {
		t.Errorf("current image = %q, want %q", call.current, imgX)
	}
}

func TestManager_Submit_ErrorResult(t *testing.T) {
	m, set, persister := testManager(t, replyWith(models.ChatResult{Error: "E"}))
	mustSelect(t, m, "A")

	round, err := m.Submit(context.Background(), "brighter")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitRound(t, round)

	if s, _ := set.Get("A"); s.GeneratedImageURL != imgA {
		t.Errorf("image changed to %q", s.GeneratedImageURL)
	}
	last := m.Messages()[len(m.Messages())-1]
	if last.Sender != models.SenderAI || !strings.Contains(last.Content, "E") {
		t.Errorf("AI message = %+v", last)
	}
	if len(m.History()) != 0 {
		t.Error("failed round was added to history")
	}
	if m.State() != StateActive {
		t.Errorf("State() = %v, want active", m.State())
	}
	if _, ok := <-round.Persisted(); ok {
		t.Error("failed round produced a persistence result")
	}
	if len(persister.snapshot()) != 0 {
		t.Error("failed round was persisted")
	}
}

func TestManager_Submit_MissingImageInResult(t *testing.T) {
	m, set, _ := testManager(t, replyWith(models.ChatResult{RevisedPrompt: "P"}))
	mustSelect(t, m, "A")

	round, _ := m.Submit(context.Background(), "brighter")
	waitRound(t, round)

	if s, _ := set.Get("A"); s.GeneratedImageURL != imgA {
		t.Errorf("image changed to %q", s.GeneratedImageURL)
	}
	last := m.Messages()[len(m.Messages())-1]
	if last.Sender != models.SenderAI || !strings.Contains(last.Content, "no image") {
		t.Errorf("AI message = %+v", last)
	}
}

func TestManager_Submit_Panic(t *testing.T) {
	chat := &fakeChat{respond: func(string) models.ChatResult { panic("connection exploded") }}
	m, _, _ := testManager(t, chat)
	mustSelect(t, m, "A")

	round, err := m.Submit(context.Background(), "brighter")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	result := waitRound(t, round)

	if !strings.Contains(result.Error, "connection exploded") {
		t.Errorf("result.Error = %q", result.Error)
	}
	last := m.Messages()[len(m.Messages())-1]
	if !strings.Contains(last.Content, "connection exploded") {
		t.Errorf("AI message = %q", last.Content)
	}
	if m.State() != StateActive {
		t.Errorf("State() = %v, want active", m.State())
	}
}

func TestManager_Submit_NoImage(t *testing.T) {
	chat := replyWith(models.ChatResult{ImageURL: imgX})
	m, _, _ := testManager(t, chat)
	mustSelect(t, m, "N")

	_, err := m.Submit(context.Background(), "brighter")
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("Submit() error = %v, want ErrNoImage", err)
	}

	msgs := m.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len(Messages()) = %d, want 4", len(msgs))
	}
	if msgs[2].Sender != models.SenderUser || msgs[3].Sender != models.SenderAI {
		t.Errorf("senders = %v, %v", msgs[2].Sender, msgs[3].Sender)
	}
	if !strings.Contains(msgs[3].Content, "No image") {
		t.Errorf("AI message = %q", msgs[3].Content)
	}
	if chat.callCount() != 0 {
		t.Error("chat client was called without an image")
	}
	if m.State() != StateActive {
		t.Errorf("State() = %v, want active", m.State())
	}
}

func TestManager_Submit_FallsBackToHistoryImage(t *testing.T) {
	chat := replyWith(models.ChatResult{ImageURL: imgX})
	m, set, _ := testManager(t, chat)
	mustSelect(t, m, "A")

	r, _ := m.Submit(context.Background(), "one")
	waitRound(t, r)

	sug, _ := set.Get("A")
	sug.GeneratedImageURL = ""
	if err := set.Replace(sug); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	r, err := m.Submit(context.Background(), "two")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitRound(t, r)
	if got := chat.lastCall().current; got != imgX {
		t.Errorf("current image = %q, want history image %q", got, imgX)
	}
}

func TestManager_Select_ResetsHistory(t *testing.T) {
	chat := replyWith(models.ChatResult{ImageURL: imgX, RevisedPrompt: "P"})
	m, _, _ := testManager(t, chat)

	mustSelect(t, m, "A")
	r, _ := m.Submit(context.Background(), "for A")
	waitRound(t, r)
	if len(m.History()) != 1 {
		t.Fatalf("History() for A = %d items", len(m.History()))
	}

	mustSelect(t, m, "B")
	if len(m.History()) != 0 {
		t.Errorf("History() after selecting B = %+v", m.History())
	}
	if len(m.Messages()) != 2 {
		t.Errorf("transcript after selecting B = %d messages, want 2", len(m.Messages()))
	}
	r, _ = m.Submit(context.Background(), "for B")
	waitRound(t, r)

	mustSelect(t, m, "A")
	history := m.History()
	if len(history) != 0 {
		t.Errorf("reselecting A replayed history: %+v", history)
	}
	for _, msg := range m.Messages() {
		if strings.Contains(msg.Content, "for B") {
			t.Error("reselecting A shows B's transcript")
		}
	}
}

func TestManager_Select_SameIsNoop(t *testing.T) {
	m, _, _ := testManager(t, replyWith(models.ChatResult{ImageURL: imgX}))
	mustSelect(t, m, "A")
	r, _ := m.Submit(context.Background(), "one")
	waitRound(t, r)

	before := len(m.Messages())
	mustSelect(t, m, "A")
	if len(m.Messages()) != before || len(m.History()) != 1 {
		t.Errorf("reselecting the active suggestion reset state")
	}
}

func TestManager_StaleRoundAfterReselect(t *testing.T) {
	chat, release := blockingChat(models.ChatResult{ImageURL: imgX, RevisedPrompt: "P"})
	m, set, persister := testManager(t, chat)

	mustSelect(t, m, "A")
	round, err := m.Submit(context.Background(), "slow change")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	mustSelect(t, m, "B")
	if m.State() != StateActive {
		t.Errorf("State() after reselect = %v, want active", m.State())
	}

	close(release)
	waitRound(t, round)

	if s, _ := set.Get("A"); s.GeneratedImageURL != imgX {
		t.Errorf("late result not applied to A: %q", s.GeneratedImageURL)
	}
	if s, _ := set.Get("B"); s.GeneratedImageURL != imgB {
		t.Errorf("late result leaked into B: %q", s.GeneratedImageURL)
	}
	if len(m.Messages()) != 2 || len(m.History()) != 0 {
		t.Errorf("late result written to B's conversation: %d messages, %d history", len(m.Messages()), len(m.History()))
	}
	if err := <-round.Persisted(); err != nil {
		t.Errorf("Persisted() = %v", err)
	}
	if calls := persister.snapshot(); len(calls) != 1 || calls[0].sug.ID != "A" {
		t.Errorf("persist calls = %+v", calls)
	}
}

func TestManager_PersistFailureNotifies(t *testing.T) {
	set := testSet(t)
	persister := &fakePersister{err: errors.New("disk full")}

	var mu sync.Mutex
	var notices []string
	notifier := NotifierFunc(func(level NoticeLevel, message string) {
		mu.Lock()
		defer mu.Unlock()
		if level == NoticeError {
			notices = append(notices, message)
		}
	})

	m := NewManager(set, replyWith(models.ChatResult{ImageURL: imgX}), Options{Persister: persister, Notifier: notifier})
	mustSelect(t, m, "A")

	round, _ := m.Submit(context.Background(), "brighter")
	waitRound(t, round)

	if err := <-round.Persisted(); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Persisted() = %v, want disk full", err)
	}
	m.Wait()

	if s, _ := set.Get("A"); s.GeneratedImageURL != imgX {
		t.Errorf("persistence failure rolled back the image: %q", s.GeneratedImageURL)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 1 || !strings.Contains(notices[0], "disk full") {
		t.Errorf("notices = %v", notices)
	}
}

func TestManager_NoPersister(t *testing.T) {
	m := NewManager(testSet(t), replyWith(models.ChatResult{ImageURL: imgX}), Options{})
	mustSelect(t, m, "A")

	round, _ := m.Submit(context.Background(), "brighter")
	waitRound(t, round)
	if _, ok := <-round.Persisted(); ok {
		t.Error("Persisted() delivered a value without a persister")
	}
	if _, err := m.Save(context.Background()); !errors.Is(err, ErrNoPersister) {
		t.Errorf("Save() error = %v, want ErrNoPersister", err)
	}
}

func TestManager_Save(t *testing.T) {
	m, _, persister := testManager(t, replyWith(models.ChatResult{}))

	if _, err := m.Save(context.Background()); !errors.Is(err, ErrNoSelection) {
		t.Errorf("Save() without selection error = %v, want ErrNoSelection", err)
	}

	mustSelect(t, m, "N")
	if _, err := m.Save(context.Background()); !errors.Is(err, ErrNoImage) {
		t.Errorf("Save() without image error = %v, want ErrNoImage", err)
	}

	mustSelect(t, m, "B")
	id, err := m.Save(context.Background())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if id != "rec-"+imgB {
		t.Errorf("Save() id = %q", id)
	}
	calls := persister.snapshot()
	if len(calls) != 1 || calls[0].source != models.SourceSave || calls[0].chatMessage != "" {
		t.Errorf("persist calls = %+v", calls)
	}
}

func TestManager_ApplyImage(t *testing.T) {
	m, set, persister := testManager(t, replyWith(models.ChatResult{}))

	if _, err := m.ApplyImage(imgX, "sharper", "Enhanced"); !errors.Is(err, ErrNoSelection) {
		t.Errorf("ApplyImage() without selection error = %v", err)
	}

	mustSelect(t, m, "B")
	done, err := m.ApplyImage(imgX, "sharper", "Enhanced")
	if err != nil {
		t.Fatalf("ApplyImage() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("persist error = %v", err)
	}

	if s, _ := set.Get("B"); s.GeneratedImageURL != imgX || s.RevisedPrompt != "sharper" {
		t.Errorf("suggestion = %+v", s)
	}
	if h := m.History(); len(h) != 1 || h[0].ImageURL != imgX {
		t.Errorf("History() = %+v", h)
	}
	if calls := persister.snapshot(); len(calls) != 1 || calls[0].source != models.SourceEnhance {
		t.Errorf("persist calls = %+v", calls)
	}
}

func TestManager_Close(t *testing.T) {
	m, _, _ := testManager(t, replyWith(models.ChatResult{ImageURL: imgX}))
	mustSelect(t, m, "A")
	r, _ := m.Submit(context.Background(), "one")
	waitRound(t, r)

	m.Close()

	if m.State() != StateIdle || m.SelectedID() != "" {
		t.Errorf("after Close() state = %v, selected = %q", m.State(), m.SelectedID())
	}
	if len(m.Messages()) != 0 || len(m.History()) != 0 {
		t.Error("Close() left conversation state")
	}
}

func TestManager_Submit_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client, err := webhook.New(webhook.Config{
		SuggestionURL: server.URL,
		ChatURL:       server.URL,
		Timeout:       50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("webhook.New() error = %v", err)
	}

	m, set, _ := testManager(t, client)
	mustSelect(t, m, "A")
	before := len(m.Messages())

	round, err := m.Submit(context.Background(), "brighter")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	result := waitRound(t, round)

	if result.Error == "" {
		t.Error("result.Error is empty")
	}
	msgs := m.Messages()
	if len(msgs) != before+2 {
		t.Fatalf("len(Messages()) = %d, want %d", len(msgs), before+2)
	}
	last := msgs[len(msgs)-1]
	if last.Sender != models.SenderAI || !strings.Contains(last.Content, "timed out") {
		t.Errorf("AI message = %+v", last)
	}
	if m.State() != StateActive {
		t.Errorf("State() = %v, want active", m.State())
	}
	if s, _ := set.Get("A"); s.GeneratedImageURL != imgA {
		t.Errorf("image changed to %q", s.GeneratedImageURL)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:             "idle",
		StateActive:           "active",
		StateAwaitingResponse: "awaiting response",
		State(99):             "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
