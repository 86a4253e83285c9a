package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manash/adcraft/pkg/models"
)

var pngImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR0000")

func TestSynthesize_Defaults(t *testing.T) {
	got := Synthesize(models.AdInput{Context: "x"})

	require.Len(t, got, 2)
	assert.Equal(t, models.PlatformLinkedIn, got[0].Platform)
	assert.Equal(t, models.PlatformGoogle, got[1].Platform)
	assert.NotEqual(t, got[0].ID, got[1].ID)

	for _, s := range got {
		text := s.Headline + " " + s.Description
		assert.Contains(t, text, "Property Managers in Boston")
		assert.Contains(t, text, "Smart Space Optimization")
		assert.Empty(t, s.GeneratedImageURL)
		assert.NoError(t, s.Validate())
	}
}

func TestSynthesize_CustomAudience(t *testing.T) {
	got := Synthesize(models.AdInput{Context: "x", TargetAudience: "Facility Directors", TopicArea: "Energy Savings"})
	for _, s := range got {
		assert.Contains(t, s.Description, "Facility Directors")
		assert.Contains(t, s.Description, "Energy Savings")
	}
}

func TestGenerateSuggestions_NoImagePayload(t *testing.T) {
	var payload map[string]any
	server := jsonServer(t, http.StatusOK, `{}`, func(m map[string]any) { payload = m })
	c := newTestClient(t, server.URL, nil)

	got := c.GenerateSuggestions(context.Background(), models.AdInput{Context: "x"})

	require.Len(t, got, 2)
	for _, s := range got {
		assert.Empty(t, s.GeneratedImageURL)
	}

	require.NotNil(t, payload)
	input := payload["input"].(map[string]any)
	assert.Equal(t, "x", input["context"])
	assert.Equal(t, "Property Managers in Boston", input["target_audience"])
	assert.Equal(t, "Smart Space Optimization", input["topic_area"])
	assert.Equal(t, false, input["has_image"])
	assert.NotEmpty(t, input["timestamp"])
	assert.Len(t, payload["generated_suggestions"], 2)
	assert.NotContains(t, payload, "uploadedImage")
	assert.NotContains(t, payload, "metadata")
}

func TestGenerateSuggestions_EmbedsImage(t *testing.T) {
	var payload map[string]any
	server := jsonServer(t, http.StatusOK, `{}`, func(m map[string]any) { payload = m })
	c := newTestClient(t, server.URL, nil)

	c.GenerateSuggestions(context.Background(), models.AdInput{Context: "x", Image: pngImage, ImageFilename: "logo.png"})

	require.NotNil(t, payload)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngImage), payload["uploadedImage"])
	meta := payload["metadata"].(map[string]any)
	assert.Equal(t, "image/png", meta["imageType"])
	assert.Equal(t, float64(len(pngImage)), meta["imageSize"])
	assert.Equal(t, "logo.png", meta["imageFilename"])
}

func TestEncodeImage_Ceilings(t *testing.T) {
	c, err := New(Config{SuggestionURL: "https://s", ChatURL: "https://c", MaxImageBytes: 16, MaxEncodedBytes: 20})
	require.NoError(t, err)

	_, ok := c.encodeImage(nil)
	assert.False(t, ok, "empty image")

	_, ok = c.encodeImage(make([]byte, 17))
	assert.False(t, ok, "raw ceiling")

	// 15 raw bytes encode to 20 characters.
	_, ok = c.encodeImage(make([]byte, 15))
	assert.True(t, ok, "within both ceilings")

	// 16 raw bytes encode to 24 characters.
	_, ok = c.encodeImage(make([]byte, 16))
	assert.False(t, ok, "encoded ceiling")
}

func TestGenerateSuggestions_SplicesImages(t *testing.T) {
	body := `{"images":[
		{"url":"https://cdn.example.com/li.png","revised_prompt":"linkedin prompt"},
		{"url":"https://cdn.example.com/g.png","revised_prompt":"google prompt"}
	]}`
	server := jsonServer(t, http.StatusOK, body, nil)
	c := newTestClient(t, server.URL, nil)

	got := c.GenerateSuggestions(context.Background(), models.AdInput{Context: "x"})

	require.Len(t, got, 2)
	assert.Equal(t, "https://cdn.example.com/li.png", got[0].GeneratedImageURL)
	assert.Equal(t, "linkedin prompt", got[0].RevisedPrompt)
	assert.Equal(t, "https://cdn.example.com/g.png", got[1].GeneratedImageURL)
	assert.Equal(t, "google prompt", got[1].RevisedPrompt)
}

func TestSpliceImages_PartitionOrder(t *testing.T) {
	suggestions := []models.AdSuggestion{
		{ID: "g1", Platform: models.PlatformGoogle},
		{ID: "l1", Platform: models.PlatformLinkedIn},
		{ID: "l2", Platform: models.PlatformLinkedIn},
	}
	images := []webhookImage{
		{URL: "https://x/1.png"},
		{URL: "not a url"},
		{URL: "https://x/3.png"},
	}

	spliceImages(suggestions, images)

	assert.Equal(t, "https://x/1.png", suggestions[1].GeneratedImageURL)
	assert.Empty(t, suggestions[2].GeneratedImageURL, "invalid URL is skipped")
	assert.Equal(t, "https://x/3.png", suggestions[0].GeneratedImageURL)
}

func TestSpliceImages_FewerImages(t *testing.T) {
	suggestions := Synthesize(models.AdInput{Context: "x"})
	spliceImages(suggestions, []webhookImage{{URL: "https://x/1.png"}})

	assert.Equal(t, "https://x/1.png", suggestions[0].GeneratedImageURL)
	assert.Empty(t, suggestions[1].GeneratedImageURL)
}

func TestGenerateSuggestions_FailureSwallowed(t *testing.T) {
	rec := &fakeRecorder{}
	server := jsonServer(t, http.StatusInternalServerError, `{"error":"boom"}`, nil)
	c := newTestClient(t, server.URL, rec)

	got := c.GenerateSuggestions(context.Background(), models.AdInput{Context: "x"})

	require.Len(t, got, 2)
	// No image attached, so no stripped retry.
	assert.Len(t, rec.snapshot(), 1)
}

func TestGenerateSuggestions_RetryWithoutImage(t *testing.T) {
	var mu sync.Mutex
	var payloads []map[string]any
	attempt := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		json.NewDecoder(r.Body).Decode(&m)

		mu.Lock()
		payloads = append(payloads, m)
		attempt++
		n := attempt
		mu.Unlock()

		if n == 1 {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.Write([]byte(`{"images":[{"url":"https://cdn.example.com/a.png","revised_prompt":"p"}]}`))
	}))
	defer server.Close()
	c := newTestClient(t, server.URL, nil)

	got := c.GenerateSuggestions(context.Background(), models.AdInput{Context: "x", Image: pngImage})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, payloads, 2)
	assert.Contains(t, payloads[0], "uploadedImage")
	assert.NotContains(t, payloads[1], "uploadedImage")
	assert.NotContains(t, payloads[1], "metadata")
	assert.Equal(t, "https://cdn.example.com/a.png", got[0].GeneratedImageURL)
}

func TestGenerateSuggestions_Unreachable(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1/hook", nil)
	got := c.GenerateSuggestions(context.Background(), models.AdInput{Context: "x", Image: pngImage})

	require.Len(t, got, 2)
	for _, s := range got {
		assert.True(t, strings.HasPrefix(s.Dimensions, "1200x"))
		assert.Empty(t, s.GeneratedImageURL)
	}
}
