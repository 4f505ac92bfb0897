package openai

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
)

func testImage(t *testing.T) *imageio.Image {
	t.Helper()
	img, err := imageio.FromRaster(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)
	return img
}

func TestNewCaptioner_RequiresKey(t *testing.T) {
	_, err := NewCaptioner("")
	assert.Error(t, err)
}

func TestCaptioner_Caption(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4.1-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "  a red floral dress  "}
			}]
		}`))
	}))
	defer server.Close()

	c, err := NewCaptioner("test-key", WithBaseURL(server.URL), WithMaxRetries(0))
	require.NoError(t, err)

	caption, err := c.Caption(context.Background(), testImage(t))
	require.NoError(t, err)
	assert.Equal(t, "a red floral dress", caption)

	assert.Equal(t, defaultModel, body["model"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	user := messages[1].(map[string]any)
	parts := user["content"].([]any)
	imagePart := parts[0].(map[string]any)
	assert.Equal(t, "image_url", imagePart["type"])
	url := imagePart["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestCaptioner_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer server.Close()

	c, err := NewCaptioner("test-key", WithBaseURL(server.URL), WithMaxRetries(0))
	require.NoError(t, err)

	_, err = c.Caption(context.Background(), testImage(t))
	assert.ErrorContains(t, err, "no choices")
}

func TestCaptioner_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid image","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	c, err := NewCaptioner("test-key", WithBaseURL(server.URL), WithMaxRetries(0))
	require.NoError(t, err)

	_, err = c.Caption(context.Background(), testImage(t))
	assert.ErrorContains(t, err, "failed to caption image")
}
