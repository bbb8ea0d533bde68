package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, string) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	mediaRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mediaRoot, "note.m4a"), []byte("fake audio"), 0o644))

	client := NewClient(Config{APIKey: "test-key", MediaRoot: mediaRoot}, WithBaseURL(server.URL))
	return client, mediaRoot
}

func providerKind(t *testing.T, err error) domain.ProviderErrorKind {
	t.Helper()
	var providerErr *domain.ProviderError
	require.True(t, errors.As(err, &providerErr), "expected provider error, got %v", err)
	return providerErr.Kind
}

func TestClient_Transcribe(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "fr", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "note.m4a", header.Filename)
		assert.Equal(t, "fake audio", string(data))

		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  bonjour à tous  "})
	})

	text, err := client.Transcribe(context.Background(), "note.m4a", "fr")
	require.NoError(t, err)
	assert.Equal(t, "bonjour à tous", text)
}

func TestClient_TranscribeErrors(t *testing.T) {
	tests := []struct {
		name     string
		mediaRef string
		status   int
		wantKind domain.ProviderErrorKind
	}{
		{name: "rate limited", mediaRef: "note.m4a", status: http.StatusTooManyRequests, wantKind: domain.ProviderTransient},
		{name: "server error", mediaRef: "note.m4a", status: http.StatusBadGateway, wantKind: domain.ProviderTransient},
		{name: "request timeout", mediaRef: "note.m4a", status: http.StatusRequestTimeout, wantKind: domain.ProviderTransient},
		{name: "bad request", mediaRef: "note.m4a", status: http.StatusBadRequest, wantKind: domain.ProviderTerminal},
		{name: "unauthorized", mediaRef: "note.m4a", status: http.StatusUnauthorized, wantKind: domain.ProviderTerminal},
		{name: "missing media", mediaRef: "missing.m4a", wantKind: domain.ProviderTerminal},
		{name: "path traversal", mediaRef: "../secret.m4a", wantKind: domain.ProviderTerminal},
		{name: "empty reference", mediaRef: "", wantKind: domain.ProviderTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"message": "nope", "type": "invalid_request_error"},
				})
			})

			_, err := client.Transcribe(context.Background(), tt.mediaRef, "")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, providerKind(t, err))
			assert.Equal(t, tt.wantKind == domain.ProviderTransient, domain.IsRetryable(err))
		})
	}
}

func TestClient_TranscribeNetworkErrorIsTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	client.cfg.BaseURL = "http://127.0.0.1:1"

	_, err := client.Transcribe(context.Background(), "note.m4a", "")
	require.Error(t, err)
	assert.Equal(t, domain.ProviderTransient, providerKind(t, err))
}

func TestClient_Summarize(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantText  string
		wantItems []domain.ActionItem
		wantErr   bool
	}{
		{
			name:     "plain json",
			content:  `{"summary":"Weekly sync","action_items":["Email Bob"," ","Book room"]}`,
			wantText: "Weekly sync",
			wantItems: []domain.ActionItem{
				{Text: "Email Bob"},
				{Text: "Book room"},
			},
		},
		{
			name:     "code fence",
			content:  "```json\n{\"summary\":\"Idea\",\"action_items\":[]}\n```",
			wantText: "Idea",
		},
		{
			name:    "malformed",
			content: "I could not summarize this",
			wantErr: true,
		},
		{
			name:    "empty summary",
			content: `{"summary":"","action_items":["x"]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/chat/completions", r.URL.Path)

				var req chatCompletionRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "gpt-4o-mini", req.Model)
				require.Len(t, req.Messages, 2)
				assert.Contains(t, req.Messages[1].Content, "we should email Bob")

				_ = json.NewEncoder(w).Encode(map[string]any{
					"choices": []any{
						map[string]any{"message": map[string]any{"content": tt.content}},
					},
				})
			})

			summary, err := client.Summarize(context.Background(), "we should email Bob", "")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, domain.ProviderTerminal, providerKind(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, summary.Text)
			assert.Equal(t, tt.wantItems, summary.ActionItems)
		})
	}
}

func TestClient_SummarizeRequiresTranscriptAndKey(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := client.Summarize(context.Background(), "   ", "")
	assert.Equal(t, domain.ProviderTerminal, providerKind(t, err))

	noKey := NewClient(Config{})
	_, err = noKey.Summarize(context.Background(), "hello", "")
	assert.Equal(t, domain.ProviderTerminal, providerKind(t, err))
}
