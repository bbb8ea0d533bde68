// Package openai talks to OpenAI-compatible transcription and chat completion APIs.
//
// Every error returned by the client is a *domain.ProviderError, classified
// transient (network failures, timeouts, 408, 429, 5xx) or terminal (other
// 4xx, unreadable media, malformed responses).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
)

const (
	providerName           = "openai"
	defaultBaseURL         = "https://api.openai.com/v1"
	defaultTranscribeModel = "whisper-1"
	defaultSummaryModel    = "gpt-4o-mini"
	defaultRequestTimeout  = 2 * time.Minute
	maxErrorBody           = 4096
)

const summarySystemPrompt = `You summarize voice notes. Reply with a JSON object of the form
{"summary": "<short paragraph>", "action_items": ["<task>", ...]}.
Use the language of the transcript. Return an empty action_items array when there are no tasks.`

// Config captures the settings required to talk to the API
type Config struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	SummaryModel    string
	RequestTimeout  time.Duration
	// MediaRoot is the directory media references are resolved against
	MediaRoot string
}

// Client wraps the transcription and chat completion endpoints
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL points the client at another OpenAI-compatible server
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.cfg.BaseURL = strings.TrimSpace(baseURL)
	}
}

// NewClient constructs a client using the supplied configuration
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = defaultTranscribeModel
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = defaultSummaryModel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = defaultBaseURL
	}
	client.cfg.BaseURL = strings.TrimRight(client.cfg.BaseURL, "/")
	return client
}

// Transcribe uploads the media file referenced by mediaRef and returns its transcript
func (c *Client) Transcribe(ctx context.Context, mediaRef, language string) (string, error) {
	if err := c.ensureAPIKey(); err != nil {
		return "", err
	}

	path, err := c.resolveMedia(mediaRef)
	if err != nil {
		return "", err
	}

	file, err := os.Open(path)
	if err != nil {
		return "", domain.NewTerminalError(providerName, 0, fmt.Errorf("open media: %w", err))
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", domain.NewTerminalError(providerName, 0, fmt.Errorf("create multipart file: %w", err))
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", domain.NewTerminalError(providerName, 0, fmt.Errorf("read media: %w", err))
	}
	if err := writer.WriteField("model", c.cfg.TranscribeModel); err != nil {
		return "", domain.NewTerminalError(providerName, 0, fmt.Errorf("write model field: %w", err))
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return "", domain.NewTerminalError(providerName, 0, fmt.Errorf("write language field: %w", err))
		}
	}
	if err := writer.Close(); err != nil {
		return "", domain.NewTerminalError(providerName, 0, fmt.Errorf("close multipart writer: %w", err))
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := c.post(ctx, "/audio/transcriptions", writer.FormDataContentType(), body, &payload); err != nil {
		return "", err
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return "", domain.NewTerminalError(providerName, 0, errors.New("empty transcript"))
	}
	return text, nil
}

// Summarize asks the chat completion endpoint for a summary and action items
func (c *Client) Summarize(ctx context.Context, transcript, language string) (domain.Summary, error) {
	if err := c.ensureAPIKey(); err != nil {
		return domain.Summary{}, err
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return domain.Summary{}, domain.NewTerminalError(providerName, 0, errors.New("transcript is empty"))
	}

	userPrompt := transcript
	if language != "" {
		userPrompt = fmt.Sprintf("Language: %s\n\n%s", language, transcript)
	}

	request := chatCompletionRequest{
		Model: c.cfg.SummaryModel,
		Messages: []chatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(request); err != nil {
		return domain.Summary{}, domain.NewTerminalError(providerName, 0, fmt.Errorf("encode summary request: %w", err))
	}

	var response chatCompletionResponse
	if err := c.post(ctx, "/chat/completions", "application/json", buf, &response); err != nil {
		return domain.Summary{}, err
	}
	if len(response.Choices) == 0 {
		return domain.Summary{}, domain.NewTerminalError(providerName, 0, errors.New("no summary returned"))
	}

	return parseSummary(response.Choices[0].Message.Content)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type summaryContent struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items"`
}

func parseSummary(content string) (domain.Summary, error) {
	content = stripCodeFence(content)

	var parsed summaryContent
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.Summary{}, domain.NewTerminalError(providerName, 0, fmt.Errorf("parse summary: %w", err))
	}

	summary := domain.Summary{Text: strings.TrimSpace(parsed.Summary)}
	if summary.Text == "" {
		return domain.Summary{}, domain.NewTerminalError(providerName, 0, errors.New("summary is empty"))
	}
	for _, item := range parsed.ActionItems {
		if item = strings.TrimSpace(item); item != "" {
			summary.ActionItems = append(summary.ActionItems, domain.ActionItem{Text: item})
		}
	}
	return summary, nil
}

// stripCodeFence removes a markdown code fence some models wrap JSON in
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if newline := strings.IndexByte(content, '\n'); newline >= 0 {
		content = content[newline+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return domain.NewTerminalError(providerName, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// network failures and deadlines are worth another attempt
		return domain.NewTransientError(providerName, 0, fmt.Errorf("request %s: %w", path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewTerminalError(providerName, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	var err error
	if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
		err = fmt.Errorf("api error: type %s message %s", apiErr.Error.Type, apiErr.Error.Message)
	} else {
		err = fmt.Errorf("api error: body %s", strings.TrimSpace(string(body)))
	}

	if isTransientStatus(resp.StatusCode) {
		return domain.NewTransientError(providerName, resp.StatusCode, err)
	}
	return domain.NewTerminalError(providerName, resp.StatusCode, err)
}

func isTransientStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

// resolveMedia maps a media reference to a file below the media root
func (c *Client) resolveMedia(mediaRef string) (string, error) {
	ref := strings.TrimSpace(mediaRef)
	if ref == "" {
		return "", domain.NewTerminalError(providerName, 0, errors.New("media reference is empty"))
	}
	if !filepath.IsLocal(ref) {
		return "", domain.NewTerminalError(providerName, 0, fmt.Errorf("media reference %q escapes the media root", mediaRef))
	}
	return filepath.Join(c.cfg.MediaRoot, ref), nil
}

func (c *Client) ensureAPIKey() error {
	if c.cfg.APIKey == "" {
		return domain.NewTerminalError(providerName, 0, errors.New("api key is not configured"))
	}
	return nil
}
