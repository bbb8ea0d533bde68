package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/api/dto"
	"github.com/cuongbtq/voicenote-jobs/internal/supervisor"
)

// apiError is an error envelope returned by the admin API
type apiError struct {
	Status        int
	Code          string
	Message       string
	CorrelationID string
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	if e.CorrelationID != "" {
		msg += " [correlation id " + e.CorrelationID + "]"
	}
	return msg
}

// adminClient talks to the admin HTTP API of the api service
type adminClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAdminClient(baseURL, token string, timeout time.Duration) *adminClient {
	return &adminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *adminClient) AllStats(ctx context.Context) (supervisor.AllStatsResult, error) {
	var out supervisor.AllStatsResult
	err := c.do(ctx, http.MethodGet, "/api/v1/queues", nil, &out)
	return out, err
}

func (c *adminClient) Stats(ctx context.Context, queueName string) (supervisor.QueueStatsResult, error) {
	var out supervisor.QueueStatsResult
	err := c.do(ctx, http.MethodGet, "/api/v1/queues/"+url.PathEscape(queueName), nil, &out)
	return out, err
}

// Control runs pause, resume or clean on a queue
func (c *adminClient) Control(ctx context.Context, queueName, action string) (supervisor.ActionResult, error) {
	var out supervisor.ActionResult
	err := c.do(ctx, http.MethodPost, "/api/v1/queues/"+url.PathEscape(queueName)+"/"+action, nil, &out)
	return out, err
}

func (c *adminClient) Process(ctx context.Context, noteID string, req dto.ProcessNoteRequest) (dto.ProcessNoteResponse, error) {
	var out dto.ProcessNoteResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/notes/"+url.PathEscape(noteID)+"/process", req, &out)
	return out, err
}

func (c *adminClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope dto.ErrorResponse
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code == "" {
			return &apiError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: strings.TrimSpace(string(data))}
		}
		return &apiError{
			Status:        resp.StatusCode,
			Code:          envelope.Error.Code,
			Message:       envelope.Error.Message,
			CorrelationID: envelope.Error.CorrelationID,
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
