package dto

import "time"

type ProcessNoteRequest struct {
	MediaRef string `json:"media_ref" binding:"required"`
	Language string `json:"language"`
}

type ProcessNoteResponse struct {
	JobID     string    `json:"job_id"`
	NoteID    string    `json:"note_id"`
	Queue     string    `json:"queue"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
