package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/api/dto"
	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/intake"
	"github.com/gin-gonic/gin"
)

// ProcessNote handles POST /api/v1/notes/:noteId/process
// Enqueues transcription of an uploaded note. Summarization follows on success.
func (h *NoteHandler) ProcessNote(c *gin.Context) {
	noteID := c.Param("noteId")

	var req dto.ProcessNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body",
			slog.String("note_id", noteID),
			slog.String("error", err.Error()),
		)
		AbortWithError(c, http.StatusBadRequest, CodeValidation, "media_ref is required")
		return
	}

	jobID, err := h.intake.Submit(c.Request.Context(), intake.Request{
		NoteID:   noteID,
		MediaRef: req.MediaRef,
		Language: req.Language,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.ProcessNoteResponse{
		JobID:     jobID,
		NoteID:    noteID,
		Queue:     string(domain.QueueTranscribe),
		Timestamp: time.Now().UTC(),
	})
}
