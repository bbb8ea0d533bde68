package domain

import "time"

// NoteStatus is the processing status of a voice note
type NoteStatus string

// Note status constants
const (
	NoteStatusIdle         NoteStatus = "idle"
	NoteStatusUploading    NoteStatus = "uploading"
	NoteStatusUploaded     NoteStatus = "uploaded"
	NoteStatusTranscribing NoteStatus = "transcribing"
	NoteStatusSummarizing  NoteStatus = "summarizing"
	NoteStatusReady        NoteStatus = "ready"
	NoteStatusError        NoteStatus = "error"
)

// Note is a voice note as seen by the job orchestration layer
type Note struct {
	ID          string
	OwnerID     string
	Title       string
	Tags        []string
	Status      NoteStatus
	Transcript  *string
	Summary     *string
	ActionItems []ActionItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActionItem is one checklist entry extracted from a summary
type ActionItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Summary is the output of a summarization provider
type Summary struct {
	Text        string
	ActionItems []ActionItem
}

// noteTransitions lists the allowed edges of the note status machine.
// Moving to NoteStatusError is allowed from every status and is not listed.
var noteTransitions = map[NoteStatus][]NoteStatus{
	NoteStatusIdle:         {NoteStatusUploading},
	NoteStatusUploading:    {NoteStatusUploaded},
	NoteStatusUploaded:     {NoteStatusTranscribing},
	NoteStatusTranscribing: {NoteStatusTranscribing, NoteStatusSummarizing},
	NoteStatusSummarizing:  {NoteStatusSummarizing, NoteStatusReady},
	NoteStatusReady:        {NoteStatusTranscribing},
	NoteStatusError:        {NoteStatusTranscribing, NoteStatusUploaded},
}

// Valid reports whether s is one of the known note statuses
func (s NoteStatus) Valid() bool {
	_, ok := noteTransitions[s]
	return ok
}

// CanTransition reports whether a note may move from one status to another
func CanTransition(from, to NoteStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == NoteStatusError {
		return true
	}
	for _, next := range noteTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AcceptsTranscription reports whether a transcribe job may be submitted for a note in this status
func (s NoteStatus) AcceptsTranscription() bool {
	switch s {
	case NoteStatusUploaded, NoteStatusReady, NoteStatusError:
		return true
	default:
		return false
	}
}
