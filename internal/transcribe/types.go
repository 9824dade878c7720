package transcribe

import (
	"time"

	"github.com/google/uuid"
)

// Segment is a piece of transcript text anchored at an offset in seconds
// from the start of the audio.
type Segment struct {
	Time float64 `json:"time"`
	Text string  `json:"text"`
}

// Submission is one user-provided audio file. Content is never modified
// after creation.
type Submission struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	MediaType   string    `json:"media_type"`
	Size        int64     `json:"size"`
	SubmittedAt time.Time `json:"submitted_at"`
	Content     []byte    `json:"-"`
}

// NewSubmission wraps uploaded bytes with a fresh ID.
func NewSubmission(fileName, mediaType string, content []byte) *Submission {
	return &Submission{
		ID:          uuid.NewString(),
		FileName:    fileName,
		MediaType:   mediaType,
		Size:        int64(len(content)),
		SubmittedAt: time.Now().UTC(),
		Content:     content,
	}
}

// Status is the lifecycle state shared by jobs, chunks and queue items.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusPreparing  Status = "preparing"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Result is a finished transcription.
type Result struct {
	ID       string     `json:"id"`
	FileName string     `json:"file_name"`
	Text     string     `json:"text"`
	Segments []Segment  `json:"segments"`
	Duration float64    `json:"duration"`
	Size     int64      `json:"size"`
	Date     time.Time  `json:"date"`
	Status   Status     `json:"status"`
	Provider ProviderID `json:"provider"`
	Model    string     `json:"model,omitempty"`
	Language string     `json:"language,omitempty"`
}
