package domain

import "time"

type WorkflowStatus string

const (
	StatusInitiated  WorkflowStatus = "initiated"
	StatusStored     WorkflowStatus = "stored"
	StatusProcessing WorkflowStatus = "processing"
	StatusCompleted  WorkflowStatus = "completed"
	StatusFailed     WorkflowStatus = "failed"
)

// predecessors lists, for every target status, the statuses a workflow may
// hold right before moving into it. Re-entering stored/processing is allowed
// so a redelivered storage event can finish a half-applied run.
var predecessors = map[WorkflowStatus][]WorkflowStatus{
	StatusStored:     {StatusInitiated, StatusStored},
	StatusProcessing: {StatusStored, StatusProcessing},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusInitiated, StatusStored, StatusProcessing},
}

// restarts lists, for a target status, the statuses a failed workflow may
// have failed from and still re-enter it. A failure recorded from these
// happened before any OCR job was attached to the workflow.
var restarts = map[WorkflowStatus][]WorkflowStatus{
	StatusStored: {StatusInitiated, StatusStored},
}

func (s WorkflowStatus) Valid() bool {
	switch s {
	case StatusInitiated, StatusStored, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

func (s WorkflowStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Predecessors returns the statuses from which a transition into s is legal.
func (s WorkflowStatus) Predecessors() []WorkflowStatus {
	out := make([]WorkflowStatus, len(predecessors[s]))
	copy(out, predecessors[s])
	return out
}

// RestartableFrom returns the FailedFrom values that let a failed workflow
// move into s.
func (s WorkflowStatus) RestartableFrom() []WorkflowStatus {
	out := make([]WorkflowStatus, len(restarts[s]))
	copy(out, restarts[s])
	return out
}

func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	for _, from := range predecessors[next] {
		if from == s {
			return true
		}
	}
	return false
}

type StorageLocation struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type Workflow struct {
	ID              string           `json:"id"`
	Status          WorkflowStatus   `json:"status"`
	FileName        string           `json:"file_name,omitempty"`
	FileType        string           `json:"file_type,omitempty"`
	StorageLocation *StorageLocation `json:"storage_location,omitempty"`
	JobID           string           `json:"job_id,omitempty"`
	ExtractedText   string           `json:"extracted_text,omitempty"`
	Confidence      float64          `json:"confidence,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	FailedFrom      WorkflowStatus   `json:"failed_from,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
}

func (w *Workflow) Expired(now time.Time) bool {
	return !w.ExpiresAt.IsZero() && !now.Before(w.ExpiresAt)
}

// CanMoveTo is the guard stores enforce on transition: a legal predecessor,
// or a failed workflow whose failure allows a restart into next.
func (w *Workflow) CanMoveTo(next WorkflowStatus) bool {
	if w.Status.CanTransitionTo(next) {
		return true
	}
	if w.Status != StatusFailed {
		return false
	}
	for _, from := range restarts[next] {
		if from == w.FailedFrom {
			return true
		}
	}
	return false
}

// WorkflowFields is merged into a record on transition. Nil fields are left
// untouched. ClearFailure drops the message and origin of an earlier failure.
type WorkflowFields struct {
	StorageLocation *StorageLocation
	JobID           *string
	ExtractedText   *string
	Confidence      *float64
	ErrorMessage    *string
	ClearJobID      bool
	ClearFailure    bool
}

// Apply merges the fields into w. Stores that keep whole documents use it to
// build the written record.
func (f WorkflowFields) Apply(w *Workflow) {
	if f.StorageLocation != nil {
		loc := *f.StorageLocation
		w.StorageLocation = &loc
	}
	if f.JobID != nil {
		w.JobID = *f.JobID
	}
	if f.ClearJobID {
		w.JobID = ""
	}
	if f.ExtractedText != nil {
		w.ExtractedText = *f.ExtractedText
	}
	if f.Confidence != nil {
		w.Confidence = *f.Confidence
	}
	if f.ClearFailure {
		w.ErrorMessage = ""
		w.FailedFrom = ""
	} else if f.ErrorMessage != nil {
		w.ErrorMessage = *f.ErrorMessage
	}
}

type UploadIntent struct {
	WorkflowID   string `json:"workflow_id"`
	Key          string `json:"key"`
	PresignedURL string `json:"presigned_url"`
	ExpiresIn    int    `json:"expires_in"`
}

type StorageEventResult struct {
	WorkflowID string         `json:"workflow_id"`
	Status     WorkflowStatus `json:"status"`
	JobID      string         `json:"job_id,omitempty"`
	Duplicate  bool           `json:"duplicate,omitempty"`
}
