package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the queue state of a download task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskType identifies what kind of catalog entity a task downloads
type TaskType string

// Possible task type values
const (
	TaskTypeTrack  TaskType = "track"
	TaskTypeAlbum  TaskType = "album"
	TaskTypeArtist TaskType = "artist"
)

// Common validation errors for DownloadTask
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrInvalidTaskType   = errors.New("invalid task type")
	ErrEmptyEntityID     = errors.New("entity ID cannot be empty")
	ErrInvalidTaskStatus = errors.New("invalid task status")
	ErrInvalidAttempts   = errors.New("max attempts must be positive")
)

// DownloadOptions carries per-type knobs for a download task. Unused
// fields are ignored by the fetcher, so a single struct serves all
// task types.
type DownloadOptions struct {
	// FilterArtistID restricts an album download to tracks by this artist.
	FilterArtistID string `json:"filter_artist_id,omitempty"`

	// IncludeSingles includes single releases in an artist download.
	IncludeSingles bool `json:"include_singles,omitempty"`

	// IncludeAppearsOn includes albums the artist only appears on.
	IncludeAppearsOn bool `json:"include_appears_on,omitempty"`

	// MinTracks skips albums with fewer tracks in an artist download.
	// Zero means no minimum.
	MinTracks int `json:"min_tracks,omitempty"`
}

// DownloadPayload is the immutable work description for a task. It is
// everything the fetcher needs to perform the download.
type DownloadPayload struct {
	TaskType   TaskType        `json:"task_type"`
	EntityID   string          `json:"entity_id"`
	EntityName string          `json:"entity_name,omitempty"`
	Options    DownloadOptions `json:"options"`
}

// Progress tracks item-level completion within a multi-item task
// (album and artist downloads).
type Progress struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// DownloadResult describes the artifacts produced by a successful task.
type DownloadResult struct {
	// ArtifactPath is the library directory the files were written under.
	ArtifactPath string `json:"artifact_path"`

	// Files lists paths of files written, relative to ArtifactPath.
	Files []string `json:"files,omitempty"`

	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// DownloadTask is the unit of queued work. All coordination between
// workers happens through conditional updates of this record; the lease
// fields LeasedBy/LeasedAt/HeartbeatAt are set if and only if the task
// is running.
type DownloadTask struct {
	ID           uuid.UUID       `json:"id"`
	Payload      DownloadPayload `json:"payload"`
	Status       TaskStatus      `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	LeasedBy     string          `json:"leased_by,omitempty"`
	LeasedAt     *time.Time      `json:"leased_at,omitempty"`
	HeartbeatAt  *time.Time      `json:"heartbeat_at,omitempty"`
	NotBefore    *time.Time      `json:"not_before,omitempty"`
	Progress     Progress        `json:"progress"`
	Result       *DownloadResult `json:"result,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewDownloadTask creates a pending task for the given payload.
// It generates a new UUID, zeroes the attempt counter, and sets the
// creation/update timestamps. Returns an error if validation fails.
func NewDownloadTask(payload DownloadPayload, maxAttempts int) (*DownloadTask, error) {
	now := time.Now().UTC()
	task := &DownloadTask{
		ID:           uuid.New(),
		Payload:      payload,
		Status:       TaskStatusPending,
		AttemptCount: 0,
		MaxAttempts:  maxAttempts,
		Progress:     Progress{Total: 1},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the DownloadTask has valid data.
// Returns an error if any field fails validation.
func (t *DownloadTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if !IsValidTaskType(t.Payload.TaskType) {
		return ErrInvalidTaskType
	}

	if t.Payload.EntityID == "" {
		return ErrEmptyEntityID
	}

	if !IsValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if t.MaxAttempts <= 0 {
		return ErrInvalidAttempts
	}

	return nil
}

// Leased reports whether the task currently carries lease state.
func (t *DownloadTask) Leased() bool {
	return t.LeasedBy != "" && t.LeasedAt != nil
}

// Terminal reports whether the task has reached a state from which the
// lease selection will never pick it up again. FAILED tasks can only
// re-enter the queue through an explicit retry.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// AllTaskStatuses returns every valid task status.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusPending, TaskStatusRunning, TaskStatusDone,
		TaskStatusFailed, TaskStatusCancelled,
	}
}

// IsValidTaskStatus checks if the given status is a valid TaskStatus.
func IsValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusRunning, TaskStatusDone,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsValidTaskType checks if the given type is a valid TaskType.
func IsValidTaskType(taskType TaskType) bool {
	switch taskType {
	case TaskTypeTrack, TaskTypeAlbum, TaskTypeArtist:
		return true
	}
	return false
}
