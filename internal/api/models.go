package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/crate-api/internal/domain"
)

// Common request/response structures

// LoginRequest defines the payload for the operator login endpoint.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=1"`
}

// AuthResponse defines the successful response for the login endpoint.
type AuthResponse struct {
	// AccessToken is the JWT token used for API authorization
	AccessToken string `json:"token"`

	// ExpiresAt is the ISO 8601 timestamp when the access token expires
	ExpiresAt string `json:"expires_at,omitempty"`
}

// CreateDownloadRequest defines the payload for submitting a download.
type CreateDownloadRequest struct {
	TaskType   string                 `json:"task_type"   validate:"required,oneof=track album artist"`
	EntityID   string                 `json:"entity_id"   validate:"required,min=1,max=64"`
	EntityName string                 `json:"entity_name" validate:"max=512"`
	Options    DownloadOptionsRequest `json:"options"`
}

// DownloadOptionsRequest carries the optional per-type download knobs.
type DownloadOptionsRequest struct {
	FilterArtistID   string `json:"filter_artist_id" validate:"max=64"`
	IncludeSingles   bool   `json:"include_singles"`
	IncludeAppearsOn bool   `json:"include_appears_on"`
	MinTracks        int    `json:"min_tracks"       validate:"min=0"`
}

// TaskResponse is the API representation of a download task.
type TaskResponse struct {
	ID           uuid.UUID              `json:"id"`
	TaskType     string                 `json:"task_type"`
	EntityID     string                 `json:"entity_id"`
	EntityName   string                 `json:"entity_name,omitempty"`
	Status       string                 `json:"status"`
	AttemptCount int                    `json:"attempt_count"`
	MaxAttempts  int                    `json:"max_attempts"`
	Progress     domain.Progress        `json:"progress"`
	Result       *domain.DownloadResult `json:"result,omitempty"`
	LastError    string                 `json:"last_error,omitempty"`
	NotBefore    *time.Time             `json:"not_before,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// TaskListResponse wraps a page of tasks.
type TaskListResponse struct {
	Tasks  []TaskResponse `json:"tasks"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

// NewTaskResponse converts a domain task to its API representation.
// Lease internals (worker identity, heartbeat timestamps) are not
// exposed.
func NewTaskResponse(task *domain.DownloadTask) TaskResponse {
	return TaskResponse{
		ID:           task.ID,
		TaskType:     string(task.Payload.TaskType),
		EntityID:     task.Payload.EntityID,
		EntityName:   task.Payload.EntityName,
		Status:       string(task.Status),
		AttemptCount: task.AttemptCount,
		MaxAttempts:  task.MaxAttempts,
		Progress:     task.Progress,
		Result:       task.Result,
		LastError:    task.LastError,
		NotBefore:    task.NotBefore,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
	}
}
