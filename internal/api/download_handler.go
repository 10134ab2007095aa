package api

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/crate-api/internal/domain"
	"github.com/phrazzld/crate-api/internal/service"
	"github.com/phrazzld/crate-api/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// DownloadHandler handles the download task endpoints.
type DownloadHandler struct {
	downloads *service.DownloadService
	validator *validator.Validate
}

// NewDownloadHandler creates a new DownloadHandler with the given dependencies.
func NewDownloadHandler(downloads *service.DownloadService) *DownloadHandler {
	return &DownloadHandler{
		downloads: downloads,
		validator: validator.New(),
	}
}

// Create handles POST /downloads.
func (h *DownloadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDownloadRequest

	if err := DecodeJSON(r, &req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	task, err := h.downloads.Create(r.Context(), service.CreateDownloadRequest{
		TaskType:   domain.TaskType(req.TaskType),
		EntityID:   req.EntityID,
		EntityName: req.EntityName,
		Options: domain.DownloadOptions{
			FilterArtistID:   req.Options.FilterArtistID,
			IncludeSingles:   req.Options.IncludeSingles,
			IncludeAppearsOn: req.Options.IncludeAppearsOn,
			MinTracks:        req.Options.MinTracks,
		},
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create download task")
		return
	}

	RespondWithJSON(w, r, http.StatusCreated, NewTaskResponse(task))
}

// List handles GET /downloads. Supported query parameters: status,
// entity_id, offset, limit.
func (h *DownloadHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{Limit: defaultListLimit}

	if status := r.URL.Query().Get("status"); status != "" {
		if !domain.IsValidTaskStatus(domain.TaskStatus(status)) {
			RespondWithError(w, r, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filter.Status = domain.TaskStatus(status)
	}
	filter.EntityID = r.URL.Query().Get("entity_id")

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			RespondWithError(w, r, http.StatusBadRequest, "Invalid offset")
			return
		}
		filter.Offset = offset
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			RespondWithError(w, r, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	tasks, err := h.downloads.List(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list download tasks")
		return
	}

	resp := TaskListResponse{
		Tasks:  make([]TaskResponse, 0, len(tasks)),
		Offset: filter.Offset,
		Limit:  filter.Limit,
	}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, NewTaskResponse(task))
	}
	RespondWithJSON(w, r, http.StatusOK, resp)
}

// Get handles GET /downloads/{id}.
func (h *DownloadHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.downloads.Get(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load download task")
		return
	}

	RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(task))
}

// Cancel handles POST /downloads/{id}/cancel.
func (h *DownloadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.downloads.Cancel(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel download task")
		return
	}

	RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(task))
}

// Retry handles POST /downloads/{id}/retry.
func (h *DownloadHandler) Retry(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.downloads.Retry(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry download task")
		return
	}

	RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(task))
}

// Statistics handles GET /downloads/statistics.
func (h *DownloadHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.downloads.Statistics(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to compute statistics")
		return
	}

	RespondWithJSON(w, r, http.StatusOK, stats)
}
