package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/api/shared"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/task"
	"go.uber.org/multierr"
)

// JobRunner is the subset of the task runner used by the API.
type JobRunner interface {
	Submit(ctx context.Context, t task.Task) (task.Record, error)
	Get(ctx context.Context, id, userID uuid.UUID) (task.Record, error)
	Cancel(ctx context.Context, id, userID uuid.UUID) error
}

// JobHandlerConfig bounds uploaded archives.
type JobHandlerConfig struct {
	// StagingDir receives spooled uploads; empty uses the system temporary directory.
	StagingDir string

	// MaxUploadBytes bounds the uploaded archive.
	MaxUploadBytes int64
}

// JobHandler submits export and import jobs and reports their progress.
type JobHandler struct {
	runner   JobRunner
	boxes    BoxService
	exporter task.Exporter
	importer task.Importer
	config   JobHandlerConfig
	logger   *slog.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(
	runner JobRunner,
	boxes BoxService,
	exporter task.Exporter,
	importer task.Importer,
	config JobHandlerConfig,
	logger *slog.Logger,
) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		runner:   runner,
		boxes:    boxes,
		exporter: exporter,
		importer: importer,
		config:   config,
		logger:   logger.With(slog.String("component", "job_handler")),
	}
}

// ExportBox handles POST /api/boxes/{boxID}/export. Ownership is checked
// before the job is queued.
func (h *JobHandler) ExportBox(w http.ResponseWriter, r *http.Request) {
	userID, boxID, ok := handleUserIDAndPathUUID(w, r, "boxID")
	if !ok {
		return
	}
	if _, err := h.boxes.Get(r.Context(), userID, boxID); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	t, err := task.NewExportTask(h.exporter, userID, boxID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	h.submit(w, r, t)
}

// ImportBox handles POST /api/imports, a multipart form with the archive in
// the file part and the new box's name in box_name. The archive is spooled
// to disk and imported in the background.
func (h *JobHandler) ImportBox(w http.ResponseWriter, r *http.Request) {
	userID, ok := handleUserID(w, r)
	if !ok {
		return
	}
	if h.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	}

	boxName, path, err := h.spoolUpload(r)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	t, err := task.NewImportTask(h.importer, userID, boxName, path)
	if err != nil {
		_ = os.Remove(path)
		respondWithServiceError(w, r, err)
		return
	}
	h.submit(w, r, t)
}

// GetJob handles GET /api/jobs/{jobID}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := handleUserIDAndPathUUID(w, r, "jobID")
	if !ok {
		return
	}
	rec, err := h.runner.Get(r.Context(), jobID, userID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, rec)
}

// CancelJob handles DELETE /api/jobs/{jobID}.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := handleUserIDAndPathUUID(w, r, "jobID")
	if !ok {
		return
	}
	if err := h.runner.Cancel(r.Context(), jobID, userID); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *JobHandler) submit(w http.ResponseWriter, r *http.Request, t task.Task) {
	rec, err := h.runner.Submit(r.Context(), t)
	if err != nil {
		// The runner discards tasks it could not enqueue.
		rejected := errors.Is(err, task.ErrQueueFull) || errors.Is(err, task.ErrQueueClosed)
		if d, ok := t.(interface{ Discard() error }); ok && !rejected {
			_ = d.Discard()
		}
		respondWithServiceError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "job submitted",
		slog.String("job_id", rec.ID.String()),
		slog.String("type", rec.Type))
	w.Header().Set("Location", "/api/jobs/"+rec.ID.String())
	shared.RespondWithJSON(w, r, http.StatusAccepted, rec)
}

// spoolUpload streams the multipart body, validating box_name and copying
// the file part to a staging file. It returns the box name and file path.
func (h *JobHandler) spoolUpload(r *http.Request) (boxName, path string, err error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", "", domain.NewValidationError("body", "must be multipart/form-data")
	}

	defer func() {
		if err != nil && path != "" {
			err = multierr.Append(err, os.Remove(path))
			path = ""
		}
	}()

	for {
		part, perr := mr.NextPart()
		if errors.Is(perr, io.EOF) {
			break
		}
		if perr != nil {
			return "", path, uploadError(perr)
		}

		switch part.FormName() {
		case "box_name":
			raw, rerr := io.ReadAll(io.LimitReader(part, 4*domain.MaxBoxNameLength))
			if rerr != nil {
				return "", path, uploadError(rerr)
			}
			boxName = strings.TrimSpace(string(raw))
		case "file":
			if path != "" {
				return "", path, domain.NewValidationError("file", "must be sent once")
			}
			if path, err = h.spoolFile(part); err != nil {
				return "", path, err
			}
		}
		_ = part.Close()
	}

	if path == "" {
		return "", "", domain.NewValidationError("file", "is required")
	}
	if n := utf8.RuneCountInString(boxName); n == 0 || n > domain.MaxBoxNameLength {
		return "", path, domain.NewValidationError("box_name", fmt.Sprintf("must be between 1 and %d characters", domain.MaxBoxNameLength))
	}
	return boxName, path, nil
}

func (h *JobHandler) spoolFile(part *multipart.Part) (path string, err error) {
	f, err := os.CreateTemp(h.config.StagingDir, "upload-*.zip")
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	path = f.Name()
	if _, err := io.Copy(f, part); err != nil {
		_ = f.Close()
		return path, uploadError(err)
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("failed to write upload file: %w", err)
	}
	return path, nil
}

func uploadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return domain.NewValidationError("file", "is too large")
	}
	return domain.NewValidationError("body", fmt.Sprintf("could not be read: %v", err))
}
