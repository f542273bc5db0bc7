package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/podushkina/watermarkd/internal/registry"
	"github.com/podushkina/watermarkd/internal/storage"
	"github.com/podushkina/watermarkd/internal/task"
	"github.com/podushkina/watermarkd/internal/worker"
)

// multipartOverhead is allowed on top of the upload limit for form headers.
const multipartOverhead = 1 << 20

type Handler struct {
	orch      *worker.Orchestrator
	tasks     *registry.Registry
	store     *storage.Local
	maxUpload int64
	logger    *zap.Logger
}

func NewHandler(orch *worker.Orchestrator, tasks *registry.Registry, store *storage.Local, maxUpload int64, logger *zap.Logger) *Handler {
	return &Handler{
		orch:      orch,
		tasks:     tasks,
		store:     store,
		maxUpload: maxUpload,
		logger:    logger.Named("api"),
	}
}

type SubmitResponse struct {
	TaskID string         `json:"task_id"`
	Status task.Status    `json:"status"`
	Kind   task.MediaKind `json:"kind"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateTask accepts a multipart upload in the "file" field and queues it
// for watermarking.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "no file uploaded")
			return
		}
		if err != nil {
			h.uploadError(w, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		h.submit(w, r, part)
		part.Close()
		return
	}
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, file *multipart.Part) {
	name := file.FileName()
	if name == "" {
		respondError(w, http.StatusBadRequest, "no file selected")
		return
	}

	kind, ok := task.KindForFilename(name)
	if !ok {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file format: %s", strings.ToLower(filepath.Ext(name))))
		return
	}

	path, _, err := h.store.SaveUpload(r.Context(), file, name, h.maxUpload)
	if err != nil {
		h.uploadError(w, err)
		return
	}

	exec, err := h.orch.Submit(r.Context(), worker.Job{InputPath: path, Kind: kind, DisplayName: storage.BaseName(name)})
	if err != nil {
		os.Remove(path)
		switch {
		case errors.Is(err, worker.ErrEmptyInput), errors.Is(err, worker.ErrUnsupportedKind):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, worker.ErrStopped):
			respondError(w, http.StatusServiceUnavailable, "server is shutting down")
		default:
			h.logger.Error("submit failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Location", "/tasks/"+exec.TaskID)
	respondJSON(w, http.StatusAccepted, SubmitResponse{
		TaskID: exec.TaskID,
		Status: task.StatusQueued,
		Kind:   kind,
	})
}

func (h *Handler) uploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.Is(err, storage.ErrTooLarge) || errors.As(err, &maxErr) {
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds the %d byte limit", h.maxUpload))
		return
	}
	h.logger.Error("upload failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "failed to save upload")
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, t.View())
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]task.View, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, t.View())
	}
	respondJSON(w, http.StatusOK, views)
}

// PreviewArtifact serves an artifact inline.
func (h *Handler) PreviewArtifact(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, "")
}

// DownloadArtifact serves an artifact as an attachment named after the
// original upload.
func (h *Handler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.serveArtifact(w, r, storage.DownloadName(r.URL.Query().Get("original_name"), name))
}

func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, attachment string) {
	name := chi.URLParam(r, "name")

	path, err := h.store.ArtifactPath(name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, "file not found")
		case errors.Is(err, storage.ErrInvalidName):
			respondError(w, http.StatusBadRequest, "invalid file name")
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	f, err := os.Open(path)
	if err != nil {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", storage.ContentType(name))
	if attachment != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment}))
	}
	http.ServeContent(w, r, name, st.ModTime(), f)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
