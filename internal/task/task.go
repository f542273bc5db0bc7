package task

import (
	"path/filepath"
	"strings"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a task in state s may move to next.
// Queued -> Processing -> {Completed | Failed}; a queued task may also
// fail directly (e.g. its worker could not start).
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

var (
	imageExts = map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".bmp":  true,
		".tiff": true,
		".tif":  true,
		".webp": true,
	}
	videoExts = map[string]bool{
		".mp4":  true,
		".mov":  true,
		".avi":  true,
		".mkv":  true,
		".webm": true,
	}
)

// KindForFilename resolves the media kind from a file name's extension.
func KindForFilename(name string) (MediaKind, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case imageExts[ext]:
		return KindImage, true
	case videoExts[ext]:
		return KindVideo, true
	default:
		return "", false
	}
}

// OutputExt returns the extension the rendered artifact is written with.
// WebP has no encoder available, so watermarked WebP images become PNG.
// WebM cannot carry H.264/AAC, so watermarked WebM videos become MP4.
func OutputExt(kind MediaKind, inputExt string) string {
	ext := strings.ToLower(inputExt)
	switch {
	case kind == KindImage && ext == ".webp":
		return ".png"
	case kind == KindVideo && ext == ".webm":
		return ".mp4"
	}
	return ext
}

// Artifact describes the rendered output of a completed task.
type Artifact struct {
	Name         string    `json:"name"`
	Kind         MediaKind `json:"kind"`
	OriginalName string    `json:"original_name"`
}

type Task struct {
	ID          string    `json:"id"`
	Kind        MediaKind `json:"kind"`
	DisplayName string    `json:"display_name"`
	InputPath   string    `json:"input_path,omitempty"`
	Status      Status    `json:"status"`
	Result      *Artifact `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out of a store.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}

// View is the status snapshot exposed to pollers.
type View struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Result    *Artifact `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Task) View() View {
	c := t.Clone()
	return View{
		ID:        c.ID,
		Status:    c.Status,
		Result:    c.Result,
		Error:     c.Error,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
