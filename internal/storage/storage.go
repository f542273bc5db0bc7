// Package storage keeps uploads and rendered artifacts on the local
// filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")
	ErrTooLarge    = errors.New("upload exceeds size limit")
)

// Local stores uploads and artifacts in two directories.
type Local struct {
	uploadDir string
	outputDir string
}

func New(uploadDir, outputDir string) (*Local, error) {
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Local{uploadDir: uploadDir, outputDir: outputDir}, nil
}

func (l *Local) UploadDir() string { return l.uploadDir }
func (l *Local) OutputDir() string { return l.outputDir }

// SaveUpload writes r under a generated name that keeps the original
// extension and returns the stored path. A limit of zero disables the size
// check.
func (l *Local) SaveUpload(ctx context.Context, r io.Reader, originalName string, limit int64) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	dst := filepath.Join(l.uploadDir, strings.ReplaceAll(uuid.NewString(), "-", "")+ext)

	f, err := os.Create(dst)
	if err != nil {
		return "", 0, err
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && limit > 0 && n > limit {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(dst)
		return "", 0, err
	}
	return dst, n, nil
}

// ArtifactPath resolves an artifact name to its path in the output
// directory. Names that could escape the directory are rejected.
func (l *Local) ArtifactPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", ErrInvalidName
	}

	p := filepath.Join(l.outputDir, name)
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	if st.IsDir() {
		return "", ErrNotFound
	}
	return p, nil
}

// ContentType guesses the MIME type from the file extension.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// BaseName returns the last element of a client-supplied file name,
// treating backslashes as separators too. It returns "" when nothing is left.
func BaseName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// DownloadName is the attachment name offered for an artifact:
// "watermarked_" plus the original name. The artifact's extension is used
// when the original has none or when the output format changed.
func DownloadName(originalName, artifactName string) string {
	base := BaseName(originalName)
	if base == "" {
		return artifactName
	}
	ext, artifactExt := filepath.Ext(base), filepath.Ext(artifactName)
	if !strings.EqualFold(ext, artifactExt) {
		base = strings.TrimSuffix(base, ext) + artifactExt
	}
	return "watermarked_" + base
}
