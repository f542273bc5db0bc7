// Package ffmpeg runs the ffprobe and ffmpeg binaries for the video
// watermark pipeline.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const stderrTail = 1024

// Executor handles all ffmpeg operations
type Executor struct {
	logger      *zap.Logger
	ffmpegPath  string
	ffprobePath string
	profile     Profile
}

// New creates an executor. Binaries missing from PATH are not an error
// here: every invocation then fails and callers fall back accordingly.
func New(logger *zap.Logger, ffmpegBin, ffprobeBin string) *Executor {
	logger = logger.Named("ffmpeg")
	return &Executor{
		logger:      logger,
		ffmpegPath:  resolve(logger, ffmpegBin),
		ffprobePath: resolve(logger, ffprobeBin),
		profile:     DefaultProfile,
	}
}

func resolve(logger *zap.Logger, bin string) string {
	path, err := exec.LookPath(bin)
	if err != nil {
		logger.Warn("binary not found in PATH", zap.String("binary", bin), zap.Error(err))
		return bin
	}
	return path
}

// ProbeDimensions returns the pixel size of the first video stream.
func (e *Executor) ProbeDimensions(ctx context.Context, path string) (int, int, error) {
	if path == "" {
		return 0, 0, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-select_streams", "v:0",
		"-show_streams",
		path,
	}

	out, err := e.run(ctx, e.ffprobePath, args)
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseDimensions(out)
}

// Overlay composites req.Overlay over req.Input using the fixed profile.
func (e *Executor) Overlay(ctx context.Context, req OverlayRequest) error {
	if req.Input == "" || req.Overlay == "" || req.Output == "" {
		return fmt.Errorf("input, overlay and output paths are required")
	}

	e.logger.Info("merging with overlay",
		zap.String("input", req.Input),
		zap.String("overlay", req.Overlay),
		zap.String("output", req.Output),
		zap.Stringer("audio", req.Audio),
	)

	if _, err := e.run(ctx, e.ffmpegPath, OverlayArgs(req, e.profile)); err != nil {
		return fmt.Errorf("overlay merge failed (audio %s): %w", req.Audio, err)
	}

	e.logger.Info("overlay merge completed", zap.String("output", req.Output))
	return nil
}

// OverlayArgs builds the ffmpeg argument list for an overlay request.
func OverlayArgs(req OverlayRequest, p Profile) []string {
	audio := "copy"
	if req.Audio == AudioReencode {
		audio = p.AudioCodec
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", req.Input,
		"-i", req.Overlay,
		"-filter_complex", "[0:v][1:v]overlay=0:0[outv]",
		"-map", "[outv]",
		"-map", "0:a?",
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-c:a", audio,
	}
	if p.FastStart {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, req.Output)
}

func (e *Executor) run(ctx context.Context, bin string, args []string) ([]byte, error) {
	e.logger.Debug("executing", zap.String("cmd", bin), zap.Strings("args", args))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if msg := tail(stderr.String(), stderrTail); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func parseDimensions(out []byte) (int, int, error) {
	var probe probeResult
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	for _, s := range probe.Streams {
		if s.CodecType != "" && s.CodecType != "video" {
			continue
		}
		if s.Width > 0 && s.Height > 0 {
			return s.Width, s.Height, nil
		}
	}
	return 0, 0, fmt.Errorf("no video stream with dimensions")
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
