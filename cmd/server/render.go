package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/podushkina/watermarkd/internal/task"
)

var renderCmd = &cobra.Command{
	Use:   "render <input> [output]",
	Short: "Watermark a single file in the foreground",
	Long: "Watermark a single image or video without starting the server. " +
		"The output defaults to watermarked_<name> next to the input.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := args[0]

		kind, ok := task.KindForFilename(input)
		if !ok {
			return fmt.Errorf("unsupported file format: %s", strings.ToLower(filepath.Ext(input)))
		}
		if info, err := os.Stat(input); err != nil || info.Size() == 0 {
			return fmt.Errorf("input %s is missing or empty", input)
		}

		output := defaultOutput(input, kind)
		if len(args) == 2 {
			output = args[1]
		}

		r, err := newRenderers(cfg, logger)
		if err != nil {
			return err
		}

		switch kind {
		case task.KindImage:
			err = r.images.RenderFile(cmd.Context(), input, output)
		default:
			if err := os.MkdirAll(cfg.VideoTempDir(), 0o755); err != nil {
				return err
			}
			err = r.videos.Render(cmd.Context(), input, output)
		}
		if err != nil {
			return err
		}

		logger.Info("rendered", zap.String("input", input), zap.String("output", output))
		return nil
	},
}

func defaultOutput(input string, kind task.MediaKind) string {
	dir, base := filepath.Split(input)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "watermarked_"+strings.TrimSuffix(base, ext)+task.OutputExt(kind, ext))
}
