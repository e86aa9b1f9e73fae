// Package probe reads image metadata by shelling out to ffprobe, which
// understands HEIC/HEIF and the other formats phones upload.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

type Dimensions struct {
	Width  int32
	Height int32
}

// ProbeImage returns the pixel size of the first video stream of sourcePath.
func ProbeImage(ctx context.Context, probeBin string, sourcePath string) (Dimensions, error) {
	if sourcePath == "" {
		return Dimensions{}, fmt.Errorf("missing source path")
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return Dimensions{}, fmt.Errorf("source not accessible: %w", err)
	}
	if probeBin == "" {
		probeBin = "ffprobe"
	}

	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		sourcePath,
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, probeBin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Dimensions{}, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseDimensions(stdout.String())
}

func parseDimensions(out string) (Dimensions, error) {
	value := strings.TrimSpace(out)
	if i := strings.IndexByte(value, '\n'); i != -1 {
		value = strings.TrimSpace(value[:i])
	}
	if value == "" {
		return Dimensions{}, fmt.Errorf("ffprobe returned no image stream")
	}

	w, h, ok := strings.Cut(strings.TrimSuffix(value, "x"), "x")
	if !ok {
		return Dimensions{}, fmt.Errorf("invalid dimensions %q", value)
	}
	width, err := strconv.ParseInt(w, 10, 32)
	if err != nil || width <= 0 {
		return Dimensions{}, fmt.Errorf("invalid width in %q", value)
	}
	height, err := strconv.ParseInt(h, 10, 32)
	if err != nil || height <= 0 {
		return Dimensions{}, fmt.Errorf("invalid height in %q", value)
	}

	return Dimensions{Width: int32(width), Height: int32(height)}, nil
}
