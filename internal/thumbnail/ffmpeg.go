package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/guestlens/internal/media"
)

// FFmpegDecoder extracts frames by running an ffmpeg binary.
type FFmpegDecoder struct {
	Path string
}

func (d FFmpegDecoder) binary() string {
	if d.Path == "" {
		return "ffmpeg"
	}
	return d.Path
}

// DecodeFrame spools data to a temporary file, since MP4 indexes may sit at
// the end of the stream, and asks ffmpeg for one PNG frame at the offset.
func (d FFmpegDecoder) DecodeFrame(ctx context.Context, data []byte, mime string, at time.Duration) (image.Image, error) {
	f, err := os.CreateTemp("", "guestlens-frame-*"+media.PrimaryExtension(mime))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", f.Name(),
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png",
		"-",
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.binary(), args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame at %s", at)
	}
	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode ffmpeg output: %w", err)
	}
	return img, nil
}
