package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/your-org/guestlens/internal/media"
)

var (
	// ErrNoDecoder is returned for video when no FrameDecoder is configured.
	ErrNoDecoder = errors.New("no frame decoder configured")
	// ErrTooManyPixels is returned for photos whose header declares more
	// pixels than Config.MaxPixels; they are never fully decoded.
	ErrTooManyPixels = errors.New("image exceeds pixel limit")
)

// FrameDecoder decodes the single video frame nearest to at.
type FrameDecoder interface {
	DecodeFrame(ctx context.Context, data []byte, mime string, at time.Duration) (image.Image, error)
}

type Config struct {
	Width   int
	Quality int
	// Timeout bounds a whole extraction, photo decodes included.
	Timeout   time.Duration
	MaxPixels int
}

// Extractor derives one representative still from captured media.
type Extractor struct {
	decoder     FrameDecoder
	cfg         Config
	logger      *zap.Logger
	decodeImage func(io.Reader) (image.Image, string, error)
}

func New(decoder FrameDecoder, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.Width <= 0 {
		cfg.Width = 320
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 80
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = 40_000_000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{decoder: decoder, cfg: cfg, logger: logger, decodeImage: image.Decode}
}

// SeekPosition skips leading frames, which are often black, without
// running past the middle of short clips.
func SeekPosition(duration time.Duration) time.Duration {
	if duration <= 0 {
		return 0
	}
	return min(2*time.Second, duration/2)
}

// Extract returns a JPEG still for data.
func (e *Extractor) Extract(ctx context.Context, data []byte, mime string, duration time.Duration) ([]byte, error) {
	kind, ok := media.KindOf(media.NormalizeMIME(mime))
	if !ok {
		return nil, fmt.Errorf("thumbnail for %q: unsupported type", mime)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var (
		frame image.Image
		err   error
	)
	switch kind {
	case media.KindPhoto:
		frame, err = e.decodePhoto(ctx, data)
	default:
		if e.decoder == nil {
			return nil, ErrNoDecoder
		}
		frame, err = e.decoder.DecodeFrame(ctx, data, mime, SeekPosition(duration))
	}
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return e.encode(frame)
}

// decodePhoto checks the declared size before allocating the bitmap and
// abandons a decode that outlives ctx.
func (e *Extractor) decodePhoto(ctx context.Context, data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("empty image")
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(e.cfg.MaxPixels) {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrTooManyPixels)
	}

	type outcome struct {
		img image.Image
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("image decoder panic: %v", r)}
			}
		}()
		img, _, err := e.decodeImage(bytes.NewReader(data))
		done <- outcome{img: img, err: err}
	}()

	select {
	case out := <-done:
		return out.img, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExtractSoft is Extract for callers that must not fail: errors are logged
// and a nil thumbnail is returned.
func (e *Extractor) ExtractSoft(ctx context.Context, data []byte, mime string, duration time.Duration) []byte {
	out, err := e.Extract(ctx, data, mime, duration)
	if err != nil {
		e.logger.Warn("thumbnail extraction failed",
			zap.String("mime_type", mime),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil
	}
	return out
}

func (e *Extractor) encode(src image.Image) ([]byte, error) {
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("empty frame")
	}
	if b.Dx() > e.cfg.Width {
		h := max(1, b.Dy()*e.cfg.Width/b.Dx())
		dst := image.NewRGBA(image.Rect(0, 0, e.cfg.Width, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: e.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
