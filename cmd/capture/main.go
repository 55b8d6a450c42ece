package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/guestlens/internal/ingestion"
	"github.com/your-org/guestlens/internal/media"
	"github.com/your-org/guestlens/internal/recorder"
	"github.com/your-org/guestlens/internal/thumbnail"
	"github.com/your-org/guestlens/pkg/config"
	"github.com/your-org/guestlens/pkg/logger"
)

type options struct {
	source   string
	endpoint string
	eventID  string
	guestID  string
	caption  string
	mimeType string
	chunk    int
	interval time.Duration
	dryRun   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.endpoint, "endpoint", "http://localhost:8080", "ingestion service base URL")
	flag.StringVar(&opts.eventID, "event", "", "event identifier")
	flag.StringVar(&opts.guestID, "guest", "", "guest identifier sent as "+ingestion.CallerHeader)
	flag.StringVar(&opts.caption, "caption", "", "caption for the upload")
	flag.StringVar(&opts.mimeType, "type", "", "media type of the source (default: from extension)")
	flag.IntVar(&opts.chunk, "chunk", 256<<10, "bytes delivered per capture tick")
	flag.DurationVar(&opts.interval, "interval", 100*time.Millisecond, "capture tick interval")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "capture and thumbnail without uploading")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: capture [flags] <source-file>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	opts.source = flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logr, err := logger.New(cfg.App.LogLevel, "console")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logr); err != nil {
		logr.Fatal("capture failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, logr *zap.Logger) error {
	mimeType := opts.mimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(opts.source))
	}
	mimeType = media.NormalizeMIME(mimeType)
	kind, ok := media.KindOf(mimeType)
	if !ok {
		return fmt.Errorf("unsupported media type %q", mimeType)
	}

	thumbs := thumbnail.New(thumbnail.FFmpegDecoder{Path: cfg.Thumbnail.FFmpegPath}, thumbnail.Config{
		Width:     cfg.Thumbnail.Width,
		Quality:   cfg.Thumbnail.Quality,
		Timeout:   cfg.Thumbnail.Timeout,
		MaxPixels: cfg.Thumbnail.MaxPixels,
	}, logr)

	var capture recorder.Capture
	switch kind {
	case media.KindPhoto:
		data, err := os.ReadFile(opts.source)
		if err != nil {
			return fmt.Errorf("read photo: %w", err)
		}
		capture = recorder.Capture{
			Media:     data,
			MIMEType:  mimeType,
			Thumbnail: thumbs.ExtractSoft(ctx, data, mimeType, 0),
		}
	default:
		c, err := record(ctx, cfg, opts, mimeType, thumbs, logr)
		if err != nil {
			return err
		}
		capture = c
	}

	logr.Info("capture ready",
		zap.String("mime_type", capture.MIMEType),
		zap.Int("bytes", len(capture.Media)),
		zap.Int("thumbnail_bytes", len(capture.Thumbnail)),
		zap.Duration("duration", capture.Duration),
	)
	if opts.dryRun {
		return nil
	}
	return submit(ctx, opts, kind, capture, logr)
}

// record replays the source through a recorder so the clip is cut at the
// configured maximum exactly as on a guest's device.
func record(ctx context.Context, cfg *config.Config, opts options, mimeType string, thumbs *thumbnail.Extractor, logr *zap.Logger) (recorder.Capture, error) {
	f, err := os.Open(opts.source)
	if err != nil {
		return recorder.Capture{}, fmt.Errorf("open source: %w", err)
	}
	device := recorder.NewReaderDevice(f, mimeType, opts.chunk, opts.interval)

	rec, err := recorder.New(device, recorder.Config{
		MaxDuration:  cfg.Recorder.MaxDuration,
		TickInterval: cfg.Recorder.TickInterval,
		Thumbnailer:  thumbs,
	}, logr)
	if err != nil {
		f.Close()
		return recorder.Capture{}, err
	}
	rec.OnTick(func(t recorder.Tick) {
		fmt.Fprintf(os.Stderr, "\rrecording %5.1fs  remaining %5.1fs", t.Elapsed.Seconds(), t.Remaining.Seconds())
	})
	rec.OnState(func(s recorder.State) {
		logr.Debug("recorder state", zap.String("state", string(s)))
	})

	if err := rec.Initialize(ctx); err != nil {
		return recorder.Capture{}, fmt.Errorf("initialize recorder: %w", err)
	}
	if err := rec.Start(); err != nil {
		return recorder.Capture{}, fmt.Errorf("start recorder: %w", err)
	}

	select {
	case <-rec.Done():
	case <-ctx.Done():
		logr.Info("stopping capture")
	}
	fmt.Fprintln(os.Stderr)

	if rec.State() == recorder.StateError {
		return recorder.Capture{}, fmt.Errorf("recorder failed: %w", rec.Err())
	}
	if _, err := rec.Stop(context.Background()); err != nil {
		return recorder.Capture{}, fmt.Errorf("stop recorder: %w", err)
	}
	return rec.Review(context.Background())
}

func submit(ctx context.Context, opts options, kind media.Kind, capture recorder.Capture, logr *zap.Logger) error {
	if opts.eventID == "" || opts.guestID == "" {
		return errors.New("-event and -guest are required to upload")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	filename := "capture" + media.PrimaryExtension(capture.MIMEType)
	if err := writeFile(mw, "file", filename, capture.MIMEType, capture.Media); err != nil {
		return err
	}
	if len(capture.Thumbnail) > 0 {
		if err := writeFile(mw, "thumbnail", "thumbnail.jpg", media.MIMEJPEG, capture.Thumbnail); err != nil {
			return err
		}
	}
	fields := map[string]string{
		"kind":    string(kind),
		"caption": opts.caption,
		"size":    strconv.Itoa(len(capture.Media)),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/events/%s/uploads", opts.endpoint, opts.eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(ingestion.CallerHeader, opts.guestID)

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	logFields := []zap.Field{zap.Int("status", resp.StatusCode), zap.ByteString("body", bytes.TrimSpace(out))}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		logFields = append(logFields, zap.String("retry_after", ra))
	}
	if resp.StatusCode != http.StatusAccepted {
		logr.Warn("upload rejected", logFields...)
		return fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}
	logr.Info("upload accepted", logFields...)
	return nil
}

func writeFile(mw *multipart.Writer, field, filename, contentType string, data []byte) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	w, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}
