package ingestion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/guestlens/internal/media"
	"github.com/your-org/guestlens/internal/validate"
	"github.com/your-org/guestlens/pkg/kafka"
	"github.com/your-org/guestlens/pkg/storage/objectstore"
)

// maxThumbnailBytes bounds client-supplied thumbnails.
const maxThumbnailBytes = 2 << 20

// Evaluator decides whether a candidate is accepted.
type Evaluator interface {
	Evaluate(ctx context.Context, c *media.Candidate) (media.Report, error)
}

// Thumbnailer derives a still when the client sent none.
type Thumbnailer interface {
	ExtractSoft(ctx context.Context, data []byte, mime string, duration time.Duration) []byte
}

// Service wires together the pipeline, storage, Kafka, and logging for
// ingestion flows.
type Service struct {
	evaluator   Evaluator
	store       objectstore.Client
	publisher   kafka.Publisher
	thumbnailer Thumbnailer
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

type Params struct {
	Evaluator   Evaluator
	Store       objectstore.Client
	Publisher   kafka.Publisher
	Thumbnailer Thumbnailer
	Logger      *zap.Logger
	Now         func() time.Time
	NewID       func() string
}

// Upload is one submission as received from a guest.
type Upload struct {
	EventID      string
	CallerID     string
	Kind         media.Kind
	Caption      string
	Filename     string
	DeclaredMIME string
	DeclaredSize int64
	Media        []byte
	Thumbnail    []byte
}

// Result is the decision for one Upload. MediaID is set only when accepted.
type Result struct {
	MediaID      string
	Status       string
	ObjectKey    string
	ThumbnailKey string
	Report       media.Report
}

// NewService constructs an ingestion Service.
func NewService(p Params) *Service {
	s := &Service{
		evaluator:   p.Evaluator,
		store:       p.Store,
		publisher:   p.Publisher,
		thumbnailer: p.Thumbnailer,
		logger:      p.Logger,
		now:         p.Now,
		newID:       p.NewID,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Submit evaluates u and, when accepted, stores it and announces it.
// Rejections are returned in Result.Report; a non-nil error means the
// decision could not be carried out.
func (s *Service) Submit(ctx context.Context, u Upload) (*Result, error) {
	if !media.ValidIdentifier(u.EventID) {
		return nil, media.Validationf(media.CodeInvalidRequest, "invalid event id")
	}
	if !media.ValidIdentifier(u.CallerID) {
		return nil, media.Validationf(media.CodeMissingCaller, "invalid guest id")
	}

	candidate := &media.Candidate{
		Bytes:        u.Media,
		DeclaredMIME: media.NormalizeMIME(u.DeclaredMIME),
		DeclaredSize: u.DeclaredSize,
		Thumbnail:    u.Thumbnail,
		Filename:     u.Filename,
		Kind:         u.Kind,
		EventID:      u.EventID,
		CallerID:     u.CallerID,
		Caption:      u.Caption,
	}
	report, err := s.evaluator.Evaluate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("evaluate upload: %w", err)
	}
	if !report.Accepted {
		s.announceRejection(ctx, candidate, report)
		return &Result{Report: report}, nil
	}
	return s.persist(ctx, candidate, report)
}

func (s *Service) persist(ctx context.Context, c *media.Candidate, report media.Report) (*Result, error) {
	mime := report.Metadata.DetectedMIME
	if mime == "" {
		mime = c.DeclaredMIME
	}
	mediaID := s.newID()
	objectKey := media.ObjectKey(c.EventID, c.CallerID, mediaID, mime)
	sum := sha256.Sum256(c.Bytes)
	checksum := hex.EncodeToString(sum[:])

	err := s.store.Put(ctx, objectKey, bytes.NewReader(c.Bytes), c.Size(), objectstore.PutOptions{
		ContentType: mime,
		Metadata: map[string]string{
			"media-id":       mediaID,
			"contributor-id": c.CallerID,
			"checksum":       checksum,
		},
	})
	if err != nil {
		return nil, media.Transient(media.CodeStorageUnavailable, "media could not be stored", err)
	}

	thumbKey := s.storeThumbnail(ctx, c, mediaID, mime, report.Metadata.Duration)

	event := AcceptedEvent{
		ID:            mediaID,
		EventID:       c.EventID,
		ContributorID: c.CallerID,
		Kind:          string(c.Kind),
		ContentType:   mime,
		ObjectKey:     objectKey,
		ThumbnailKey:  thumbKey,
		Checksum:      checksum,
		SizeBytes:     c.Size(),
		Width:         report.Metadata.Width,
		Height:        report.Metadata.Height,
		DurationMs:    report.Metadata.Duration.Milliseconds(),
		Caption:       c.Caption,
		Warnings:      codes(report.Warnings),
		Status:        StatusProcessing,
		CreatedAt:     s.now().UTC(),
	}
	if err := kafka.PublishJSON(ctx, s.publisher, EventMediaAccepted, mediaID, event); err != nil {
		// Without the event nothing downstream would pick the object up.
		s.remove(ctx, objectKey)
		if thumbKey != "" {
			s.remove(ctx, thumbKey)
		}
		return nil, media.Transient(media.CodeEventBusUnavailable, "upload could not be queued for processing", err)
	}

	s.logger.Info("media accepted",
		zap.String("media_id", mediaID),
		zap.String("event_id", c.EventID),
		zap.String("object_key", objectKey),
		zap.Int64("size_bytes", c.Size()),
		zap.Strings("warnings", event.Warnings),
	)
	return &Result{
		MediaID:      mediaID,
		Status:       StatusProcessing,
		ObjectKey:    objectKey,
		ThumbnailKey: thumbKey,
		Report:       report,
	}, nil
}

// storeThumbnail keeps the client thumbnail when it is a plausible image,
// otherwise derives one. Failures are logged and never fail the upload.
func (s *Service) storeThumbnail(ctx context.Context, c *media.Candidate, mediaID, mime string, duration time.Duration) string {
	thumb := c.Thumbnail
	thumbMIME := ""
	if len(thumb) > 0 {
		thumbMIME = validate.Sniff(thumb[:min(len(thumb), validate.SignaturePrefixLen)])
		if kind, ok := media.KindOf(thumbMIME); !ok || kind != media.KindPhoto || len(thumb) > maxThumbnailBytes {
			s.logger.Warn("discarding client thumbnail",
				zap.String("media_id", mediaID),
				zap.String("sniffed_type", thumbMIME),
				zap.Int("size_bytes", len(thumb)),
			)
			thumb = nil
		}
	}
	if len(thumb) == 0 && s.thumbnailer != nil {
		thumb = s.thumbnailer.ExtractSoft(ctx, c.Bytes, mime, duration)
		thumbMIME = media.MIMEJPEG
	}
	if len(thumb) == 0 {
		return ""
	}

	key := media.ThumbnailKey(c.EventID, c.CallerID, mediaID)
	err := s.store.Put(ctx, key, bytes.NewReader(thumb), int64(len(thumb)), objectstore.PutOptions{
		ContentType: thumbMIME,
		Metadata:    map[string]string{"media-id": mediaID},
	})
	if err != nil {
		s.logger.Warn("thumbnail not stored", zap.String("media_id", mediaID), zap.Error(err))
		return ""
	}
	return key
}

func (s *Service) announceRejection(ctx context.Context, c *media.Candidate, report media.Report) {
	event := RejectedEvent{
		EventID:       c.EventID,
		ContributorID: c.CallerID,
		Kind:          string(c.Kind),
		DeclaredType:  c.DeclaredMIME,
		Filename:      c.Filename,
		SizeBytes:     c.Size(),
		Errors:        report.Errors,
		RejectedAt:    s.now().UTC(),
	}
	if err := kafka.PublishJSON(ctx, s.publisher, EventMediaRejected, c.EventID, event); err != nil {
		s.logger.Warn("rejection not announced", zap.String("event_id", c.EventID), zap.Error(err))
	}
}

func (s *Service) remove(ctx context.Context, key string) {
	if err := s.store.Remove(ctx, key); err != nil {
		s.logger.Error("orphaned object", zap.String("object_key", key), zap.Error(err))
	}
}

// Close releases underlying resources.
func (s *Service) Close(ctx context.Context) error {
	if err := s.publisher.Close(ctx); err != nil {
		return err
	}
	return s.store.Close()
}
