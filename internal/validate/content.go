package validate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/guestlens/internal/media"
)

// Policy holds the bounds applied to decoded media. All bounds are inclusive.
type Policy struct {
	MaxPhotoBytes     int64
	MaxVideoBytes     int64
	MinImageDimension int
	MaxImageDimension int
	MaxVideoDuration  time.Duration
	// MinVideoDimension applies to the shorter side so portrait and
	// landscape clips are treated alike.
	MinVideoDimension int
	DecodeTimeout     time.Duration
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxPhotoBytes:     15 << 20,
		MaxVideoBytes:     100 << 20,
		MinImageDimension: 100,
		MaxImageDimension: 12000,
		MaxVideoDuration:  30 * time.Second,
		MinVideoDimension: 240,
		DecodeTimeout:     5 * time.Second,
	}
}

// ContentInspector validates decoded properties of a candidate against Policy.
type ContentInspector struct {
	policy  Policy
	parsers map[string]Parser
	logger  *zap.Logger
}

// InspectorOption customises a ContentInspector.
type InspectorOption func(*ContentInspector)

// WithParser overrides the parser used for mime.
func WithParser(mime string, p Parser) InspectorOption {
	return func(ci *ContentInspector) {
		ci.parsers[media.NormalizeMIME(mime)] = p
	}
}

// NewContentInspector constructs an inspector.
func NewContentInspector(policy Policy, logger *zap.Logger, opts ...InspectorOption) *ContentInspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	ci := &ContentInspector{
		policy:  policy,
		parsers: defaultParsers(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(ci)
	}
	return ci
}

// Inspect checks size, then decodes and bounds dimensions and duration.
// Measured properties are written to meta even when the result is a rejection.
func (ci *ContentInspector) Inspect(ctx context.Context, c *media.Candidate, meta *media.Metadata) []*media.Error {
	mime := media.NormalizeMIME(c.DeclaredMIME)
	kind, ok := media.KindOf(mime)
	if !ok {
		return []*media.Error{media.Validationf(media.CodeUnsupportedType, "unsupported media type %q", mime)}
	}
	meta.SizeBytes = c.Size()

	if c.Kind != "" && c.Kind != kind {
		return []*media.Error{media.Validationf(media.CodeKindMismatch,
			"%s file submitted as %s", kind, c.Kind)}
	}
	if c.Size() == 0 {
		return []*media.Error{media.Validationf(media.CodeEmptyFile, "file is empty")}
	}
	if limit := ci.maxBytes(kind); limit > 0 && c.Size() > limit {
		return []*media.Error{media.Validationf(media.CodeFileTooLarge,
			"file is %d bytes, limit for %s is %d", c.Size(), kind, limit)}
	}

	parser, ok := ci.parsers[mime]
	if !ok {
		return []*media.Error{media.Validationf(media.CodeUnsupportedType, "no decoder for %s", mime)}
	}
	res, err := ci.decodeBounded(ctx, parser, c.Bytes)
	if err != nil {
		if e, ok := media.AsError(err); ok {
			return []*media.Error{e}
		}
		ci.logger.Debug("decode failed", zap.String("mime", mime), zap.Error(err))
		if errors.Is(err, errNoVideoTrack) {
			return []*media.Error{media.Validationf(media.CodeCorrupted, "video has no picture track")}
		}
		return []*media.Error{media.Validationf(media.CodeCorrupted, "file could not be decoded as %s", mime)}
	}
	meta.Width, meta.Height, meta.Duration = res.Width, res.Height, res.Duration

	if kind == media.KindVideo {
		return ci.checkVideo(res)
	}
	return ci.checkImage(res)
}

func (ci *ContentInspector) maxBytes(kind media.Kind) int64 {
	if kind == media.KindVideo {
		return ci.policy.MaxVideoBytes
	}
	return ci.policy.MaxPhotoBytes
}

func (ci *ContentInspector) checkImage(res MediaInfo) []*media.Error {
	if res.Width <= 0 || res.Height <= 0 {
		return []*media.Error{media.Validationf(media.CodeCorrupted,
			"image has zero dimensions (%dx%d)", res.Width, res.Height)}
	}
	var errs []*media.Error
	if floor := ci.policy.MinImageDimension; res.Width < floor || res.Height < floor {
		errs = append(errs, media.Validationf(media.CodeDimensionsTooSmall,
			"image is %dx%d, minimum is %dx%d", res.Width, res.Height, floor, floor))
	}
	if ceil := ci.policy.MaxImageDimension; ceil > 0 && (res.Width > ceil || res.Height > ceil) {
		errs = append(errs, media.Validationf(media.CodeDimensionsTooLarge,
			"image is %dx%d, maximum is %dx%d", res.Width, res.Height, ceil, ceil))
	}
	return errs
}

func (ci *ContentInspector) checkVideo(res MediaInfo) []*media.Error {
	if res.Width <= 0 || res.Height <= 0 {
		return []*media.Error{media.Validationf(media.CodeCorrupted,
			"video has zero dimensions (%dx%d)", res.Width, res.Height)}
	}
	if res.Duration <= 0 {
		return []*media.Error{media.Validationf(media.CodeCorrupted, "video has no measurable duration")}
	}
	var errs []*media.Error
	if ceil := ci.policy.MaxVideoDuration; ceil > 0 && res.Duration > ceil {
		errs = append(errs, media.Validationf(media.CodeDurationTooLong,
			"video is %s long, maximum is %s", res.Duration.Round(time.Millisecond), ceil))
	}
	short := min(res.Width, res.Height)
	if floor := ci.policy.MinVideoDimension; short < floor {
		errs = append(errs, media.Validationf(media.CodeResolutionTooLow,
			"video is %dx%d, shorter side must be at least %d", res.Width, res.Height, floor))
	}
	return errs
}

// decodeBounded runs p under the policy decode timeout. A decoder that
// panics is reported as an internal failure rather than taking the process
// down; a decoder that overruns is abandoned and reported as a timeout.
func (ci *ContentInspector) decodeBounded(ctx context.Context, p Parser, data []byte) (MediaInfo, error) {
	if ci.policy.DecodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ci.policy.DecodeTimeout)
		defer cancel()
	}

	type outcome struct {
		res MediaInfo
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &media.Error{
					Kind:    media.ErrInternal,
					Code:    media.CodeValidatorFailure,
					Message: "media decoder failed",
					Err:     fmt.Errorf("decoder panic: %v", r),
				}}
			}
		}()
		res, err := p(data)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		ci.logger.Warn("decode timed out", zap.Duration("timeout", ci.policy.DecodeTimeout))
		return MediaInfo{}, media.Validationf(media.CodeDecodeTimeout,
			"decoding did not finish within %s", ci.policy.DecodeTimeout)
	}
}
