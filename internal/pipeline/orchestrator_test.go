package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/guestlens/internal/media"
	"github.com/your-org/guestlens/internal/mediatest"
	"github.com/your-org/guestlens/internal/quota"
	"github.com/your-org/guestlens/internal/ratelimit"
	"github.com/your-org/guestlens/internal/validate"
	"github.com/your-org/guestlens/pkg/metrics"
)

type staticCounter struct {
	event, caller int
	err           error
	calls         int
}

func (s *staticCounter) CountEvent(context.Context, string) (int, error) {
	s.calls++
	return s.event, s.err
}

func (s *staticCounter) CountContributor(context.Context, string, string) (int, error) {
	s.calls++
	return s.caller, s.err
}

type fixture struct {
	orch    *Orchestrator
	counter *staticCounter
	metrics *metrics.Registry
}

func newFixture(t *testing.T, limits quota.Limits, counter *staticCounter) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	policy := validate.DefaultPolicy()
	m := metrics.New("test")
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Config{
		Rules: map[media.Kind][]ratelimit.Rule{
			media.KindPhoto: {{Name: "10m", Window: 10 * time.Minute, Max: 5}},
			media.KindVideo: {{Name: "10m", Window: 10 * time.Minute, Max: 5}},
		},
		FailOpen: true,
	}, logger)
	return fixture{
		orch: New(Params{
			Signature: validate.NewSignatureValidator(),
			Inspector: validate.NewContentInspector(policy, logger),
			Scanner:   validate.NewPatternScanner(),
			Limiter:   limiter,
			Quota:     quota.NewEnforcer(quota.StaticLimits(limits), counter, quota.Config{FailOpen: true}, logger),
			Metrics:   m,
			Logger:    logger,
		}),
		counter: counter,
		metrics: m,
	}
}

func kindsOf(errs []*media.Error) []media.ErrorKind {
	out := []media.ErrorKind{}
	for _, e := range errs {
		out = append(out, e.Kind)
	}
	return out
}

func TestEvaluateWebMOverContributorQuota(t *testing.T) {
	f := newFixture(t, quota.Limits{MaxTotal: 500, MaxPerCaller: 10}, &staticCounter{event: 42, caller: 10})
	clip := mediatest.WebM(640, 480, 3*time.Second)

	report, err := f.orch.Evaluate(context.Background(), &media.Candidate{
		Bytes:        clip,
		DeclaredMIME: media.MIMEWebM,
		DeclaredSize: int64(len(clip)),
		Filename:     "clip.webm",
		Kind:         media.KindVideo,
		EventID:      "wedding",
		CallerID:     "guest-1",
	})

	require.NoError(t, err)
	assert.False(t, report.Accepted)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, media.ErrQuotaExceeded, report.Errors[0].Kind)
	assert.Equal(t, media.CodeContributorQuota, report.Errors[0].Code)
	assert.False(t, report.HasKind(media.ErrValidation))
	assert.Empty(t, report.Warnings)
	assert.Equal(t, 640, report.Metadata.Width)
	assert.Equal(t, 480, report.Metadata.Height)
	assert.Equal(t, 3*time.Second, report.Metadata.Duration)
	assert.Equal(t, media.MIMEWebM, report.Metadata.DetectedMIME)
}

func TestEvaluateCorruptedJPEGShortCircuits(t *testing.T) {
	f := newFixture(t, quota.Limits{MaxTotal: 500, MaxPerCaller: 10}, &staticCounter{})

	report, err := f.orch.Evaluate(context.Background(), &media.Candidate{
		Bytes:        mediatest.ZeroDimensionJPEG(),
		DeclaredMIME: media.MIMEJPEG,
		Kind:         media.KindPhoto,
		EventID:      "wedding",
		CallerID:     "guest-1",
	})

	require.NoError(t, err)
	assert.False(t, report.Accepted)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, media.CodeCorrupted, report.Errors[0].Code)
	assert.Equal(t, media.MIMEJPEG, report.Metadata.DetectedMIME, "signature check passed")
	assert.Zero(t, f.counter.calls, "quota must not be consulted for invalid files")
	assert.Empty(t, report.Warnings, "pattern scan runs after the gates")
}

func TestEvaluateSignatureMismatchStopsBeforeDecode(t *testing.T) {
	f := newFixture(t, quota.Limits{}, &staticCounter{})
	png := mediatest.PNG(300, 300)

	report, err := f.orch.Evaluate(context.Background(), &media.Candidate{
		Bytes:        png,
		DeclaredMIME: media.MIMEJPEG,
		EventID:      "e",
		CallerID:     "c",
	})

	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, media.CodeSignatureMismatch, report.Errors[0].Code)
	assert.Zero(t, report.Metadata.Width)
}

func TestEvaluateAcceptsWithWarnings(t *testing.T) {
	f := newFixture(t, quota.Limits{MaxTotal: 500, MaxPerCaller: 10}, &staticCounter{event: 1, caller: 1})
	photo := mediatest.JPEG(640, 480)

	report, err := f.orch.Evaluate(context.Background(), &media.Candidate{
		Bytes:        photo,
		DeclaredMIME: media.MIMEJPEG,
		DeclaredSize: int64(len(photo)),
		Filename:     "party.night.jpg",
		Kind:         media.KindPhoto,
		EventID:      "wedding",
		CallerID:     "guest-1",
	})

	require.NoError(t, err)
	assert.True(t, report.Accepted)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, media.CodeMultipleExtensions, report.Warnings[0].Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DecisionCounter("photo", true)))
}

func TestEvaluateAggregatesRateLimitAndQuota(t *testing.T) {
	f := newFixture(t, quota.Limits{MaxTotal: 3, MaxPerCaller: 50}, &staticCounter{event: 3})
	ctx := context.Background()

	var last media.Report
	for i := 0; i < 6; i++ {
		photo := mediatest.JPEG(200, 200)
		report, err := f.orch.Evaluate(ctx, &media.Candidate{
			Bytes:        photo,
			DeclaredMIME: media.MIMEJPEG,
			EventID:      "e",
			CallerID:     "c",
		})
		require.NoError(t, err)
		last = report
	}

	assert.Equal(t, []media.ErrorKind{media.ErrRateLimit, media.ErrQuotaExceeded}, kindsOf(last.Errors))
	assert.True(t, last.Errors[0].Retryable())
	assert.False(t, last.Errors[0].ResetAt.IsZero())
}

func TestEvaluateQuotaFailOpenWarns(t *testing.T) {
	f := newFixture(t, quota.Limits{MaxTotal: 3, MaxPerCaller: 3}, &staticCounter{err: errors.New("s3: slow down")})
	photo := mediatest.JPEG(200, 200)

	report, err := f.orch.Evaluate(context.Background(), &media.Candidate{
		Bytes:        photo,
		DeclaredMIME: media.MIMEJPEG,
		EventID:      "e",
		CallerID:     "c",
	})

	require.NoError(t, err)
	assert.True(t, report.Accepted)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, media.ErrTransient, report.Warnings[0].Kind)
	assert.Equal(t, media.CodeQuotaUnavailable, report.Warnings[0].Code)
}

func TestEvaluateCandidateOnlyOnce(t *testing.T) {
	f := newFixture(t, quota.Limits{}, &staticCounter{})
	c := &media.Candidate{Bytes: mediatest.JPEG(200, 200), DeclaredMIME: media.MIMEJPEG, EventID: "e", CallerID: "c"}

	_, err := f.orch.Evaluate(context.Background(), c)
	require.NoError(t, err)
	_, err = f.orch.Evaluate(context.Background(), c)
	assert.ErrorIs(t, err, media.ErrCandidateConsumed)
}

func TestStepOrderGatesAndPanics(t *testing.T) {
	var ran []string
	step := func(name string, gate bool, fn func(d *media.Diagnostics)) Step {
		return Step{Name: name, Gate: gate, Run: func(_ context.Context, _ *media.Candidate, d *media.Diagnostics) {
			ran = append(ran, name)
			fn(d)
		}}
	}
	noop := func(*media.Diagnostics) {}

	t.Run("non-gate errors aggregate", func(t *testing.T) {
		ran = nil
		o := NewWithSteps([]Step{
			step("a", true, noop),
			step("b", false, func(d *media.Diagnostics) { d.AddError(media.Validationf("x", "x")) }),
			step("c", false, func(d *media.Diagnostics) { panic("decoder crashed") }),
			step("d", false, func(d *media.Diagnostics) { d.AddWarning(media.Warning("w", "w")) }),
		}, nil, zaptest.NewLogger(t))

		report, err := o.Evaluate(context.Background(), &media.Candidate{})

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, ran)
		assert.Equal(t, []media.ErrorKind{media.ErrValidation, media.ErrInternal}, kindsOf(report.Errors))
		assert.Equal(t, media.CodeValidatorFailure, report.Errors[1].Code)
		assert.Len(t, report.Warnings, 1)
	})

	t.Run("gate stops on error", func(t *testing.T) {
		ran = nil
		o := NewWithSteps([]Step{
			step("a", true, func(d *media.Diagnostics) { panic("boom") }),
			step("b", false, noop),
		}, nil, zaptest.NewLogger(t))

		report, err := o.Evaluate(context.Background(), &media.Candidate{})

		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ran)
		assert.False(t, report.Accepted)
	})
}
