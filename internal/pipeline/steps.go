package pipeline

import (
	"context"
	"fmt"

	"github.com/your-org/guestlens/internal/media"
	"github.com/your-org/guestlens/internal/quota"
	"github.com/your-org/guestlens/internal/ratelimit"
	"github.com/your-org/guestlens/internal/validate"
	"github.com/your-org/guestlens/pkg/metrics"
)

func signatureStep(v *validate.SignatureValidator) func(context.Context, *media.Candidate, *media.Diagnostics) {
	return func(_ context.Context, c *media.Candidate, d *media.Diagnostics) {
		prefix := c.Prefix(validate.SignaturePrefixLen)
		d.Metadata().DetectedMIME = validate.Sniff(prefix)
		d.AddError(v.Validate(prefix, c.DeclaredMIME))
	}
}

func contentStep(ci *validate.ContentInspector) func(context.Context, *media.Candidate, *media.Diagnostics) {
	return func(ctx context.Context, c *media.Candidate, d *media.Diagnostics) {
		for _, e := range ci.Inspect(ctx, c, d.Metadata()) {
			d.AddError(e)
		}
	}
}

func patternStep(s *validate.PatternScanner) func(context.Context, *media.Candidate, *media.Diagnostics) {
	return func(_ context.Context, c *media.Candidate, d *media.Diagnostics) {
		for _, w := range s.Scan(c) {
			d.AddWarning(w)
		}
	}
}

func rateLimitStep(l *ratelimit.Limiter, m *metrics.Registry) func(context.Context, *media.Candidate, *media.Diagnostics) {
	return func(ctx context.Context, c *media.Candidate, d *media.Diagnostics) {
		kind, ok := media.KindOf(c.DeclaredMIME)
		if !ok {
			kind = c.Kind
		}
		dec, err := l.Check(ctx, c.CallerID, kind)
		switch {
		case err != nil && dec.Allowed:
			m.FailOpen("rate_limit")
			d.AddWarning(media.Transient(media.CodeRateLimitUnavail,
				"rate limit could not be verified; upload allowed", err))
		case err != nil:
			d.AddError(media.Transient(media.CodeRateLimitUnavail,
				"rate limit could not be verified; try again shortly", err))
		case !dec.Allowed:
			d.AddError(media.RateLimited(
				fmt.Sprintf("too many %s uploads; limit resets at %s", kind, dec.ResetAt.UTC().Format("15:04:05 MST")),
				dec.ResetAt))
		}
	}
}

func quotaStep(e *quota.Enforcer, m *metrics.Registry) func(context.Context, *media.Candidate, *media.Diagnostics) {
	return func(ctx context.Context, c *media.Candidate, d *media.Diagnostics) {
		dec, err := e.Check(ctx, c.EventID, c.CallerID)
		for _, v := range dec.Violations {
			d.AddError(v)
		}
		if err == nil {
			return
		}
		switch {
		case dec.Allowed:
			m.FailOpen("quota")
			d.AddWarning(media.Transient(media.CodeQuotaUnavailable,
				"upload quota could not be verified; upload allowed", err))
		case len(dec.Violations) == 0:
			d.AddError(media.Transient(media.CodeQuotaUnavailable,
				"upload quota could not be verified; try again shortly", err))
		}
	}
}
