package quota

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/your-org/guestlens/internal/media"
)

// Limits are the ceilings for one event. A value <= 0 disables that ceiling.
type Limits struct {
	MaxTotal     int
	MaxPerCaller int
}

// LimitsSource resolves the ceilings configured for an event.
type LimitsSource interface {
	Limits(ctx context.Context, eventID string) (Limits, error)
}

// StaticLimits applies the same ceilings to every event.
type StaticLimits Limits

// Limits implements LimitsSource.
func (s StaticLimits) Limits(context.Context, string) (Limits, error) {
	return Limits(s), nil
}

// Counter reads live upload counts. Implementations must not cache across
// calls.
type Counter interface {
	CountEvent(ctx context.Context, eventID string) (int, error)
	CountContributor(ctx context.Context, eventID, callerID string) (int, error)
}

// Snapshot is the state observed by one Check.
type Snapshot struct {
	EventID          string
	MaxTotal         int
	CurrentTotal     int
	MaxPerCaller     int
	CurrentForCaller int
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Snapshot   Snapshot
	Violations []*media.Error
	// Degraded is set when a count could not be read and FailOpen decided.
	Degraded bool
}

// Config configures an Enforcer.
type Config struct {
	// FailOpen allows uploads when a live count cannot be read. This trades
	// strictness for availability during transient backend failures; with
	// FailOpen false such uploads are rejected as transient.
	FailOpen bool
}

// Enforcer checks event-wide and per-contributor ceilings against counts
// fetched fresh on every call.
type Enforcer struct {
	limits   LimitsSource
	counter  Counter
	failOpen bool
	logger   *zap.Logger
}

// NewEnforcer constructs an Enforcer.
func NewEnforcer(limits LimitsSource, counter Counter, cfg Config, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{limits: limits, counter: counter, failOpen: cfg.FailOpen, logger: logger}
}

// Check evaluates both ceilings for callerID in eventID. Reaching a ceiling
// exactly counts as exceeding it: with MaxPerCaller 5 and 5 stored, the next
// upload is rejected. A non-nil error reports read failures; the Decision
// already reflects the fail-open policy.
func (e *Enforcer) Check(ctx context.Context, eventID, callerID string) (Decision, error) {
	dec := Decision{Snapshot: Snapshot{EventID: eventID}}

	limits, err := e.limits.Limits(ctx, eventID)
	if err != nil {
		e.logReadFailure("limits", eventID, callerID, err)
		dec.Degraded = true
		dec.Allowed = e.failOpen
		return dec, fmt.Errorf("resolve event limits: %w", err)
	}
	dec.Snapshot.MaxTotal = limits.MaxTotal
	dec.Snapshot.MaxPerCaller = limits.MaxPerCaller

	var readErrs []error
	if limits.MaxTotal > 0 {
		n, err := e.counter.CountEvent(ctx, eventID)
		switch {
		case err != nil:
			e.logReadFailure("event", eventID, callerID, err)
			readErrs = append(readErrs, fmt.Errorf("count event uploads: %w", err))
		default:
			dec.Snapshot.CurrentTotal = n
			if n >= limits.MaxTotal {
				dec.Violations = append(dec.Violations, media.QuotaExceeded(media.CodeEventQuota,
					"event has reached its limit of %d uploads", limits.MaxTotal))
			}
		}
	}
	if limits.MaxPerCaller > 0 {
		n, err := e.counter.CountContributor(ctx, eventID, callerID)
		switch {
		case err != nil:
			e.logReadFailure("contributor", eventID, callerID, err)
			readErrs = append(readErrs, fmt.Errorf("count contributor uploads: %w", err))
		default:
			dec.Snapshot.CurrentForCaller = n
			if n >= limits.MaxPerCaller {
				dec.Violations = append(dec.Violations, media.QuotaExceeded(media.CodeContributorQuota,
					"you have reached your limit of %d uploads for this event", limits.MaxPerCaller))
			}
		}
	}

	dec.Degraded = len(readErrs) > 0
	dec.Allowed = len(dec.Violations) == 0 && (!dec.Degraded || e.failOpen)
	return dec, errors.Join(readErrs...)
}

func (e *Enforcer) logReadFailure(scope, eventID, callerID string, err error) {
	e.logger.Warn("quota read failed",
		zap.String("scope", scope),
		zap.String("event_id", eventID),
		zap.String("caller_id", callerID),
		zap.Bool("fail_open", e.failOpen),
		zap.Error(err),
	)
}
