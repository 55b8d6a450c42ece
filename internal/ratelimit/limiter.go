package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/guestlens/internal/media"
)

// Rule bounds calls within one recurring window.
type Rule struct {
	Name   string
	Window time.Duration
	Max    int
}

// Config configures a Limiter.
type Config struct {
	// Rules per media kind. A kind without rules is never limited, and a
	// rule with Max <= 0 is disabled.
	Rules map[media.Kind][]Rule
	// FailOpen allows calls when the store cannot be reached. When false
	// such calls are rejected as transient failures.
	FailOpen bool
	Now      func() time.Time
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed bool
	// Rule names the rule that rejected the call.
	Rule      string
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the store failed and FailOpen decided.
	Degraded bool
}

// Limiter is a fixed-window counter keyed by caller identity and media kind.
// Windows are not sliding, so a caller can burst up to twice a rule's Max
// across a window boundary.
type Limiter struct {
	store    Store
	rules    map[media.Kind][]Rule
	failOpen bool
	now      func() time.Time
	logger   *zap.Logger
}

// New constructs a Limiter over store.
func New(store Store, cfg Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		store:    store,
		rules:    cfg.Rules,
		failOpen: cfg.FailOpen,
		now:      now,
		logger:   logger,
	}
}

// Key builds the store key for a caller, kind and rule.
func Key(callerID string, kind media.Kind, rule string) string {
	return fmt.Sprintf("%s|%s|%s", callerID, kind, rule)
}

// Check counts one attempt by callerID for kind against every rule, stopping
// at the first rule that rejects. A rejected attempt is refunded to the rules
// it already passed, so only allowed calls consume quota. A non-nil error
// reports a store failure; the returned Decision already reflects the
// fail-open policy.
func (l *Limiter) Check(ctx context.Context, callerID string, kind media.Kind) (Decision, error) {
	now := l.now()
	dec := Decision{Allowed: true, Remaining: -1}
	var taken []Window
	for _, rule := range l.rules[kind] {
		if rule.Max <= 0 || rule.Window <= 0 {
			continue
		}
		w, allowed, err := l.store.Take(ctx, Key(callerID, kind, rule.Name), rule.Window, rule.Max, now)
		if err != nil {
			l.logger.Warn("rate limit store unavailable",
				zap.String("caller_id", callerID),
				zap.String("kind", string(kind)),
				zap.Bool("fail_open", l.failOpen),
				zap.Error(err),
			)
			if !l.failOpen {
				l.refund(ctx, taken)
			}
			return Decision{Allowed: l.failOpen, Degraded: true}, fmt.Errorf("take %s window: %w", rule.Name, err)
		}
		if !allowed {
			l.refund(ctx, taken)
			return Decision{
				Allowed: false,
				Rule:    rule.Name,
				ResetAt: w.ResetAt(),
			}, nil
		}
		taken = append(taken, w)
		if dec.Remaining < 0 || w.Remaining() < dec.Remaining {
			dec.Remaining = w.Remaining()
			dec.ResetAt = w.ResetAt()
		}
	}
	return dec, nil
}

func (l *Limiter) refund(ctx context.Context, taken []Window) {
	for _, w := range taken {
		if err := l.store.Refund(ctx, w.Key, w.Start); err != nil {
			l.logger.Warn("rate limit refund failed", zap.String("key", w.Key), zap.Error(err))
		}
	}
}
