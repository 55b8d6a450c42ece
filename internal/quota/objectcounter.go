package quota

import (
	"context"

	"github.com/your-org/guestlens/internal/media"
)

// PrefixCounter counts stored objects under a key prefix.
type PrefixCounter interface {
	Count(ctx context.Context, prefix string) (int, error)
}

// ObjectCounter derives upload counts from the object store layout, so the
// count is whatever is durably stored at the moment of the check.
type ObjectCounter struct {
	store PrefixCounter
}

// NewObjectCounter constructs an ObjectCounter.
func NewObjectCounter(store PrefixCounter) *ObjectCounter {
	return &ObjectCounter{store: store}
}

// CountEvent implements Counter.
func (c *ObjectCounter) CountEvent(ctx context.Context, eventID string) (int, error) {
	return c.store.Count(ctx, media.EventPrefix(eventID))
}

// CountContributor implements Counter.
func (c *ObjectCounter) CountContributor(ctx context.Context, eventID, callerID string) (int, error) {
	return c.store.Count(ctx, media.ContributorPrefix(eventID, callerID))
}
