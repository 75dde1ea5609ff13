package store

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/serroba/resume-tracker/internal/analytics"
	"github.com/serroba/resume-tracker/internal/messaging"
)

// Counting wraps an analytics.Store and counts every handled event by topic and
// result: ok, error (redelivered) or dropped.
type Counting struct {
	next     analytics.Store
	consumed *prometheus.CounterVec
}

// NewCounting decorates next. consumed must carry the labels topic and result.
func NewCounting(next analytics.Store, consumed *prometheus.CounterVec) *Counting {
	return &Counting{next: next, consumed: consumed}
}

func (s *Counting) SaveLinkCreated(ctx context.Context, event *analytics.LinkCreatedEvent) error {
	return s.observe(analytics.TopicLinkCreated, s.next.SaveLinkCreated(ctx, event))
}

func (s *Counting) SaveLinkViewed(ctx context.Context, event *analytics.LinkViewedEvent) error {
	return s.observe(analytics.TopicLinkViewed, s.next.SaveLinkViewed(ctx, event))
}

func (s *Counting) SaveLinkDeleted(ctx context.Context, event *analytics.LinkDeletedEvent) error {
	return s.observe(analytics.TopicLinkDeleted, s.next.SaveLinkDeleted(ctx, event))
}

func (s *Counting) SaveLedgerWiped(ctx context.Context, event *analytics.LedgerWipedEvent) error {
	return s.observe(analytics.TopicLedgerWiped, s.next.SaveLedgerWiped(ctx, event))
}

func (s *Counting) observe(topic string, err error) error {
	result := "ok"

	switch {
	case errors.Is(err, messaging.ErrPermanent):
		result = "dropped"
	case err != nil:
		result = "error"
	}

	s.consumed.WithLabelValues(topic, result).Inc()

	return err
}

var _ analytics.Store = (*Counting)(nil)
