package store

import (
	"context"
	"fmt"

	"github.com/serroba/resume-tracker/internal/analytics"
	"github.com/serroba/resume-tracker/internal/messaging"
	"go.uber.org/zap"
)

func requireLinkID(topic, id string) error {
	if id == "" {
		return fmt.Errorf("%s event without link id: %w", topic, messaging.ErrPermanent)
	}

	return nil
}

// LogSink is an implementation of analytics.Store that writes events to the log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new logging analytics store.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) SaveLinkCreated(_ context.Context, event *analytics.LinkCreatedEvent) error {
	if err := requireLinkID(analytics.TopicLinkCreated, event.LinkID); err != nil {
		return err
	}

	s.logger.Info("link created event received",
		zap.String("link_id", event.LinkID),
		zap.String("artifact_ref", event.ArtifactRef),
		zap.String("display_name", event.DisplayName),
		zap.Time("created_at", event.CreatedAt),
	)

	return nil
}

func (s *LogSink) SaveLinkViewed(_ context.Context, event *analytics.LinkViewedEvent) error {
	if err := requireLinkID(analytics.TopicLinkViewed, event.LinkID); err != nil {
		return err
	}

	s.logger.Info("link viewed event received",
		zap.String("link_id", event.LinkID),
		zap.Time("viewed_at", event.ViewedAt),
		zap.String("referrer", event.Referrer),
		zap.Int("view_count", event.ViewCount),
	)

	return nil
}

func (s *LogSink) SaveLinkDeleted(_ context.Context, event *analytics.LinkDeletedEvent) error {
	if err := requireLinkID(analytics.TopicLinkDeleted, event.LinkID); err != nil {
		return err
	}

	s.logger.Info("link deleted event received",
		zap.String("link_id", event.LinkID),
		zap.Bool("artifact_deleted", event.ArtifactDeleted),
		zap.Int("view_count", event.ViewCount),
	)

	return nil
}

func (s *LogSink) SaveLedgerWiped(_ context.Context, event *analytics.LedgerWipedEvent) error {
	s.logger.Warn("ledger wiped event received",
		zap.Int("deleted", event.Deleted),
		zap.Time("wiped_at", event.WipedAt),
	)

	return nil
}

var _ analytics.Store = (*LogSink)(nil)
