// Package alert is the operator alert channel. Critical alerts are kept apart
// from ordinary warnings: they are persisted, logged on the alerts logger and
// pushed to every configured notifier.
package alert

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"go-hotspot/db"
	"go-hotspot/events"
	"go-hotspot/log"
	"go-hotspot/store"
)

type Notifier interface {
	Notify(ctx context.Context, a db.Alert) error
}

type Service struct {
	store     *store.Store
	publisher events.Publisher
	notifiers []Notifier
	logger    *log.Logger
	clock     clock.Clock
}

func NewService(s *store.Store, pub events.Publisher, logger *log.Logger, clk clock.Clock, notifiers ...Notifier) *Service {
	return &Service{
		store:     s,
		publisher: pub,
		notifiers: notifiers,
		logger:    logger.Named("alerts"),
		clock:     clk,
	}
}

// Raise records the alert and fans it out. Notifier failures are logged only.
func (s *Service) Raise(ctx context.Context, a db.Alert) error {
	if a.Severity == "" {
		a.Severity = db.SeverityWarning
	}
	if err := s.store.CreateAlert(ctx, &a); err != nil {
		s.logger.Errorw("persisting alert failed", "subject", a.Subject, "err", err)
		return errors.Trace(err)
	}

	kv := []any{"tenant", a.TenantID, "source", a.Source, "subject", a.Subject, "message", a.Message}
	if a.Severity == db.SeverityCritical {
		s.logger.Errorw("CRITICAL alert", kv...)
	} else {
		s.logger.Warnw("alert", kv...)
	}

	s.publisher.Publish(ctx, events.Event{
		Kind:      events.SystemAlert,
		Action:    events.Added,
		TenantID:  a.TenantID,
		Subject:   "alert",
		SubjectID: a.ID,
		Data: map[string]any{
			"severity": a.Severity,
			"source":   a.Source,
			"subject":  a.Subject,
			"message":  a.Message,
		},
		OccurredAt: s.clock.Now().UTC(),
	})

	for _, n := range s.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			s.logger.Warnw("alert notifier failed", "alert", a.ID, "err", err)
		}
	}
	return nil
}

// Critical raises a critical alert built from the arguments.
func (s *Service) Critical(ctx context.Context, tenant, source, subject, format string, args ...any) error {
	return s.Raise(ctx, db.Alert{
		TenantID: tenant,
		Severity: db.SeverityCritical,
		Source:   source,
		Subject:  subject,
		Message:  fmt.Sprintf(format, args...),
	})
}
