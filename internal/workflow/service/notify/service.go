// Package notify computes notification audiences and inserts intent-to-notify
// rows. Inserts are best-effort from the workflow's point of view: callers log
// failures and never roll back the state transition that triggered them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	wfmetrics "healthpass/internal/workflow/metrics"
	"healthpass/internal/workflow/models"
	"healthpass/internal/workflow/ports"
	id "healthpass/pkg/domain"
	dErrors "healthpass/pkg/domain-errors"
	"healthpass/pkg/platform/sentinel"
)

type Service struct {
	users         ports.UserStore
	notifications ports.NotificationStore
	metrics       *wfmetrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithMetrics(m *wfmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(users ports.UserStore, notifications ports.NotificationStore, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification store is required")
	}

	svc := &Service{
		users:         users,
		notifications: notifications,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// NotifyApplicant inserts one row addressed to the application's owner.
func (s *Service) NotifyApplicant(ctx context.Context, app *models.Application, typ models.NotificationType, title, message, actionURL string) error {
	category := app.JobCategoryID
	n := &models.Notification{
		ID:            id.NewNotificationID(),
		UserID:        app.ApplicantID,
		Type:          typ,
		Title:         title,
		Message:       message,
		ActionURL:     actionURL,
		JobCategoryID: &category,
		CreatedAt:     s.now(),
	}
	if err := s.notifications.Insert(ctx, n); err != nil {
		return fmt.Errorf("notify applicant: %w", err)
	}
	s.metrics.IncrementNotification("applicant")
	return nil
}

// NotifyAdmins inserts one row per admin whose managed categories cover the
// application's job category. An admin with no managed categories is a
// super-admin and always qualifies. Returns how many rows were inserted.
func (s *Service) NotifyAdmins(ctx context.Context, app *models.Application, typ models.NotificationType, title, message, actionURL string) (int, error) {
	admins, err := s.users.ListAdmins(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve admin audience: %w", err)
	}

	inserted := 0
	for _, admin := range admins {
		if !admin.CanSeeCategory(app.JobCategoryID) {
			continue
		}
		category := app.JobCategoryID
		n := &models.Notification{
			ID:            id.NewNotificationID(),
			UserID:        admin.ID,
			Type:          typ,
			Title:         title,
			Message:       message,
			ActionURL:     actionURL,
			JobCategoryID: &category,
			CreatedAt:     s.now(),
		}
		if err := s.notifications.Insert(ctx, n); err != nil {
			// One bad insert must not starve the rest of the audience.
			if s.logger != nil {
				s.logger.WarnContext(ctx, "admin notification insert failed",
					"admin_id", admin.ID.String(),
					"error", err,
				)
			}
			continue
		}
		inserted++
		s.metrics.IncrementNotification("admin")
	}
	return inserted, nil
}

// List returns a user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID id.UserID) ([]*models.Notification, error) {
	return s.notifications.ListByUser(ctx, userID)
}

// MarkRead flips the read flag for one of the user's notifications.
func (s *Service) MarkRead(ctx context.Context, notificationID id.NotificationID, userID id.UserID) error {
	return s.notifications.MarkRead(ctx, notificationID, userID)
}

// ListForSubject resolves the caller and returns their notifications.
func (s *Service) ListForSubject(ctx context.Context, subject string) ([]*models.Notification, error) {
	user, err := s.resolve(ctx, subject)
	if err != nil {
		return nil, err
	}
	return s.notifications.ListByUser(ctx, user.ID)
}

// MarkReadForSubject flips the read flag on one of the caller's notifications.
func (s *Service) MarkReadForSubject(ctx context.Context, subject string, notificationID id.NotificationID) error {
	user, err := s.resolve(ctx, subject)
	if err != nil {
		return err
	}
	if err := s.notifications.MarkRead(ctx, notificationID, user.ID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "notification not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "mark notification read")
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, subject string) (*models.User, error) {
	if subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing authenticated subject")
	}
	user, err := s.users.GetBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown subject")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve subject")
	}
	return user, nil
}
