// Package policy centralizes identity resolution and authorization predicates
// so services don't scatter role and ownership checks across call sites.
package policy

import (
	"context"
	"errors"

	"healthpass/internal/workflow/models"
	"healthpass/internal/workflow/ports"
	dErrors "healthpass/pkg/domain-errors"
	"healthpass/pkg/platform/sentinel"
)

// ResolveUser maps an external IdP subject to a local user. An empty subject
// or a missing local record both fail as unauthenticated.
func ResolveUser(ctx context.Context, users ports.UserStore, subject string) (*models.User, error) {
	if subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "not authenticated")
	}
	u, err := users.GetBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "no local account for authenticated subject")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve user")
	}
	return u, nil
}

// RequireOwner checks that the caller owns the application.
func RequireOwner(u *models.User, app *models.Application) error {
	if u.ID != app.ApplicantID {
		return dErrors.New(dErrors.CodeForbidden, "application belongs to a different applicant")
	}
	return nil
}

// RequireAdmin checks the reviewer role and that the admin's managed
// categories cover the application's job category.
func RequireAdmin(u *models.User, app *models.Application) error {
	if u.Role != models.RoleAdmin {
		return dErrors.New(dErrors.CodeForbidden, "admin role required")
	}
	if app != nil && !u.CanSeeCategory(app.JobCategoryID) {
		return dErrors.New(dErrors.CodeForbidden, "job category outside this admin's scope")
	}
	return nil
}
