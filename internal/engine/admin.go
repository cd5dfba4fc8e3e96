package engine

import (
	"context"

	verrors "github.com/randalmurphal/verity/internal/errors"
)

// roleWriter is implemented by role resolvers that can change assignments.
type roleWriter interface {
	SetActiveRole(ctx context.Context, userID, role string) error
	ClearActiveRole(ctx context.Context, userID string) error
}

// Setting returns an application setting, or its default when unset.
func (e *Engine) Setting(ctx context.Context, key string) (string, error) {
	var v string
	err := e.observe(ctx, "get_setting", subject{}, func(ctx context.Context) error {
		var err error
		v, err = e.settings.Get(ctx, key)
		return err
	})
	return v, err
}

// SetSetting stores an application setting.
func (e *Engine) SetSetting(ctx context.Context, key, value string) error {
	return e.observe(ctx, "set_setting", subject{}, func(ctx context.Context) error {
		return e.settings.Set(ctx, key, value)
	})
}

// ActiveRole returns the user's active role, or "" if none.
func (e *Engine) ActiveRole(ctx context.Context, userID string) (string, error) {
	return e.activeRole(ctx, "active_role", subject{userID: userID})
}

// SetActiveRole makes role the user's only active role. role must be part of
// the escalation graph or a change-request approver role.
func (e *Engine) SetActiveRole(ctx context.Context, userID, role string) error {
	if userID == "" {
		return verrors.ErrValidation("user_id", "required")
	}
	if !e.knownRole(role) {
		return verrors.ErrRoleNotInGraph(role)
	}
	w, ok := e.roles.(roleWriter)
	if !ok {
		return verrors.ErrValidation("roles", "role assignments are read-only")
	}
	return e.observe(ctx, "set_active_role", subject{userID: userID}, func(ctx context.Context) error {
		return w.SetActiveRole(ctx, userID, role)
	})
}

// ClearActiveRole leaves the user without an active role.
func (e *Engine) ClearActiveRole(ctx context.Context, userID string) error {
	w, ok := e.roles.(roleWriter)
	if !ok {
		return verrors.ErrValidation("roles", "role assignments are read-only")
	}
	return e.observe(ctx, "clear_active_role", subject{userID: userID}, func(ctx context.Context) error {
		return w.ClearActiveRole(ctx, userID)
	})
}

func (e *Engine) knownRole(role string) bool {
	if e.incidents.Graph().Contains(role) {
		return true
	}
	for _, r := range e.cfg.Roles.ChangeRequestApprovers {
		if r == role {
			return true
		}
	}
	return false
}
