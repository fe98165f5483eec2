package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/crisis"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/storage"
)

func requireReviewer(ctx context.Context) (auth.Identity, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return id, err
	}
	if !id.IsAdmin() && id.Role != auth.RoleCoach {
		return id, apperr.New(apperr.Forbidden, "only coaches and admins can review crisis alerts")
	}
	return id, nil
}

// ListAlerts shows a coach the alerts of their clients and an admin every alert.
func (s *Service) ListAlerts(ctx context.Context, states []string, limit int) ([]storage.Alert, error) {
	id, err := requireReviewer(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range states {
		if !crisis.ValidState(st) {
			return nil, apperr.Newf(apperr.BadRequest, "unknown state %q", st)
		}
	}
	f := storage.AlertFilter{States: states, Limit: limit}
	if !id.IsAdmin() {
		if id.CoachID == "" {
			return nil, apperr.New(apperr.Forbidden, "coach id missing from identity")
		}
		f.CoachID = id.CoachID
	}
	return s.repo.ListAlerts(ctx, f)
}

func (s *Service) TransitionAlert(ctx context.Context, alertID, to, note string) (storage.Alert, error) {
	id, err := requireReviewer(ctx)
	if err != nil {
		return storage.Alert{}, err
	}
	alertID = strings.TrimSpace(alertID)
	if alertID == "" {
		return storage.Alert{}, apperr.New(apperr.BadRequest, "alert_id is required")
	}
	var out storage.Alert
	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		a, err := s.repo.GetAlertForUpdate(ctx, tx, alertID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.NotFound, "alert not found")
		}
		if err != nil {
			return err
		}
		if !id.CanManageCoach(a.CoachID) {
			return apperr.New(apperr.Forbidden, "not allowed to review this alert")
		}
		if err := crisis.CanTransition(a.State, to); err != nil {
			return apperr.Wrap(apperr.BadRequest, err.Error(), err)
		}
		out, err = s.repo.SetAlertState(ctx, tx, a.ID, to)
		if err != nil {
			return err
		}
		return s.repo.InsertTransition(ctx, tx, storage.Transition{
			AlertID:   a.ID,
			FromState: a.State,
			ToState:   to,
			Actor:     id.UserID,
			Note:      strings.TrimSpace(note),
		})
	})
	if err != nil {
		return storage.Alert{}, err
	}
	s.logger.Info("crisis alert transitioned", "alert_id", out.ID, "state", out.State, "actor", id.UserID)
	return out, nil
}

func (s *Service) AlertHistory(ctx context.Context, alertID string) ([]storage.Transition, error) {
	id, err := requireReviewer(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.GetAlert(ctx, alertID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "alert not found")
	}
	if err != nil {
		return nil, err
	}
	if !id.CanManageCoach(a.CoachID) {
		return nil, apperr.New(apperr.Forbidden, "not allowed to review this alert")
	}
	return s.repo.ListTransitions(ctx, a.ID)
}
