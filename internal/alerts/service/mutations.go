package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/knockme-app/knockme-backend/internal/alerts/domain"
)

// Knock records the current user's knock on another user's activated alert.
// The in-memory projection is updated optimistically before the store call;
// the overlay entry is removed only when the mutation actually fails, never
// unconditionally, so a subscription refresh that already confirmed the
// knock can't be transiently undone.
func (a *Aggregator) Knock(ctx context.Context, alertID string) error {
	user := a.identity.Current()
	if user == nil {
		return domain.ErrNotAuthenticated
	}

	a.mu.Lock()
	alert, inFeed := findAlert(a.feedAlerts, alertID)
	if !inFeed {
		if _, mine := findAlert(a.myAlerts, alertID); mine {
			a.mu.Unlock()
			return domain.ErrPermissionDenied
		}
		a.mu.Unlock()
		return domain.ErrNotFound
	}
	if alert.OwnerID == user.ID {
		a.mu.Unlock()
		return domain.ErrPermissionDenied
	}
	if alert.TargetTime.After(a.now) {
		// Not yet activated, so not visible in any feed.
		a.mu.Unlock()
		return domain.ErrNotFound
	}
	if alert.KnockedBy(user.ID) || a.pendingKnocks.Contains(alertID) {
		a.mu.Unlock()
		return domain.ErrAlreadyKnocked
	}
	if !a.limiter.Allow() {
		a.mu.Unlock()
		return domain.ErrNetwork
	}

	// Optimistic apply: the next emission shows the knock immediately.
	a.pendingKnocks.Add(alertID)
	a.recomputeLocked()
	a.mu.Unlock()

	if err := a.store.Knock(ctx, alertID, user.ID); err != nil {
		a.mu.Lock()
		a.pendingKnocks.Remove(alertID)
		a.recomputeLocked()
		a.mu.Unlock()

		log.Error().Err(err).Str("alertId", alertID).Msg("knock failed")
		a.notify(domain.Notice{Kind: domain.ErrorKind(err), Message: "knock failed"})
		return err
	}

	// Success needs no explicit reconciliation: the live query delivers the
	// authoritative document and the overlay entry is retired on recompute.
	return nil
}

// AddAlert validates and creates a new alert owned by the current user.
// Validation failures surface before any store call.
func (a *Aggregator) AddAlert(ctx context.Context, content string, targetTime time.Time) (string, error) {
	user := a.identity.Current()
	if user == nil {
		return "", domain.ErrNotAuthenticated
	}

	if strings.TrimSpace(content) == "" {
		return "", domain.ErrEmptyContent
	}
	if !targetTime.After(a.opts.Now()) {
		return "", domain.ErrTargetTimeInPast
	}

	id, err := a.store.AddAlert(ctx, user.ID, content, targetTime)
	if err != nil {
		log.Error().Err(err).Str("ownerId", user.ID).Msg("add alert failed")
		a.notify(domain.Notice{Kind: domain.ErrorKind(err), Message: "could not create alert"})
		return "", err
	}
	return id, nil
}

// DeleteAlert removes one of the current user's own alerts.
func (a *Aggregator) DeleteAlert(ctx context.Context, alertID string) error {
	user := a.identity.Current()
	if user == nil {
		return domain.ErrNotAuthenticated
	}

	alert, err := a.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.OwnerID != user.ID {
		return domain.ErrPermissionDenied
	}

	if err := a.store.DeleteAlert(ctx, alertID); err != nil {
		log.Error().Err(err).Str("alertId", alertID).Msg("delete alert failed")
		a.notify(domain.Notice{Kind: domain.ErrorKind(err), Message: "could not delete alert"})
		return err
	}
	return nil
}

func findAlert(alerts []domain.KnockAlert, id string) (domain.KnockAlert, bool) {
	for _, alert := range alerts {
		if alert.ID == id {
			return alert, true
		}
	}
	return domain.KnockAlert{}, false
}
