package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"

	"github.com/knockme-app/knockme-backend/internal/alerts/domain"
)

const (
	usersCollection  = "users"
	alertsCollection = "knock_alerts"
)

// alertDoc is the wire shape of a knock alert. Timestamps are UTC
// milliseconds, matching what the mobile clients already wrote.
type alertDoc struct {
	ID                 string   `firestore:"id"`
	OwnerID            string   `firestore:"ownerId"`
	Content            string   `firestore:"content"`
	CreatedAtTimestamp int64    `firestore:"createdAtTimestamp"`
	TargetTimestamp    int64    `firestore:"targetTimestamp"`
	KnockedByUIDs      []string `firestore:"knockedByUids"`
}

type userDoc struct {
	DisplayName string `firestore:"displayName,omitempty"`
	PhotoURL    string `firestore:"photoUrl,omitempty"`
}

func (d alertDoc) toDomain(docID string) domain.KnockAlert {
	id := d.ID
	if id == "" {
		id = docID
	}
	return domain.KnockAlert{
		ID:               id,
		OwnerID:          d.OwnerID,
		Content:          d.Content,
		CreatedAt:        time.UnixMilli(d.CreatedAtTimestamp).UTC(),
		TargetTime:       time.UnixMilli(d.TargetTimestamp).UTC(),
		KnockedByUserIDs: d.KnockedByUIDs,
	}
}

// Adapter wraps the Firestore client behind the operations the rest of the
// service needs. All errors are mapped onto the domain taxonomy.
type Adapter struct {
	client *firestore.Client
}

func NewAdapter(client *firestore.Client) *Adapter {
	return &Adapter{client: client}
}

// AddAlert creates a new alert document with a store-assigned ID. OwnerID is
// taken from the authenticated caller, never from the payload, and the
// generated ID is written back into the document's id field.
func (a *Adapter) AddAlert(ctx context.Context, ownerID, content string, targetTime time.Time) (string, error) {
	ref := a.client.Collection(alertsCollection).NewDoc()

	doc := alertDoc{
		ID:                 ref.ID,
		OwnerID:            ownerID,
		Content:            content,
		CreatedAtTimestamp: time.Now().UnixMilli(),
		TargetTimestamp:    targetTime.UnixMilli(),
		KnockedByUIDs:      []string{},
	}

	if _, err := ref.Set(ctx, doc); err != nil {
		return "", fmt.Errorf("add alert: %w", mapError(err))
	}
	return ref.ID, nil
}

// Knock appends userID to the alert's knock list. ArrayUnion makes the
// operation idempotent server-side: knocking twice is a no-op.
func (a *Adapter) Knock(ctx context.Context, alertID, userID string) error {
	_, err := a.client.Collection(alertsCollection).Doc(alertID).Update(ctx, []firestore.Update{
		{Path: "knockedByUids", Value: firestore.ArrayUnion(userID)},
	})
	if err != nil {
		return fmt.Errorf("knock alert %s: %w", alertID, mapError(err))
	}
	return nil
}

// DeleteAlert removes the alert document.
func (a *Adapter) DeleteAlert(ctx context.Context, alertID string) error {
	if _, err := a.client.Collection(alertsCollection).Doc(alertID).Delete(ctx); err != nil {
		return fmt.Errorf("delete alert %s: %w", alertID, mapError(err))
	}
	return nil
}

// GetAlert fetches a single alert by document ID.
func (a *Adapter) GetAlert(ctx context.Context, alertID string) (*domain.KnockAlert, error) {
	snap, err := a.client.Collection(alertsCollection).Doc(alertID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", alertID, mapError(err))
	}
	var doc alertDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode alert %s: %w", alertID, domain.ErrUnknown)
	}
	alert := doc.toDomain(snap.Ref.ID)
	return &alert, nil
}

// GetProfile fetches the public profile mirrored under users/{id}. A missing
// document is not an error; it returns (nil, nil).
func (a *Adapter) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	snap, err := a.client.Collection(usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile %s: %w", userID, mapped)
	}
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, domain.ErrUnknown)
	}
	return &domain.Profile{DisplayName: doc.DisplayName, PhotoURL: doc.PhotoURL}, nil
}

// UpsertProfile merge-writes the user's display fields into users/{id}.
// Called on every sign-in so renamed accounts converge.
func (a *Adapter) UpsertProfile(ctx context.Context, user domain.User) error {
	_, err := a.client.Collection(usersCollection).Doc(user.ID).Set(ctx, userDoc{
		DisplayName: user.DisplayName,
		PhotoURL:    user.PhotoURL,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", user.ID, mapError(err))
	}
	return nil
}

// ObserveOwnerAlerts opens a live query over the caller's own alerts,
// newest target first. The stream ends when ctx is canceled or the listener
// fails; a failure is reported as a final emission carrying the mapped error
// so consumers never hang on a dead listener.
func (a *Adapter) ObserveOwnerAlerts(ctx context.Context, ownerID string) <-chan domain.AlertSnapshot {
	query := a.client.Collection(alertsCollection).
		Where("ownerId", "==", ownerID).
		OrderBy("targetTimestamp", firestore.Desc)
	return a.observe(ctx, query)
}

// ObserveAllAlerts opens a live query over every alert, newest target first.
// Ownership filtering happens in the aggregator.
func (a *Adapter) ObserveAllAlerts(ctx context.Context) <-chan domain.AlertSnapshot {
	query := a.client.Collection(alertsCollection).
		OrderBy("targetTimestamp", firestore.Desc)
	return a.observe(ctx, query)
}

func (a *Adapter) observe(ctx context.Context, query firestore.Query) <-chan domain.AlertSnapshot {
	out := make(chan domain.AlertSnapshot, 1)

	go func() {
		defer close(out)

		it := query.Snapshots(ctx)
		defer it.Stop()

		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("alert listener failed")
				select {
				case out <- domain.AlertSnapshot{Err: mapError(err)}:
				case <-ctx.Done():
				}
				return
			}

			alerts, err := collectAlerts(snap.Documents)
			if err != nil {
				log.Error().Err(err).Msg("alert snapshot decode failed")
				continue
			}

			select {
			case out <- domain.AlertSnapshot{Alerts: alerts}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func collectAlerts(docs *firestore.DocumentIterator) ([]domain.KnockAlert, error) {
	defer docs.Stop()

	alerts := make([]domain.KnockAlert, 0)
	for {
		snap, err := docs.Next()
		if errors.Is(err, iterator.Done) {
			return alerts, nil
		}
		if err != nil {
			return nil, mapError(err)
		}

		var doc alertDoc
		if err := snap.DataTo(&doc); err != nil {
			// Skip malformed documents rather than poisoning the snapshot.
			log.Warn().Str("doc", snap.Ref.ID).Err(err).Msg("skipping undecodable alert")
			continue
		}
		alerts = append(alerts, doc.toDomain(snap.Ref.ID))
	}
}
