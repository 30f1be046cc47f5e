package domain

import "time"

// User is the public projection of a signed-in identity. Display fields may
// change on re-authentication; the ID never does.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

// Profile is the cacheable display identity of any user, mirrored under
// users/{id} in the store.
type Profile struct {
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

// KnockAlert is a timed reminder. Other users cannot see it until TargetTime
// passes; after that they may knock on it exactly once each.
type KnockAlert struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"createdAt"`
	TargetTime       time.Time `json:"targetTime"`
	KnockedByUserIDs []string  `json:"knockedByUserIds"`
}

// KnockedBy reports whether userID already appears in the alert's knock list.
func (a KnockAlert) KnockedBy(userID string) bool {
	for _, id := range a.KnockedByUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MyAlertView is the owner-side projection of an alert: always visible,
// with a countdown progress toward activation and the resolved knockers.
type MyAlertView struct {
	Alert    KnockAlert `json:"alert"`
	Progress float64    `json:"progress"`
	IsActive bool       `json:"isActive"`
	Knockers []Profile  `json:"knockers"`
}

// FeedAlertView is another user's activated alert as seen in the feed.
// Owner is nil until the profile cache has resolved it.
type FeedAlertView struct {
	Alert   KnockAlert `json:"alert"`
	Owner   *Profile   `json:"owner,omitempty"`
	Knocked bool       `json:"knocked"`
}

// HomeState is the aggregated projection published to clients. It is
// recomputed whenever any aggregator input changes and is never persisted.
type HomeState struct {
	User       *User           `json:"user"`
	MyAlerts   []MyAlertView   `json:"myAlerts"`
	FeedAlerts []FeedAlertView `json:"feedAlerts"`
	IsLoading  bool            `json:"isLoading"`
}

// Notice is a one-shot, user-visible message produced by a failed action or
// a degraded live query. Kind is one of the sentinel error names.
type Notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// AlertSnapshot is one full materialized emission of a live alert query.
// Err is non-nil only on the final emission of a failed listener.
type AlertSnapshot struct {
	Alerts []KnockAlert
	Err    error
}
