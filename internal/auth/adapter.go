package auth

import (
	"context"
	"sync"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/rs/zerolog/log"

	"github.com/knockme-app/knockme-backend/internal/alerts/domain"
)

// TokenVerifier is the slice of the Firebase Auth client used at sign-in.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
	GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error)
}

// ProfileMirror persists the public profile projection on sign-in.
type ProfileMirror interface {
	UpsertProfile(ctx context.Context, user domain.User) error
}

// Adapter holds the signed-in identity of one session and fans out every
// change to watchers. A nil user means signed out.
type Adapter struct {
	verifier TokenVerifier
	mirror   ProfileMirror

	mu      sync.Mutex
	current *domain.User
	subs    map[int]chan *domain.User
	nextSub int
}

func NewAdapter(verifier TokenVerifier, mirror ProfileMirror) *Adapter {
	return &Adapter{
		verifier: verifier,
		mirror:   mirror,
		subs:     make(map[int]chan *domain.User),
	}
}

// Current returns the signed-in user, or nil.
func (a *Adapter) Current() *domain.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Watch returns a channel that receives the current user immediately and
// again on every subsequent change. The channel is conflated: a slow reader
// only ever sees the latest value. The returned stop function releases the
// subscription.
func (a *Adapter) Watch() (<-chan *domain.User, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++

	ch := make(chan *domain.User, 1)
	ch <- a.current
	a.subs[id] = ch

	stop := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(ch)
		}
	}
	return ch, stop
}

// SignIn verifies a client-supplied Firebase ID token, mirrors the public
// profile into the store, and publishes the user to watchers.
func (a *Adapter) SignIn(ctx context.Context, idToken string) (*domain.User, error) {
	token, err := a.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, mapAuthError(err)
	}

	record, err := a.verifier.GetUser(ctx, token.UID)
	if err != nil {
		return nil, mapAuthError(err)
	}

	user := domain.User{ID: record.UID}
	if record.UserInfo != nil {
		user.DisplayName = record.DisplayName
		user.PhotoURL = record.PhotoURL
	}

	// Profile display is cosmetic; a failed mirror write must not block
	// sign-in.
	if err := a.mirror.UpsertProfile(ctx, user); err != nil {
		log.Warn().Err(err).Str("uid", user.ID).Msg("profile mirror write failed")
	}

	a.publish(&user)
	return &user, nil
}

// SignOut clears the session identity. It never fails: watchers always see
// the nil emission even if upstream cleanup does.
func (a *Adapter) SignOut(ctx context.Context) error {
	a.publish(nil)
	return nil
}

func (a *Adapter) publish(user *domain.User) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.current = user
	for _, ch := range a.subs {
		select {
		case ch <- user:
		default:
			// Drop the stale value so the reader gets the latest.
			select {
			case <-ch:
			default:
			}
			ch <- user
		}
	}
}

// Close releases all watcher subscriptions.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
}
