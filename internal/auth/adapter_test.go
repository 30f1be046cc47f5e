package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/knockme-app/knockme-backend/internal/alerts/domain"
)

type fakeVerifier struct {
	verifyErr error
	getErr    error
	record    *fbauth.UserRecord
}

func (f *fakeVerifier) VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &fbauth.Token{UID: f.record.UID}, nil
}

func (f *fakeVerifier) GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.record, nil
}

type fakeMirror struct {
	upserted []domain.User
	err      error
}

func (f *fakeMirror) UpsertProfile(ctx context.Context, user domain.User) error {
	f.upserted = append(f.upserted, user)
	return f.err
}

func record(uid, name, photo string) *fbauth.UserRecord {
	return &fbauth.UserRecord{
		UserInfo: &fbauth.UserInfo{
			UID:         uid,
			DisplayName: name,
			PhotoURL:    photo,
		},
	}
}

func TestSignInPublishesUserAndMirrorsProfile(t *testing.T) {
	verifier := &fakeVerifier{record: record("u1", "Ann", "https://example.com/ann.png")}
	mirror := &fakeMirror{}
	adapter := NewAdapter(verifier, mirror)
	defer adapter.Close()

	users, stop := adapter.Watch()
	defer stop()

	// Primed with the signed-out state.
	select {
	case u := <-users:
		assert.Nil(t, u)
	case <-time.After(time.Second):
		t.Fatal("expected primed emission")
	}

	user, err := adapter.SignIn(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "Ann", user.DisplayName)

	select {
	case u := <-users:
		require.NotNil(t, u)
		assert.Equal(t, "u1", u.ID)
	case <-time.After(time.Second):
		t.Fatal("expected sign-in emission")
	}

	require.Len(t, mirror.upserted, 1)
	assert.Equal(t, "u1", mirror.upserted[0].ID)
	assert.Equal(t, "u1", adapter.Current().ID)
}

func TestSignInSucceedsWhenMirrorWriteFails(t *testing.T) {
	verifier := &fakeVerifier{record: record("u1", "Ann", "")}
	mirror := &fakeMirror{err: errors.New("unavailable")}
	adapter := NewAdapter(verifier, mirror)
	defer adapter.Close()

	user, err := adapter.SignIn(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestSignInVerifyFailure(t *testing.T) {
	verifier := &fakeVerifier{
		record:    record("u1", "Ann", ""),
		verifyErr: status.Error(codes.Unauthenticated, "bad token"),
	}
	adapter := NewAdapter(verifier, &fakeMirror{})
	defer adapter.Close()

	_, err := adapter.SignIn(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, adapter.Current())
}

func TestSignOutAlwaysSucceeds(t *testing.T) {
	verifier := &fakeVerifier{record: record("u1", "Ann", "")}
	adapter := NewAdapter(verifier, &fakeMirror{})
	defer adapter.Close()

	_, err := adapter.SignIn(context.Background(), "token")
	require.NoError(t, err)

	users, stop := adapter.Watch()
	defer stop()
	<-users // primed value

	require.NoError(t, adapter.SignOut(context.Background()))
	assert.Nil(t, adapter.Current())

	select {
	case u := <-users:
		assert.Nil(t, u)
	case <-time.After(time.Second):
		t.Fatal("expected sign-out emission")
	}
}

func TestWatchConflatesForSlowReaders(t *testing.T) {
	verifier := &fakeVerifier{record: record("u1", "Ann", "")}
	adapter := NewAdapter(verifier, &fakeMirror{})
	defer adapter.Close()

	users, stop := adapter.Watch()
	defer stop()

	// Never read the primed value; publish twice more. The single-slot
	// buffer must hold only the latest.
	_, err := adapter.SignIn(context.Background(), "token")
	require.NoError(t, err)
	require.NoError(t, adapter.SignOut(context.Background()))

	select {
	case u := <-users:
		assert.Nil(t, u)
	case <-time.After(time.Second):
		t.Fatal("expected latest emission")
	}
}

func TestMapAuthError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"cancelled", context.Canceled, ErrUserCancelled},
		{"deadline", context.DeadlineExceeded, ErrNetwork},
		{"unavailable", status.Error(codes.Unavailable, "down"), ErrNetwork},
		{"unauthenticated", status.Error(codes.Unauthenticated, "no"), ErrUnauthorized},
		{"permission", status.Error(codes.PermissionDenied, "no"), ErrUnauthorized},
		{"internal", status.Error(codes.Internal, "boom"), ErrUnknown},
		{"nil", nil, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, mapAuthError(tc.in), tc.want)
		})
	}
}
