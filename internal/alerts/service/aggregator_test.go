package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knockme-app/knockme-backend/internal/alerts/domain"
	"github.com/knockme-app/knockme-backend/internal/profiles"
)

// ---- fakes ----

type fakeIdentity struct {
	mu   sync.Mutex
	cur  *domain.User
	subs []chan *domain.User
}

func (f *fakeIdentity) Current() *domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

func (f *fakeIdentity) Watch() (<-chan *domain.User, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan *domain.User, 1)
	ch <- f.cur
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeIdentity) Set(u *domain.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur = u
	for _, ch := range f.subs {
		select {
		case ch <- u:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- u
		}
	}
}

type fakeStore struct {
	mu         sync.Mutex
	mineSrc    chan domain.AlertSnapshot
	allSrc     chan domain.AlertSnapshot
	knockErr   error
	knockCalls []string
	addCalls   int
	alerts     map[string]domain.KnockAlert
	deleted    []string
	listenCtxs []context.Context
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mineSrc: make(chan domain.AlertSnapshot, 16),
		allSrc:  make(chan domain.AlertSnapshot, 16),
		alerts:  make(map[string]domain.KnockAlert),
	}
}

func (f *fakeStore) forward(ctx context.Context, src chan domain.AlertSnapshot) <-chan domain.AlertSnapshot {
	out := make(chan domain.AlertSnapshot, 1)
	go func() {
		defer close(out)
		for {
			select {
			case snap, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (f *fakeStore) ObserveOwnerAlerts(ctx context.Context, ownerID string) <-chan domain.AlertSnapshot {
	f.mu.Lock()
	f.listenCtxs = append(f.listenCtxs, ctx)
	f.mu.Unlock()
	return f.forward(ctx, f.mineSrc)
}

func (f *fakeStore) ObserveAllAlerts(ctx context.Context) <-chan domain.AlertSnapshot {
	return f.forward(ctx, f.allSrc)
}

func (f *fakeStore) AddAlert(ctx context.Context, ownerID, content string, targetTime time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	return "alert-new", nil
}

func (f *fakeStore) Knock(ctx context.Context, alertID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.knockCalls = append(f.knockCalls, alertID)
	return f.knockErr
}

func (f *fakeStore) DeleteAlert(ctx context.Context, alertID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, alertID)
	return nil
}

func (f *fakeStore) GetAlert(ctx context.Context, alertID string) (*domain.KnockAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if alert, ok := f.alerts[alertID]; ok {
		return &alert, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) knocked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.knockCalls...)
}

type countingFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	profiles map[string]domain.Profile
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{
		calls:    make(map[string]int),
		profiles: make(map[string]domain.Profile),
	}
}

func (f *countingFetcher) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[userID]++
	if p, ok := f.profiles[userID]; ok {
		out := p
		return &out, nil
	}
	return nil, nil
}

func (f *countingFetcher) callCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[userID]
}

// ---- harness ----

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type harness struct {
	agg      *Aggregator
	store    *fakeStore
	identity *fakeIdentity
	fetcher  *countingFetcher
	clock    *clock
}

func newHarness(t *testing.T, user *domain.User) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st := newFakeStore()
	id := &fakeIdentity{cur: user}
	fetcher := newCountingFetcher()
	cache := profiles.NewCache(ctx, fetcher)
	clk := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	agg := NewAggregator(ctx, st, id, cache, Options{
		TickInterval:   time.Hour, // tests drive the clock explicitly
		SplashDuration: 0,
		Now:            clk.Now,
	})
	t.Cleanup(agg.Close)

	return &harness{agg: agg, store: st, identity: id, fetcher: fetcher, clock: clk}
}

func (h *harness) tick() {
	h.agg.tick(h.clock.Now())
}

func waitState(t *testing.T, h *harness, pred func(domain.HomeState) bool) domain.HomeState {
	t.Helper()
	var last domain.HomeState
	require.Eventually(t, func() bool {
		last = h.agg.State()
		return pred(last)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func alertAt(id, owner, content string, created, target time.Time, knockers ...string) domain.KnockAlert {
	return domain.KnockAlert{
		ID:               id,
		OwnerID:          owner,
		Content:          content,
		CreatedAt:        created,
		TargetTime:       target,
		KnockedByUserIDs: knockers,
	}
}

// ---- tests ----

func TestFutureAlertHiddenFromFeedButVisibleToOwner(t *testing.T) {
	me := &domain.User{ID: "u2", DisplayName: "Bea"}
	h := newHarness(t, me)
	now := h.clock.Now()

	mine := alertAt("a-mine", "u2", "Dinner ready", now.Add(-30*time.Second), now.Add(30*time.Second))
	other := alertAt("a-other", "u1", "Movie night", now.Add(-time.Minute), now.Add(time.Minute))

	h.store.mineSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{mine}}
	h.store.allSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{mine, other}}

	state := waitState(t, h, func(s domain.HomeState) bool {
		return len(s.MyAlerts) == 1
	})

	// Future-dated alerts from others are invisible.
	assert.Empty(t, state.FeedAlerts)

	my := state.MyAlerts[0]
	assert.False(t, my.IsActive)
	assert.GreaterOrEqual(t, my.Progress, 0.0)
	assert.Less(t, my.Progress, 1.0)
	assert.InDelta(t, 0.5, my.Progress, 0.01)
}

func TestActivationOnClockTick(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)
	now := h.clock.Now()

	mine := alertAt("a-mine", "u2", "Dinner ready", now, now.Add(60*time.Second))
	other := alertAt("a-other", "u1", "Movie night", now, now.Add(60*time.Second))

	h.store.mineSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{mine}}
	h.store.allSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{other}}

	waitState(t, h, func(s domain.HomeState) bool {
		return len(s.MyAlerts) == 1 && len(s.FeedAlerts) == 0
	})

	// No store round-trip: passing the target time alone activates.
	h.clock.Advance(61 * time.Second)
	h.tick()

	state := waitState(t, h, func(s domain.HomeState) bool {
		return len(s.FeedAlerts) == 1
	})
	assert.True(t, state.MyAlerts[0].IsActive)
	assert.Equal(t, 1.0, state.MyAlerts[0].Progress)
}

func TestOwnAlertsNeverInFeed(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)
	now := h.clock.Now()

	mine := alertAt("a-mine", "u2", "Already active", now.Add(-2*time.Minute), now.Add(-time.Minute))
	h.store.allSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{mine}}
	h.store.mineSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{mine}}

	state := waitState(t, h, func(s domain.HomeState) bool {
		return len(s.MyAlerts) == 1
	})
	assert.Empty(t, state.FeedAlerts)
}

func TestKnockOptimisticThenReconciled(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)
	now := h.clock.Now()

	other := alertAt("a1", "u1", "Movie night", now.Add(-2*time.Minute), now.Add(-time.Minute))
	h.store.allSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{other}}

	waitState(t, h, func(s domain.HomeState) bool { return len(s.FeedAlerts) == 1 })

	require.NoError(t, h.agg.Knock(context.Background(), "a1"))
	require.Equal(t, []string{"a1"}, h.store.knocked())

	// Optimistic: knocked before any server snapshot confirms it.
	state := h.agg.State()
	require.Len(t, state.FeedAlerts, 1)
	assert.True(t, state.FeedAlerts[0].Knocked)
	assert.Contains(t, state.FeedAlerts[0].Alert.KnockedByUserIDs, "u2")

	// Authoritative snapshot arrives; overlay entry is retired.
	confirmed := alertAt("a1", "u1", "Movie night", other.CreatedAt, other.TargetTime, "u2")
	h.store.allSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{confirmed}}

	waitState(t, h, func(s domain.HomeState) bool {
		return len(s.FeedAlerts) == 1 && s.FeedAlerts[0].Alert.KnockedBy("u2")
	})

	h.agg.mu.Lock()
	pending := h.agg.pendingKnocks.Size()
	h.agg.mu.Unlock()
	assert.Zero(t, pending)

	// Knocking again is rejected client-side without another store call.
	err := h.agg.Knock(context.Background(), "a1")
	assert.ErrorIs(t, err, domain.ErrAlreadyKnocked)
	assert.Equal(t, []string{"a1"}, h.store.knocked())
}

func TestKnockRollbackOnPermissionDenied(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)
	now := h.clock.Now()

	h.store.knockErr = domain.ErrPermissionDenied
	other := alertAt("a1", "u1", "Movie night", now.Add(-2*time.Minute), now.Add(-time.Minute))
	h.store.allSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{other}}

	waitState(t, h, func(s domain.HomeState) bool { return len(s.FeedAlerts) == 1 })

	notices, stopNotices := h.agg.Notices()
	defer stopNotices()

	err := h.agg.Knock(context.Background(), "a1")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	// Optimistic state reverted.
	state := h.agg.State()
	require.Len(t, state.FeedAlerts, 1)
	assert.False(t, state.FeedAlerts[0].Knocked)
	assert.NotContains(t, state.FeedAlerts[0].Alert.KnockedByUserIDs, "u2")

	select {
	case n := <-notices:
		assert.Equal(t, "permission_denied", n.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a notice")
	}
}

func TestKnockOwnAlertRejectedBeforeNetwork(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)
	now := h.clock.Now()

	mine := alertAt("a-mine", "u2", "Mine", now.Add(-2*time.Minute), now.Add(-time.Minute))
	h.store.mineSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{mine}}

	waitState(t, h, func(s domain.HomeState) bool { return len(s.MyAlerts) == 1 })

	err := h.agg.Knock(context.Background(), "a-mine")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Empty(t, h.store.knocked())
}

func TestKnockInactiveAlertRejected(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)
	now := h.clock.Now()

	other := alertAt("a1", "u1", "Not yet", now, now.Add(time.Hour))
	h.store.allSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{other}}

	require.Eventually(t, func() bool {
		h.agg.mu.Lock()
		defer h.agg.mu.Unlock()
		return len(h.agg.feedAlerts) == 1
	}, 2*time.Second, 5*time.Millisecond)

	err := h.agg.Knock(context.Background(), "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.store.knocked())
}

func TestKnockWhileSignedOut(t *testing.T) {
	h := newHarness(t, nil)
	err := h.agg.Knock(context.Background(), "a1")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestProfileFetchDeduped(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)
	now := h.clock.Now()

	h.fetcher.mu.Lock()
	h.fetcher.profiles["u1"] = domain.Profile{DisplayName: "Ann"}
	h.fetcher.mu.Unlock()

	// Two activated alerts from the same owner in one batch.
	a1 := alertAt("a1", "u1", "First", now.Add(-3*time.Minute), now.Add(-2*time.Minute))
	a2 := alertAt("a2", "u1", "Second", now.Add(-2*time.Minute), now.Add(-time.Minute))
	h.store.allSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{a1, a2}}

	state := waitState(t, h, func(s domain.HomeState) bool {
		return len(s.FeedAlerts) == 2 && s.FeedAlerts[0].Owner != nil && s.FeedAlerts[1].Owner != nil
	})

	assert.Equal(t, "Ann", state.FeedAlerts[0].Owner.DisplayName)
	assert.Equal(t, 1, h.fetcher.callCount("u1"))
}

func TestKnockerProfilesResolved(t *testing.T) {
	me := &domain.User{ID: "u1"}
	h := newHarness(t, me)
	now := h.clock.Now()

	h.fetcher.mu.Lock()
	h.fetcher.profiles["u2"] = domain.Profile{DisplayName: "Bea"}
	h.fetcher.mu.Unlock()

	mine := alertAt("a1", "u1", "Dinner ready", now.Add(-2*time.Minute), now.Add(-time.Minute), "u2", "u3")
	h.store.mineSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{mine}}

	// u3 has no stored profile: omitted, not blocked on.
	state := waitState(t, h, func(s domain.HomeState) bool {
		return len(s.MyAlerts) == 1 && len(s.MyAlerts[0].Knockers) == 1
	})
	assert.Equal(t, "Bea", state.MyAlerts[0].Knockers[0].DisplayName)
	assert.Equal(t, 1, h.fetcher.callCount("u2"))
	assert.Equal(t, 1, h.fetcher.callCount("u3"))
}

func TestListenerErrorDegradesWithNotice(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)
	now := h.clock.Now()

	notices, stopNotices := h.agg.Notices()
	defer stopNotices()

	other := alertAt("a1", "u1", "Movie night", now.Add(-2*time.Minute), now.Add(-time.Minute))
	h.store.allSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{other}}
	waitState(t, h, func(s domain.HomeState) bool { return len(s.FeedAlerts) == 1 })

	h.store.allSrc <- domain.AlertSnapshot{Err: domain.ErrNetwork}

	waitState(t, h, func(s domain.HomeState) bool { return len(s.FeedAlerts) == 0 })

	select {
	case n := <-notices:
		assert.Equal(t, "network", n.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a notice")
	}
}

func TestSignOutResetsProjectionAndCancelsListeners(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)
	now := h.clock.Now()

	mine := alertAt("a-mine", "u2", "Mine", now.Add(-2*time.Minute), now.Add(-time.Minute))
	h.store.mineSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{mine}}
	waitState(t, h, func(s domain.HomeState) bool { return len(s.MyAlerts) == 1 })

	h.identity.Set(nil)

	state := waitState(t, h, func(s domain.HomeState) bool { return s.User == nil })
	assert.Empty(t, state.MyAlerts)
	assert.Empty(t, state.FeedAlerts)

	h.store.mu.Lock()
	listenCtx := h.store.listenCtxs[0]
	h.store.mu.Unlock()
	require.Eventually(t, func() bool {
		return listenCtx.Err() != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAddAlertValidation(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)
	now := h.clock.Now()

	_, err := h.agg.AddAlert(context.Background(), "   ", now.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrEmptyContent)

	_, err = h.agg.AddAlert(context.Background(), "Dinner ready", now.Add(-time.Second))
	assert.ErrorIs(t, err, domain.ErrTargetTimeInPast)

	_, err = h.agg.AddAlert(context.Background(), "Dinner ready", now)
	assert.ErrorIs(t, err, domain.ErrTargetTimeInPast)

	assert.Zero(t, h.store.addCalls)

	id, err := h.agg.AddAlert(context.Background(), "Dinner ready", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "alert-new", id)
}

func TestDeleteAlertOwnerOnly(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)
	now := h.clock.Now()

	h.store.alerts["a-mine"] = alertAt("a-mine", "u2", "Mine", now, now.Add(time.Minute))
	h.store.alerts["a-other"] = alertAt("a-other", "u1", "Theirs", now, now.Add(time.Minute))

	require.NoError(t, h.agg.DeleteAlert(context.Background(), "a-mine"))
	assert.Equal(t, []string{"a-mine"}, h.store.deleted)

	err := h.agg.DeleteAlert(context.Background(), "a-other")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	err = h.agg.DeleteAlert(context.Background(), "a-gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSplashWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st := newFakeStore()
	id := &fakeIdentity{}
	cache := profiles.NewCache(ctx, newCountingFetcher())

	agg := NewAggregator(ctx, st, id, cache, Options{
		TickInterval:   time.Hour,
		SplashDuration: 40 * time.Millisecond,
	})
	t.Cleanup(agg.Close)

	assert.True(t, agg.State().IsLoading)
	require.Eventually(t, func() bool {
		return !agg.State().IsLoading
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeDeliversLatestState(t *testing.T) {
	me := &domain.User{ID: "u2"}
	h := newHarness(t, me)

	states, stop := h.agg.Subscribe()
	defer stop()

	// Primed with the current state.
	select {
	case s := <-states:
		assert.Equal(t, "u2", s.User.ID)
	case <-time.After(time.Second):
		t.Fatal("expected primed state")
	}

	now := h.clock.Now()
	mine := alertAt("a-mine", "u2", "Mine", now, now.Add(time.Minute))
	h.store.mineSrc <- domain.AlertSnapshot{Alerts: []domain.KnockAlert{mine}}

	require.Eventually(t, func() bool {
		select {
		case s := <-states:
			return len(s.MyAlerts) == 1
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}
