// Package service contains the alert feed aggregator: the live,
// combine-latest projection of one signed-in session. It merges the current
// user, the session's own alerts, everyone else's alerts, the profile cache
// and a wall-clock tick into a single HomeState stream, and carries the
// session's mutation surface (knock, add, delete) with optimistic updates.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/knockme-app/knockme-backend/internal/alerts/domain"
	"github.com/knockme-app/knockme-backend/internal/set"
)

// AlertStore is the slice of the document store the aggregator needs.
type AlertStore interface {
	AddAlert(ctx context.Context, ownerID, content string, targetTime time.Time) (string, error)
	Knock(ctx context.Context, alertID, userID string) error
	DeleteAlert(ctx context.Context, alertID string) error
	GetAlert(ctx context.Context, alertID string) (*domain.KnockAlert, error)
	ObserveOwnerAlerts(ctx context.Context, ownerID string) <-chan domain.AlertSnapshot
	ObserveAllAlerts(ctx context.Context) <-chan domain.AlertSnapshot
}

// Identity exposes the session's signed-in user as a live value.
type Identity interface {
	Current() *domain.User
	Watch() (<-chan *domain.User, func())
}

// ProfileCache is the aggregator's view of the profile cache.
type ProfileCache interface {
	Observe(userID string)
	Watch() (<-chan map[string]domain.Profile, func())
}

// Options tune one aggregator instance. Zero values fall back to the
// defaults used in production.
type Options struct {
	TickInterval   time.Duration
	SplashDuration time.Duration
	KnockBurst     int
	KnockPerMinute int
	// Now is the clock used for all time-relative derivation. Overridden in
	// tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.SplashDuration < 0 {
		o.SplashDuration = 0
	}
	if o.KnockBurst <= 0 {
		o.KnockBurst = 5
	}
	if o.KnockPerMinute <= 0 {
		o.KnockPerMinute = 30
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Aggregator owns the live state of one session. All mutable state is
// confined behind one mutex; every input delivery updates its last-known
// value and triggers a recomputation (combine-latest semantics, so inputs
// may interleave arbitrarily).
type Aggregator struct {
	store    AlertStore
	identity Identity
	cache    ProfileCache
	opts     Options
	limiter  *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	user          *domain.User
	myAlerts      []domain.KnockAlert
	feedAlerts    []domain.KnockAlert
	profiles      map[string]domain.Profile
	now           time.Time
	loading       bool
	pendingKnocks *set.Set[string]
	listenCancel  context.CancelFunc

	stateSubs  map[int]chan domain.HomeState
	noticeSubs map[int]chan domain.Notice
	nextSub    int
	idleSince  time.Time
	closed     bool
}

// NewAggregator builds and starts an aggregator. It begins in the loading
// state and leaves it after Options.SplashDuration regardless of data
// readiness.
func NewAggregator(ctx context.Context, store AlertStore, identity Identity, cache ProfileCache, opts Options) *Aggregator {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	a := &Aggregator{
		store:    store,
		identity: identity,
		cache:    cache,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(float64(opts.KnockPerMinute)/60.0), opts.KnockBurst),

		ctx:    ctx,
		cancel: cancel,

		profiles:      make(map[string]domain.Profile),
		now:           opts.Now(),
		loading:       true,
		pendingKnocks: set.New[string](),

		stateSubs:  make(map[int]chan domain.HomeState),
		noticeSubs: make(map[int]chan domain.Notice),
		idleSince:  opts.Now(),
	}

	a.start()
	return a
}

func (a *Aggregator) start() {
	userCh, stopUser := a.identity.Watch()
	profCh, stopProf := a.cache.Watch()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer stopUser()
		for {
			select {
			case user, ok := <-userCh:
				if !ok {
					return
				}
				a.onUserChanged(user)
			case <-a.ctx.Done():
				return
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer stopProf()
		for {
			select {
			case m, ok := <-profCh:
				if !ok {
					return
				}
				a.mu.Lock()
				a.profiles = m
				a.recomputeLocked()
				a.mu.Unlock()
			case <-a.ctx.Done():
				return
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.tick(a.opts.Now())
		ticker := time.NewTicker(a.opts.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.tick(a.opts.Now())
			case <-a.ctx.Done():
				return
			}
		}
	}()

	if a.opts.SplashDuration > 0 {
		splash := time.AfterFunc(a.opts.SplashDuration, func() {
			a.mu.Lock()
			a.loading = false
			a.recomputeLocked()
			a.mu.Unlock()
		})
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			<-a.ctx.Done()
			splash.Stop()
		}()
	} else {
		a.mu.Lock()
		a.loading = false
		a.mu.Unlock()
	}
}

// tick advances the derivation clock without any store round-trip. Exposed
// on the struct so tests can drive activation deterministically.
func (a *Aggregator) tick(now time.Time) {
	a.mu.Lock()
	a.now = now
	a.recomputeLocked()
	a.mu.Unlock()
}

// onUserChanged tears down the previous user's listeners, resets alert state
// and starts fresh live queries for the new user. A nil user leaves the
// aggregator as an empty logged-out projection.
func (a *Aggregator) onUserChanged(user *domain.User) {
	a.mu.Lock()

	if a.listenCancel != nil {
		a.listenCancel()
		a.listenCancel = nil
	}

	a.user = user
	a.myAlerts = nil
	a.feedAlerts = nil
	a.pendingKnocks = set.New[string]()

	if user == nil {
		a.recomputeLocked()
		a.mu.Unlock()
		return
	}

	listenCtx, cancel := context.WithCancel(a.ctx)
	a.listenCancel = cancel
	uid := user.ID
	a.recomputeLocked()
	a.mu.Unlock()

	mine := a.store.ObserveOwnerAlerts(listenCtx, uid)
	all := a.store.ObserveAllAlerts(listenCtx)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.consume(mine, uid, true)
	}()
	go func() {
		defer a.wg.Done()
		a.consume(all, uid, false)
	}()
}

// consume drains one live query until it ends. A listener error degrades to
// an empty list plus a network notice; the stream never silently hangs.
func (a *Aggregator) consume(ch <-chan domain.AlertSnapshot, uid string, mine bool) {
	for snap := range ch {
		a.mu.Lock()
		// Ignore deliveries that raced a user switch.
		if a.user == nil || a.user.ID != uid {
			a.mu.Unlock()
			return
		}

		if snap.Err != nil {
			if mine {
				a.myAlerts = nil
			} else {
				a.feedAlerts = nil
			}
			a.recomputeLocked()
			a.mu.Unlock()
			a.notify(domain.Notice{Kind: domain.ErrorKind(snap.Err), Message: "live alert feed interrupted"})
			return
		}

		if mine {
			a.myAlerts = snap.Alerts
		} else {
			a.feedAlerts = filterOthers(snap.Alerts, uid)
		}
		a.recomputeLocked()
		a.mu.Unlock()
	}
}

func filterOthers(alerts []domain.KnockAlert, uid string) []domain.KnockAlert {
	out := make([]domain.KnockAlert, 0, len(alerts))
	for _, alert := range alerts {
		if alert.OwnerID != uid {
			out = append(out, alert)
		}
	}
	return out
}

// recomputeLocked derives the HomeState from the latest-known inputs and
// publishes it. Caller holds a.mu.
func (a *Aggregator) recomputeLocked() {
	state := a.deriveLocked()
	for _, ch := range a.stateSubs {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
}

func (a *Aggregator) deriveLocked() domain.HomeState {
	now := a.now
	nowMilli := now.UnixMilli()

	myViews := make([]domain.MyAlertView, 0, len(a.myAlerts))
	for _, alert := range a.myAlerts {
		created := alert.CreatedAt.UnixMilli()
		target := alert.TargetTime.UnixMilli()

		total := target - created
		elapsed := nowMilli - created

		progress := 1.0
		if total > 0 {
			progress = clamp(float64(elapsed)/float64(total), 0, 1)
		}

		knockers := make([]domain.Profile, 0, len(alert.KnockedByUserIDs))
		for _, id := range alert.KnockedByUserIDs {
			a.cache.Observe(id)
			if p, ok := a.profiles[id]; ok {
				knockers = append(knockers, p)
			}
		}

		myViews = append(myViews, domain.MyAlertView{
			Alert:    alert,
			Progress: progress,
			IsActive: target <= nowMilli,
			Knockers: knockers,
		})
	}

	var uid string
	if a.user != nil {
		uid = a.user.ID
	}

	feedViews := make([]domain.FeedAlertView, 0, len(a.feedAlerts))
	for _, alert := range a.feedAlerts {
		// Future-dated alerts from others stay invisible until activated.
		if alert.TargetTime.UnixMilli() > nowMilli {
			continue
		}

		a.cache.Observe(alert.OwnerID)

		view := domain.FeedAlertView{Alert: alert}
		if p, ok := a.profiles[alert.OwnerID]; ok {
			owner := p
			view.Owner = &owner
		}

		knocked := uid != "" && alert.KnockedBy(uid)
		if knocked {
			// Server truth confirmed the knock; the overlay entry is spent.
			a.pendingKnocks.Remove(alert.ID)
		} else if a.pendingKnocks.Contains(alert.ID) {
			knocked = true
			view.Alert.KnockedByUserIDs = append(append([]string{}, alert.KnockedByUserIDs...), uid)
		}
		view.Knocked = knocked

		feedViews = append(feedViews, view)
	}

	return domain.HomeState{
		User:       a.user,
		MyAlerts:   myViews,
		FeedAlerts: feedViews,
		IsLoading:  a.loading,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// State returns the current derived projection.
func (a *Aggregator) State() domain.HomeState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deriveLocked()
}

// Subscribe returns a conflated channel of HomeState emissions, primed with
// the current state. The stop function releases the subscription.
func (a *Aggregator) Subscribe() (<-chan domain.HomeState, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++

	ch := make(chan domain.HomeState, 1)
	ch <- a.deriveLocked()
	a.stateSubs[id] = ch

	stop := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.stateSubs[id]; ok {
			delete(a.stateSubs, id)
			close(ch)
			if len(a.stateSubs) == 0 {
				a.idleSince = a.opts.Now()
			}
		}
	}
	return ch, stop
}

// Notices returns a channel of one-shot user-visible notices. Slow readers
// lose the oldest notice, never block the aggregator.
func (a *Aggregator) Notices() (<-chan domain.Notice, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++

	ch := make(chan domain.Notice, 8)
	a.noticeSubs[id] = ch

	stop := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.noticeSubs[id]; ok {
			delete(a.noticeSubs, id)
			close(ch)
		}
	}
	return ch, stop
}

func (a *Aggregator) notify(n domain.Notice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.noticeSubs {
		select {
		case ch <- n:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- n
		}
	}
}

// SubscriberCount reports the number of live state subscriptions.
func (a *Aggregator) SubscriberCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stateSubs)
}

// IdleSince reports when the aggregator last lost its final subscriber.
// The zero meaning: an aggregator that has subscribers is never idle.
func (a *Aggregator) IdleSince() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.stateSubs) > 0 {
		return time.Time{}, false
	}
	return a.idleSince, true
}

// Close tears the aggregator down: listeners, ticker and watcher goroutines
// stop, and all subscriber channels close.
func (a *Aggregator) Close() {
	a.cancel()
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.listenCancel != nil {
		a.listenCancel()
	}
	for id, ch := range a.stateSubs {
		delete(a.stateSubs, id)
		close(ch)
	}
	for id, ch := range a.noticeSubs {
		delete(a.noticeSubs, id)
		close(ch)
	}
	log.Debug().Msg("aggregator closed")
}
