package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/medmarket/tgauth"
	"github.com/medmarket/tgauth/client/api"
	"github.com/medmarket/tgauth/client/tokenstore"
	"github.com/medmarket/tgauth/jwt"
)

const (
	// DefaultRefreshSkew is used when Options.RefreshSkew is zero.
	DefaultRefreshSkew = 5 * time.Minute
	refreshKey         = "refresh"
)

var (
	// ErrNotAuthenticated means the store holds no token pair.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrStaleRefresh is returned to refresh callers whose result was dropped
	// because a login or logout happened while it was in flight.
	ErrStaleRefresh = errors.New("session: refresh result discarded")
)

// Backend is the server side of the session, usually *api.Client.
type Backend interface {
	Login(ctx context.Context, cred api.Credentials) (*api.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (tgauth.TokenPair, error)
	Do(ctx context.Context, method, path, accessToken string, in, out any) error
}

// Options configures New. Store and Backend are required.
type Options struct {
	Store   *tokenstore.Store
	Backend Backend
	// RefreshSkew treats an access token expiring within this window as
	// expired.
	RefreshSkew time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// Controller owns the client session. Login, Refresh and Logout are ordered
// by one operation lock; concurrent Refresh calls share one request; and a
// generation counter drops refresh results that arrive after a login or
// logout.
type Controller struct {
	store   *tokenstore.Store
	backend Backend
	skew    time.Duration
	now     func() time.Time
	logger  *slog.Logger

	opMu sync.Mutex
	sf   singleflight.Group

	mu          sync.Mutex
	state       State
	gen         uint64
	refreshDone chan struct{}
	subs        map[int]func(State)
	nextSub     int

	notifyMu sync.Mutex
}

// New returns a Controller in StatusUnknown. Call Init before use.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Backend == nil {
		return nil, errors.New("session: store and backend are required")
	}
	if opts.RefreshSkew <= 0 {
		opts.RefreshSkew = DefaultRefreshSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		store:   opts.Store,
		backend: opts.Backend,
		skew:    opts.RefreshSkew,
		now:     opts.Now,
		logger:  opts.Logger,
		subs:    make(map[int]func(State)),
	}, nil
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe registers fn for every transition. fn runs on the goroutine that
// caused the transition and must not call back into the Controller's
// mutating methods.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// update applies mutate under the state lock, then notifies subscribers.
func (c *Controller) update(mutate func(*State)) {
	c.mu.Lock()
	mutate(&c.state)
	c.state.IsAuthenticated = c.state.Status == StatusAuthenticated
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	snapshot := c.state.clone()
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot.clone())
	}
}

// Init reads the stored pair once at startup. A storage failure fails
// closed to unauthenticated. An expired access token triggers exactly one
// silent refresh.
func (c *Controller) Init(ctx context.Context) error {
	c.opMu.Lock()
	access, _, ok, err := c.store.Pair(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "session: read token pair", slog.Any("error", err))
		c.update(func(s *State) {
			s.Status = StatusUnauthenticated
			s.UserProfile = nil
			s.LastError = err
		})
		c.opMu.Unlock()
		return err
	}
	if !ok {
		c.update(func(s *State) {
			s.Status = StatusUnauthenticated
			s.UserProfile = nil
		})
		c.opMu.Unlock()
		return nil
	}
	if !c.expiring(access) {
		profile := c.loadProfile(ctx)
		c.update(func(s *State) {
			s.Status = StatusAuthenticated
			s.UserProfile = profile
			s.LastError = nil
		})
		c.opMu.Unlock()
		return nil
	}
	c.opMu.Unlock()

	return c.Refresh(ctx)
}

func (c *Controller) expiring(access string) bool {
	exp, err := jwt.PeekExpiry(access)
	if err != nil {
		return true
	}
	return !c.now().Add(c.skew).Before(exp)
}

// Login sends cred to the server. On failure the error is recorded in
// LastError and returned; the session stays unauthenticated.
func (c *Controller) Login(ctx context.Context, cred api.Credentials) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
	c.update(func(s *State) { s.IsLoading = true })

	res, err := c.backend.Login(ctx, cred)
	if err == nil {
		err = c.store.SetPair(ctx, res.AccessToken, res.RefreshToken)
	}
	if err != nil {
		c.update(func(s *State) {
			s.IsLoading = false
			s.LastError = err
			if s.Status != StatusAuthenticated {
				s.Status = StatusUnauthenticated
			}
		})
		return err
	}

	profile := res.UserProfile
	c.saveProfile(ctx, &profile)
	c.update(func(s *State) {
		s.Status = StatusAuthenticated
		s.IsLoading = false
		s.UserProfile = &profile
		s.LastError = nil
	})
	return nil
}

// LoginAsync runs Login and delivers one outcome. Cancelling ctx does not
// abort the request; the outcome reports Cancelled instead.
func (c *Controller) LoginAsync(ctx context.Context, cred api.Credentials) <-chan LoginOutcome {
	out := make(chan LoginOutcome, 1)
	go func() {
		defer close(out)
		err := c.Login(context.WithoutCancel(ctx), cred)
		switch {
		case ctx.Err() != nil:
			out <- LoginOutcome{Cancelled: true}
		case err != nil:
			out <- LoginOutcome{Err: err}
		default:
			out <- LoginOutcome{Profile: c.State().UserProfile}
		}
	}()
	return out
}

// Refresh exchanges the stored refresh token. Concurrent callers share one
// request. An unauthorized answer clears the store; a network failure keeps
// it. There is no automatic retry.
func (c *Controller) Refresh(ctx context.Context) error {
	ch := c.sf.DoChan(refreshKey, func() (any, error) {
		return nil, c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) refresh(ctx context.Context) error {
	done := make(chan struct{})
	c.mu.Lock()
	gen := c.gen
	c.refreshDone = done
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.refreshDone == done {
			c.refreshDone = nil
		}
		c.mu.Unlock()
		close(done)
	}()

	c.update(func(s *State) { s.Refreshing = true })

	_, refreshToken, ok, err := c.store.Pair(ctx)
	if err != nil || !ok {
		if err == nil {
			err = ErrNotAuthenticated
		}
		return c.commitRefreshFailure(ctx, gen, err, true)
	}

	pair, err := c.backend.Refresh(ctx, refreshToken)
	if err != nil {
		drop := errors.Is(err, api.ErrUnauthorized) || errors.Is(err, api.ErrForbidden)
		return c.commitRefreshFailure(ctx, gen, err, drop)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.stale(gen) {
		return ErrStaleRefresh
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	if err := c.store.SetPair(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		c.update(func(s *State) {
			s.Refreshing = false
			s.LastError = err
		})
		return err
	}
	profile := c.loadProfile(ctx)
	c.update(func(s *State) {
		s.Status = StatusAuthenticated
		s.Refreshing = false
		s.LastError = nil
		if profile != nil {
			s.UserProfile = profile
		}
	})
	return nil
}

func (c *Controller) commitRefreshFailure(ctx context.Context, gen uint64, cause error, drop bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.stale(gen) {
		return ErrStaleRefresh
	}
	if drop {
		if err := c.store.Clear(ctx); err != nil {
			c.logger.WarnContext(ctx, "session: clear after failed refresh", slog.Any("error", err))
		}
	}
	c.update(func(s *State) {
		s.Refreshing = false
		s.LastError = cause
		if drop || s.Status == StatusUnknown {
			s.Status = StatusUnauthenticated
		}
		if drop {
			s.UserProfile = nil
		}
	})
	return cause
}

// stale reports whether a login or logout ran since gen was read. A stale
// refresh still clears its Refreshing flag.
func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	changed := c.gen != gen
	c.mu.Unlock()
	if changed {
		c.update(func(s *State) { s.Refreshing = false })
	}
	return changed
}

// Logout waits for an in-flight refresh, then clears the store and ends the
// session whether or not the clear succeeded. It never touches the network
// and is safe to call repeatedly.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	done := c.refreshDone
	c.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.gen++
	c.mu.Unlock()

	err := c.store.Clear(context.WithoutCancel(ctx))
	if err != nil {
		c.logger.WarnContext(ctx, "session: clear on logout", slog.Any("error", err))
	}
	c.update(func(s *State) {
		s.Status = StatusUnauthenticated
		s.IsLoading = false
		s.UserProfile = nil
		s.LastError = nil
	})
	return err
}

// AccessToken returns a usable access token, refreshing first when the
// stored one is within RefreshSkew of expiry.
func (c *Controller) AccessToken(ctx context.Context) (string, error) {
	access, _, ok, err := c.store.Pair(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotAuthenticated
	}
	if !c.expiring(access) {
		return access, nil
	}
	// A stale refresh means a login or logout replaced the pair meanwhile.
	if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrStaleRefresh) {
		return "", err
	}
	access, _, ok, err = c.store.Pair(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotAuthenticated
	}
	return access, nil
}

// Do calls a protected endpoint with the session's access token. A 401 for
// an expired token refreshes once and retries. Any other 401 ends the
// session.
func (c *Controller) Do(ctx context.Context, method, path string, in, out any) error {
	access, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	err = c.backend.Do(ctx, method, path, access, in, out)
	if api.TokenExpired(err) {
		if rerr := c.Refresh(ctx); rerr != nil && !errors.Is(rerr, ErrStaleRefresh) {
			return rerr
		}
		var ok bool
		access, _, ok, err = c.store.Pair(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotAuthenticated
		}
		err = c.backend.Do(ctx, method, path, access, in, out)
	}
	if errors.Is(err, api.ErrUnauthorized) {
		c.invalidate(ctx, access, err)
	}
	return err
}

// invalidate ends the session after the server rejected rejected. A pair
// stored since then by another login or refresh is left alone.
func (c *Controller) invalidate(ctx context.Context, rejected string, cause error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	current, _, ok, err := c.store.Pair(ctx)
	if err == nil && ok && current != rejected {
		return
	}

	c.mu.Lock()
	c.gen++
	c.mu.Unlock()

	if err := c.store.Clear(context.WithoutCancel(ctx)); err != nil {
		c.logger.WarnContext(ctx, "session: clear after rejected token", slog.Any("error", err))
	}
	c.update(func(s *State) {
		s.Status = StatusUnauthenticated
		s.Refreshing = false
		s.UserProfile = nil
		s.LastError = cause
	})
}

func (c *Controller) saveProfile(ctx context.Context, p *tgauth.UserProfile) {
	raw, err := json.Marshal(p)
	if err == nil {
		err = c.store.SetItem(ctx, tokenstore.KeyUserProfile, string(raw))
	}
	if err != nil {
		c.logger.WarnContext(ctx, "session: cache profile", slog.Any("error", err))
	}
}

func (c *Controller) loadProfile(ctx context.Context) *tgauth.UserProfile {
	raw, ok, err := c.store.GetItem(ctx, tokenstore.KeyUserProfile)
	if err != nil || !ok {
		return nil
	}
	var p tgauth.UserProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil
	}
	return &p
}
