package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/medmarket/tgauth"
	"github.com/medmarket/tgauth/client/api"
	"github.com/medmarket/tgauth/client/tokenstore"
	"github.com/medmarket/tgauth/jwt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	t     *testing.T
	clock *testClock
	jwt   *jwt.Manager

	mu           sync.Mutex
	loginCalls   int
	refreshCalls int
	loginErr     error
	refreshErr   error
	gate         chan struct{}
	started      chan struct{}

	// do answers Do calls; nil answers 200.
	do       func(access string) error
	doTokens []string
}

func newFakeBackend(t *testing.T, clock *testClock) *fakeBackend {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		Keys:       map[string][]byte{"customer": []byte("customer-secret-0123456789abcdef0123")},
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	return &fakeBackend{t: t, clock: clock, jwt: m}
}

func (b *fakeBackend) mint() tgauth.TokenPair {
	p, err := b.jwt.Issue(jwt.Subject{UserID: "user-1", Role: "customer"})
	if err != nil {
		b.t.Errorf("issue: %v", err)
	}
	return tgauth.TokenPair{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, ExpiresAt: p.AccessExpiresAt}
}

// block makes the next backend call wait until the returned release is called.
func (b *fakeBackend) block() (started <-chan struct{}, release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = make(chan struct{})
	b.started = make(chan struct{}, 8)
	gate := b.gate
	return b.started, func() { close(gate) }
}

func (b *fakeBackend) wait() {
	b.mu.Lock()
	gate, started := b.gate, b.started
	b.mu.Unlock()
	if gate == nil {
		return
	}
	started <- struct{}{}
	<-gate
}

func (b *fakeBackend) Login(_ context.Context, _ api.Credentials) (*api.LoginResponse, error) {
	b.mu.Lock()
	b.loginCalls++
	err := b.loginErr
	b.mu.Unlock()
	b.wait()
	if err != nil {
		return nil, err
	}
	p := b.mint()
	return &api.LoginResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    p.ExpiresAt,
		UserProfile:  tgauth.UserProfile{ID: "user-1", FirstName: "John", Role: tgauth.RoleCustomer},
	}, nil
}

func (b *fakeBackend) Refresh(_ context.Context, _ string) (tgauth.TokenPair, error) {
	b.mu.Lock()
	b.refreshCalls++
	err := b.refreshErr
	b.mu.Unlock()
	b.wait()
	if err != nil {
		return tgauth.TokenPair{}, err
	}
	return b.mint(), nil
}

func (b *fakeBackend) Do(_ context.Context, _, _, access string, _, _ any) error {
	b.mu.Lock()
	b.doTokens = append(b.doTokens, access)
	do := b.do
	b.mu.Unlock()
	if do == nil {
		return nil
	}
	return do(access)
}

func (b *fakeBackend) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.doTokens...)
}

func (b *fakeBackend) calls() (login, refresh int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loginCalls, b.refreshCalls
}

func newController(t *testing.T, store *tokenstore.Store, b *fakeBackend, clock *testClock) *Controller {
	t.Helper()
	c, err := New(Options{Store: store, Backend: b, Now: clock.Now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

var unauthorized = &api.StatusError{StatusCode: 401, Message: "Invalid or expired refresh token.", Code: "refresh_invalid"}

func TestInitWithoutTokensIsUnauthenticated(t *testing.T) {
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	c := newController(t, tokenstore.NewMemory(), b, clock)

	if s := c.State(); s.Status != StatusUnknown || s.IsAuthenticated {
		t.Fatalf("initial state %+v", s)
	}
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if s := c.State(); s.Status != StatusUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", s.Status)
	}
	if _, refresh := b.calls(); refresh != 0 {
		t.Fatalf("unexpected refresh calls: %d", refresh)
	}
}

func TestInitWithValidTokenSkipsRefresh(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	p := b.mint()
	_ = store.SetPair(ctx, p.AccessToken, p.RefreshToken)
	_ = store.SetItem(ctx, tokenstore.KeyUserProfile, `{"id":"user-1","firstName":"John","role":"customer","profileCompleted":false}`)

	c := newController(t, store, b, clock)
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	s := c.State()
	if !s.IsAuthenticated || s.UserProfile == nil || s.UserProfile.FirstName != "John" {
		t.Fatalf("unexpected state %+v", s)
	}
	if _, refresh := b.calls(); refresh != 0 {
		t.Fatalf("unexpected refresh calls: %d", refresh)
	}
}

func TestInitWithExpiredAccessRefreshesOnce(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	old := b.mint()
	_ = store.SetPair(ctx, old.AccessToken, old.RefreshToken)

	clock.Advance(time.Hour)
	c := newController(t, store, b, clock)
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, refresh := b.calls(); refresh != 1 {
		t.Fatalf("expected exactly one refresh, got %d", refresh)
	}
	access, _, ok, err := store.Pair(ctx)
	if err != nil || !ok || access == old.AccessToken {
		t.Fatalf("new pair not stored: ok=%v err=%v", ok, err)
	}
	if s := c.State(); !s.IsAuthenticated || s.Refreshing {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestInitWithinSkewCountsAsExpired(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	p := b.mint()
	_ = store.SetPair(ctx, p.AccessToken, p.RefreshToken)

	clock.Advance(11 * time.Minute) // four minutes left, inside the 5m skew
	c := newController(t, store, b, clock)
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, refresh := b.calls(); refresh != 1 {
		t.Fatalf("expected refresh inside skew, got %d calls", refresh)
	}
}

func TestExpiredRefreshClearsStore(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	b.refreshErr = unauthorized
	store := tokenstore.NewMemory()
	p := b.mint()
	_ = store.SetPair(ctx, p.AccessToken, p.RefreshToken)
	clock.Advance(time.Hour)

	c := newController(t, store, b, clock)
	err := c.Init(ctx)
	if !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, _, ok, _ := store.Pair(ctx); ok {
		t.Fatal("store not cleared")
	}
	s := c.State()
	if s.Status != StatusUnauthenticated || !errors.Is(s.LastError, api.ErrUnauthorized) {
		t.Fatalf("unexpected state %+v", s)
	}

	if _, err := c.AccessToken(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if _, refresh := b.calls(); refresh != 1 {
		t.Fatalf("expected no further refresh, got %d calls", refresh)
	}
}

func TestRefreshNetworkFailureKeepsTokens(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	c := newController(t, store, b, clock)
	if err := c.Login(ctx, api.Credentials{InitData: "x"}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	b.mu.Lock()
	b.refreshErr = &api.NetworkError{Method: "POST", URL: "http://api/auth/refresh", Err: errors.New("connection refused")}
	b.mu.Unlock()

	err := c.Refresh(ctx)
	if !errors.Is(err, api.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if _, _, ok, _ := store.Pair(ctx); !ok {
		t.Fatal("network failure must keep tokens")
	}
	if s := c.State(); !s.IsAuthenticated || !errors.Is(s.LastError, api.ErrNetwork) {
		t.Fatalf("unexpected state %+v", s)
	}
}

type brokenSecure struct{ *tokenstore.MemoryBackend }

func (*brokenSecure) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("keychain locked")
}

func TestInitFailsClosedOnStorageError(t *testing.T) {
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store, err := tokenstore.New(tokenstore.Options{Secure: &brokenSecure{tokenstore.NewMemoryBackend()}, Plain: tokenstore.NewMemoryBackend()})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	c := newController(t, store, b, clock)

	if err := c.Init(context.Background()); !errors.Is(err, tokenstore.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if s := c.State(); s.Status != StatusUnauthenticated || s.IsAuthenticated {
		t.Fatalf("expected fail-closed, got %+v", s)
	}
}

func TestLoginSuccessAndFailure(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	c := newController(t, store, b, clock)
	_ = c.Init(ctx)

	b.loginErr = &api.StatusError{StatusCode: 400, Message: "Invalid Telegram authentication data."}
	err := c.Login(ctx, api.Credentials{InitData: "tampered"})
	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if s := c.State(); s.IsAuthenticated || s.IsLoading || !errors.Is(s.LastError, api.ErrValidation) {
		t.Fatalf("unexpected state after failed login %+v", s)
	}

	b.mu.Lock()
	b.loginErr = nil
	b.mu.Unlock()
	if err := c.Login(ctx, api.Credentials{InitData: "ok"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	s := c.State()
	if !s.IsAuthenticated || s.LastError != nil || s.UserProfile == nil || s.UserProfile.ID != "user-1" {
		t.Fatalf("unexpected state after login %+v", s)
	}
	if raw, ok, _ := store.GetItem(ctx, tokenstore.KeyUserProfile); !ok || raw == "" {
		t.Fatal("profile not cached")
	}
}

func TestLogoutTwice(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	c := newController(t, store, b, clock)
	_ = c.Login(ctx, api.Credentials{InitData: "ok"})

	for i := 0; i < 2; i++ {
		if err := c.Logout(ctx); err != nil {
			t.Fatalf("Logout #%d: %v", i+1, err)
		}
	}
	if _, _, ok, _ := store.Pair(ctx); ok {
		t.Fatal("tokens survived logout")
	}
	if s := c.State(); s.Status != StatusUnauthenticated || s.UserProfile != nil {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestConcurrentRefreshSharesOneRequest(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	c := newController(t, tokenstore.NewMemory(), b, clock)
	_ = c.Login(ctx, api.Credentials{InitData: "ok"})

	started, release := b.block()
	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Refresh(ctx)
		}()
	}
	<-started
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}
	if _, refresh := b.calls(); refresh != 1 {
		t.Fatalf("expected one shared refresh, got %d", refresh)
	}
}

func TestRefreshResultDiscardedAfterLogin(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	c := newController(t, store, b, clock)
	_ = c.Login(ctx, api.Credentials{InitData: "first"})

	started, release := b.block()
	done := make(chan error, 1)
	go func() { done <- c.Refresh(ctx) }()
	<-started

	b.mu.Lock()
	b.gate = nil
	b.mu.Unlock()
	clock.Advance(time.Minute)
	if err := c.Login(ctx, api.Credentials{InitData: "second"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	loginAccess, _, _, _ := store.Pair(ctx)

	clock.Advance(time.Minute)
	release()
	if err := <-done; !errors.Is(err, ErrStaleRefresh) {
		t.Fatalf("expected ErrStaleRefresh, got %v", err)
	}
	access, _, _, _ := store.Pair(ctx)
	if access != loginAccess {
		t.Fatal("stale refresh overwrote the login pair")
	}
	if s := c.State(); !s.IsAuthenticated || s.Refreshing {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestLogoutWaitsForInFlightRefresh(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	c := newController(t, store, b, clock)
	_ = c.Login(ctx, api.Credentials{InitData: "ok"})

	started, release := b.block()
	refreshDone := make(chan error, 1)
	go func() { refreshDone <- c.Refresh(ctx) }()
	<-started

	logoutDone := make(chan error, 1)
	go func() { logoutDone <- c.Logout(ctx) }()

	select {
	case <-logoutDone:
		t.Fatal("logout finished while refresh was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	if err := <-refreshDone; err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := <-logoutDone; err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, _, ok, _ := store.Pair(ctx); ok {
		t.Fatal("refresh result survived logout")
	}
	if s := c.State(); s.IsAuthenticated {
		t.Fatalf("expected unauthenticated, got %+v", s)
	}
}

func TestLoginAsyncReportsCancelled(t *testing.T) {
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	c := newController(t, store, b, clock)

	started, release := b.block()
	ctx, cancel := context.WithCancel(context.Background())
	out := c.LoginAsync(ctx, api.Credentials{InitData: "ok"})
	<-started
	cancel()
	release()

	outcome, ok := <-out
	if !ok || !outcome.Cancelled || outcome.Err != nil || outcome.Profile != nil {
		t.Fatalf("expected cancelled outcome, got %+v", outcome)
	}
	if _, ok := <-out; ok {
		t.Fatal("outcome channel must yield exactly once")
	}
	if _, _, ok, _ := store.Pair(context.Background()); !ok {
		t.Fatal("login request should complete despite cancellation")
	}
}

func TestLoginAsyncSuccess(t *testing.T) {
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	c := newController(t, tokenstore.NewMemory(), b, clock)

	outcome := <-c.LoginAsync(context.Background(), api.Credentials{InitData: "ok"})
	if outcome.Err != nil || outcome.Cancelled || outcome.Profile == nil || outcome.Profile.ID != "user-1" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestAccessTokenRefreshesWhenExpiring(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	c := newController(t, tokenstore.NewMemory(), b, clock)
	_ = c.Login(ctx, api.Credentials{InitData: "ok"})

	first, err := c.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	clock.Advance(14 * time.Minute)
	second, err := c.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken after advance: %v", err)
	}
	if first == second {
		t.Fatal("expected a refreshed token")
	}
	if _, refresh := b.calls(); refresh != 1 {
		t.Fatalf("expected one refresh, got %d", refresh)
	}
}

func TestSubscribeSeesTransitions(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	c := newController(t, tokenstore.NewMemory(), b, clock)

	var mu sync.Mutex
	var seen []Status
	unsubscribe := c.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})

	_ = c.Init(ctx)
	_ = c.Login(ctx, api.Credentials{InitData: "ok"})
	unsubscribe()
	_ = c.Logout(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[0] != StatusUnauthenticated || seen[len(seen)-1] != StatusAuthenticated {
		t.Fatalf("unexpected transitions %v", seen)
	}
}

func TestDoRefreshesOnceOnExpiredToken(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	c := newController(t, store, b, clock)
	_ = c.Login(ctx, api.Credentials{InitData: "ok"})
	rejected, _, _, _ := store.Pair(ctx)

	b.do = func(access string) error {
		if access == rejected {
			return &api.StatusError{StatusCode: 401, Message: "Token expired.", Code: api.CodeTokenExpired}
		}
		return nil
	}
	if err := c.Do(ctx, "GET", "/user/profile", nil, nil); err != nil {
		t.Fatalf("Do: %v", err)
	}

	sent := b.sent()
	if len(sent) != 2 || sent[0] != rejected || sent[1] == rejected {
		t.Fatalf("expected a retry with a new token, sent %d requests", len(sent))
	}
	if _, refresh := b.calls(); refresh != 1 {
		t.Fatalf("expected one refresh, got %d", refresh)
	}
	current, _, ok, _ := store.Pair(ctx)
	if !ok || current != sent[1] {
		t.Fatal("retry did not use the stored token")
	}
	if s := c.State(); !s.IsAuthenticated {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestDoEndsSessionOnInvalidToken(t *testing.T) {
	for _, code := range []string{api.CodeTokenInvalid, api.CodeAuthorizationMissing} {
		t.Run(code, func(t *testing.T) {
			ctx := context.Background()
			clock := newTestClock()
			b := newFakeBackend(t, clock)
			store := tokenstore.NewMemory()
			c := newController(t, store, b, clock)
			_ = c.Login(ctx, api.Credentials{InitData: "ok"})

			b.do = func(string) error {
				return &api.StatusError{StatusCode: 401, Message: "Invalid token.", Code: code}
			}
			err := c.Do(ctx, "GET", "/user/profile", nil, nil)
			if !errors.Is(err, api.ErrUnauthorized) {
				t.Fatalf("expected unauthorized, got %v", err)
			}
			if _, _, ok, _ := store.Pair(ctx); ok {
				t.Fatal("store not cleared")
			}
			s := c.State()
			if s.Status != StatusUnauthenticated || s.IsAuthenticated || s.UserProfile != nil {
				t.Fatalf("unexpected state %+v", s)
			}
			if _, refresh := b.calls(); refresh != 0 {
				t.Fatalf("invalid token must not refresh, got %d calls", refresh)
			}
		})
	}
}

func TestDoEndsSessionWhenRefreshRejected(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	c := newController(t, store, b, clock)
	_ = c.Login(ctx, api.Credentials{InitData: "ok"})

	b.mu.Lock()
	b.refreshErr = unauthorized
	b.do = func(string) error {
		return &api.StatusError{StatusCode: 401, Message: "Token expired.", Code: api.CodeTokenExpired}
	}
	b.mu.Unlock()

	if err := c.Do(ctx, "GET", "/user/profile", nil, nil); !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, _, ok, _ := store.Pair(ctx); ok {
		t.Fatal("store not cleared")
	}
	if s := c.State(); s.Status != StatusUnauthenticated {
		t.Fatalf("unexpected state %+v", s)
	}
	if n := len(b.sent()); n != 1 {
		t.Fatalf("expected no retry after a failed refresh, sent %d requests", n)
	}
}

func TestDoKeepsSessionOnOtherErrors(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	c := newController(t, store, b, clock)
	_ = c.Login(ctx, api.Credentials{InitData: "ok"})

	b.do = func(string) error {
		return &api.StatusError{StatusCode: 403, Message: "Forbidden.", Code: "forbidden"}
	}
	if err := c.Do(ctx, "GET", "/admin", nil, nil); !errors.Is(err, api.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, _, ok, _ := store.Pair(ctx); !ok {
		t.Fatal("a 403 must keep the session")
	}
	if s := c.State(); !s.IsAuthenticated {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestAccessTokenAfterLoginDuringRefresh(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	b := newFakeBackend(t, clock)
	store := tokenstore.NewMemory()
	c := newController(t, store, b, clock)
	_ = c.Login(ctx, api.Credentials{InitData: "first"})
	clock.Advance(14 * time.Minute)

	started, release := b.block()
	type result struct {
		access string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		access, err := c.AccessToken(ctx)
		done <- result{access, err}
	}()
	<-started

	b.mu.Lock()
	b.gate = nil
	b.mu.Unlock()
	if err := c.Login(ctx, api.Credentials{InitData: "second"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	loginAccess, _, _, _ := store.Pair(ctx)
	release()

	r := <-done
	if r.err != nil {
		t.Fatalf("AccessToken: %v", r.err)
	}
	if r.access != loginAccess {
		t.Fatal("expected the token stored by the concurrent login")
	}
}
