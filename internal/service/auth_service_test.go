package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go-auth-tokens/internal/event"
	"go-auth-tokens/internal/metrics"
	"go-auth-tokens/internal/model"
	"go-auth-tokens/internal/password"
	"go-auth-tokens/internal/repository"
	"go-auth-tokens/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc    *AuthService
	store  *repository.MemoryCredentialRepository
	signer *token.Signer
	clock   *testClock
	bus     *event.InMemoryBus
	metrics *metrics.Auth
}

func newFixture(t *testing.T, cfg AuthConfig) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 24 * time.Hour
	}

	hasher, err := password.New(password.SchemeHMACSHA512)
	require.NoError(t, err)
	signer, err := token.NewSigner(testSecret, token.WithClock(clock.Now))
	require.NoError(t, err)
	refresh := token.NewRefreshGenerator(token.DefaultRefreshTokenTTL, token.WithRefreshClock(clock.Now))
	store := repository.NewMemoryCredentialRepository()

	svc, err := NewAuthService(cfg, store, hasher, signer, refresh)
	require.NoError(t, err)
	svc.SetClock(clock.Now)

	bus := event.NewBus()
	svc.SetEventBus(bus)
	m := metrics.New()
	svc.SetMetrics(m)

	return &fixture{svc: svc, store: store, signer: signer, clock: clock, bus: bus, metrics: m}
}

// alice registers, logs in, refreshes once, and her first refresh token is
// rejected afterwards.
func TestAuthService_AliceScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, AuthConfig{})
	ctx := context.Background()

	user, err := f.svc.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = f.svc.Login(ctx, "alice", "wrong")
	require.ErrorIs(t, err, model.ErrInvalidCredential)

	_, err = f.svc.Login(ctx, "bob", "x")
	require.ErrorIs(t, err, model.ErrNotFound)

	session, err := f.svc.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, session.AccessToken.Token)
	r1 := session.RefreshToken.Token
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), session.RefreshToken.Expires)

	claims, err := f.svc.ValidateToken(session.AccessToken.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	f.clock.Set(f.clock.Now().Add(time.Hour))
	rotated, err := f.svc.Refresh(ctx, r1)
	require.NoError(t, err)
	r2 := rotated.RefreshToken.Token
	assert.NotEqual(t, r1, r2)
	assert.NotEqual(t, session.AccessToken.Token, rotated.AccessToken.Token)

	_, err = f.svc.Refresh(ctx, r1)
	require.ErrorIs(t, err, model.ErrUnauthorized)
	require.ErrorIs(t, err, model.ErrRefreshTokenMismatch)

	f.clock.Set(rotated.RefreshToken.Expires.Add(time.Second))
	_, err = f.svc.Refresh(ctx, r2)
	require.ErrorIs(t, err, model.ErrUnauthorized)
	require.ErrorIs(t, err, model.ErrRefreshTokenExpired)
}

func TestAuthService_RefreshExpiryBoundary(t *testing.T) {
	t.Parallel()

	f := newFixture(t, AuthConfig{})
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	session, err := f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	f.clock.Set(session.RefreshToken.Expires)
	next, err := f.svc.Refresh(ctx, session.RefreshToken.Token)
	require.NoError(t, err)

	f.clock.Set(next.RefreshToken.Expires.Add(time.Nanosecond))
	_, err = f.svc.Refresh(ctx, next.RefreshToken.Token)
	require.ErrorIs(t, err, model.ErrRefreshTokenExpired)
}

func TestAuthService_ConcurrentRefreshHasOneWinner(t *testing.T) {
	t.Parallel()

	f := newFixture(t, AuthConfig{})
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	session, err := f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	const workers = 32
	var (
		wg           sync.WaitGroup
		wins         atomic.Int32
		unauthorized atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Refresh(ctx, session.RefreshToken.Token)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, model.ErrUnauthorized):
				unauthorized.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), unauthorized.Load())
}

func TestAuthService_LoginReplacesRefreshToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, AuthConfig{})
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	first, err := f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, first.RefreshToken.Token)
	require.ErrorIs(t, err, model.ErrRefreshTokenMismatch)

	_, err = f.svc.Refresh(ctx, second.RefreshToken.Token)
	require.NoError(t, err)
}

func TestAuthService_RegisterPolicy(t *testing.T) {
	t.Parallel()

	t.Run("reject keeps the first record", func(t *testing.T) {
		f := newFixture(t, AuthConfig{})
		ctx := context.Background()

		_, err := f.svc.Register(ctx, "alice", "first")
		require.NoError(t, err)
		_, err = f.svc.Register(ctx, "Alice", "second")
		require.ErrorIs(t, err, model.ErrAlreadyExists)

		_, err = f.svc.Login(ctx, "alice", "first")
		require.NoError(t, err)
	})

	t.Run("overwrite replaces the record and its session", func(t *testing.T) {
		f := newFixture(t, AuthConfig{RegisterPolicy: RegisterPolicyOverwrite})
		ctx := context.Background()

		_, err := f.svc.Register(ctx, "alice", "first")
		require.NoError(t, err)
		session, err := f.svc.Login(ctx, "alice", "first")
		require.NoError(t, err)

		_, err = f.svc.Register(ctx, "alice", "second")
		require.NoError(t, err)

		_, err = f.svc.Login(ctx, "alice", "first")
		require.ErrorIs(t, err, model.ErrInvalidCredential)
		_, err = f.svc.Refresh(ctx, session.RefreshToken.Token)
		require.ErrorIs(t, err, model.ErrUnauthorized)
		_, err = f.svc.Login(ctx, "alice", "second")
		require.NoError(t, err)
	})

	t.Run("unknown policy is a configuration error", func(t *testing.T) {
		_, err := NewAuthService(AuthConfig{AccessTTL: time.Hour, RegisterPolicy: "merge"}, nil, nil, nil, nil)
		require.ErrorIs(t, err, model.ErrConfiguration)
	})
}

func TestAuthService_RegisterValidatesInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, AuthConfig{})
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "   ", "pw")
	require.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.svc.Register(ctx, "alice", "")
	require.ErrorIs(t, err, model.ErrInvalidInput)

	user, err := f.svc.Register(ctx, "  alice  ", "pw")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, DefaultRole, user.Role)

	_, err = f.svc.Register(ctx, "al\u200bice", "pw")
	require.ErrorIs(t, err, model.ErrAlreadyExists)

	_, err = f.svc.Login(ctx, "ali\x00ce", "pw")
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func scrapeMetrics(t *testing.T, m *metrics.Auth) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestAuthService_LoginCountsInvalidInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, AuthConfig{})
	ctx := context.Background()

	_, err := f.svc.Login(ctx, " ", "pw")
	require.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.svc.Login(ctx, "alice", "")
	require.ErrorIs(t, err, model.ErrInvalidInput)

	assert.Contains(t, scrapeMetrics(t, f.metrics), `auth_login_total{outcome="error"} 2`)
}

func TestAuthService_SeedAdmin(t *testing.T) {
	t.Parallel()

	t.Run("creates the admin", func(t *testing.T) {
		f := newFixture(t, AuthConfig{})
		ctx := context.Background()

		require.NoError(t, f.svc.SeedAdmin(ctx, "root", "correct horse battery"))

		session, err := f.svc.Login(ctx, "root", "correct horse battery")
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, session.User.Role)

		claims, err := f.svc.ValidateToken(session.AccessToken.Token)
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, claims.Role)
	})

	t.Run("is idempotent and keeps the live session", func(t *testing.T) {
		f := newFixture(t, AuthConfig{})
		ctx := context.Background()

		require.NoError(t, f.svc.SeedAdmin(ctx, "root", "correct horse battery"))
		session, err := f.svc.Login(ctx, "root", "correct horse battery")
		require.NoError(t, err)

		require.NoError(t, f.svc.SeedAdmin(ctx, "Root", "correct horse battery"))

		_, err = f.svc.Refresh(ctx, session.RefreshToken.Token)
		require.NoError(t, err)
	})

	t.Run("takes over an existing non-admin record", func(t *testing.T) {
		f := newFixture(t, AuthConfig{})
		ctx := context.Background()

		_, err := f.svc.Register(ctx, "root", "squatter")
		require.NoError(t, err)
		squatter, err := f.svc.Login(ctx, "root", "squatter")
		require.NoError(t, err)

		require.NoError(t, f.svc.SeedAdmin(ctx, "root", "correct horse battery"))

		_, err = f.svc.Refresh(ctx, squatter.RefreshToken.Token)
		require.ErrorIs(t, err, model.ErrUnauthorized)
		_, err = f.svc.Login(ctx, "root", "squatter")
		require.ErrorIs(t, err, model.ErrInvalidCredential)

		user, err := f.svc.Profile(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, user.Role)
	})

	t.Run("rotated password replaces the stored one", func(t *testing.T) {
		f := newFixture(t, AuthConfig{})
		ctx := context.Background()

		require.NoError(t, f.svc.SeedAdmin(ctx, "root", "correct horse battery"))
		require.NoError(t, f.svc.SeedAdmin(ctx, "root", "another long passphrase"))

		_, err := f.svc.Login(ctx, "root", "correct horse battery")
		require.ErrorIs(t, err, model.ErrInvalidCredential)
		_, err = f.svc.Login(ctx, "root", "another long passphrase")
		require.NoError(t, err)
	})

	t.Run("overwrite registration cannot replace the admin", func(t *testing.T) {
		f := newFixture(t, AuthConfig{RegisterPolicy: RegisterPolicyOverwrite})
		ctx := context.Background()

		require.NoError(t, f.svc.SeedAdmin(ctx, "root", "correct horse battery"))

		_, err := f.svc.Register(ctx, "ROOT", "takeover")
		require.ErrorIs(t, err, model.ErrAlreadyExists)

		user, err := f.svc.Profile(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, user.Role)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		f := newFixture(t, AuthConfig{})

		require.ErrorIs(t, f.svc.SeedAdmin(context.Background(), "root", ""), model.ErrInvalidInput)
		require.ErrorIs(t, f.svc.SeedAdmin(context.Background(), "", "pw"), model.ErrInvalidInput)
	})
}

func TestAuthService_HideUnknownUsers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, AuthConfig{HideUnknownUsers: true})
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "ghost", "pw")
	require.ErrorIs(t, err, model.ErrInvalidCredential)
	require.NotErrorIs(t, err, model.ErrNotFound)
}

func TestAuthService_RefreshRejectsEmptyAndUnknownTokens(t *testing.T) {
	t.Parallel()

	f := newFixture(t, AuthConfig{})
	ctx := context.Background()

	for _, presented := range []string{"", "bm90LWEtdG9rZW4="} {
		_, err := f.svc.Refresh(ctx, presented)
		require.ErrorIs(t, err, model.ErrUnauthorized)
		require.ErrorIs(t, err, model.ErrRefreshTokenMismatch)
	}
}

func TestAuthService_Logout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, AuthConfig{})
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	session, err := f.svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, session.RefreshToken.Token))
	require.NoError(t, f.svc.Logout(ctx, session.RefreshToken.Token))
	require.NoError(t, f.svc.Logout(ctx, ""))

	_, err = f.svc.Refresh(ctx, session.RefreshToken.Token)
	require.ErrorIs(t, err, model.ErrRefreshTokenMismatch)

	cred, err := f.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, cred.HasRefreshToken())
}

func TestAuthService_ProfileAndUnregister(t *testing.T) {
	t.Parallel()

	f := newFixture(t, AuthConfig{DefaultRole: "admin"})
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	profile, err := f.svc.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PublicCredential{Username: "alice", Role: "admin"}, profile)

	require.NoError(t, f.svc.Unregister(ctx, "alice"))
	require.ErrorIs(t, f.svc.Unregister(ctx, "alice"), model.ErrNotFound)

	_, err = f.svc.Profile(ctx, "alice")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestAuthService_PublishesEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t, AuthConfig{})
	events, unsubscribe := f.bus.Subscribe()
	defer unsubscribe()

	ctx := event.WithClientIP(context.Background(), "198.51.100.4")
	_, err := f.svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "alice", "nope")
	require.ErrorIs(t, err, model.ErrInvalidCredential)

	registered := <-events
	assert.Equal(t, event.TypeRegistered, registered.Type)
	assert.Equal(t, "198.51.100.4", registered.IP)

	failed := <-events
	assert.Equal(t, event.TypeLoginFailed, failed.Type)
	assert.Equal(t, metrics.OutcomeInvalidCredential, failed.Reason)
}

type mockCredentialStore struct {
	mock.Mock
}

func (m *mockCredentialStore) Get(ctx context.Context, username string) (model.Credential, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(model.Credential), args.Error(1)
}

func (m *mockCredentialStore) FindByRefreshToken(ctx context.Context, tok string) (model.Credential, error) {
	args := m.Called(ctx, tok)
	return args.Get(0).(model.Credential), args.Error(1)
}

func (m *mockCredentialStore) Create(ctx context.Context, c model.Credential) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCredentialStore) Save(ctx context.Context, c model.Credential) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCredentialStore) SetRefreshToken(ctx context.Context, username string, rt model.RefreshToken) error {
	return m.Called(ctx, username, rt).Error(0)
}

func (m *mockCredentialStore) RotateRefreshToken(ctx context.Context, username string, presented string, next model.RefreshToken) error {
	return m.Called(ctx, username, presented, next).Error(0)
}

func (m *mockCredentialStore) Delete(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

func TestAuthService_StoreFailures(t *testing.T) {
	t.Parallel()

	hasher, err := password.New(password.SchemeHMACSHA512)
	require.NoError(t, err)
	signer, err := token.NewSigner(testSecret)
	require.NoError(t, err)
	refresh := token.NewRefreshGenerator(time.Hour)
	hash, salt, err := hasher.Hash("pw")
	require.NoError(t, err)

	storeDown := errors.New("connection refused")
	ctx := context.Background()

	t.Run("login surfaces store errors", func(t *testing.T) {
		store := new(mockCredentialStore)
		svc, err := NewAuthService(AuthConfig{AccessTTL: time.Hour}, store, hasher, signer, refresh)
		require.NoError(t, err)

		store.On("Get", ctx, "alice").Return(model.Credential{Username: "alice", PasswordHash: hash, PasswordSalt: salt}, nil)
		store.On("SetRefreshToken", ctx, "alice", mock.AnythingOfType("model.RefreshToken")).Return(storeDown)

		_, err = svc.Login(ctx, "alice", "pw")
		require.ErrorIs(t, err, storeDown)
		require.NotErrorIs(t, err, model.ErrUnauthorized)
		store.AssertExpectations(t)
	})

	t.Run("lost rotation is stale", func(t *testing.T) {
		store := new(mockCredentialStore)
		svc, err := NewAuthService(AuthConfig{AccessTTL: time.Hour}, store, hasher, signer, refresh)
		require.NoError(t, err)

		live := model.Credential{
			Username:            "alice",
			RefreshToken:        "r1",
			RefreshTokenExpires: time.Now().Add(time.Hour),
		}
		store.On("FindByRefreshToken", ctx, "r1").Return(live, nil)
		store.On("Get", ctx, "alice").Return(live, nil)
		store.On("RotateRefreshToken", ctx, "alice", "r1", mock.AnythingOfType("model.RefreshToken")).Return(model.ErrRefreshTokenStale)

		_, err = svc.Refresh(ctx, "r1")
		require.ErrorIs(t, err, model.ErrUnauthorized)
		require.ErrorIs(t, err, model.ErrRefreshTokenStale)
		store.AssertExpectations(t)
	})
}
