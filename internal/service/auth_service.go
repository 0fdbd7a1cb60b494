package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-auth-tokens/internal/event"
	"go-auth-tokens/internal/metrics"
	"go-auth-tokens/internal/model"
	"go-auth-tokens/internal/password"
	"go-auth-tokens/internal/util"
)

const (
	RegisterPolicyReject    = "reject"
	RegisterPolicyOverwrite = "overwrite"

	DefaultRole = model.RoleUser
	TokenType   = "Bearer"
)

// CredentialStore persists credential records. Implementations return
// snapshots; RotateRefreshToken must replace the live token only while it
// still equals presented and report model.ErrRefreshTokenStale otherwise.
type CredentialStore interface {
	Get(ctx context.Context, username string) (model.Credential, error)
	FindByRefreshToken(ctx context.Context, token string) (model.Credential, error)
	Create(ctx context.Context, c model.Credential) error
	Save(ctx context.Context, c model.Credential) error
	SetRefreshToken(ctx context.Context, username string, rt model.RefreshToken) error
	RotateRefreshToken(ctx context.Context, username string, presented string, next model.RefreshToken) error
	Delete(ctx context.Context, username string) error
}

type TokenSigner interface {
	Issue(identity model.Identity, ttl time.Duration) (model.AccessToken, error)
	Verify(token string) (*model.AuthClaims, error)
}

type RefreshTokenGenerator interface {
	Generate() (model.RefreshToken, error)
}

type AuthConfig struct {
	AccessTTL        time.Duration
	RegisterPolicy   string
	DefaultRole      string
	HideUnknownUsers bool
}

type AuthService struct {
	cfg     AuthConfig
	store   CredentialStore
	hasher  password.Hasher
	signer  TokenSigner
	refresh RefreshTokenGenerator
	locks   *keyedLocker
	now     func() time.Time
	bus     event.Bus
	metrics *metrics.Auth

	dummyHash []byte
	dummySalt []byte

	// adminKey is the seeded admin username. Overwrite registration never
	// replaces it.
	adminKey string
}

func NewAuthService(cfg AuthConfig, store CredentialStore, hasher password.Hasher, signer TokenSigner, refresh RefreshTokenGenerator) (*AuthService, error) {
	switch cfg.RegisterPolicy {
	case "":
		cfg.RegisterPolicy = RegisterPolicyReject
	case RegisterPolicyReject, RegisterPolicyOverwrite:
	default:
		return nil, fmt.Errorf("%w: unknown register policy %q", model.ErrConfiguration, cfg.RegisterPolicy)
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = DefaultRole
	}
	if cfg.AccessTTL <= 0 {
		return nil, fmt.Errorf("%w: access token ttl must be positive", model.ErrConfiguration)
	}

	s := &AuthService{
		cfg:     cfg,
		store:   store,
		hasher:  hasher,
		signer:  signer,
		refresh: refresh,
		locks:   newKeyedLocker(),
		now:     time.Now,
	}

	if cfg.HideUnknownUsers {
		hash, salt, err := hasher.Hash("unknown-user-placeholder")
		if err != nil {
			return nil, fmt.Errorf("prepare placeholder hash: %w", err)
		}
		s.dummyHash, s.dummySalt = hash, salt
	}

	return s, nil
}

func (s *AuthService) SetEventBus(bus event.Bus) {
	s.bus = bus
}

func (s *AuthService) SetMetrics(m *metrics.Auth) {
	s.metrics = m
}

// SetClock replaces the clock used for refresh token expiry checks.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *AuthService) Register(ctx context.Context, username string, pass string) (model.PublicCredential, error) {
	username, err := util.SanitizeUsername(username)
	if err != nil {
		s.metrics.Register(metrics.OutcomeError)
		return model.PublicCredential{}, err
	}
	if pass == "" {
		s.metrics.Register(metrics.OutcomeError)
		return model.PublicCredential{}, fmt.Errorf("%w: password is required", model.ErrInvalidInput)
	}

	hash, salt, err := s.hasher.Hash(pass)
	if err != nil {
		s.metrics.Register(metrics.OutcomeError)
		return model.PublicCredential{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	cred := model.Credential{
		Username:     username,
		PasswordHash: hash,
		PasswordSalt: salt,
		Role:         s.cfg.DefaultRole,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	unlock := s.locks.Lock(util.NormalizeUsername(username))
	defer unlock()

	if s.cfg.RegisterPolicy == RegisterPolicyOverwrite && util.NormalizeUsername(username) != s.adminKey {
		err = s.store.Save(ctx, cred)
	} else {
		err = s.store.Create(ctx, cred)
	}
	if errors.Is(err, model.ErrAlreadyExists) {
		s.metrics.Register(metrics.OutcomeAlreadyExists)
		return model.PublicCredential{}, err
	}
	if err != nil {
		s.metrics.Register(metrics.OutcomeError)
		return model.PublicCredential{}, fmt.Errorf("store credential: %w", err)
	}

	s.metrics.Register(metrics.OutcomeSuccess)
	s.publish(ctx, event.TypeRegistered, username, "")
	slog.Info("credential registered", "username", username, "policy", s.cfg.RegisterPolicy)

	return cred.Public(), nil
}

// SeedAdmin makes sure username exists with the admin role and password.
// A record that already has the admin role and accepts password is left
// untouched; anything else under that name is replaced, which also revokes
// its refresh token.
func (s *AuthService) SeedAdmin(ctx context.Context, username string, pass string) error {
	username, err := util.SanitizeUsername(username)
	if err != nil {
		return err
	}
	if pass == "" {
		return fmt.Errorf("%w: admin password is required", model.ErrInvalidInput)
	}

	key := util.NormalizeUsername(username)
	unlock := s.locks.Lock(key)
	defer unlock()

	s.adminKey = key

	existing, err := s.store.Get(ctx, username)
	switch {
	case err == nil:
		if existing.Role == model.RoleAdmin && s.hasher.Verify(pass, existing.PasswordHash, existing.PasswordSalt) {
			slog.Debug("admin credential already present", "username", existing.Username)
			return nil
		}
	case errors.Is(err, model.ErrNotFound):
	default:
		return fmt.Errorf("load admin credential: %w", err)
	}

	hash, salt, err := s.hasher.Hash(pass)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := s.now().UTC()
	cred := model.Credential{
		Username:     username,
		PasswordHash: hash,
		PasswordSalt: salt,
		Role:         model.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Save(ctx, cred); err != nil {
		return fmt.Errorf("store admin credential: %w", err)
	}

	slog.Info("admin credential seeded", "username", username)
	return nil
}

// Login verifies the password and starts a new session. Any previous refresh
// token for the identity stops working.
func (s *AuthService) Login(ctx context.Context, username string, pass string) (model.Session, error) {
	username, err := util.SanitizeUsername(username)
	if err != nil {
		s.metrics.Login(metrics.OutcomeError)
		return model.Session{}, err
	}
	if pass == "" {
		s.metrics.Login(metrics.OutcomeError)
		return model.Session{}, fmt.Errorf("%w: password is required", model.ErrInvalidInput)
	}

	unlock := s.locks.Lock(util.NormalizeUsername(username))
	defer unlock()

	cred, err := s.store.Get(ctx, username)
	if errors.Is(err, model.ErrNotFound) {
		s.metrics.Login(metrics.OutcomeNotFound)
		s.publish(ctx, event.TypeLoginFailed, username, metrics.OutcomeNotFound)
		if s.cfg.HideUnknownUsers {
			s.hasher.Verify(pass, s.dummyHash, s.dummySalt)
			return model.Session{}, model.ErrInvalidCredential
		}
		return model.Session{}, err
	}
	if err != nil {
		s.metrics.Login(metrics.OutcomeError)
		return model.Session{}, fmt.Errorf("load credential: %w", err)
	}

	if !s.hasher.Verify(pass, cred.PasswordHash, cred.PasswordSalt) {
		s.metrics.Login(metrics.OutcomeInvalidCredential)
		s.publish(ctx, event.TypeLoginFailed, cred.Username, metrics.OutcomeInvalidCredential)
		return model.Session{}, model.ErrInvalidCredential
	}

	session, err := s.issueSession(cred)
	if err != nil {
		s.metrics.Login(metrics.OutcomeError)
		return model.Session{}, err
	}

	if err := s.store.SetRefreshToken(ctx, cred.Username, session.RefreshToken); err != nil {
		s.metrics.Login(metrics.OutcomeError)
		return model.Session{}, fmt.Errorf("persist refresh token: %w", err)
	}

	s.metrics.Login(metrics.OutcomeSuccess)
	s.publish(ctx, event.TypeLoginSucceeded, cred.Username, "")
	return session, nil
}

// Refresh exchanges a live refresh token for a new access token and a new
// refresh token. The presented token is single use.
func (s *AuthService) Refresh(ctx context.Context, presented string) (model.Session, error) {
	if presented == "" {
		return model.Session{}, s.rejectRefresh(ctx, "", model.ErrRefreshTokenMismatch)
	}

	found, err := s.store.FindByRefreshToken(ctx, presented)
	if errors.Is(err, model.ErrNotFound) {
		return model.Session{}, s.rejectRefresh(ctx, "", model.ErrRefreshTokenMismatch)
	}
	if err != nil {
		s.metrics.Refresh(metrics.OutcomeError)
		return model.Session{}, fmt.Errorf("find refresh token: %w", err)
	}

	unlock := s.locks.Lock(util.NormalizeUsername(found.Username))
	defer unlock()

	cred, err := s.store.Get(ctx, found.Username)
	if errors.Is(err, model.ErrNotFound) {
		return model.Session{}, s.rejectRefresh(ctx, found.Username, model.ErrRefreshTokenMismatch)
	}
	if err != nil {
		s.metrics.Refresh(metrics.OutcomeError)
		return model.Session{}, fmt.Errorf("load credential: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(cred.RefreshToken), []byte(presented)) != 1 {
		return model.Session{}, s.rejectRefresh(ctx, cred.Username, model.ErrRefreshTokenStale)
	}
	if cred.RefreshTokenExpired(s.now()) {
		return model.Session{}, s.rejectRefresh(ctx, cred.Username, model.ErrRefreshTokenExpired)
	}

	session, err := s.issueSession(cred)
	if err != nil {
		s.metrics.Refresh(metrics.OutcomeError)
		return model.Session{}, err
	}

	err = s.store.RotateRefreshToken(ctx, cred.Username, presented, session.RefreshToken)
	if errors.Is(err, model.ErrRefreshTokenStale) {
		return model.Session{}, s.rejectRefresh(ctx, cred.Username, model.ErrRefreshTokenStale)
	}
	if err != nil {
		s.metrics.Refresh(metrics.OutcomeError)
		return model.Session{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	s.metrics.Refresh(metrics.OutcomeSuccess)
	s.publish(ctx, event.TypeRefreshSucceeded, cred.Username, "")
	return session, nil
}

// Logout revokes the presented refresh token. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}

	cred, err := s.store.FindByRefreshToken(ctx, presented)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find refresh token: %w", err)
	}

	unlock := s.locks.Lock(util.NormalizeUsername(cred.Username))
	defer unlock()

	err = s.store.RotateRefreshToken(ctx, cred.Username, presented, model.RefreshToken{})
	if errors.Is(err, model.ErrRefreshTokenStale) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	s.publish(ctx, event.TypeLogout, cred.Username, "")
	return nil
}

func (s *AuthService) Profile(ctx context.Context, username string) (model.PublicCredential, error) {
	cred, err := s.store.Get(ctx, username)
	if err != nil {
		return model.PublicCredential{}, err
	}
	return cred.Public(), nil
}

func (s *AuthService) Unregister(ctx context.Context, username string) error {
	unlock := s.locks.Lock(util.NormalizeUsername(username))
	defer unlock()

	if err := s.store.Delete(ctx, username); err != nil {
		return err
	}

	s.publish(ctx, event.TypeDeleted, username, "")
	slog.Info("credential deleted", "username", username)
	return nil
}

func (s *AuthService) ValidateToken(token string) (*model.AuthClaims, error) {
	return s.signer.Verify(token)
}

func (s *AuthService) issueSession(cred model.Credential) (model.Session, error) {
	access, err := s.signer.Issue(model.Identity{Name: cred.Username, Role: cred.Role}, s.cfg.AccessTTL)
	if err != nil {
		return model.Session{}, fmt.Errorf("issue access token: %w", err)
	}

	rt, err := s.refresh.Generate()
	if err != nil {
		return model.Session{}, fmt.Errorf("generate refresh token: %w", err)
	}

	s.metrics.TokenIssued()
	return model.Session{AccessToken: access, RefreshToken: rt, User: cred.Public()}, nil
}

func (s *AuthService) rejectRefresh(ctx context.Context, username string, reason error) error {
	outcome := refreshOutcome(reason)
	s.metrics.Refresh(outcome)
	s.publish(ctx, event.TypeRefreshRejected, username, outcome)
	slog.Debug("refresh rejected", "username", username, "reason", outcome)
	return fmt.Errorf("%w: %w", model.ErrUnauthorized, reason)
}

func (s *AuthService) publish(ctx context.Context, t event.Type, username string, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.FromContext(ctx, t, username, reason))
}

func refreshOutcome(reason error) string {
	switch {
	case errors.Is(reason, model.ErrRefreshTokenExpired):
		return metrics.OutcomeExpired
	case errors.Is(reason, model.ErrRefreshTokenStale):
		return metrics.OutcomeStale
	default:
		return metrics.OutcomeMismatch
	}
}
