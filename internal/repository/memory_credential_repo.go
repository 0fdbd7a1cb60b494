package repository

import (
	"context"
	"sync"
	"time"

	"go-auth-tokens/internal/model"
	"go-auth-tokens/internal/util"
)

// MemoryCredentialRepository keeps credentials in process memory keyed by
// normalized username. Records are stored as immutable snapshots; every
// write replaces the snapshot instead of mutating it.
type MemoryCredentialRepository struct {
	mu        sync.RWMutex
	byName    map[string]model.Credential
	byRefresh map[string]string
}

func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{
		byName:    make(map[string]model.Credential),
		byRefresh: make(map[string]string),
	}
}

func (r *MemoryCredentialRepository) Get(_ context.Context, username string) (model.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byName[util.NormalizeUsername(username)]
	if !ok {
		return model.Credential{}, model.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *MemoryCredentialRepository) FindByRefreshToken(_ context.Context, token string) (model.Credential, error) {
	if token == "" {
		return model.Credential{}, model.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.byRefresh[token]
	if !ok {
		return model.Credential{}, model.ErrNotFound
	}
	c, ok := r.byName[key]
	if !ok {
		return model.Credential{}, model.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *MemoryCredentialRepository) Create(_ context.Context, c model.Credential) error {
	key := util.NormalizeUsername(c.Username)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[key]; exists {
		return model.ErrAlreadyExists
	}
	r.byName[key] = c.WithRefreshToken(model.RefreshToken{}, c.UpdatedAt)
	return nil
}

func (r *MemoryCredentialRepository) Save(_ context.Context, c model.Credential) error {
	key := util.NormalizeUsername(c.Username)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byName[key]; ok && prev.RefreshToken != "" {
		delete(r.byRefresh, prev.RefreshToken)
	}
	r.byName[key] = c.WithRefreshToken(model.RefreshToken{}, c.UpdatedAt)
	return nil
}

func (r *MemoryCredentialRepository) SetRefreshToken(_ context.Context, username string, rt model.RefreshToken) error {
	key := util.NormalizeUsername(username)

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.byName[key]
	if !ok {
		return model.ErrNotFound
	}
	r.replaceRefresh(key, prev, rt)
	return nil
}

func (r *MemoryCredentialRepository) RotateRefreshToken(_ context.Context, username string, presented string, next model.RefreshToken) error {
	key := util.NormalizeUsername(username)

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.byName[key]
	if !ok || presented == "" || prev.RefreshToken != presented {
		return model.ErrRefreshTokenStale
	}
	r.replaceRefresh(key, prev, next)
	return nil
}

func (r *MemoryCredentialRepository) Delete(_ context.Context, username string) error {
	key := util.NormalizeUsername(username)

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.byName[key]
	if !ok {
		return model.ErrNotFound
	}
	if prev.RefreshToken != "" {
		delete(r.byRefresh, prev.RefreshToken)
	}
	delete(r.byName, key)
	return nil
}

func (r *MemoryCredentialRepository) Count(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName), nil
}

// replaceRefresh must be called with mu held.
func (r *MemoryCredentialRepository) replaceRefresh(key string, prev model.Credential, rt model.RefreshToken) {
	if prev.RefreshToken != "" {
		delete(r.byRefresh, prev.RefreshToken)
	}
	r.byName[key] = prev.WithRefreshToken(rt, time.Now().UTC())
	if rt.Token != "" {
		r.byRefresh[rt.Token] = key
	}
}
