package repository

import (
	"context"
	"sync/atomic"
	"time"

	"go-auth-tokens/internal/model"
	"go-auth-tokens/internal/util"
)

// SingleCredentialRepository holds at most one credential record. Creating a
// record under a different username replaces the current one. Every write
// swaps in a new snapshot with compare-and-swap, so concurrent rotations of
// the same token have exactly one winner.
type SingleCredentialRepository struct {
	current atomic.Pointer[model.Credential]
}

func NewSingleCredentialRepository() *SingleCredentialRepository {
	return &SingleCredentialRepository{}
}

func (r *SingleCredentialRepository) load(username string) (*model.Credential, bool) {
	cur := r.current.Load()
	if cur == nil || util.NormalizeUsername(cur.Username) != util.NormalizeUsername(username) {
		return cur, false
	}
	return cur, true
}

func (r *SingleCredentialRepository) Get(_ context.Context, username string) (model.Credential, error) {
	cur, ok := r.load(username)
	if !ok {
		return model.Credential{}, model.ErrNotFound
	}
	return cur.Clone(), nil
}

func (r *SingleCredentialRepository) FindByRefreshToken(_ context.Context, token string) (model.Credential, error) {
	cur := r.current.Load()
	if token == "" || cur == nil || cur.RefreshToken != token {
		return model.Credential{}, model.ErrNotFound
	}
	return cur.Clone(), nil
}

func (r *SingleCredentialRepository) Create(_ context.Context, c model.Credential) error {
	next := c.WithRefreshToken(model.RefreshToken{}, c.UpdatedAt)
	for {
		cur, same := r.load(c.Username)
		if same {
			return model.ErrAlreadyExists
		}
		if r.current.CompareAndSwap(cur, &next) {
			return nil
		}
	}
}

func (r *SingleCredentialRepository) Save(_ context.Context, c model.Credential) error {
	next := c.WithRefreshToken(model.RefreshToken{}, c.UpdatedAt)
	r.current.Store(&next)
	return nil
}

func (r *SingleCredentialRepository) SetRefreshToken(_ context.Context, username string, rt model.RefreshToken) error {
	for {
		cur, ok := r.load(username)
		if !ok {
			return model.ErrNotFound
		}
		next := cur.WithRefreshToken(rt, time.Now().UTC())
		if r.current.CompareAndSwap(cur, &next) {
			return nil
		}
	}
}

func (r *SingleCredentialRepository) RotateRefreshToken(_ context.Context, username string, presented string, next model.RefreshToken) error {
	for {
		cur, ok := r.load(username)
		if !ok || presented == "" || cur.RefreshToken != presented {
			return model.ErrRefreshTokenStale
		}
		updated := cur.WithRefreshToken(next, time.Now().UTC())
		if r.current.CompareAndSwap(cur, &updated) {
			return nil
		}
	}
}

func (r *SingleCredentialRepository) Delete(_ context.Context, username string) error {
	for {
		cur, ok := r.load(username)
		if !ok {
			return model.ErrNotFound
		}
		if r.current.CompareAndSwap(cur, nil) {
			return nil
		}
	}
}

func (r *SingleCredentialRepository) Count(context.Context) (int, error) {
	if r.current.Load() == nil {
		return 0, nil
	}
	return 1, nil
}
