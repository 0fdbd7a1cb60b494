package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go-auth-tokens/internal/model"
	"go-auth-tokens/internal/util"
)

const (
	fieldUsername  = "username"
	fieldHash      = "password_hash"
	fieldSalt      = "password_salt"
	fieldRole      = "role"
	fieldRefresh   = "refresh_token"
	fieldRTCreated = "refresh_token_created"
	fieldRTExpires = "refresh_token_expires"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

const defaultKeyspace = "auth:"

// Script results.
const (
	scriptNotFound = 0
	scriptMismatch = 2
	scriptRotated  = 3
)

// Record writes are Lua scripts so the refresh index and the credential hash
// change together.
var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

	saveScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[1], 'refresh_token')
if old and old ~= '' then
  redis.call('DEL', ARGV[1] .. old)
end
redis.call('DEL', KEYS[1])
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

	// ARGV: index prefix, username key, token, created, expires, updated, presented.
	// An empty presented value skips the compare.
	setRefreshScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local old = redis.call('HGET', KEYS[1], 'refresh_token')
if ARGV[7] ~= '' and old ~= ARGV[7] then
  return 2
end
if old and old ~= '' then
  redis.call('DEL', ARGV[1] .. old)
end
redis.call('HSET', KEYS[1],
  'refresh_token', ARGV[3],
  'refresh_token_created', ARGV[4],
  'refresh_token_expires', ARGV[5],
  'updated_at', ARGV[6])
if ARGV[3] ~= '' then
  redis.call('SET', ARGV[1] .. ARGV[3], ARGV[2])
end
return 3
`)

	deleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local old = redis.call('HGET', KEYS[1], 'refresh_token')
if old and old ~= '' then
  redis.call('DEL', ARGV[1] .. old)
end
redis.call('DEL', KEYS[1])
return 1
`)
)

// RedisCredentialRepository stores each credential as a hash and keeps a
// refresh token to username index next to it. The scripts touch index keys
// that are derived inside Lua, so the store needs a single node (or a
// primary with replicas); it takes a *redis.Client and not a cluster client.
type RedisCredentialRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisCredentialRepository(client *redis.Client, prefix string) *RedisCredentialRepository {
	if prefix == "" {
		prefix = defaultKeyspace
	}
	return &RedisCredentialRepository{client: client, prefix: prefix}
}

func (r *RedisCredentialRepository) credKey(username string) string {
	return r.prefix + "cred:" + util.NormalizeUsername(username)
}

func (r *RedisCredentialRepository) refreshPrefix() string {
	return r.prefix + "rt:"
}

func (r *RedisCredentialRepository) Get(ctx context.Context, username string) (model.Credential, error) {
	values, err := r.client.HGetAll(ctx, r.credKey(username)).Result()
	if err != nil {
		return model.Credential{}, fmt.Errorf("find credential by username: %w", err)
	}
	if len(values) == 0 {
		return model.Credential{}, model.ErrNotFound
	}
	return decodeCredential(values)
}

func (r *RedisCredentialRepository) FindByRefreshToken(ctx context.Context, token string) (model.Credential, error) {
	if token == "" {
		return model.Credential{}, model.ErrNotFound
	}

	key, err := r.client.Get(ctx, r.refreshPrefix()+token).Result()
	if errors.Is(err, redis.Nil) {
		return model.Credential{}, model.ErrNotFound
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("find credential by refresh token: %w", err)
	}

	c, err := r.Get(ctx, key)
	if err != nil {
		return model.Credential{}, err
	}
	if c.RefreshToken != token {
		return model.Credential{}, model.ErrNotFound
	}
	return c, nil
}

func (r *RedisCredentialRepository) Create(ctx context.Context, c model.Credential) error {
	res, err := createScript.Run(ctx, r.client, []string{r.credKey(c.Username)}, encodeCredential(c)...).Int()
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	if res == 0 {
		return model.ErrAlreadyExists
	}
	return nil
}

func (r *RedisCredentialRepository) Save(ctx context.Context, c model.Credential) error {
	args := append([]interface{}{r.refreshPrefix()}, encodeCredential(c)...)
	if err := saveScript.Run(ctx, r.client, []string{r.credKey(c.Username)}, args...).Err(); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (r *RedisCredentialRepository) SetRefreshToken(ctx context.Context, username string, rt model.RefreshToken) error {
	res, err := r.runSetRefresh(ctx, username, rt, "")
	if err != nil {
		return fmt.Errorf("set refresh token: %w", err)
	}
	if res == scriptNotFound {
		return model.ErrNotFound
	}
	return nil
}

func (r *RedisCredentialRepository) RotateRefreshToken(ctx context.Context, username string, presented string, next model.RefreshToken) error {
	if presented == "" {
		return model.ErrRefreshTokenStale
	}

	res, err := r.runSetRefresh(ctx, username, next, presented)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if res == scriptMismatch || res == scriptNotFound {
		return model.ErrRefreshTokenStale
	}
	return nil
}

func (r *RedisCredentialRepository) runSetRefresh(ctx context.Context, username string, rt model.RefreshToken, presented string) (int, error) {
	key := util.NormalizeUsername(username)
	return setRefreshScript.Run(ctx, r.client, []string{r.credKey(key)},
		r.refreshPrefix(),
		key,
		rt.Token,
		encodeTime(rt.Created),
		encodeTime(rt.Expires),
		encodeTime(time.Now().UTC()),
		presented,
	).Int()
}

func (r *RedisCredentialRepository) Delete(ctx context.Context, username string) error {
	res, err := deleteScript.Run(ctx, r.client, []string{r.credKey(username)}, r.refreshPrefix()).Int()
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if res == scriptNotFound {
		return model.ErrNotFound
	}
	return nil
}

func (r *RedisCredentialRepository) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"cred:*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("count credentials: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// encodeCredential flattens a record without its refresh state into
// alternating field and value arguments.
func encodeCredential(c model.Credential) []interface{} {
	return []interface{}{
		fieldUsername, c.Username,
		fieldHash, base64.StdEncoding.EncodeToString(c.PasswordHash),
		fieldSalt, base64.StdEncoding.EncodeToString(c.PasswordSalt),
		fieldRole, c.Role,
		fieldRefresh, "",
		fieldRTCreated, "",
		fieldRTExpires, "",
		fieldCreatedAt, encodeTime(c.CreatedAt),
		fieldUpdatedAt, encodeTime(c.UpdatedAt),
	}
}

func decodeCredential(values map[string]string) (model.Credential, error) {
	hash, err := base64.StdEncoding.DecodeString(values[fieldHash])
	if err != nil {
		return model.Credential{}, fmt.Errorf("decode password hash: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(values[fieldSalt])
	if err != nil {
		return model.Credential{}, fmt.Errorf("decode password salt: %w", err)
	}

	c := model.Credential{
		Username:     values[fieldUsername],
		PasswordHash: hash,
		PasswordSalt: salt,
		Role:         values[fieldRole],
		RefreshToken: values[fieldRefresh],
	}

	for field, dst := range map[string]*time.Time{
		fieldRTCreated: &c.RefreshTokenCreated,
		fieldRTExpires: &c.RefreshTokenExpires,
		fieldCreatedAt: &c.CreatedAt,
		fieldUpdatedAt: &c.UpdatedAt,
	} {
		t, err := decodeTime(values[field])
		if err != nil {
			return model.Credential{}, fmt.Errorf("decode %s: %w", field, err)
		}
		*dst = t
	}

	return c, nil
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func decodeTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
