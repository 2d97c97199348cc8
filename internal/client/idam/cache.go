package idam

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hmcts/refunds-api/internal/shared/metrics"
)

// UserCache caches role membership and user details in redis with a
// time-based expiry and a manual Refresh. It replaces holding the role map
// as process-global state: every lookup goes through the cache, and a cold
// or expired key falls through to the identity provider.
type UserCache struct {
	client  *Client
	redis   redis.UniversalClient
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewUserCache creates a user cache.
func NewUserCache(client *Client, redisClient redis.UniversalClient, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *UserCache {
	return &UserCache{
		client:  client,
		redis:   redisClient,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
	}
}

func userKey(uid string) string  { return "idam:user:" + uid }
func roleKey(role string) string { return "idam:role:" + role }

// UserDetails returns the user, from cache when fresh.
func (uc *UserCache) UserDetails(ctx context.Context, uid string) (*User, error) {
	key := userKey(uid)
	if data, err := uc.redis.Get(ctx, key).Bytes(); err == nil {
		var user User
		if err := json.Unmarshal(data, &user); err == nil {
			uc.metrics.RecordCacheAccess("idam_user", true)
			return &user, nil
		}
	}
	uc.metrics.RecordCacheAccess("idam_user", false)

	user, err := uc.client.UserDetails(ctx, uid)
	if err != nil {
		return nil, err
	}
	uc.store(ctx, key, user)
	return user, nil
}

// FullName resolves a display name for audit attribution. It degrades to
// the raw uid when the identity provider is unavailable.
func (uc *UserCache) FullName(ctx context.Context, uid string) string {
	user, err := uc.UserDetails(ctx, uid)
	if err != nil {
		uc.logger.Warn("resolve user display name failed",
			zap.String("uid", uid),
			zap.Error(err),
		)
		return uid
	}
	return user.FullName()
}

// UsersWithRole returns the users holding the role, from cache when fresh.
func (uc *UserCache) UsersWithRole(ctx context.Context, role string) ([]User, error) {
	key := roleKey(role)
	if data, err := uc.redis.Get(ctx, key).Bytes(); err == nil {
		var users []User
		if err := json.Unmarshal(data, &users); err == nil {
			uc.metrics.RecordCacheAccess("idam_role", true)
			return users, nil
		}
	}
	uc.metrics.RecordCacheAccess("idam_role", false)

	users, err := uc.client.UsersWithRole(ctx, role)
	if err != nil {
		return nil, err
	}
	uc.store(ctx, key, users)
	return users, nil
}

// Refresh re-fetches the given roles and overwrites their cached entries.
func (uc *UserCache) Refresh(ctx context.Context, roles ...string) error {
	for _, role := range roles {
		users, err := uc.client.UsersWithRole(ctx, role)
		if err != nil {
			return fmt.Errorf("refresh role %s: %w", role, err)
		}
		uc.store(ctx, roleKey(role), users)
	}
	return nil
}

func (uc *UserCache) store(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := uc.redis.Set(ctx, key, data, uc.ttl).Err(); err != nil {
		uc.logger.Warn("cache user data failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
