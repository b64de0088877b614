package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coverletter-agent/internal/constants"
	"coverletter-agent/internal/storage"
	"coverletter-agent/internal/types"
)

// RedisStore 实现了 Store 接口，使用 Redis 作为持久化存储。
// 每个用户一个 JSON 字符串键，SET 覆盖写本身是原子的，不需要额外加锁。
type RedisStore struct {
	redis     *storage.Redis
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore 创建一个新的 RedisStore 实例。
// keyPrefix 为空时使用 constants.KeyWorkflowStatePrefix；ttl 为0表示不过期。
func NewRedisStore(r *storage.Redis, keyPrefix string, ttl time.Duration) (*RedisStore, error) {
	if r == nil || r.Client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if keyPrefix == "" {
		keyPrefix = constants.KeyWorkflowStatePrefix
	}
	return &RedisStore{
		redis:     r,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}, nil
}

func (s *RedisStore) buildKey(userID string) string {
	return s.redis.FormatKey(s.keyPrefix, userID)
}

// Load 实现 Store 接口
func (s *RedisStore) Load(ctx context.Context, userID string) (types.WorkItemState, bool, error) {
	raw, err := s.redis.Get(ctx, s.buildKey(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return types.WorkItemState{}, false, nil
	}
	if err != nil {
		return types.WorkItemState{}, false, fmt.Errorf("failed to load workflow state from redis for user %s: %w", userID, err)
	}

	var st types.WorkItemState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return types.WorkItemState{}, false, fmt.Errorf("failed to unmarshal workflow state for user %s: %w", userID, err)
	}
	return st, true, nil
}

// Save 实现 Store 接口
func (s *RedisStore) Save(ctx context.Context, userID string, st types.WorkItemState) error {
	if userID == "" {
		return fmt.Errorf("cannot save workflow state with empty user id")
	}
	st.UserID = userID

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state for user %s: %w", userID, err)
	}
	if err := s.redis.Set(ctx, s.buildKey(userID), string(payload), s.ttl); err != nil {
		return fmt.Errorf("failed to save workflow state to redis for user %s: %w", userID, err)
	}
	return nil
}

// Delete 实现 Store 接口
func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.buildKey(userID)); err != nil {
		return fmt.Errorf("failed to delete workflow state from redis for user %s: %w", userID, err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
