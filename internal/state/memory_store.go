package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coverletter-agent/internal/types"
)

type memoryEntry struct {
	state     types.WorkItemState
	expiresAt time.Time // 零值表示不过期
}

// MemoryStore 是 Store 接口的内存实现，进程重启后状态丢失。
// 适用于测试和单实例部署。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption 内存存储配置选项
type MemoryOption func(*MemoryStore)

// WithMemoryClock 注入时钟，便于测试过期
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore 创建内存存储。ttl 为0表示不过期。
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load 实现 Store 接口
func (m *MemoryStore) Load(ctx context.Context, userID string) (types.WorkItemState, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.WorkItemState{}, false, err
	}

	m.mu.RLock()
	entry, ok := m.entries[userID]
	m.mu.RUnlock()
	if !ok {
		return types.WorkItemState{}, false, nil
	}

	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		// 惰性淘汰，写锁下再确认一次，避免删掉并发写入的新状态
		m.mu.Lock()
		if cur, ok := m.entries[userID]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(m.entries, userID)
		}
		m.mu.Unlock()
		return types.WorkItemState{}, false, nil
	}

	return copyState(entry.state), true, nil
}

// Save 实现 Store 接口
func (m *MemoryStore) Save(ctx context.Context, userID string, state types.WorkItemState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("cannot save workflow state with empty user id")
	}

	entry := memoryEntry{state: copyState(state)}
	entry.state.UserID = userID
	if m.ttl > 0 {
		entry.expiresAt = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	m.entries[userID] = entry
	m.mu.Unlock()
	return nil
}

// Delete 实现 Store 接口
func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, userID)
	m.mu.Unlock()
	return nil
}

// Len 当前保存的状态数量，包含尚未淘汰的过期条目
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// copyState 返回副本，防止外部修改内部存储
func copyState(s types.WorkItemState) types.WorkItemState {
	s.Context = s.Context.Clone()
	return s
}

var _ Store = (*MemoryStore)(nil)
