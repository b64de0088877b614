package state

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"coverletter-agent/internal/config"
	"coverletter-agent/internal/storage"
	"coverletter-agent/internal/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeHarness 统一两种实现的测试入口，advance 用于推进过期时钟
type storeHarness struct {
	store   Store
	advance func(d time.Duration)
}

func newMemoryHarness(t *testing.T, ttl time.Duration) storeHarness {
	t.Helper()
	var mu sync.Mutex
	now := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(ttl, WithMemoryClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}))
	return storeHarness{
		store: store,
		advance: func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		},
	}
}

func newRedisHarness(t *testing.T, ttl time.Duration) storeHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := storage.NewRedisAdapter(&config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	store, err := NewRedisStore(r, "", ttl)
	require.NoError(t, err)
	return storeHarness{store: store, advance: mr.FastForward}
}

var harnesses = map[string]func(t *testing.T, ttl time.Duration) storeHarness{
	"memory": newMemoryHarness,
	"redis":  newRedisHarness,
}

func sampleState() types.WorkItemState {
	return types.WorkItemState{
		Context: &types.GenerationContext{
			Vacancy:  types.Vacancy{ID: "v1", Title: "Backend Engineer", KeySkills: []string{"Go"}},
			Resume:   types.Resume{ID: "r1", Skills: []string{"Go", "Redis"}},
			Employer: &types.Employer{ID: "e1", Name: "Initech", Description: "Fintech"},
			Rules:    map[string]string{"max_len": "800"},
		},
		LastResponse:     "Dear Hiring Manager...",
		LastUserComments: "shorter",
		UpdatedAt:        time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStoreContract(t *testing.T) {
	for name, newHarness := range harnesses {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, time.Hour)

			_, found, err := h.store.Load(ctx, "user_1")
			require.NoError(t, err)
			assert.False(t, found)

			want := sampleState()
			require.NoError(t, h.store.Save(ctx, "user_1", want))

			got, found, err := h.store.Load(ctx, "user_1")
			require.NoError(t, err)
			require.True(t, found)
			want.UserID = "user_1"
			assert.Equal(t, want, got)

			// 后写覆盖先写
			next := sampleState()
			next.LastResponse = "Dear Hiring Manager, v2"
			next.Context = nil
			require.NoError(t, h.store.Save(ctx, "user_1", next))
			got, found, err = h.store.Load(ctx, "user_1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "Dear Hiring Manager, v2", got.LastResponse)
			assert.Nil(t, got.Context)

			// 用户之间互不影响
			_, found, err = h.store.Load(ctx, "user_2")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, h.store.Delete(ctx, "user_1"))
			require.NoError(t, h.store.Delete(ctx, "user_1"))
			_, found, err = h.store.Load(ctx, "user_1")
			require.NoError(t, err)
			assert.False(t, found)

			assert.Error(t, h.store.Save(ctx, "", sampleState()))
		})
	}
}

func TestStoreExpiry(t *testing.T) {
	for name, newHarness := range harnesses {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, time.Hour)

			require.NoError(t, h.store.Save(ctx, "user_1", sampleState()))

			h.advance(59 * time.Minute)
			_, found, err := h.store.Load(ctx, "user_1")
			require.NoError(t, err)
			assert.True(t, found)

			// 保存会刷新过期时间
			require.NoError(t, h.store.Save(ctx, "user_1", sampleState()))
			h.advance(59 * time.Minute)
			_, found, err = h.store.Load(ctx, "user_1")
			require.NoError(t, err)
			assert.True(t, found)

			h.advance(2 * time.Minute)
			_, found, err = h.store.Load(ctx, "user_1")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStoreWithoutTTLNeverExpires(t *testing.T) {
	for name, newHarness := range harnesses {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, 0)
			require.NoError(t, h.store.Save(ctx, "user_1", sampleState()))
			h.advance(24 * 365 * time.Hour)
			_, found, err := h.store.Load(ctx, "user_1")
			require.NoError(t, err)
			assert.True(t, found)
		})
	}
}

func TestStoreConcurrentUsers(t *testing.T) {
	for name, newHarness := range harnesses {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, time.Hour)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					st := sampleState()
					st.LastResponse = fmt.Sprintf("letter %d", i)
					assert.NoError(t, h.store.Save(ctx, fmt.Sprintf("user_%d", i), st))
				}(i)
			}
			wg.Wait()

			for i := 0; i < 20; i++ {
				got, found, err := h.store.Load(ctx, fmt.Sprintf("user_%d", i))
				require.NoError(t, err)
				require.True(t, found)
				assert.Equal(t, fmt.Sprintf("letter %d", i), got.LastResponse)
			}
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	st := sampleState()
	require.NoError(t, store.Save(ctx, "user_1", st))
	st.Context.Rules["max_len"] = "9999"
	st.Context.Vacancy.KeySkills[0] = "Rust"

	got, _, err := store.Load(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "800", got.Context.Rules["max_len"])
	assert.Equal(t, "Go", got.Context.Vacancy.KeySkills[0])

	got.Context.Employer.Name = "Changed"
	again, _, err := store.Load(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Initech", again.Context.Employer.Name)
}

func TestMemoryStoreEvictsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHarness(t, time.Minute)
	store := h.store.(*MemoryStore)

	require.NoError(t, store.Save(ctx, "user_1", sampleState()))
	assert.Equal(t, 1, store.Len())
	h.advance(time.Minute)
	_, found, err := store.Load(ctx, "user_1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore(0)
	assert.ErrorIs(t, store.Save(ctx, "user_1", sampleState()), context.Canceled)
	_, _, err := store.Load(ctx, "user_1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisStoreFailures(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	r, err := storage.NewRedisAdapter(&config.RedisConfig{Address: mr.Addr(), MaxRetries: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	store, err := NewRedisStore(r, "test:state:", time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "user_1", sampleState()))
	assert.True(t, mr.Exists("test:state:user_1"))
	assert.Equal(t, time.Hour, mr.TTL("test:state:user_1"))

	// 损坏的数据
	require.NoError(t, mr.Set("test:state:user_2", "{not json"))
	_, found, err := store.Load(ctx, "user_2")
	assert.Error(t, err)
	assert.False(t, found)

	mr.Close()
	_, _, err = store.Load(ctx, "user_1")
	assert.Error(t, err)
	assert.Error(t, store.Save(ctx, "user_1", sampleState()))

	_, err = NewRedisStore(nil, "", 0)
	assert.Error(t, err)
}
