package internal_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/conduit/internal"
)

// TestRelationship_IdempotentAdd 測試重複加入同一成員
func TestRelationship_IdempotentAdd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("second add is a no-op", func(t *testing.T) {
		added, err := f.rel.Add(ctx, "alice", internal.SetFollows, "bob")
		require.NoError(t, err)
		assert.True(t, added)

		added, err = f.rel.Add(ctx, "alice", internal.SetFollows, "bob")
		require.NoError(t, err)
		assert.False(t, added)

		ok, err := f.rel.Contains(ctx, "alice", internal.SetFollows, "bob", internal.Strong)
		require.NoError(t, err)
		assert.True(t, ok)

		members, err := f.rel.Members(ctx, "alice", internal.SetFollows, internal.Strong)
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, members)
	})

	t.Run("remove of non-member is a no-op", func(t *testing.T) {
		removed, err := f.rel.Remove(ctx, "alice", internal.SetFollows, "nobody")
		require.NoError(t, err)
		assert.False(t, removed)

		members, err := f.rel.Members(ctx, "alice", internal.SetFollows, internal.Strong)
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, members)
	})

	t.Run("absent set behaves as empty", func(t *testing.T) {
		ok, err := f.rel.Contains(ctx, "ghost", internal.SetFavorites, "anything", internal.Strong)
		require.NoError(t, err)
		assert.False(t, ok)

		members, err := f.rel.Members(ctx, "ghost", internal.SetFavorites, internal.Strong)
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}

// TestRelationship_ConcurrentAdd 測試併發加入同一成員不產生重複
//
// 「先查存在再插入」的模式在這個場景下會漏出競態；
// 服務端強制唯一的去重插入必須恰好留下一行。
func TestRelationship_ConcurrentAdd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 50

	var wg sync.WaitGroup
	addedCount := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := f.rel.Add(ctx, "celebrity", internal.SetFollows, "superfan")
			if err == nil && added {
				addedCount <- true
			}
		}()
	}
	wg.Wait()
	close(addedCount)

	// 恰好一個呼叫者觀察到「實際加入」
	actualAdds := 0
	for range addedCount {
		actualAdds++
	}
	assert.Equal(t, 1, actualAdds)

	// 集合裡恰好一行
	var count int
	err := f.env.PostgresPool.QueryRow(ctx, `
		SELECT COUNT(*) FROM relationships
		WHERE owner = 'celebrity' AND set_name = 'follows' AND member = 'superfan'
	`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestRelationship_EventualReads 測試 Eventual 級別的鏡像讀取
func TestRelationship_EventualReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rel.Add(ctx, "alice", internal.SetFavorites, "key-1")
	require.NoError(t, err)
	_, err = f.rel.Add(ctx, "alice", internal.SetFavorites, "key-2")
	require.NoError(t, err)

	t.Run("cold mirror falls back to postgres", func(t *testing.T) {
		f.env.FlushRedis(t)

		ok, err := f.rel.Contains(ctx, "alice", internal.SetFavorites, "key-1", internal.Eventual)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("members read fills the mirror", func(t *testing.T) {
		f.env.FlushRedis(t)

		members, err := f.rel.Members(ctx, "alice", internal.SetFavorites, internal.Eventual)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"key-1", "key-2"}, members)

		// 回填後 Eventual 讀取命中鏡像
		exists, err := f.env.RedisClient.Exists(ctx, "rel:alice:favorites").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)

		ok, err := f.rel.Contains(ctx, "alice", internal.SetFavorites, "key-2", internal.Eventual)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("mirror tracks later mutations", func(t *testing.T) {
		_, err := f.rel.Add(ctx, "alice", internal.SetFavorites, "key-3")
		require.NoError(t, err)

		ok, err := f.rel.Contains(ctx, "alice", internal.SetFavorites, "key-3", internal.Eventual)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = f.rel.Remove(ctx, "alice", internal.SetFavorites, "key-3")
		require.NoError(t, err)

		ok, err = f.rel.Contains(ctx, "alice", internal.SetFavorites, "key-3", internal.Eventual)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// TestRelationship_CASStrategy 測試 CAS 重試策略的同等語義
func TestRelationship_CASStrategy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 重試上限放寬：20 個寫入者擠同一份文件時衝突是預期行為
	cas := internal.NewCASRelationshipStore(f.env.PostgresPool, f.env.RedisClient, f.env.Logger, 50)

	t.Run("idempotent add and remove", func(t *testing.T) {
		added, err := cas.Add(ctx, "alice", internal.SetFollows, "bob")
		require.NoError(t, err)
		assert.True(t, added)

		added, err = cas.Add(ctx, "alice", internal.SetFollows, "bob")
		require.NoError(t, err)
		assert.False(t, added)

		removed, err := cas.Remove(ctx, "alice", internal.SetFollows, "bob")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = cas.Remove(ctx, "alice", internal.SetFollows, "bob")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("concurrent adds of distinct members all land", func(t *testing.T) {
		const workers = 20

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, err := cas.Add(ctx, "hub", internal.SetFollows, memberName(n))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		members, err := cas.Members(ctx, "hub", internal.SetFollows, internal.Strong)
		require.NoError(t, err)
		assert.Len(t, members, workers)
	})

	t.Run("row table stays in sync for query joins", func(t *testing.T) {
		var count int
		err := f.env.PostgresPool.QueryRow(ctx, `
			SELECT COUNT(*) FROM relationships
			WHERE owner = 'hub' AND set_name = 'follows'
		`).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 20, count)
	})
}

func memberName(n int) string {
	return "user-" + string(rune('a'+n%26)) + string(rune('a'+(n/26)%26))
}
