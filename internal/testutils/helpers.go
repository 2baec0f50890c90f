package testutils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/conduit/internal"
	"github.com/koopa0/conduit/pkg/slug"
)

// DefaultTestConfig 返回測試用的預設配置
//
// 一致性一律 strong：測試不應該等待 Redis 鏡像同步。
// 需要驗證 eventual 路徑的測試自行覆蓋。
func DefaultTestConfig(env *TestEnvironment) *internal.Config {
	cfg := &internal.Config{}

	// Redis 配置
	cfg.Redis.Addr = env.RedisAddr
	cfg.Redis.PoolSize = 10
	cfg.Redis.MinIdleConns = 5
	cfg.Redis.MaxRetries = 3
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second

	// Consistency 配置
	cfg.Consistency.DefaultRead = "strong"
	cfg.Consistency.AccessControl = "strong"

	// Relationship 配置
	cfg.Relationship.Strategy = "set"
	cfg.Relationship.CASMaxRetries = 5

	// Log 配置
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	return cfg
}

// FixedKeyGenerator 依序發出可預測 key 的生成器
//
// 替代 crypto/rand 的實現，讓 slug 與 key 在斷言中可見。
type FixedKeyGenerator struct {
	Prefix string
	next   int
}

// NewKey 發出下一個固定格式的 key（如 "k0000000001"[:10]）
func (g *FixedKeyGenerator) NewKey() (string, error) {
	g.next++
	key := fmt.Sprintf("%s%09d", g.Prefix, g.next)
	if len(key) > slug.KeyLength {
		key = key[:slug.KeyLength]
	}
	return key, nil
}

// SeedUser 建立一個測試用戶
func SeedUser(t testing.TB, users *internal.UserStore, username string) {
	t.Helper()

	err := users.Create(context.Background(), internal.User{
		Username: username,
		Email:    username + "@example.com",
		Bio:      "bio of " + username,
	})
	require.NoError(t, err)
}

// SeedArticle 建立一篇測試文章並回傳
func SeedArticle(t testing.TB, svc *internal.ArticleService, author, title string) *internal.Article {
	t.Helper()

	article, err := svc.Create(context.Background(), author, title,
		"description of "+title, "body of "+title, []string{"go", "testing"})
	require.NoError(t, err)
	return article
}
