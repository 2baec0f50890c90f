package internal_test

import (
	"testing"

	"github.com/koopa0/conduit/internal"
	"github.com/koopa0/conduit/internal/testutils"
)

// fixture 整合測試的共用裝配
type fixture struct {
	env      *testutils.TestEnvironment
	cfg      *internal.Config
	policy   *internal.ConsistencyPolicy
	rel      internal.RelationshipStore
	users    *internal.UserStore
	articles *internal.ArticleService
	comments *internal.CommentSequencer
	queries  *internal.ArticleQueries
	tags     *internal.TagCatalog
	keys     *testutils.FixedKeyGenerator
}

// newFixture 啟動容器並裝配全部核心服務
func newFixture(t *testing.T) *fixture {
	t.Helper()

	env := testutils.SetupTestEnvironment(t)
	cfg := testutils.DefaultTestConfig(env)
	policy := internal.NewConsistencyPolicy(cfg)
	rel := internal.NewRelationshipStore(cfg, env.PostgresPool, env.RedisClient, env.Logger)
	keys := &testutils.FixedKeyGenerator{Prefix: "k"}

	return &fixture{
		env:      env,
		cfg:      cfg,
		policy:   policy,
		rel:      rel,
		users:    internal.NewUserStore(env.PostgresPool, rel, policy, env.Logger),
		articles: internal.NewArticleService(env.PostgresPool, rel, keys, policy, env.Logger),
		comments: internal.NewCommentSequencer(env.PostgresPool, env.Logger),
		queries:  internal.NewArticleQueries(env.PostgresPool, rel, policy, env.Logger),
		tags:     internal.NewTagCatalog(env.PostgresPool, env.RedisClient, env.Logger),
		keys:     keys,
	}
}
