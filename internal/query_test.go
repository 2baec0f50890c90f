package internal_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/conduit/internal"
	"github.com/koopa0/conduit/internal/testutils"
	apperrors "github.com/koopa0/conduit/pkg/errors"
)

// TestCompileListing_Validation 測試分頁參數的邊界
func TestCompileListing_Validation(t *testing.T) {
	q := internal.NewArticleQueries(nil, nil, nil, nil)

	tests := []struct {
		name    string
		spec    internal.ListingSpec
		wantErr bool
	}{
		{"limit at max succeeds", internal.ListingSpec{Limit: 50}, false},
		{"limit above max rejected", internal.ListingSpec{Limit: 51}, true},
		{"zero limit rejected", internal.ListingSpec{Limit: 0}, true},
		{"negative limit rejected", internal.ListingSpec{Limit: -5}, true},
		{"negative offset rejected", internal.ListingSpec{Limit: 10, Offset: -1}, true},
		{"feed without viewer rejected", internal.ListingSpec{Limit: 10, Feed: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := q.CompileListing(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsValidationFailed(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// TestCompileListing_Shape 測試查詢形狀隨認證狀態變化
func TestCompileListing_Shape(t *testing.T) {
	q := internal.NewArticleQueries(nil, nil, nil, nil)

	t.Run("anonymous query never touches relationships", func(t *testing.T) {
		sql, args, err := q.CompileListing(internal.ListingSpec{Tag: "go", Limit: 10})
		require.NoError(t, err)

		assert.Contains(t, sql, "FALSE AS favorited")
		assert.Contains(t, sql, "FALSE AS following")
		assert.NotContains(t, sql, "relationships fav")
		assert.NotContains(t, sql, "relationships fol")
		assert.Contains(t, sql, "COUNT(*) OVER()")
		assert.Equal(t, []interface{}{"go", 10, 0}, args)
	})

	t.Run("viewer query joins relationship projections", func(t *testing.T) {
		sql, args, err := q.CompileListing(internal.ListingSpec{Viewer: "alice", Limit: 10})
		require.NoError(t, err)

		assert.Contains(t, sql, "relationships fav")
		assert.Contains(t, sql, "relationships fol")
		assert.NotContains(t, sql, "FALSE AS favorited")
		assert.Equal(t, "alice", args[0])
	})

	t.Run("all filters compose into one statement", func(t *testing.T) {
		sql, _, err := q.CompileListing(internal.ListingSpec{
			Tag: "go", Author: "bob", FavoritedBy: "carol",
			Viewer: "alice", Limit: 20, Offset: 40,
		})
		require.NoError(t, err)

		assert.Contains(t, sql, "= ANY(a.tags)")
		assert.Contains(t, sql, "a.author =")
		assert.Contains(t, sql, "r.set_name = 'favorites'")
		// 單一語句：沒有分號分隔的第二查詢
		assert.Equal(t, 1, strings.Count(sql, "SELECT a.article_key"))
	})

	t.Run("feed scopes by follows instead of filters", func(t *testing.T) {
		sql, _, err := q.CompileListing(internal.ListingSpec{Viewer: "alice", Feed: true, Limit: 10})
		require.NoError(t, err)

		assert.Contains(t, sql, "r.set_name = 'follows'")
	})

	t.Run("ordering prefers update time over creation time", func(t *testing.T) {
		sql, _, err := q.CompileListing(internal.ListingSpec{Limit: 10})
		require.NoError(t, err)

		assert.Contains(t, sql, "ORDER BY COALESCE(a.updated_at, a.created_at) DESC")
	})
}

// TestListing_WindowedCount 測試分頁與視窗計數
func TestListing_WindowedCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutils.SeedUser(t, f.users, "prolific")
	testutils.SeedUser(t, f.users, "other")

	for i := 0; i < 20; i++ {
		testutils.SeedArticle(t, f.articles, "prolific", "Article "+string(rune('A'+i)))
	}
	testutils.SeedArticle(t, f.articles, "other", "Unrelated")

	items, total, err := f.queries.List(ctx, internal.ListingSpec{
		Author: "prolific",
		Limit:  10,
	})
	require.NoError(t, err)

	assert.Len(t, items, 10)
	assert.Equal(t, int64(20), total)
	for _, it := range items {
		assert.Equal(t, "prolific", it.AuthorInfo.Username)
	}

	// 第二頁拿剩下的 10 篇，總數不變
	page2, total2, err := f.queries.List(ctx, internal.ListingSpec{
		Author: "prolific",
		Limit:  10,
		Offset: 10,
	})
	require.NoError(t, err)
	assert.Len(t, page2, 10)
	assert.Equal(t, int64(20), total2)
}

// TestListing_AnonymousFlags 測試匿名讀取的標記恆為 false
func TestListing_AnonymousFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutils.SeedUser(t, f.users, "author")
	testutils.SeedUser(t, f.users, "fan")

	article := testutils.SeedArticle(t, f.articles, "author", "Popular Article")

	// 儲存層裡確實存在收藏與關注
	require.NoError(t, f.articles.Favorite(ctx, "fan", article.Slug))
	require.NoError(t, f.users.Follow(ctx, "fan", "author"))

	t.Run("anonymous listing", func(t *testing.T) {
		items, _, err := f.queries.List(ctx, internal.ListingSpec{Limit: 10})
		require.NoError(t, err)
		require.NotEmpty(t, items)

		for _, it := range items {
			assert.False(t, it.Favorited)
			assert.False(t, it.AuthorInfo.Following)
		}
	})

	t.Run("authenticated listing sees real flags", func(t *testing.T) {
		items, _, err := f.queries.List(ctx, internal.ListingSpec{Viewer: "fan", Limit: 10})
		require.NoError(t, err)
		require.NotEmpty(t, items)

		assert.True(t, items[0].Favorited)
		assert.True(t, items[0].AuthorInfo.Following)
	})
}

// TestListing_Filters 測試過濾謂詞
func TestListing_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutils.SeedUser(t, f.users, "ann")
	testutils.SeedUser(t, f.users, "ben")
	testutils.SeedUser(t, f.users, "collector")

	a1, err := f.articles.Create(ctx, "ann", "Go Patterns", "", "...", []string{"go", "patterns"})
	require.NoError(t, err)
	_, err = f.articles.Create(ctx, "ben", "Rust Notes", "", "...", []string{"rust"})
	require.NoError(t, err)

	require.NoError(t, f.articles.Favorite(ctx, "collector", a1.Slug))

	t.Run("tag filter", func(t *testing.T) {
		items, total, err := f.queries.List(ctx, internal.ListingSpec{Tag: "rust", Limit: 10})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "Rust Notes", items[0].Title)
	})

	t.Run("favorited-by filter", func(t *testing.T) {
		items, _, err := f.queries.List(ctx, internal.ListingSpec{FavoritedBy: "collector", Limit: 10})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, a1.Key, items[0].Key)
	})

	t.Run("no match yields empty page and zero total", func(t *testing.T) {
		items, total, err := f.queries.List(ctx, internal.ListingSpec{Tag: "cobol", Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Equal(t, int64(0), total)
	})
}

// TestFeed 測試 feed 的關注範疇
func TestFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutils.SeedUser(t, f.users, "reader")
	testutils.SeedUser(t, f.users, "followed")
	testutils.SeedUser(t, f.users, "ignored")

	testutils.SeedArticle(t, f.articles, "followed", "In Feed")
	testutils.SeedArticle(t, f.articles, "ignored", "Not In Feed")

	require.NoError(t, f.users.Follow(ctx, "reader", "followed"))

	items, total, err := f.queries.Feed(ctx, "reader", 10, 0)
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "In Feed", items[0].Title)
	assert.True(t, items[0].AuthorInfo.Following)
}

// TestGet 測試單篇文章讀取
func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutils.SeedUser(t, f.users, "author")
	testutils.SeedUser(t, f.users, "fan")

	article := testutils.SeedArticle(t, f.articles, "author", "Single Article")
	require.NoError(t, f.articles.Favorite(ctx, "fan", article.Slug))

	t.Run("malformed slug is invalid identifier, not a miss", func(t *testing.T) {
		_, err := f.queries.Get(ctx, "no-delimiter", "")
		require.Error(t, err)
		assert.True(t, apperrors.IsInvalidIdentifier(err))
	})

	t.Run("unknown key is not found", func(t *testing.T) {
		_, err := f.queries.Get(ctx, "some-title_zzzzzzzzzz", "")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("anonymous get projects false flags", func(t *testing.T) {
		v, err := f.queries.Get(ctx, article.Slug, "")
		require.NoError(t, err)
		assert.Equal(t, article.Key, v.Key)
		assert.False(t, v.Favorited)
		assert.False(t, v.AuthorInfo.Following)
	})

	t.Run("viewer flags resolved by point lookups", func(t *testing.T) {
		v, err := f.queries.Get(ctx, article.Slug, "fan")
		require.NoError(t, err)
		assert.True(t, v.Favorited)
		assert.False(t, v.AuthorInfo.Following)
		assert.Equal(t, int64(1), v.FavoritesCount)
	})
}

// TestListing_Ordering 測試更新時間優先的排序
func TestListing_Ordering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutils.SeedUser(t, f.users, "author")

	first := testutils.SeedArticle(t, f.articles, "author", "Older")
	time.Sleep(10 * time.Millisecond)
	testutils.SeedArticle(t, f.articles, "author", "Newer")

	// 先確認創建時間排序：新的在前
	items, _, err := f.queries.List(ctx, internal.ListingSpec{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Newer", items[0].Title)

	// 更新舊文章後它浮到最前面
	body := "refreshed"
	_, err = f.articles.Update(ctx, "author", first.Slug, internal.ArticleUpdate{Body: &body})
	require.NoError(t, err)

	items, _, err = f.queries.List(ctx, internal.ListingSpec{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "Older", items[0].Title)
}
