package internal

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/koopa0/conduit/pkg/errors"
	"github.com/koopa0/conduit/pkg/slug"
)

// ArticleUpdate 文章的部分更新
//
// nil 欄位代表「未提供、不變更」；指標指向空字串/空切片代表
// 「顯式清空」。不用空字串當哨兵——顯式可選性讓兩者可區分。
type ArticleUpdate struct {
	Title       *string
	Description *string
	Body        *string
	Tags        *[]string
}

// ArticleService 文章文件的寫入服務
//
// 寫入期間由本服務獨佔文章文件的所有權。文章只會被自己的作者
// 變更（擁有者檢查在這裡做，不在儲存層），競爭程度低，
// 直接 last-writer-wins 更新即可，不需要版本鎖。
type ArticleService struct {
	pg     *pgxpool.Pool
	rel    RelationshipStore
	keys   slug.KeyGenerator
	policy *ConsistencyPolicy
	logger *slog.Logger
}

// NewArticleService 創建文章寫入服務
//
// keys 以介面注入，測試可替換為固定 key 的生成器。
func NewArticleService(pg *pgxpool.Pool, rel RelationshipStore, keys slug.KeyGenerator, policy *ConsistencyPolicy, logger *slog.Logger) *ArticleService {
	return &ArticleService{pg: pg, rel: rel, keys: keys, policy: policy, logger: logger}
}

// Create 創建文章
//
// 分配不可變的隨機 key 並以 Identity Codec 生成 slug。key 碰撞
// （機率可忽略）表現為主鍵衝突的插入失敗，重新生成 key 再試一次，
// 絕不靜默覆蓋既有文章。
func (s *ArticleService) Create(ctx context.Context, author, title, description, body string, tags []string) (*Article, error) {
	const keyCollisionRetries = 2

	var lastErr error
	for attempt := 0; attempt < keyCollisionRetries; attempt++ {
		key, err := s.keys.NewKey()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "generate article key")
		}

		article := &Article{
			Key:         key,
			Slug:        slug.Encode(slug.Slugify(title), key),
			Title:       title,
			Description: description,
			Body:        body,
			Tags:        tags,
			Author:      author,
			CreatedAt:   time.Now().UTC(),
		}
		if article.Tags == nil {
			article.Tags = []string{}
		}

		_, err = s.pg.Exec(ctx, `
			INSERT INTO articles (article_key, slug, title, description, body, tags, author, favorites_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		`, article.Key, article.Slug, article.Title, article.Description,
			article.Body, article.Tags, article.Author, article.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				// key 碰撞：中止這次插入，換一個 key 重試
				s.logger.Warn("article key collision, regenerating", "key", key)
				lastErr = err
				continue
			}
			return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "article insert")
		}

		return article, nil
	}

	return nil, apperrors.Wrap(lastErr, apperrors.ErrCodeConflict, "article key collision persisted")
}

// Update 部分更新文章
//
// 至少一個提供的欄位必須與現狀不同，否則是驗證錯誤而非
// 空操作成功。標題變更觸發 slug 重新生成（key 保持不變）；
// updated_at 在每次成功更新時設為當前時間；created_at 不可變。
//
// 擁有者檢查讀權威庫（Strong）——刪改前的身份判斷不能吃到
// 落後的資料。
func (s *ArticleService) Update(ctx context.Context, requestingUsername, articleSlug string, upd ArticleUpdate) (*Article, error) {
	key, err := slug.Decode(articleSlug)
	if err != nil {
		return nil, err
	}

	current, err := s.loadForWrite(ctx, key)
	if err != nil {
		return nil, err
	}
	if current.Author != requestingUsername {
		return nil, apperrors.ErrNotOwner
	}

	changed := false
	next := *current

	if upd.Title != nil && *upd.Title != current.Title {
		next.Title = *upd.Title
		next.Slug = slug.Regenerate(*upd.Title, key)
		changed = true
	}
	if upd.Description != nil && *upd.Description != current.Description {
		next.Description = *upd.Description
		changed = true
	}
	if upd.Body != nil && *upd.Body != current.Body {
		next.Body = *upd.Body
		changed = true
	}
	if upd.Tags != nil && !slices.Equal(*upd.Tags, current.Tags) {
		next.Tags = *upd.Tags
		if next.Tags == nil {
			next.Tags = []string{}
		}
		changed = true
	}

	if !changed {
		return nil, apperrors.ErrNoFieldsChanged
	}

	now := time.Now().UTC()
	next.UpdatedAt = &now

	_, err = s.pg.Exec(ctx, `
		UPDATE articles
		SET slug = $2, title = $3, description = $4, body = $5, tags = $6, updated_at = $7
		WHERE article_key = $1
	`, key, next.Slug, next.Title, next.Description, next.Body, next.Tags, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "article update")
	}

	return &next, nil
}

// Delete 刪除文章
//
// 只移除文章文件本身。收藏集合、留言中指向這個 key 的引用刻意
// 不清理——它們在讀取時惰性解析（查不到文章就是未收藏/不存在），
// 避免刪文章要掃全部用戶的收藏集合。
func (s *ArticleService) Delete(ctx context.Context, requestingUsername, articleSlug string) error {
	key, err := slug.Decode(articleSlug)
	if err != nil {
		return err
	}

	current, err := s.loadForWrite(ctx, key)
	if err != nil {
		return err
	}
	if current.Author != requestingUsername {
		return apperrors.ErrNotOwner
	}

	_, err = s.pg.Exec(ctx, `DELETE FROM articles WHERE article_key = $1`, key)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "article delete")
	}

	return nil
}

// Favorite 收藏文章
//
// 只有成員實際被加入時才調整反正規化計數，冪等的重複收藏
// 不會把計數器加歪。favorites_count 是最終一致的快取，
// 與集合的變更不在同一個交易也可接受。
func (s *ArticleService) Favorite(ctx context.Context, viewer, articleSlug string) error {
	key, err := slug.Decode(articleSlug)
	if err != nil {
		return err
	}

	if err := s.ensureExists(ctx, key); err != nil {
		return err
	}

	added, err := s.rel.Add(ctx, viewer, SetFavorites, key)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}

	_, err = s.pg.Exec(ctx, `
		UPDATE articles SET favorites_count = favorites_count + 1
		WHERE article_key = $1
	`, key)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "favorites count increment")
	}
	return nil
}

// Unfavorite 取消收藏
func (s *ArticleService) Unfavorite(ctx context.Context, viewer, articleSlug string) error {
	key, err := slug.Decode(articleSlug)
	if err != nil {
		return err
	}

	removed, err := s.rel.Remove(ctx, viewer, SetFavorites, key)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	// 指向已刪文章的懸空收藏：文章不在了，計數更新影響 0 行，無妨
	_, err = s.pg.Exec(ctx, `
		UPDATE articles SET favorites_count = GREATEST(favorites_count - 1, 0)
		WHERE article_key = $1
	`, key)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "favorites count decrement")
	}
	return nil
}

// loadForWrite 以 Strong 讀取載入文章現狀（擁有者檢查與差異計算用）
func (s *ArticleService) loadForWrite(ctx context.Context, key string) (*Article, error) {
	var a Article
	err := s.pg.QueryRow(ctx, `
		SELECT article_key, slug, title, description, body, tags, author,
		       favorites_count, created_at, updated_at
		FROM articles WHERE article_key = $1
	`, key).Scan(
		&a.Key, &a.Slug, &a.Title, &a.Description, &a.Body, &a.Tags, &a.Author,
		&a.FavoritesCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.ErrArticleNotFound
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "article load")
	}
	return &a, nil
}

// ensureExists 確認文章存在
func (s *ArticleService) ensureExists(ctx context.Context, key string) error {
	var exists bool
	err := s.pg.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM articles WHERE article_key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "article exists")
	}
	if !exists {
		return apperrors.ErrArticleNotFound
	}
	return nil
}
