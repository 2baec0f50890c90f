package internal

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/conduit/pkg/errors"
)

// tagCacheKey 標籤目錄的 Redis 快取鍵
const tagCacheKey = "tag_catalog"

// tagCacheTTL 快取過期時間
//
// 目錄由管理端維護、請求時唯讀，數分鐘的落後無妨。
const tagCacheTTL = 5 * time.Minute

// TagCatalog 標籤允許清單
//
// 單一固定文件：整份允許清單存在一行裡，讀多寫極少。
// Redis 做穿透式快取，未命中或出錯讀 PostgreSQL。
type TagCatalog struct {
	pg     *pgxpool.Pool
	redis  *redis.Client
	logger *slog.Logger
}

// NewTagCatalog 創建標籤目錄
func NewTagCatalog(pg *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) *TagCatalog {
	return &TagCatalog{pg: pg, redis: rdb, logger: logger}
}

// List 回傳完整的允許清單
func (t *TagCatalog) List(ctx context.Context) ([]string, error) {
	if tags, ok := t.fromCache(ctx); ok {
		return tags, nil
	}

	var tags []string
	err := t.pg.QueryRow(ctx, `SELECT tags FROM tag_catalog WHERE id = 1`).Scan(&tags)
	if err != nil {
		if isNoRows(err) {
			// 目錄行不存在視同空清單
			return []string{}, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "tag catalog read")
	}

	t.fillCache(ctx, tags)
	return tags, nil
}

// Allowed 檢查標籤是否在允許清單內
func (t *TagCatalog) Allowed(ctx context.Context, tag string) (bool, error) {
	tags, err := t.List(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(tags, tag), nil
}

// fromCache 讀 Redis 快取
func (t *TagCatalog) fromCache(ctx context.Context) ([]string, bool) {
	raw, err := t.redis.LRange(ctx, tagCacheKey, 0, -1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}

	// 空清單以佔位元素快取
	if len(raw) == 1 && raw[0] == mirrorSentinel {
		return []string{}, true
	}
	return raw, true
}

// fillCache 回填快取
func (t *TagCatalog) fillCache(ctx context.Context, tags []string) {
	vals := make([]interface{}, 0, len(tags)+1)
	if len(tags) == 0 {
		vals = append(vals, mirrorSentinel)
	}
	for _, tag := range tags {
		vals = append(vals, tag)
	}

	pipe := t.redis.TxPipeline()
	pipe.Del(ctx, tagCacheKey)
	pipe.RPush(ctx, tagCacheKey, vals...)
	pipe.Expire(ctx, tagCacheKey, tagCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("tag catalog cache fill failed", "error", err)
	}
}
