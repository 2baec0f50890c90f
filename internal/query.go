package internal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/koopa0/conduit/pkg/errors"
	"github.com/koopa0/conduit/pkg/slug"
)

// MaxPageSize 列表查詢的最大頁大小
//
// limit 必須落在 (0, MaxPageSize]，超界是驗證錯誤，不做靜默截斷。
const MaxPageSize = 50

// ListingSpec 列表查詢的請求形狀
//
// 零值欄位代表「不套用該過濾」。Viewer 為空代表匿名閱覽：
// 投影中的 favorited/following 恆為 false，且編譯出的查詢
// 完全不觸碰關係資料。
type ListingSpec struct {
	Tag         string // 過濾：tag 必須出現在文章的 tags 中
	Author      string // 過濾：指定作者
	FavoritedBy string // 過濾：被指定用戶收藏
	Viewer      string // 閱覽者用戶名（個人化標記），空 = 匿名
	Feed        bool   // feed 範疇：只看 Viewer 關注的作者（要求 Viewer 非空）
	Limit       int
	Offset      int
}

// ArticleQueries 文章讀取路徑的查詢編譯器
//
// 系統設計考量：
//
//  1. 為什麼單一查詢？
//     - 先取一頁文章、再對每篇發 N 次查詢解析作者/收藏/關注狀態，
//       是典型的 N+1 模式，一頁 20 篇就是 61 次往返
//     - 這裡把 users、relationships 的連接放進同一條語句，
//       一次往返拿到整頁的反正規化投影
//
//  2. 依認證狀態組合子句：
//     - 查詢形狀取決於「是否有已知的閱覽者」
//     - 子句片段在一個編譯函數內按 hasViewer 選擇，
//       不在各呼叫點散落字串拼接
//     - 匿名路徑直接投影常量 FALSE，連 LEFT JOIN 都不生成
//
//  3. 視窗計數：
//     - COUNT(*) OVER() 讓總匹配數與分頁結果同回合取得，
//       分頁 UI 不需要第二次查詢
type ArticleQueries struct {
	pg     *pgxpool.Pool
	rel    RelationshipStore
	policy *ConsistencyPolicy
	logger *slog.Logger
}

// NewArticleQueries 創建查詢編譯器
func NewArticleQueries(pg *pgxpool.Pool, rel RelationshipStore, policy *ConsistencyPolicy, logger *slog.Logger) *ArticleQueries {
	return &ArticleQueries{pg: pg, rel: rel, policy: policy, logger: logger}
}

// CompileListing 把請求形狀編譯為一條參數化查詢
//
// 排序：最近更新優先，未更新過的以創建時間參與排序。
func (q *ArticleQueries) CompileListing(spec ListingSpec) (string, []interface{}, error) {
	if spec.Limit <= 0 || spec.Limit > MaxPageSize {
		return "", nil, apperrors.ErrInvalidPagination.
			WithDetails(fmt.Sprintf("limit %d not in (0, %d]", spec.Limit, MaxPageSize))
	}
	if spec.Offset < 0 {
		return "", nil, apperrors.ErrInvalidPagination.
			WithDetails(fmt.Sprintf("offset %d < 0", spec.Offset))
	}
	if spec.Feed && spec.Viewer == "" {
		return "", nil, apperrors.New(apperrors.ErrCodeValidationFailed, "feed requires a viewer")
	}

	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	hasViewer := spec.Viewer != ""

	var b strings.Builder
	b.WriteString(`SELECT a.article_key, a.slug, a.title, a.description, a.body, a.tags,
	a.favorites_count, a.created_at, a.updated_at,
	a.author, COALESCE(u.bio, ''), COALESCE(u.image, ''),
`)

	if hasViewer {
		viewer := arg(spec.Viewer)
		b.WriteString("\t(fav.member IS NOT NULL) AS favorited,\n")
		b.WriteString("\t(fol.member IS NOT NULL) AS following,\n")
		b.WriteString("\tCOUNT(*) OVER() AS total_count\n")
		b.WriteString("FROM articles a\n")
		b.WriteString("LEFT JOIN users u ON u.username = a.author\n")
		b.WriteString("LEFT JOIN relationships fav ON fav.owner = " + viewer +
			" AND fav.set_name = 'favorites' AND fav.member = a.article_key\n")
		b.WriteString("LEFT JOIN relationships fol ON fol.owner = " + viewer +
			" AND fol.set_name = 'follows' AND fol.member = a.author\n")
	} else {
		b.WriteString("\tFALSE AS favorited,\n")
		b.WriteString("\tFALSE AS following,\n")
		b.WriteString("\tCOUNT(*) OVER() AS total_count\n")
		b.WriteString("FROM articles a\n")
		b.WriteString("LEFT JOIN users u ON u.username = a.author\n")
	}

	var conds []string
	if spec.Tag != "" {
		conds = append(conds, arg(spec.Tag)+" = ANY(a.tags)")
	}
	if spec.Author != "" {
		conds = append(conds, "a.author = "+arg(spec.Author))
	}
	if spec.FavoritedBy != "" {
		conds = append(conds, `EXISTS (
		SELECT 1 FROM relationships r
		WHERE r.owner = `+arg(spec.FavoritedBy)+` AND r.set_name = 'favorites' AND r.member = a.article_key
	)`)
	}
	if spec.Feed {
		// feed 與一般列表的唯一差異：範疇謂詞換成閱覽者的關注集合
		conds = append(conds, `EXISTS (
		SELECT 1 FROM relationships r
		WHERE r.owner = `+arg(spec.Viewer)+` AND r.set_name = 'follows' AND r.member = a.author
	)`)
	}

	if len(conds) > 0 {
		b.WriteString("WHERE " + strings.Join(conds, "\n  AND ") + "\n")
	}

	b.WriteString("ORDER BY COALESCE(a.updated_at, a.created_at) DESC, a.article_key\n")
	b.WriteString("LIMIT " + arg(spec.Limit) + " OFFSET " + arg(spec.Offset))

	return b.String(), args, nil
}

// List 執行列表查詢
//
// 回傳一頁投影與視窗計數（同一回合取得的總匹配數）。
func (q *ArticleQueries) List(ctx context.Context, spec ListingSpec) ([]ArticleListItem, int64, error) {
	query, args, err := q.CompileListing(spec)
	if err != nil {
		return nil, 0, err
	}

	rows, err := q.pg.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "article listing")
	}
	defer rows.Close()

	var items []ArticleListItem
	var total int64
	for rows.Next() {
		var it ArticleListItem
		if err := rows.Scan(
			&it.Key, &it.Slug, &it.Title, &it.Description, &it.Body, &it.Tags,
			&it.FavoritesCount, &it.CreatedAt, &it.UpdatedAt,
			&it.AuthorInfo.Username, &it.AuthorInfo.Bio, &it.AuthorInfo.Image,
			&it.Favorited, &it.AuthorInfo.Following,
			&it.TotalCount,
		); err != nil {
			return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "article listing scan")
		}
		it.Author = it.AuthorInfo.Username
		total = it.TotalCount
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "article listing rows")
	}

	return items, total, nil
}

// Feed 閱覽者的個人 feed
//
// 與一般列表只差在範疇謂詞：限定閱覽者關注的作者，
// 不套用 tag/author/favorited 過濾。
func (q *ArticleQueries) Feed(ctx context.Context, viewer string, limit, offset int) ([]ArticleListItem, int64, error) {
	return q.List(ctx, ListingSpec{
		Viewer: viewer,
		Feed:   true,
		Limit:  limit,
		Offset: offset,
	})
}

// Get 以 slug 取得單篇文章
//
// slug 先解碼為 key（格式錯誤是 InvalidIdentifier，不是查無資料），
// 點讀文章與作者；有閱覽者時 favorited/following 用關係存儲的兩次
// 點查解析——每個欄位只需要一次成員檢查，不值得展開成寬連接。
func (q *ArticleQueries) Get(ctx context.Context, articleSlug, viewer string) (*ArticleView, error) {
	key, err := slug.Decode(articleSlug)
	if err != nil {
		return nil, err
	}

	return q.GetByKey(ctx, key, viewer)
}

// GetByKey 以儲存 key 取得單篇文章
func (q *ArticleQueries) GetByKey(ctx context.Context, key, viewer string) (*ArticleView, error) {
	var v ArticleView
	err := q.pg.QueryRow(ctx, `
		SELECT a.article_key, a.slug, a.title, a.description, a.body, a.tags,
		       a.favorites_count, a.created_at, a.updated_at,
		       a.author, COALESCE(u.bio, ''), COALESCE(u.image, '')
		FROM articles a
		LEFT JOIN users u ON u.username = a.author
		WHERE a.article_key = $1
	`, key).Scan(
		&v.Key, &v.Slug, &v.Title, &v.Description, &v.Body, &v.Tags,
		&v.FavoritesCount, &v.CreatedAt, &v.UpdatedAt,
		&v.AuthorInfo.Username, &v.AuthorInfo.Bio, &v.AuthorInfo.Image,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.ErrArticleNotFound
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "article get")
	}
	v.Author = v.AuthorInfo.Username

	if viewer != "" {
		level := q.policy.DefaultRead

		favorited, err := q.rel.Contains(ctx, viewer, SetFavorites, v.Key, level)
		if err != nil {
			return nil, err
		}
		following, err := q.rel.Contains(ctx, viewer, SetFollows, v.Author, level)
		if err != nil {
			return nil, err
		}

		v.Favorited = favorited
		v.AuthorInfo.Following = following
	}

	return &v, nil
}
