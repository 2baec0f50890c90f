package internal

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/koopa0/conduit/pkg/errors"
)

// CommentSequencer 管理單篇文章的留言序列與 ID 發號
//
// 留言掛在文章的不可變 key 之下（對應原始系統的 "{articleKey}::comments"
// 文件），ID 由獨立的計數器鍵（"{articleKey}::counter"）發出：
//
//   - 發號嚴格遞增、永不重用，即使持有該 ID 的留言之後被刪除
//   - 發號與留言寫入是兩步：ID 發出後寫入失敗，該 ID 永久作廢
//     （編號允許出現空洞，重複絕不允許）
//   - 讀取方不能假設留言列表的完整性追上計數器值——計數器先行於
//     留言可見是合法的觀察結果
//
// 發號用單一條 upsert 自增語句，由資料庫保證原子性；
// 併發送出留言時不可能拿到相同的 ID。
type CommentSequencer struct {
	pg     *pgxpool.Pool
	logger *slog.Logger
}

// NewCommentSequencer 創建留言序列器
func NewCommentSequencer(pg *pgxpool.Pool, logger *slog.Logger) *CommentSequencer {
	return &CommentSequencer{pg: pg, logger: logger}
}

// NextID 對文章的計數器原子自增並回傳新 ID
//
// 計數器行惰性建立：第一則留言拿到 1。
func (c *CommentSequencer) NextID(ctx context.Context, articleKey string) (int64, error) {
	var id int64
	err := c.pg.QueryRow(ctx, `
		INSERT INTO comment_counters (article_key, value)
		VALUES ($1, 1)
		ON CONFLICT (article_key) DO UPDATE
		SET value = comment_counters.value + 1
		RETURNING value
	`, articleKey).Scan(&id)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "comment next id")
	}
	return id, nil
}

// Append 以 NextID 發出的 ID 寫入留言
//
// 寫入失敗時 ID 已被消耗，呼叫方直接回報錯誤即可，不需要
// 也不應該嘗試歸還 ID。
func (c *CommentSequencer) Append(ctx context.Context, articleKey string, comment Comment) error {
	_, err := c.pg.Exec(ctx, `
		INSERT INTO comments (article_key, id, body, author, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, articleKey, comment.ID, comment.Body, comment.Author, comment.CreatedAt)
	if err != nil {
		c.logger.Error("comment append failed, id burned",
			"article_key", articleKey,
			"comment_id", comment.ID,
			"error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "comment append")
	}
	return nil
}

// Add 發號並寫入一則留言（Append 的便利包裝）
func (c *CommentSequencer) Add(ctx context.Context, articleKey, author, body string) (Comment, error) {
	id, err := c.NextID(ctx, articleKey)
	if err != nil {
		return Comment{}, err
	}

	comment := Comment{
		ID:        id,
		Body:      body,
		Author:    author,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.Append(ctx, articleKey, comment); err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// List 回傳文章的留言序列，帶作者投影
//
// 單一查詢連接作者資料與（有閱覽者時）閱覽者的關注集合，
// 產出每則留言的 following 標記；匿名閱覽一律 false，
// 且完全不觸碰關係資料。
func (c *CommentSequencer) List(ctx context.Context, articleKey, viewer string) ([]CommentView, error) {
	var query string
	var args []interface{}

	if viewer == "" {
		query = `
			SELECT c.id, c.body, c.created_at,
			       c.author,
			       COALESCE(u.bio, ''), COALESCE(u.image, ''),
			       FALSE AS following
			FROM comments c
			LEFT JOIN users u ON u.username = c.author
			WHERE c.article_key = $1
			ORDER BY c.id`
		args = []interface{}{articleKey}
	} else {
		query = `
			SELECT c.id, c.body, c.created_at,
			       c.author,
			       COALESCE(u.bio, ''), COALESCE(u.image, ''),
			       (f.member IS NOT NULL) AS following
			FROM comments c
			LEFT JOIN users u ON u.username = c.author
			LEFT JOIN relationships f
			       ON f.owner = $2 AND f.set_name = 'follows' AND f.member = c.author
			WHERE c.article_key = $1
			ORDER BY c.id`
		args = []interface{}{articleKey, viewer}
	}

	rows, err := c.pg.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "comment list")
	}
	defer rows.Close()

	var views []CommentView
	for rows.Next() {
		var v CommentView
		if err := rows.Scan(
			&v.ID, &v.Body, &v.CreatedAt,
			&v.Author.Username, &v.Author.Bio, &v.Author.Image,
			&v.Author.Following,
		); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "comment list scan")
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "comment list rows")
	}

	return views, nil
}

// Remove 刪除留言
//
// 先確認留言存在（NotFound），再比對作者（Unauthorized），
// 最後才刪除。擁有者檢查走 Strong 級別的讀取——直接查權威庫。
func (c *CommentSequencer) Remove(ctx context.Context, articleKey string, commentID int64, requestingUsername string) error {
	var author string
	err := c.pg.QueryRow(ctx, `
		SELECT author FROM comments
		WHERE article_key = $1 AND id = $2
	`, articleKey, commentID).Scan(&author)
	if err != nil {
		if isNoRows(err) {
			return apperrors.ErrCommentNotFound
		}
		return apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "comment lookup")
	}

	if author != requestingUsername {
		return apperrors.ErrNotOwner
	}

	// 作者比對與刪除之間存在窗口，但以 (article_key, id) 刪除是
	// 冪等的，且 ID 永不重用，不會誤刪別人的留言
	_, err = c.pg.Exec(ctx, `
		DELETE FROM comments
		WHERE article_key = $1 AND id = $2
	`, articleKey, commentID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "comment delete")
	}

	return nil
}
