// Package internal 實現部落格平台的資料存取核心
//
// 核心問題：
//
//	文章的顯示識別符（slug）隨標題變動，如何讓儲存識別與所有跨文件
//	引用保持穩定？多個請求併發變更同一個用戶的關注/收藏集合，如何
//	既不丟更新也不產生重複？
//
// 設計方案：
//
//	✅ 雙重識別符：slug = 標題部分 + 分隔符 + 不可變 key（pkg/slug）
//	✅ 關係集合：PostgreSQL ON CONFLICT 去重插入（服務端強制唯一）
//	  + Redis SADD 鏡像（低延遲讀取）
//	✅ 留言 ID：每篇文章一個計數器行，單一條 upsert 自增語句原子發號
//	✅ 列表讀取：單一查詢完成文章、作者、關注、收藏的連接與視窗計數
//	✅ 一致性策略對象：strong（讀己之寫）vs eventual（允許落後）按讀取路徑注入
package internal

import "time"

// 關係集合名稱
const (
	// SetFollows 關注集合，成員為被關注者的用戶名
	SetFollows = "follows"

	// SetFavorites 收藏集合，成員為被收藏文章的 key
	SetFavorites = "favorites"
)

// Article 文章文件
//
// 數據模型設計：
//
//   - Key：不可變的儲存識別符（隨機 base62，創建後永不變動）
//   - Slug：顯示識別符，標題部分 + "_" + Key；改標題時重新生成
//   - Tags：有序字串序列，成員順序無語義
//   - FavoritesCount：反正規化的收藏計數快取（最終一致）
type Article struct {
	Key            string     `json:"-"`
	Slug           string     `json:"slug"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Body           string     `json:"body"`
	Tags           []string   `json:"tagList"`
	Author         string     `json:"-"`
	FavoritesCount int64      `json:"favoritesCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// User 用戶文件
//
// 用戶名即儲存 key：全域唯一且創建後不可變。email 唯一。
// 密碼雜湊與鹽由外部的認證層產生，這裡只是不透明的儲存欄位。
type User struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Bio          string    `json:"bio"`
	Image        string    `json:"image"`
	PasswordHash []byte    `json:"-"`
	PasswordSalt []byte    `json:"-"`
	CreatedAt    time.Time `json:"-"`
}

// Profile 面向閱覽者的作者投影
type Profile struct {
	Username  string `json:"username"`
	Bio       string `json:"bio"`
	Image     string `json:"image"`
	Following bool   `json:"following"`
}

// Comment 留言文件
//
// ID 在單篇文章內唯一、按發出順序嚴格遞增但不保證連續；
// 一旦發出即使留言被刪除也不會重用。
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	Author    string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// CommentView 帶作者投影的留言（list 的查詢形狀）
type CommentView struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	Author    Profile   `json:"author"`
}

// ArticleListItem 列表查詢的單行投影
//
// 在儲存層邊界解碼一次成強型別結構，不以未定型 map 向外傳遞。
// TotalCount 是同一回合的視窗計數（COUNT(*) OVER()），
// 避免分頁 UI 需要第二次查詢。
type ArticleListItem struct {
	Article
	Favorited  bool    `json:"favorited"`
	AuthorInfo Profile `json:"author"`
	TotalCount int64   `json:"-"`
}

// ArticleView 單篇文章查詢的投影
type ArticleView struct {
	Article
	Favorited  bool    `json:"favorited"`
	AuthorInfo Profile `json:"author"`
}
