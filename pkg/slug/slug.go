// Package slug 實現文章的雙重識別符編碼
//
// 一篇文章有兩個識別符：
//   - slug：人類可讀的顯示識別符，隨標題變動（如 "how-to-train-your-dragon_8M0kXa42Qz"）
//   - article key：不可變的儲存識別符，嵌在 slug 的尾端
//
// 設計原因：
//   - 標題（以及 slug）是可變的，但其他文件以 key 引用文章
//   - 改標題只需重新生成 slug，所有以 key 為成員的集合引用保持有效
//   - 避免「改一個可變值就要更新所有引用文件」的級聯更新
package slug

import (
	"crypto/rand"
	"strings"
	"unicode"

	apperrors "github.com/koopa0/conduit/pkg/errors"
)

// Delimiter 分隔 slug 的標題部分與 key 部分
//
// Slugify 產出的字符集為 [a-z0-9-]，不包含底線，
// 因此 slug 中最後一個底線之後必然是 key。
const Delimiter = "_"

// KeyLength 文章 key 的固定長度
//
// 62^10 ≈ 8.4 × 10^17，隨機碰撞概率可忽略；
// 碰撞發生時以插入失敗（唯一約束）處理並重試，不會靜默覆蓋。
const KeyLength = 10

// 字符集：0-9（10個）+ A-Z（26個）+ a-z（26個）= 62個字符
const keyChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// KeyGenerator 生成文章 key
//
// 以介面注入而非全域函數，測試可替換為固定 key 的實現。
type KeyGenerator interface {
	NewKey() (string, error)
}

// RandomKeyGenerator 使用 crypto/rand 生成固定長度的隨機 key
type RandomKeyGenerator struct{}

// NewKey 生成一個 KeyLength 長度的隨機 base62 key
func (RandomKeyGenerator) NewKey() (string, error) {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	// 取模會引入微小偏差，對識別符用途可接受
	for i, b := range buf {
		buf[i] = keyChars[int(b)%len(keyChars)]
	}

	return string(buf), nil
}

// Slugify 將標題轉換為 slug 的標題部分
//
// 規則：小寫化，字母數字保留，其餘字符折疊為單一連字符，
// 去除首尾連字符。空標題產出 "untitled"。
//
// 範例：
//
//	Slugify("How to Train Your Dragon")  → "how-to-train-your-dragon"
//	Slugify("  Go & Rust!  ")            → "go-rust"
func Slugify(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	lastDash := true // 抑制開頭的連字符
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	s := strings.TrimRight(b.String(), "-")
	if s == "" {
		return "untitled"
	}
	return s
}

// Encode 將標題部分與文章 key 組合為完整 slug
func Encode(titleSlug, articleKey string) string {
	return titleSlug + Delimiter + articleKey
}

// Decode 從 slug 取出文章 key
//
// slug 必須至少包含一個分隔符，且 key 部分非空。
// 格式錯誤回傳 InvalidIdentifier —— 呼叫方應視為致命的輸入錯誤，
// 而不是查無資料。
func Decode(s string) (string, error) {
	idx := strings.LastIndex(s, Delimiter)
	if idx < 0 {
		return "", apperrors.ErrInvalidSlug.WithDetails(s)
	}

	key := s[idx+len(Delimiter):]
	if key == "" {
		return "", apperrors.ErrInvalidSlug.WithDetails(s)
	}

	return key, nil
}

// Regenerate 標題變更後重新生成 slug，保留既有的文章 key
func Regenerate(newTitle, existingKey string) string {
	return Encode(Slugify(newTitle), existingKey)
}
