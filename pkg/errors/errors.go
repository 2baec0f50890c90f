// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeInvalidIdentifier 識別符格式錯誤（slug 無法解析）
	ErrCodeInvalidIdentifier = "INVALID_IDENTIFIER"
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeUnauthorized 操作者不擁有被變更的資源
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeConflict 唯一性約束衝突
	ErrCodeConflict = "CONFLICT"
	// ErrCodeValidationFailed 呼叫方提供的過濾或分頁參數超出範圍
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	// ErrCodeTransientStore 暫時性儲存層錯誤（可重試）
	ErrCodeTransientStore = "TRANSIENT_STORE_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳帶詳細資訊的錯誤副本
//
// 不就地修改：預定義錯誤是共享的套件級變數。
func (e *AppError) WithDetails(details string) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

// 預定義錯誤
var (
	// ErrInvalidSlug slug 缺少分隔符或 key 部分為空
	ErrInvalidSlug = New(ErrCodeInvalidIdentifier, "malformed slug")

	// ErrArticleNotFound 文章不存在
	ErrArticleNotFound = New(ErrCodeNotFound, "article not found")

	// ErrCommentNotFound 留言不存在
	ErrCommentNotFound = New(ErrCodeNotFound, "comment not found")

	// ErrUserNotFound 用戶不存在
	ErrUserNotFound = New(ErrCodeNotFound, "user not found")

	// ErrNotOwner 操作者不是資源擁有者
	ErrNotOwner = New(ErrCodeUnauthorized, "actor does not own this resource")

	// ErrDuplicateKey 唯一鍵已存在（用戶名、email 或文章 key）
	ErrDuplicateKey = New(ErrCodeConflict, "unique constraint violation")

	// ErrInvalidPagination limit 必須在 (0, 50]，offset 必須 >= 0
	ErrInvalidPagination = New(ErrCodeValidationFailed, "pagination out of bounds")

	// ErrNoFieldsChanged 部分更新沒有任何欄位與現狀不同
	ErrNoFieldsChanged = New(ErrCodeValidationFailed, "update contains no changes")

	// ErrStoreUnavailable 儲存層暫時不可用
	ErrStoreUnavailable = New(ErrCodeTransientStore, "store temporarily unavailable")
)

// IsInvalidIdentifier 檢查是否為識別符格式錯誤
func IsInvalidIdentifier(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeInvalidIdentifier
	}
	return false
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsUnauthorized 檢查是否為未授權錯誤
func IsUnauthorized(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeUnauthorized
	}
	return false
}

// IsConflict 檢查是否為唯一性衝突錯誤
func IsConflict(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeConflict
	}
	return false
}

// IsValidationFailed 檢查是否為參數驗證錯誤
func IsValidationFailed(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeValidationFailed
	}
	return false
}

// IsTransient 檢查是否為可重試的暫時性錯誤
func IsTransient(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeTransientStore
	}
	return false
}
