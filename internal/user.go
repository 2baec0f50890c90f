package internal

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/koopa0/conduit/pkg/errors"
)

// UserUpdate 用戶資料的部分更新（nil = 不變更）
type UserUpdate struct {
	Email *string
	Bio   *string
	Image *string
}

// UserStore 用戶文件的存取
//
// 用戶名是儲存 key：全域唯一、創建後不可變。密碼雜湊/鹽由外部
// 認證層計算，這裡原樣存取。
type UserStore struct {
	pg     *pgxpool.Pool
	rel    RelationshipStore
	policy *ConsistencyPolicy
	logger *slog.Logger
}

// NewUserStore 創建用戶存儲
func NewUserStore(pg *pgxpool.Pool, rel RelationshipStore, policy *ConsistencyPolicy, logger *slog.Logger) *UserStore {
	return &UserStore{pg: pg, rel: rel, policy: policy, logger: logger}
}

// Create 創建用戶
//
// 用戶名或 email 撞到唯一約束回傳 Conflict。唯一性由資料庫約束
// 強制——「先查可用再插入」和集合去重一樣留有 check-then-act
// 競態窗口，約束衝突才是權威答案。
func (s *UserStore) Create(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := s.pg.Exec(ctx, `
		INSERT INTO users (username, email, bio, image, password_hash, password_salt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.Username, u.Email, u.Bio, u.Image, u.PasswordHash, u.PasswordSalt, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicateKey.WithDetails(u.Username)
		}
		return apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "user insert")
	}
	return nil
}

// Get 以用戶名取得用戶
func (s *UserStore) Get(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.pg.QueryRow(ctx, `
		SELECT username, email, bio, image, password_hash, password_salt, created_at
		FROM users WHERE username = $1
	`, username).Scan(
		&u.Username, &u.Email, &u.Bio, &u.Image,
		&u.PasswordHash, &u.PasswordSalt, &u.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "user get")
	}
	return &u, nil
}

// UsernameAvailable 註冊前的用戶名可用性檢查
//
// 必須走 Strong：剛註冊完的用戶名不能因為讀到落後資料而顯示可用。
// 最終防線仍是 Create 的唯一約束。
func (s *UserStore) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.pg.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username,
	).Scan(&exists)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "username check")
	}
	return !exists, nil
}

// UpdateProfile 部分更新用戶資料（用戶名不可變）
func (s *UserStore) UpdateProfile(ctx context.Context, username string, upd UserUpdate) (*User, error) {
	current, err := s.Get(ctx, username)
	if err != nil {
		return nil, err
	}

	next := *current
	if upd.Email != nil {
		next.Email = *upd.Email
	}
	if upd.Bio != nil {
		next.Bio = *upd.Bio
	}
	if upd.Image != nil {
		next.Image = *upd.Image
	}

	_, err = s.pg.Exec(ctx, `
		UPDATE users SET email = $2, bio = $3, image = $4
		WHERE username = $1
	`, username, next.Email, next.Bio, next.Image)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.ErrDuplicateKey.WithDetails(next.Email)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "user update")
	}

	return &next, nil
}

// Profile 面向閱覽者的用戶投影
//
// following 標記是 UI 提示，走策略配置的預設級別即可。
func (s *UserStore) Profile(ctx context.Context, username, viewer string) (*Profile, error) {
	u, err := s.Get(ctx, username)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		Username: u.Username,
		Bio:      u.Bio,
		Image:    u.Image,
	}

	if viewer != "" {
		following, err := s.rel.Contains(ctx, viewer, SetFollows, username, s.policy.DefaultRead)
		if err != nil {
			return nil, err
		}
		p.Following = following
	}

	return p, nil
}

// Follow 關注用戶（冪等）
func (s *UserStore) Follow(ctx context.Context, follower, followee string) error {
	if _, err := s.Get(ctx, followee); err != nil {
		return err
	}

	_, err := s.rel.Add(ctx, follower, SetFollows, followee)
	return err
}

// Unfollow 取消關注（對未關注的目標是 no-op）
func (s *UserStore) Unfollow(ctx context.Context, follower, followee string) error {
	_, err := s.rel.Remove(ctx, follower, SetFollows, followee)
	return err
}
