package internal

import (
	"context"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/conduit/pkg/errors"
)

// CASRelationshipStore raw-array 加樂觀鎖的變更策略
//
// 原始系統對兩種策略做過基準測試：裸陣列配 CAS 在無競爭時更省，
// 但版本衝突時必須重讀、重查成員資格、重試，否則就是丟更新。
// 這個實現把集合存成單一文件（members 陣列 + version），變更流程：
//
//	讀 members/version → 本地計算新陣列 → UPDATE ... WHERE version = 舊值
//	→ 影響 0 行代表有併發寫入，重來；重試次數有上界
//
// 每次成功的 CAS 在同一交易內同步 relationships 行表——查詢編譯器
// 的連接只認行表，兩種策略因此共用同一個讀取形狀。
type CASRelationshipStore struct {
	pg         *pgxpool.Pool
	redis      *redis.Client
	logger     *slog.Logger
	maxRetries int

	// 讀取路徑與預設策略一致，直接複用
	reads *SetRelationshipStore
}

// NewCASRelationshipStore 創建 CAS 策略的關係存儲
func NewCASRelationshipStore(pg *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger, maxRetries int) *CASRelationshipStore {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &CASRelationshipStore{
		pg:         pg,
		redis:      rdb,
		logger:     logger,
		maxRetries: maxRetries,
		reads:      NewSetRelationshipStore(pg, rdb, logger),
	}
}

// Add 加入成員（CAS 重試迴圈）
func (s *CASRelationshipStore) Add(ctx context.Context, owner, setName, member string) (bool, error) {
	return s.mutate(ctx, owner, setName, member, true)
}

// Remove 移除成員（CAS 重試迴圈）
func (s *CASRelationshipStore) Remove(ctx context.Context, owner, setName, member string) (bool, error) {
	return s.mutate(ctx, owner, setName, member, false)
}

// Contains 檢查成員資格
func (s *CASRelationshipStore) Contains(ctx context.Context, owner, setName, member string, level Level) (bool, error) {
	return s.reads.Contains(ctx, owner, setName, member, level)
}

// Members 回傳集合全部成員
func (s *CASRelationshipStore) Members(ctx context.Context, owner, setName string, level Level) ([]string, error) {
	return s.reads.Members(ctx, owner, setName, level)
}

// mutate 執行一次帶重試的 CAS 變更
func (s *CASRelationshipStore) mutate(ctx context.Context, owner, setName, member string, add bool) (bool, error) {
	var lastErr error

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		changed, conflicted, err := s.tryMutate(ctx, owner, setName, member, add)
		if err != nil {
			lastErr = err
			continue
		}
		if conflicted {
			// 版本衝突：別的寫入者先成功了，重讀再試
			s.logger.Debug("relationship cas conflict, retrying",
				"owner", owner,
				"set", setName,
				"attempt", attempt+1)
			continue
		}

		if changed {
			if add {
				s.reads.mirrorAdd(ctx, owner, setName, member)
			} else {
				s.reads.mirrorRemove(ctx, owner, setName, member)
			}
		}
		return changed, nil
	}

	if lastErr != nil {
		return false, apperrors.Wrap(lastErr, apperrors.ErrCodeTransientStore, "relationship cas exhausted")
	}
	return false, apperrors.New(apperrors.ErrCodeTransientStore, "relationship cas exhausted").
		WithDetails(mirrorKey(owner, setName))
}

// tryMutate 單次 CAS 嘗試，回傳 (成員是否變動, 是否版本衝突, 錯誤)
func (s *CASRelationshipStore) tryMutate(ctx context.Context, owner, setName, member string, add bool) (changed, conflicted bool, err error) {
	tx, err := s.pg.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var members []string
	var version int64
	docExists := true

	err = tx.QueryRow(ctx, `
		SELECT members, version FROM relationship_docs
		WHERE owner = $1 AND set_name = $2
	`, owner, setName).Scan(&members, &version)
	if err != nil {
		if err != pgx.ErrNoRows {
			return false, false, err
		}
		docExists = false
	}

	// 重讀後重查成員資格：no-op 不消耗版本號
	has := slices.Contains(members, member)
	if add == has {
		return false, false, tx.Commit(ctx)
	}

	if add {
		members = append(members, member)
	} else {
		members = slices.DeleteFunc(members, func(m string) bool { return m == member })
	}

	if !docExists {
		// 首次 follow/favorite 惰性建立文件；併發建立由主鍵擋下
		tag, err := tx.Exec(ctx, `
			INSERT INTO relationship_docs (owner, set_name, members, version)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (owner, set_name) DO NOTHING
		`, owner, setName, members)
		if err != nil {
			return false, false, err
		}
		if tag.RowsAffected() == 0 {
			return false, true, nil
		}
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE relationship_docs
			SET members = $3, version = version + 1
			WHERE owner = $1 AND set_name = $2 AND version = $4
		`, owner, setName, members, version)
		if err != nil {
			return false, false, err
		}
		if tag.RowsAffected() == 0 {
			return false, true, nil
		}
	}

	// 同一交易內同步行表（查詢編譯器的讀取形狀）
	if add {
		if _, err := tx.Exec(ctx, `
			INSERT INTO relationships (owner, set_name, member)
			VALUES ($1, $2, $3)
			ON CONFLICT (owner, set_name, member) DO NOTHING
		`, owner, setName, member); err != nil {
			return false, false, err
		}
	} else {
		if _, err := tx.Exec(ctx, `
			DELETE FROM relationships
			WHERE owner = $1 AND set_name = $2 AND member = $3
		`, owner, setName, member); err != nil {
			return false, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, false, err
	}
	return true, false, nil
}
