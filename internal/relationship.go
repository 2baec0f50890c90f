package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/conduit/pkg/errors"
)

// RelationshipStore 管理每個用戶的關注/收藏成員集合
//
// 集合以 {owner, set_name} 為鍵；不存在的集合等同於空集合，
// 惰性建立且從不顯式刪除。add/remove 冪等：加入已存在的成員或
// 移除不存在的成員是 no-op，不是錯誤。
//
// 併發模型：同一個 owner 的集合是主要的共享變更熱點（大量粉絲
// 同時對一個作者操作）。兩種策略實現同一介面：
//
//   - SetRelationshipStore（預設）：服務端強制唯一的去重插入。
//     「先查存在再插入」留有 check-then-act 競態窗口，重複仍可能
//     發生；這裡直接用複合主鍵 + ON CONFLICT DO NOTHING，以固定的
//     小額開銷整類消除競態。
//   - CASRelationshipStore（relationship_cas.go）：raw-array 加版本欄
//     位的樂觀鎖，版本衝突時重讀重試，次數有上界。
type RelationshipStore interface {
	// Add 將成員加入集合，回傳成員是否實際被加入
	Add(ctx context.Context, owner, setName, member string) (bool, error)

	// Remove 將成員移出集合，回傳成員是否實際被移除
	Remove(ctx context.Context, owner, setName, member string) (bool, error)

	// Contains 檢查成員是否在集合中
	//
	// 權限判斷類呼叫必須帶 Strong；純 UI 標記可用 Eventual 換延遲。
	// 對不存在的目標查詢成員資格回傳 false，不是錯誤。
	Contains(ctx context.Context, owner, setName, member string, level Level) (bool, error)

	// Members 回傳集合的全部成員
	Members(ctx context.Context, owner, setName string, level Level) ([]string, error)
}

// NewRelationshipStore 按配置選擇變更策略
func NewRelationshipStore(cfg *Config, pg *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) RelationshipStore {
	if cfg.Relationship.Strategy == "cas" {
		return NewCASRelationshipStore(pg, rdb, logger, cfg.Relationship.CASMaxRetries)
	}
	return NewSetRelationshipStore(pg, rdb, logger)
}

// SetRelationshipStore 去重插入策略（預設）
//
// PostgreSQL 是權威來源；Redis 以 SADD/SREM 維護每個集合的鏡像，
// 服務 Eventual 級別的讀取。鏡像寫入失敗只記日誌，Eventual 讀取
// 未命中時回退 PostgreSQL 並重新填充。
type SetRelationshipStore struct {
	pg     *pgxpool.Pool
	redis  *redis.Client
	logger *slog.Logger
}

// NewSetRelationshipStore 創建去重插入策略的關係存儲
func NewSetRelationshipStore(pg *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) *SetRelationshipStore {
	return &SetRelationshipStore{pg: pg, redis: rdb, logger: logger}
}

// mirrorKey Redis 鏡像集合的 key，對應原始系統的 "{owner}::follows" 文件鍵
func mirrorKey(owner, setName string) string {
	return fmt.Sprintf("rel:%s:%s", owner, setName)
}

// mirrorSentinel 佔位成員
//
// Redis 會自動刪除空集合，空鏡像無法與「未填充」區分。
// 填充時一律放入佔位成員，讀取時過濾。
const mirrorSentinel = "\x00none"

// Add 加入成員
//
// 複合主鍵保證併發 add 恰好留下一行；RowsAffected 區分
// 「實際插入」與「已存在」，呼叫方據此調整反正規化計數。
func (s *SetRelationshipStore) Add(ctx context.Context, owner, setName, member string) (bool, error) {
	tag, err := s.pg.Exec(ctx, `
		INSERT INTO relationships (owner, set_name, member)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner, set_name, member) DO NOTHING
	`, owner, setName, member)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "relationship add")
	}

	s.mirrorAdd(ctx, owner, setName, member)

	return tag.RowsAffected() > 0, nil
}

// Remove 移除成員（對不存在的成員是 no-op）
func (s *SetRelationshipStore) Remove(ctx context.Context, owner, setName, member string) (bool, error) {
	tag, err := s.pg.Exec(ctx, `
		DELETE FROM relationships
		WHERE owner = $1 AND set_name = $2 AND member = $3
	`, owner, setName, member)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "relationship remove")
	}

	s.mirrorRemove(ctx, owner, setName, member)

	return tag.RowsAffected() > 0, nil
}

// Contains 檢查成員資格
func (s *SetRelationshipStore) Contains(ctx context.Context, owner, setName, member string, level Level) (bool, error) {
	if level == Eventual {
		if ok, hit := s.mirrorContains(ctx, owner, setName, member); hit {
			return ok, nil
		}
	}

	var exists bool
	err := s.pg.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM relationships
			WHERE owner = $1 AND set_name = $2 AND member = $3
		)
	`, owner, setName, member).Scan(&exists)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "relationship contains")
	}

	return exists, nil
}

// Members 回傳集合全部成員
func (s *SetRelationshipStore) Members(ctx context.Context, owner, setName string, level Level) ([]string, error) {
	if level == Eventual {
		if members, hit := s.mirrorMembers(ctx, owner, setName); hit {
			return members, nil
		}
	}

	rows, err := s.pg.Query(ctx, `
		SELECT member FROM relationships
		WHERE owner = $1 AND set_name = $2
	`, owner, setName)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "relationship members")
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "relationship members scan")
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransientStore, "relationship members rows")
	}

	// 順手回填鏡像，讓後續 Eventual 讀取命中
	s.mirrorFill(ctx, owner, setName, members)

	return members, nil
}

// mirrorAdd 更新 Redis 鏡像
//
// 只在鏡像已存在時追加：SADD 到不存在的 key 會建立只有單一成員的
// 假鏡像，之後的 Eventual 讀取會把它當成完整集合。
func (s *SetRelationshipStore) mirrorAdd(ctx context.Context, owner, setName, member string) {
	key := mirrorKey(owner, setName)

	script := redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return redis.call('SADD', KEYS[1], ARGV[1])
		end
		return -1
	`)
	if err := script.Run(ctx, s.redis, []string{key}, member).Err(); err != nil {
		s.logger.Warn("relationship mirror add failed", "key", key, "error", err)
	}
}

// mirrorRemove 從鏡像移除成員（key 不存在時是 no-op）
func (s *SetRelationshipStore) mirrorRemove(ctx context.Context, owner, setName, member string) {
	key := mirrorKey(owner, setName)
	if err := s.redis.SRem(ctx, key, member).Err(); err != nil {
		s.logger.Warn("relationship mirror remove failed", "key", key, "error", err)
	}
}

// mirrorContains 查鏡像，回傳 (結果, 是否命中)
func (s *SetRelationshipStore) mirrorContains(ctx context.Context, owner, setName, member string) (bool, bool) {
	key := mirrorKey(owner, setName)

	// key 不存在代表鏡像未填充，不能當成空集合
	exists, err := s.redis.Exists(ctx, key).Result()
	if err != nil || exists == 0 {
		return false, false
	}

	ok, err := s.redis.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, false
	}
	return ok, true
}

// mirrorMembers 查鏡像全部成員
func (s *SetRelationshipStore) mirrorMembers(ctx context.Context, owner, setName string) ([]string, bool) {
	key := mirrorKey(owner, setName)

	exists, err := s.redis.Exists(ctx, key).Result()
	if err != nil || exists == 0 {
		return nil, false
	}

	raw, err := s.redis.SMembers(ctx, key).Result()
	if err != nil {
		return nil, false
	}

	members := raw[:0]
	for _, m := range raw {
		if m != mirrorSentinel {
			members = append(members, m)
		}
	}
	return members, true
}

// mirrorFill 以權威讀取的結果重建鏡像
func (s *SetRelationshipStore) mirrorFill(ctx context.Context, owner, setName string, members []string) {
	key := mirrorKey(owner, setName)

	args := make([]interface{}, 0, len(members)+1)
	args = append(args, mirrorSentinel)
	for _, m := range members {
		args = append(args, m)
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SAdd(ctx, key, args...)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("relationship mirror fill failed", "key", key, "error", err)
	}
}
