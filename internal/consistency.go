package internal

// Level 讀取的一致性級別
//
// 原始系統的儲存引擎以每次請求的 scan consistency 區分「讀己之寫」
// 與「允許短暫落後」。這裡對應為：
//   - Strong：讀 PostgreSQL（寫入的權威來源，天然 read-your-writes）
//   - Eventual：優先讀 Redis 鏡像（低延遲，可能落後數秒），未命中或
//     出錯時回退 PostgreSQL
type Level int

const (
	// Eventual 允許短暫落後的讀取，用於一般列表、feed、UI 標記
	Eventual Level = iota

	// Strong 讀己之寫，用於唯一性檢查與刪改前的擁有者判斷
	Strong
)

// String 實現 fmt.Stringer
func (l Level) String() string {
	if l == Strong {
		return "strong"
	}
	return "eventual"
}

// ParseLevel 解析配置中的一致性級別字串
func ParseLevel(s string) Level {
	if s == "strong" {
		return Strong
	}
	return Eventual
}

// ConsistencyPolicy 決定各讀取路徑使用的一致性級別
//
// 以配置對象注入查詢編譯器與關係存儲，而非在呼叫點硬編碼，
// 測試可以強制所有讀取走 Strong 以獲得確定性。
type ConsistencyPolicy struct {
	// DefaultRead 一般讀取（列表、feed、成員標記）的級別
	DefaultRead Level

	// AccessControl 權限判斷類讀取（擁有者檢查、唯一性確認）的級別
	//
	// 生產環境必須是 Strong；允許配置只是為了測試隔離。
	AccessControl Level
}

// NewConsistencyPolicy 從配置建立一致性策略
func NewConsistencyPolicy(cfg *Config) *ConsistencyPolicy {
	return &ConsistencyPolicy{
		DefaultRead:   ParseLevel(cfg.Consistency.DefaultRead),
		AccessControl: ParseLevel(cfg.Consistency.AccessControl),
	}
}
