package domain

import "time"

// PoolRefresh records the outcome of one collect, check and rank cycle.
type PoolRefresh struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	RawCount    int       `gorm:"not null" json:"raw"`
	TestedCount int       `gorm:"not null" json:"tested"`
	BestCount   int       `gorm:"not null" json:"best"`
	TopScore    int       `gorm:"not null;default:0" json:"top_score"`
	TopProxy    string    `gorm:"size:191;default:''" json:"top_proxy,omitempty"`
	DurationMs  int64     `gorm:"not null;default:0" json:"duration_ms"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PoolRefresh) TableName() string {
	return "pool_refreshes"
}
