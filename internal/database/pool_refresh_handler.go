package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"deepagg/internal/domain"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	DefaultHistoryKeep  = 10000
)

// PoolHistory stores one row per proxy pool refresh.
type PoolHistory struct {
	db   *gorm.DB
	keep int
}

func NewPoolHistory(db *gorm.DB, keep int) *PoolHistory {
	if keep <= 0 {
		keep = DefaultHistoryKeep
	}
	return &PoolHistory{db: db, keep: keep}
}

func (h *PoolHistory) RecordRefresh(ctx context.Context, refresh *domain.PoolRefresh) error {
	if h == nil || h.db == nil {
		return fmt.Errorf("database: pool history not configured")
	}
	if refresh == nil {
		return nil
	}

	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(refresh).Error; err != nil {
			return fmt.Errorf("database: record pool refresh: %w", err)
		}
		return pruneRefreshes(tx, h.keep)
	})
}

// ListRefreshes returns the newest refreshes first.
func (h *PoolHistory) ListRefreshes(ctx context.Context, limit int) ([]domain.PoolRefresh, error) {
	if h == nil || h.db == nil {
		return []domain.PoolRefresh{}, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	refreshes := make([]domain.PoolRefresh, 0, limit)
	err := h.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&refreshes).Error
	if err != nil {
		return nil, fmt.Errorf("database: list pool refreshes: %w", err)
	}
	return refreshes, nil
}

func pruneRefreshes(tx *gorm.DB, keep int) error {
	var cutoff domain.PoolRefresh
	err := tx.Order("id DESC").Offset(keep).Limit(1).Find(&cutoff).Error
	if err != nil {
		return fmt.Errorf("database: find prune cutoff: %w", err)
	}
	if cutoff.ID == 0 {
		return nil
	}
	if err := tx.Where("id <= ?", cutoff.ID).Delete(&domain.PoolRefresh{}).Error; err != nil {
		return fmt.Errorf("database: prune pool refreshes: %w", err)
	}
	return nil
}
