package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// GetTrustScore returns nil (no error) when the user has no persisted
// score yet.
func (s *Store) GetTrustScore(ctx context.Context, userID, groupID int64) (*TrustScore, error) {
	var rec TrustScore
	err := s.DB.WithContext(ctx).First(&rec, "user_id = ? AND group_id = ?", userID, groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading trust score: %w", err)
	}
	return &rec, nil
}

func (s *Store) PutTrustScore(ctx context.Context, rec *TrustScore) error {
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "group_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("writing trust score: %w", err)
	}
	return nil
}

// GetGroupSettings falls back to defaults when the group has no row.
func (s *Store) GetGroupSettings(ctx context.Context, groupID int64) (*GroupSettings, error) {
	var rec GroupSettings
	err := s.DB.WithContext(ctx).First(&rec, "group_id = ?", groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultGroupSettings(groupID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading group settings: %w", err)
	}
	return &rec, nil
}

func (s *Store) PutGroupSettings(ctx context.Context, rec *GroupSettings) error {
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("writing group settings: %w", err)
	}
	return nil
}

func (s *Store) RecordViolation(ctx context.Context, v *Violation) error {
	if err := s.DB.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("recording violation: %w", err)
	}
	return nil
}

func (s *Store) CountViolationsSince(ctx context.Context, groupID, userID int64, since time.Time) (int, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&Violation{}).
		Where("group_id = ? AND user_id = ? AND created_at > ?", groupID, userID, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting violations: %w", err)
	}
	return int(count), nil
}

func (s *Store) RecordRaidEvent(ctx context.Context, ev *RaidEvent) error {
	if err := s.DB.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("recording raid event: %w", err)
	}
	return nil
}

// GetWarnings returns zero when the pair has no counter yet.
func (s *Store) GetWarnings(ctx context.Context, groupID, userID int64) (int, error) {
	var rec Warning
	err := s.DB.WithContext(ctx).First(&rec, "group_id = ? AND user_id = ?", groupID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading warning count: %w", err)
	}
	return rec.Count, nil
}

// IncrementWarning bumps the warning counter and returns the new count.
func (s *Store) IncrementWarning(ctx context.Context, groupID, userID int64) (int, error) {
	rec := Warning{GroupID: groupID, UserID: userID, Count: 1, UpdatedAt: time.Now()}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "group_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count":      gorm.Expr("count + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(&rec).Error
	if err != nil {
		return 0, fmt.Errorf("incrementing warning: %w", err)
	}
	var out Warning
	if err := s.DB.WithContext(ctx).First(&out, "group_id = ? AND user_id = ?", groupID, userID).Error; err != nil {
		return 0, fmt.Errorf("reading warning count: %w", err)
	}
	return out.Count, nil
}

func (s *Store) ResetWarnings(ctx context.Context, groupID, userID int64) error {
	err := s.DB.WithContext(ctx).Delete(&Warning{}, "group_id = ? AND user_id = ?", groupID, userID).Error
	if err != nil {
		return fmt.Errorf("resetting warnings: %w", err)
	}
	return nil
}
