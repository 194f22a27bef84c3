package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ifuryst/postpilot/internal/models"
)

func (r *GormRepository) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	var schedules []models.Schedule
	if err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

func (r *GormRepository) GetSchedule(ctx context.Context, id uint) (*models.Schedule, error) {
	var schedule models.Schedule
	if err := r.db.WithContext(ctx).First(&schedule, id).Error; err != nil {
		return nil, notFound(err, "schedule %d", id)
	}
	return &schedule, nil
}

func (r *GormRepository) GetActiveSchedule(ctx context.Context) (*models.Schedule, error) {
	var schedule models.Schedule
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("updated_at DESC").
		First(&schedule).Error; err != nil {
		return nil, notFound(err, "active schedule")
	}
	return &schedule, nil
}

// UpsertSchedule follows the same single-active rule as UpsertTemplate.
func (r *GormRepository) UpsertSchedule(ctx context.Context, schedule *models.Schedule) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if schedule.IsActive {
			if err := tx.Model(&models.Schedule{}).
				Where("is_active = ? AND id <> ?", true, schedule.ID).
				Update("is_active", false).Error; err != nil {
				return fmt.Errorf("failed to deactivate schedules: %w", err)
			}
		}
		if schedule.ID == 0 {
			if err := tx.Create(schedule).Error; err != nil {
				return fmt.Errorf("failed to create schedule: %w", err)
			}
			return nil
		}
		res := tx.Model(schedule).Select("type", "data", "is_active", "updated_at").Updates(schedule)
		if res.Error != nil {
			return fmt.Errorf("failed to update schedule %d: %w", schedule.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *GormRepository) SetActiveSchedule(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Schedule{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate schedules: %w", err)
		}
		res := tx.Model(&models.Schedule{}).Where("id = ?", id).Update("is_active", true)
		if res.Error != nil {
			return fmt.Errorf("failed to activate schedule %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *GormRepository) DeleteSchedule(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Schedule{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete schedule %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
