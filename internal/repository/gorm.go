package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/postpilot/internal/models"
)

// GormRepository implements Repository on top of gorm. Row level writes are
// idempotent (insert-or-ignore, delete-if-exists) so concurrent writers
// cannot corrupt a table; the last writer wins.
type GormRepository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) ListActiveDestinations(ctx context.Context) ([]models.Destination, error) {
	var dests []models.Destination
	if err := r.db.WithContext(ctx).
		Where("disabled = ?", false).
		Order("id ASC").
		Find(&dests).Error; err != nil {
		return nil, fmt.Errorf("failed to list active destinations: %w", err)
	}
	return dests, nil
}

func (r *GormRepository) ListAllDestinations(ctx context.Context) ([]models.Destination, error) {
	var dests []models.Destination
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&dests).Error; err != nil {
		return nil, fmt.Errorf("failed to list destinations: %w", err)
	}
	return dests, nil
}

func (r *GormRepository) GetDestination(ctx context.Context, chatID string) (*models.Destination, error) {
	var dest models.Destination
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get destination %s: %w", chatID, err)
	}
	return &dest, nil
}

// AddDestination inserts dest unless a destination with the same chat id
// exists. It reports whether a row was inserted.
func (r *GormRepository) AddDestination(ctx context.Context, dest *models.Destination) (bool, error) {
	if dest.AddedAt.IsZero() {
		dest.AddedAt = time.Now()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "chat_id"}}, DoNothing: true}).
		Create(dest)
	if res.Error != nil {
		return false, fmt.Errorf("failed to add destination %s: %w", dest.ChatID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) RemoveDestination(ctx context.Context, chatID string) (bool, error) {
	res := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&models.Destination{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to remove destination %s: %w", chatID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) SetDestinationDisabled(ctx context.Context, chatID string, disabled bool) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Destination{}).
		Where("chat_id = ?", chatID).
		Update("disabled", disabled)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update destination %s: %w", chatID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Same-value updates report zero rows on some drivers.
		if _, err := r.GetDestination(ctx, chatID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

func (r *GormRepository) MarkPublished(ctx context.Context, chatID string, at time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Destination{}).
		Where("chat_id = ?", chatID).
		Update("last_published_at", at).Error; err != nil {
		return fmt.Errorf("failed to mark destination %s published: %w", chatID, err)
	}
	return nil
}

// GetIntervalMinutes returns the stored post interval, or the default when
// nothing is stored yet.
func (r *GormRepository) GetIntervalMinutes(ctx context.Context) (int, error) {
	var setting models.Setting
	err := r.db.WithContext(ctx).Where("key = ?", models.SettingIntervalMinutes).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultIntervalMinutes, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read interval: %w", err)
	}
	minutes, err := strconv.Atoi(setting.Value)
	if err != nil {
		return 0, fmt.Errorf("invalid stored interval %q: %w", setting.Value, err)
	}
	return minutes, nil
}

// SetIntervalMinutes overwrites the interval. Bounds are checked by callers.
func (r *GormRepository) SetIntervalMinutes(ctx context.Context, minutes int) error {
	return r.putSetting(r.db.WithContext(ctx), models.SettingIntervalMinutes, strconv.Itoa(minutes))
}

func (r *GormRepository) putSetting(tx *gorm.DB, key, value string) error {
	setting := models.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}
