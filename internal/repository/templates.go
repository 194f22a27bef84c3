package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ifuryst/postpilot/internal/models"
)

func (r *GormRepository) ListTemplates(ctx context.Context) ([]models.ContentTemplate, error) {
	var tpls []models.ContentTemplate
	if err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&tpls).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return tpls, nil
}

func (r *GormRepository) GetTemplate(ctx context.Context, id uint) (*models.ContentTemplate, error) {
	var tpl models.ContentTemplate
	if err := r.db.WithContext(ctx).First(&tpl, id).Error; err != nil {
		return nil, notFound(err, "template %d", id)
	}
	return &tpl, nil
}

func (r *GormRepository) GetActiveTemplate(ctx context.Context) (*models.ContentTemplate, error) {
	var tpl models.ContentTemplate
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("updated_at DESC").
		First(&tpl).Error; err != nil {
		return nil, notFound(err, "active template")
	}
	return &tpl, nil
}

// UpsertTemplate creates tpl when its ID is zero and updates it otherwise.
// Saving an active template deactivates every other template.
func (r *GormRepository) UpsertTemplate(ctx context.Context, tpl *models.ContentTemplate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tpl.IsActive {
			if err := tx.Model(&models.ContentTemplate{}).
				Where("is_active = ? AND id <> ?", true, tpl.ID).
				Update("is_active", false).Error; err != nil {
				return fmt.Errorf("failed to deactivate templates: %w", err)
			}
		}
		if tpl.ID == 0 {
			if err := tx.Create(tpl).Error; err != nil {
				return fmt.Errorf("failed to create template: %w", err)
			}
			return nil
		}
		res := tx.Model(tpl).Select("name", "content", "is_active", "updated_at").Updates(tpl)
		if res.Error != nil {
			return fmt.Errorf("failed to update template %d: %w", tpl.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetActiveTemplate deactivates all templates, then activates id.
func (r *GormRepository) SetActiveTemplate(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ContentTemplate{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate templates: %w", err)
		}
		res := tx.Model(&models.ContentTemplate{}).Where("id = ?", id).Update("is_active", true)
		if res.Error != nil {
			return fmt.Errorf("failed to activate template %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *GormRepository) DeleteTemplate(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.ContentTemplate{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete template %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to get "+format+": %w", append(args, err)...)
}
