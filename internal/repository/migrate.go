package repository

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/postpilot/internal/models"
)

// legacyGroup is the row shape of the pre-destinations "groups" table.
type legacyGroup struct {
	ChatID     string
	Title      *string
	Username   *string
	AddedAt    *time.Time
	LastPosted *time.Time
}

func (legacyGroup) TableName() string {
	return "groups"
}

const legacyGroupsArchive = "groups_legacy"

// Migrate brings the schema up to date and translates legacy rows, so that
// callers only ever see the current models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Destination{},
		&models.Setting{},
		&models.ContentTemplate{},
		&models.Schedule{},
		&models.PublicationRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := migrateLegacyInterval(db); err != nil {
		return err
	}
	if err := migrateLegacyGroups(db); err != nil {
		return err
	}

	// Seed the default interval without touching an existing value.
	seed := models.Setting{
		Key:       models.SettingIntervalMinutes,
		Value:     strconv.Itoa(models.DefaultIntervalMinutes),
		UpdatedAt: time.Now(),
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return fmt.Errorf("failed to seed interval: %w", err)
	}
	return nil
}

// migrateLegacyInterval converts the hour based "post_interval" setting.
func migrateLegacyInterval(db *gorm.DB) error {
	var legacy models.Setting
	err := db.Where("key = ?", models.SettingLegacyIntervalHours).First(&legacy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read legacy interval: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if hours, err := strconv.Atoi(legacy.Value); err == nil && hours > 0 {
			minutes := hours * 60
			if minutes > models.MaxIntervalMinutes {
				minutes = models.MaxIntervalMinutes
			}
			repo := &GormRepository{db: tx}
			if err := repo.putSetting(tx, models.SettingIntervalMinutes, strconv.Itoa(minutes)); err != nil {
				return err
			}
		}
		if err := tx.Where("key = ?", models.SettingLegacyIntervalHours).Delete(&models.Setting{}).Error; err != nil {
			return fmt.Errorf("failed to drop legacy interval: %w", err)
		}
		return nil
	})
}

// migrateLegacyGroups copies the old "groups" table into destinations once,
// then renames it so the copy is not repeated.
func migrateLegacyGroups(db *gorm.DB) error {
	migrator := db.Migrator()
	if !migrator.HasTable(legacyGroup{}.TableName()) {
		return nil
	}

	var groups []legacyGroup
	if err := db.Order("id ASC").Find(&groups).Error; err != nil {
		return fmt.Errorf("failed to read legacy groups: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for _, g := range groups {
			dest := models.Destination{
				ChatID:          g.ChatID,
				Handle:          g.Username,
				LastPublishedAt: g.LastPosted,
				AddedAt:         time.Now(),
			}
			if g.Title != nil {
				dest.Title = *g.Title
			}
			if g.AddedAt != nil {
				dest.AddedAt = *g.AddedAt
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "chat_id"}},
				DoNothing: true,
			}).Create(&dest).Error; err != nil {
				return fmt.Errorf("failed to migrate legacy group %s: %w", g.ChatID, err)
			}
		}
		if err := tx.Migrator().RenameTable(legacyGroup{}.TableName(), legacyGroupsArchive); err != nil {
			return fmt.Errorf("failed to archive legacy groups: %w", err)
		}
		return nil
	})
}
