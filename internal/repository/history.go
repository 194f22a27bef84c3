package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ifuryst/postpilot/internal/models"
)

func (r *GormRepository) AppendHistory(ctx context.Context, record *models.PublicationRecord) error {
	if record.PublishedAt.IsZero() {
		record.PublishedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append history for %s: %w", record.DestinationID, err)
	}
	return nil
}

// QueryHistory returns one page of history, newest first.
func (r *GormRepository) QueryHistory(ctx context.Context, filter HistoryFilter) (*HistoryPage, error) {
	filter.normalize()

	query := r.applyHistoryFilter(r.db.WithContext(ctx).Model(&models.PublicationRecord{}), filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}

	records := make([]models.PublicationRecord, 0, filter.PerPage)
	if err := query.
		Order("published_at DESC, id DESC").
		Offset((filter.Page - 1) * filter.PerPage).
		Limit(filter.PerPage).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	return &HistoryPage{
		Records: records,
		Total:   total,
		Page:    filter.Page,
		PerPage: filter.PerPage,
	}, nil
}

func (r *GormRepository) applyHistoryFilter(query *gorm.DB, filter HistoryFilter) *gorm.DB {
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.DestinationID != "" {
		query = query.Where("destination_id = ?", filter.DestinationID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(destination_title) LIKE ? OR LOWER(destination_handle) LIKE ? OR LOWER(destination_id) LIKE ?",
			like, like, like,
		)
	}
	if filter.StartDate != nil {
		query = query.Where("published_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("published_at <= ?", *filter.EndDate)
	}
	return query
}

// HistoryBetween returns every record in the optional range, oldest first.
func (r *GormRepository) HistoryBetween(ctx context.Context, start, end *time.Time) ([]models.PublicationRecord, error) {
	var records []models.PublicationRecord
	query := r.applyHistoryFilter(r.db.WithContext(ctx), HistoryFilter{StartDate: start, EndDate: end})
	if err := query.Order("published_at ASC, id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return records, nil
}

// ClearHistory deletes records older than the given number of days, or the
// whole history when olderThanDays is nil.
func (r *GormRepository) ClearHistory(ctx context.Context, olderThanDays *int) (int64, error) {
	query := r.db.WithContext(ctx)
	if olderThanDays != nil {
		cutoff := time.Now().AddDate(0, 0, -*olderThanDays)
		query = query.Where("published_at < ?", cutoff)
	} else {
		query = query.Where("1 = 1")
	}
	res := query.Delete(&models.PublicationRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clear history: %w", res.Error)
	}
	return res.RowsAffected, nil
}
