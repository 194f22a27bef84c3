// Package repository is the persistent store for destinations, settings,
// content templates, schedules and publication history.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ifuryst/postpilot/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Repository is the data access surface used by the publisher and the
// control layer.
type Repository interface {
	ListActiveDestinations(ctx context.Context) ([]models.Destination, error)
	ListAllDestinations(ctx context.Context) ([]models.Destination, error)
	GetDestination(ctx context.Context, chatID string) (*models.Destination, error)
	AddDestination(ctx context.Context, dest *models.Destination) (bool, error)
	RemoveDestination(ctx context.Context, chatID string) (bool, error)
	SetDestinationDisabled(ctx context.Context, chatID string, disabled bool) (bool, error)
	MarkPublished(ctx context.Context, chatID string, at time.Time) error

	GetIntervalMinutes(ctx context.Context) (int, error)
	SetIntervalMinutes(ctx context.Context, minutes int) error

	AppendHistory(ctx context.Context, record *models.PublicationRecord) error
	QueryHistory(ctx context.Context, filter HistoryFilter) (*HistoryPage, error)
	HistoryBetween(ctx context.Context, start, end *time.Time) ([]models.PublicationRecord, error)
	ClearHistory(ctx context.Context, olderThanDays *int) (int64, error)

	ListTemplates(ctx context.Context) ([]models.ContentTemplate, error)
	GetTemplate(ctx context.Context, id uint) (*models.ContentTemplate, error)
	GetActiveTemplate(ctx context.Context) (*models.ContentTemplate, error)
	UpsertTemplate(ctx context.Context, tpl *models.ContentTemplate) error
	SetActiveTemplate(ctx context.Context, id uint) error
	DeleteTemplate(ctx context.Context, id uint) error

	ListSchedules(ctx context.Context) ([]models.Schedule, error)
	GetSchedule(ctx context.Context, id uint) (*models.Schedule, error)
	GetActiveSchedule(ctx context.Context) (*models.Schedule, error)
	UpsertSchedule(ctx context.Context, schedule *models.Schedule) error
	SetActiveSchedule(ctx context.Context, id uint) error
	DeleteSchedule(ctx context.Context, id uint) error
}

// HistoryFilter narrows a history query. Zero values mean "no filter".
type HistoryFilter struct {
	Status        models.PublicationStatus
	DestinationID string
	Search        string
	StartDate     *time.Time
	EndDate       *time.Time
	Page          int
	PerPage       int
}

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

func (f *HistoryFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
}

type HistoryPage struct {
	Records []models.PublicationRecord `json:"records"`
	Total   int64                      `json:"total"`
	Page    int                        `json:"page"`
	PerPage int                        `json:"per_page"`
}
