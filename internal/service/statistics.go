package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ifuryst/postpilot/internal/models"
)

const topDestinationsLimit = 10

type HistoryReader interface {
	HistoryBetween(ctx context.Context, start, end *time.Time) ([]models.PublicationRecord, error)
}

type DailyStat struct {
	Date       string `json:"date"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
}

type HourlyStat struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type DestinationStat struct {
	ChatID string `json:"chat_id"`
	Title  string `json:"title"`
	Count  int    `json:"count"`
}

type Statistics struct {
	Total           int               `json:"total"`
	Successful      int               `json:"successful"`
	Failed          int               `json:"failed"`
	SuccessRate     float64           `json:"success_rate"`
	DailyStats      []DailyStat       `json:"daily_stats"`
	HourlyStats     []HourlyStat      `json:"hourly_stats"`
	TopDestinations []DestinationStat `json:"top_groups"`
}

// StatisticsService aggregates the publication history for the dashboard.
type StatisticsService struct {
	history HistoryReader
	loc     *time.Location
	logger  *zap.Logger
}

func NewStatisticsService(history HistoryReader, loc *time.Location, logger *zap.Logger) *StatisticsService {
	if loc == nil {
		loc = time.Local
	}
	return &StatisticsService{
		history: history,
		loc:     loc,
		logger:  logger.Named("statistics"),
	}
}

// Compute aggregates history in the optional [start, end] range. Daily
// stats are newest first; hourly stats always cover all 24 hours.
func (s *StatisticsService) Compute(ctx context.Context, start, end *time.Time) (*Statistics, error) {
	records, err := s.history.HistoryBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}

	successful := lo.CountBy(records, func(r models.PublicationRecord) bool {
		return r.Status == models.PublicationSuccess
	})
	stats := &Statistics{
		Total:      len(records),
		Successful: successful,
		Failed:     len(records) - successful,
	}
	if stats.Total > 0 {
		stats.SuccessRate = math.Round(float64(successful)/float64(stats.Total)*1000) / 10
	}

	byDay := lo.GroupBy(records, func(r models.PublicationRecord) string {
		return r.PublishedAt.In(s.loc).Format(time.DateOnly)
	})
	days := lo.Keys(byDay)
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	stats.DailyStats = lo.Map(days, func(day string, _ int) DailyStat {
		dayRecords := byDay[day]
		ok := lo.CountBy(dayRecords, func(r models.PublicationRecord) bool {
			return r.Status == models.PublicationSuccess
		})
		return DailyStat{Date: day, Total: len(dayRecords), Successful: ok, Failed: len(dayRecords) - ok}
	})

	stats.HourlyStats = make([]HourlyStat, 24)
	for h := range stats.HourlyStats {
		stats.HourlyStats[h].Hour = h
	}
	for _, r := range records {
		stats.HourlyStats[r.PublishedAt.In(s.loc).Hour()].Count++
	}

	byDest := lo.GroupBy(lo.Filter(records, func(r models.PublicationRecord, _ int) bool {
		return r.Status == models.PublicationSuccess
	}), func(r models.PublicationRecord) string {
		return r.DestinationID
	})
	top := lo.MapToSlice(byDest, func(chatID string, rs []models.PublicationRecord) DestinationStat {
		return DestinationStat{ChatID: chatID, Title: rs[len(rs)-1].DestinationTitle, Count: len(rs)}
	})
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].ChatID < top[j].ChatID
	})
	if len(top) > topDestinationsLimit {
		top = top[:topDestinationsLimit]
	}
	stats.TopDestinations = top

	s.logger.Debug("Statistics computed", zap.Int("records", stats.Total))
	return stats, nil
}
