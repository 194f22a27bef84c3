package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/postpilot/internal/models"
)

type memHistory struct {
	mu      sync.Mutex
	records []models.PublicationRecord
	clears  []int
}

func (m *memHistory) HistoryBetween(_ context.Context, start, end *time.Time) ([]models.PublicationRecord, error) {
	var out []models.PublicationRecord
	for _, r := range m.records {
		if start != nil && r.PublishedAt.Before(*start) {
			continue
		}
		if end != nil && r.PublishedAt.After(*end) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memHistory) ClearHistory(_ context.Context, olderThanDays *int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears = append(m.clears, *olderThanDays)
	return 0, nil
}

func (m *memHistory) clearCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clears)
}

func record(chatID string, status models.PublicationStatus, at time.Time) models.PublicationRecord {
	return models.PublicationRecord{
		DestinationID:    chatID,
		DestinationTitle: "Chat " + chatID,
		Status:           status,
		PublishedAt:      at,
	}
}

func TestStatisticsCompute(t *testing.T) {
	day1 := time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 18, 0, 0, 0, time.UTC)
	history := &memHistory{records: []models.PublicationRecord{
		record("-1", models.PublicationSuccess, day1),
		record("-2", models.PublicationSuccess, day1.Add(time.Minute)),
		record("-3", models.PublicationError, day1.Add(2*time.Minute)),
		record("-1", models.PublicationSuccess, day2),
	}}
	svc := NewStatisticsService(history, time.UTC, zap.NewNop())

	stats, err := svc.Compute(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if stats.Total != 4 || stats.Successful != 3 || stats.Failed != 1 {
		t.Fatalf("totals = %+v", stats)
	}
	if stats.SuccessRate != 75 {
		t.Errorf("success rate = %v, want 75", stats.SuccessRate)
	}

	if len(stats.DailyStats) != 2 {
		t.Fatalf("daily stats = %+v", stats.DailyStats)
	}
	if stats.DailyStats[0].Date != "2024-03-02" || stats.DailyStats[1].Failed != 1 {
		t.Errorf("daily stats = %+v", stats.DailyStats)
	}

	if len(stats.HourlyStats) != 24 {
		t.Fatalf("hourly slots = %d", len(stats.HourlyStats))
	}
	if stats.HourlyStats[9].Count != 3 || stats.HourlyStats[18].Count != 1 {
		t.Errorf("hourly stats = %+v", stats.HourlyStats)
	}

	if len(stats.TopDestinations) != 2 {
		t.Fatalf("top = %+v", stats.TopDestinations)
	}
	if top := stats.TopDestinations[0]; top.ChatID != "-1" || top.Count != 2 {
		t.Errorf("top destination = %+v", top)
	}
}

func TestStatisticsRangeAndLimit(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	history := &memHistory{}
	for i := range 15 {
		history.records = append(history.records,
			record(fmt.Sprintf("-%02d", i), models.PublicationSuccess, base.Add(time.Duration(i)*time.Hour)))
	}
	svc := NewStatisticsService(history, time.UTC, zap.NewNop())

	stats, err := svc.Compute(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(stats.TopDestinations) != topDestinationsLimit {
		t.Errorf("top = %d, want %d", len(stats.TopDestinations), topDestinationsLimit)
	}

	start := base.Add(10 * time.Hour)
	stats, err = svc.Compute(context.Background(), &start, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if stats.Total != 5 {
		t.Errorf("ranged total = %d, want 5", stats.Total)
	}

	empty, err := NewStatisticsService(&memHistory{}, time.UTC, zap.NewNop()).Compute(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if empty.SuccessRate != 0 || len(empty.HourlyStats) != 24 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestHistoryJanitor(t *testing.T) {
	history := &memHistory{}
	j := NewHistoryJanitor(history, 30, 10*time.Millisecond, zap.NewNop())
	j.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for history.clearCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor ran %d times", history.clearCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	j.Stop()
	j.Stop()

	history.mu.Lock()
	days := history.clears[0]
	history.mu.Unlock()
	if days != 30 {
		t.Errorf("retention = %d, want 30", days)
	}

	disabled := &memHistory{}
	NewHistoryJanitor(disabled, 0, time.Millisecond, zap.NewNop()).Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if disabled.clearCount() != 0 {
		t.Errorf("disabled janitor cleaned %d times", disabled.clearCount())
	}
}
