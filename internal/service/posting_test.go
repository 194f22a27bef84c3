package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/samber/oops"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ifuryst/postpilot/internal/models"
	"github.com/ifuryst/postpilot/internal/repository"
	"github.com/ifuryst/postpilot/internal/service/content"
	"github.com/ifuryst/postpilot/internal/service/publisher"
	"github.com/ifuryst/postpilot/internal/service/publisher/telegram"
)

type fakeLookup struct {
	chats map[string]*telegram.Chat
}

func (f *fakeLookup) Lookup(_ context.Context, ref string) (*telegram.Chat, error) {
	if chat, ok := f.chats[ref]; ok {
		return chat, nil
	}
	return nil, fmt.Errorf("%w: %s", telegram.ErrUnreachable, ref)
}

type fakeContentSource struct {
	reloads int
}

func (f *fakeContentSource) Reload() error {
	f.reloads++
	return nil
}

func (f *fakeContentSource) Preview(context.Context) content.Post {
	return content.Post{Text: "preview", ImagePath: "/tmp/image.jpg", Source: content.SourceFile}
}

func (f *fakeContentSource) Info(context.Context) content.Info {
	return content.Info{TextLength: 7, HasImage: true, TextPreview: "preview", Source: content.SourceFile}
}

type fakeEngine struct {
	busy bool
}

func (f *fakeEngine) Status() publisher.Status { return publisher.Status{State: publisher.StateIdle} }

func (f *fakeEngine) ResetStatus() error {
	if f.busy {
		return publisher.ErrRunInProgress
	}
	return nil
}

func (f *fakeEngine) Busy() bool { return f.busy }

type postingFixture struct {
	svc       *PostingService
	repo      *repository.GormRepository
	engine    *fakeEngine
	scheduler *Scheduler
}

func newPostingFixture(t *testing.T) *postingFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := repository.New(db)
	engine := &fakeEngine{}
	scheduler := NewScheduler(repo, &fakeRunner{}, time.UTC, zap.NewNop())
	t.Cleanup(scheduler.Close)

	lookup := &fakeLookup{chats: map[string]*telegram.Chat{
		"-100123": {ID: -100123, Title: "Numeric", Type: "supergroup"},
		"@news":   {ID: -100456, Title: "News", Username: "news", Type: "channel"},
		"-100789": {ID: -100789, Title: "", Username: "anon", Type: "group"},
	}}

	svc := NewPostingService(repo, engine, scheduler, &fakeContentSource{}, lookup,
		NewStatisticsService(repo, time.UTC, zap.NewNop()), zap.NewNop())
	return &postingFixture{svc: svc, repo: repo, engine: engine, scheduler: scheduler}
}

func errCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	return fmt.Sprint(oopsErr.Code())
}

func TestPostingAddDestination(t *testing.T) {
	f := newPostingFixture(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		input      string
		wantCode   string
		wantChatID string
		wantHandle string
	}{
		{name: "numeric id", input: "-100123", wantChatID: "-100123"},
		{name: "link", input: "https://t.me/news", wantChatID: "-100456", wantHandle: "@news"},
		{name: "username from lookup", input: "-100789", wantChatID: "-100789", wantHandle: "@anon"},
		{name: "duplicate", input: "@news", wantCode: CodeConflict},
		{name: "unknown chat", input: "@missing", wantCode: CodeNotFound},
		{name: "garbage", input: "not a chat!", wantCode: CodeConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest, err := f.svc.AddDestination(ctx, tt.input)
			if tt.wantCode != "" {
				if got := errCode(err); got != tt.wantCode {
					t.Fatalf("error code = %q (%v), want %q", got, err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("AddDestination(%q): %v", tt.input, err)
			}
			if dest.ChatID != tt.wantChatID {
				t.Errorf("chat id = %s, want %s", dest.ChatID, tt.wantChatID)
			}
			var handle string
			if dest.Handle != nil {
				handle = *dest.Handle
			}
			if handle != tt.wantHandle {
				t.Errorf("handle = %q, want %q", handle, tt.wantHandle)
			}
			if dest.Title == "" {
				t.Error("title must not be empty")
			}
		})
	}

	dests, err := f.svc.ListDestinations(ctx)
	if err != nil {
		t.Fatalf("ListDestinations: %v", err)
	}
	if len(dests) != 3 {
		t.Fatalf("destinations = %d, want 3", len(dests))
	}
}

func TestPostingRemoveAndDisable(t *testing.T) {
	f := newPostingFixture(t)
	ctx := context.Background()

	if _, err := f.svc.AddDestination(ctx, "-100123"); err != nil {
		t.Fatalf("AddDestination: %v", err)
	}
	if err := f.svc.SetDestinationDisabled(ctx, "-100123", true); err != nil {
		t.Fatalf("SetDestinationDisabled: %v", err)
	}
	active, err := f.repo.ListActiveDestinations(ctx)
	if err != nil {
		t.Fatalf("ListActiveDestinations: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("disabled destination is still active")
	}
	if err := f.svc.SetDestinationDisabled(ctx, "42", true); errCode(err) != CodeNotFound {
		t.Fatalf("disable unknown: %v", err)
	}

	if err := f.svc.RemoveDestination(ctx, "-100123"); err != nil {
		t.Fatalf("RemoveDestination: %v", err)
	}
	if err := f.svc.RemoveDestination(ctx, "-100123"); errCode(err) != CodeNotFound {
		t.Fatalf("second remove: %v", err)
	}
}

func TestPostingStatusAndInterval(t *testing.T) {
	f := newPostingFixture(t)
	ctx := context.Background()

	if err := f.svc.UpdateInterval(ctx, 150); err != nil {
		t.Fatalf("UpdateInterval: %v", err)
	}
	for _, bad := range []int{0, -5, models.MaxIntervalMinutes + 1} {
		if err := f.svc.UpdateInterval(ctx, bad); errCode(err) != CodeConfiguration {
			t.Errorf("UpdateInterval(%d) = %v, want configuration error", bad, err)
		}
	}

	overview, err := f.svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if overview.IntervalMinutes != 150 || overview.Interval != "2h 30m" {
		t.Errorf("interval = %d %q", overview.IntervalMinutes, overview.Interval)
	}
	if overview.Scheduler.IsRunning {
		t.Error("scheduler must not be running")
	}
	if !overview.Post.HasImage || overview.Post.Source != content.SourceFile {
		t.Errorf("post info = %+v", overview.Post)
	}

	if err := f.svc.StartScheduler(ctx); err != nil {
		t.Fatalf("StartScheduler: %v", err)
	}
	overview, err = f.svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !overview.Scheduler.IsRunning || overview.Scheduler.NextRun == nil {
		t.Errorf("scheduler status = %+v", overview.Scheduler)
	}
	f.svc.StopScheduler()
}

func TestPostingResetConflictWhileBusy(t *testing.T) {
	f := newPostingFixture(t)

	if err := f.svc.ResetPublicationStatus(); err != nil {
		t.Fatalf("reset idle: %v", err)
	}
	f.engine.busy = true
	if err := f.svc.ResetPublicationStatus(); errCode(err) != CodeConflict {
		t.Fatalf("reset busy = %v, want conflict", err)
	}
}

func TestPostingTemplates(t *testing.T) {
	f := newPostingFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateTemplate(ctx, TemplateInput{Name: " ", Content: "x"}); errCode(err) != CodeConfiguration {
		t.Fatalf("blank name: %v", err)
	}
	if _, err := f.svc.CreateTemplate(ctx, TemplateInput{Name: "huge", Content: "ref {random_number:1:99999999999999999999}"}); errCode(err) != CodeConfiguration {
		t.Fatalf("unparseable range: %v", err)
	}
	if _, err := f.svc.CreateTemplate(ctx, TemplateInput{Name: "reversed", Content: "ref {random_number:9:1}"}); errCode(err) != CodeConfiguration {
		t.Fatalf("reversed range: %v", err)
	}
	if _, err := f.svc.CreateTemplate(ctx, TemplateInput{Name: "wide", Content: "ref {random_number:-9223372036854775808:9223372036854775807}"}); err != nil {
		t.Fatalf("full int range: %v", err)
	}

	first, err := f.svc.CreateTemplate(ctx, TemplateInput{Name: "first", Content: "Hello", IsActive: true})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	second, err := f.svc.CreateTemplate(ctx, TemplateInput{Name: "second", Content: "World"})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	if err := f.svc.ActivateTemplate(ctx, second.ID); err != nil {
		t.Fatalf("ActivateTemplate: %v", err)
	}
	active, err := f.repo.GetActiveTemplate(ctx)
	if err != nil {
		t.Fatalf("GetActiveTemplate: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("active template = %d, want %d", active.ID, second.ID)
	}

	updated, err := f.svc.UpdateTemplate(ctx, first.ID, TemplateInput{Name: "first", Content: "Changed"})
	if err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if updated.Content != "Changed" {
		t.Errorf("content = %q", updated.Content)
	}
	if _, err := f.svc.UpdateTemplate(ctx, 999, TemplateInput{Name: "x", Content: "y"}); errCode(err) != CodeNotFound {
		t.Errorf("update unknown: %v", err)
	}
	if err := f.svc.ActivateTemplate(ctx, 999); errCode(err) != CodeNotFound {
		t.Errorf("activate unknown: %v", err)
	}
	if err := f.svc.DeleteTemplate(ctx, first.ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	if err := f.svc.DeleteTemplate(ctx, first.ID); errCode(err) != CodeNotFound {
		t.Errorf("second delete: %v", err)
	}
}

func TestPostingSchedulesDriveTrigger(t *testing.T) {
	f := newPostingFixture(t)
	ctx := context.Background()

	if err := f.svc.StartScheduler(ctx); err != nil {
		t.Fatalf("StartScheduler: %v", err)
	}
	defer f.svc.StopScheduler()

	_, err := f.svc.CreateSchedule(ctx, ScheduleInput{
		Type: models.ScheduleTypeTime,
		Data: models.ScheduleData{Hour: 25},
	})
	if errCode(err) != CodeConfiguration {
		t.Fatalf("invalid schedule: %v", err)
	}

	schedule, err := f.svc.CreateSchedule(ctx, ScheduleInput{
		Type:     models.ScheduleTypeTime,
		Data:     models.ScheduleData{Hour: 9, Minute: 30},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if got := f.scheduler.Status().Trigger; got != "daily at 09:30" {
		t.Fatalf("trigger = %q", got)
	}

	if _, err := f.svc.UpdateSchedule(ctx, schedule.ID, ScheduleInput{
		Type:     models.ScheduleTypeInterval,
		Data:     models.ScheduleData{Minutes: 45},
		IsActive: true,
	}); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	if got := f.scheduler.Status().Trigger; got != "every 45 minutes" {
		t.Fatalf("trigger after update = %q", got)
	}

	if err := f.svc.DeleteSchedule(ctx, schedule.ID); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	want := fmt.Sprintf("every %d minutes", models.DefaultIntervalMinutes)
	if got := f.scheduler.Status().Trigger; got != want {
		t.Fatalf("trigger after delete = %q, want %q", got, want)
	}
	if err := f.svc.ActivateSchedule(ctx, schedule.ID); errCode(err) != CodeNotFound {
		t.Fatalf("activate deleted: %v", err)
	}
}

func TestPostingHistory(t *testing.T) {
	f := newPostingFixture(t)
	ctx := context.Background()

	now := time.Now()
	ages := []time.Duration{0, 12 * time.Hour, 72 * time.Hour}
	for i, status := range []models.PublicationStatus{models.PublicationSuccess, models.PublicationError, models.PublicationSuccess} {
		rec := &models.PublicationRecord{
			DestinationID:    fmt.Sprintf("-10%d", i),
			DestinationTitle: fmt.Sprintf("Chat %d", i),
			Status:           status,
			PublishedAt:      now.Add(-ages[i]),
			RetryCount:       1,
		}
		if err := f.repo.AppendHistory(ctx, rec); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	page, err := f.svc.QueryHistory(ctx, repository.HistoryFilter{Status: models.PublicationSuccess})
	if err != nil {
		t.Fatalf("QueryHistory: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("success total = %d, want 2", page.Total)
	}
	if _, err := f.svc.QueryHistory(ctx, repository.HistoryFilter{Status: "pending"}); errCode(err) != CodeConfiguration {
		t.Errorf("unknown status filter: %v", err)
	}

	stats, err := f.svc.Statistics(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Total != 3 || stats.Successful != 2 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}

	negative := -1
	if _, err := f.svc.ClearHistory(ctx, &negative); errCode(err) != CodeConfiguration {
		t.Errorf("negative days: %v", err)
	}
	days := 1
	deleted, err := f.svc.ClearHistory(ctx, &days)
	if err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestPostingPreview(t *testing.T) {
	f := newPostingFixture(t)
	preview := f.svc.PreviewPost(context.Background())
	if preview.Text != "preview" || !preview.HasImage {
		t.Fatalf("preview = %+v", preview)
	}
	if _, err := f.svc.ReloadContent(context.Background()); err != nil {
		t.Fatalf("ReloadContent: %v", err)
	}
}

func TestSystemErrorMessage(t *testing.T) {
	cause := errors.New("pq: relation \"destinations\" does not exist")
	err := systemError(cause, "failed to list destinations")

	if got := PublicMessage(err); got != "failed to list destinations" {
		t.Fatalf("PublicMessage = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause is not reachable")
	}
	if code := errCode(err); code != CodeSystem {
		t.Fatalf("code = %q, want %q", code, CodeSystem)
	}
	if got := PublicMessage(errors.New("boom")); got != "internal error" {
		t.Fatalf("PublicMessage of plain error = %q", got)
	}
}
