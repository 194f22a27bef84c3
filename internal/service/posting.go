package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/ifuryst/postpilot/internal/models"
	"github.com/ifuryst/postpilot/internal/repository"
	"github.com/ifuryst/postpilot/internal/service/content"
	"github.com/ifuryst/postpilot/internal/service/publisher"
	"github.com/ifuryst/postpilot/internal/service/publisher/telegram"
	"github.com/ifuryst/postpilot/pkg/util"
)

// Error categories reported by the control surface.
const (
	CodeConfiguration = "configuration"
	CodeNotFound      = "not_found"
	CodeConflict      = "conflict"
	CodeDelivery      = "delivery"
	CodeSystem        = "system"
)

// systemFailure keeps the client-facing message apart from the cause, which
// may carry storage or driver details.
type systemFailure struct {
	msg string
	err error
}

func (e *systemFailure) Error() string { return e.msg + ": " + e.err.Error() }

func (e *systemFailure) Unwrap() error { return e.err }

func systemError(err error, msg string) error {
	return oops.Code(CodeSystem).Wrap(&systemFailure{msg: msg, err: err})
}

// PublicMessage returns the message of a system error without its cause.
// Errors raised outside the service get a generic message.
func PublicMessage(err error) string {
	var sf *systemFailure
	if errors.As(err, &sf) {
		return sf.msg
	}
	return "internal error"
}

type ChatLookup interface {
	Lookup(ctx context.Context, ref string) (*telegram.Chat, error)
}

type ContentSource interface {
	Reload() error
	Preview(ctx context.Context) content.Post
	Info(ctx context.Context) content.Info
}

type PublicationEngine interface {
	Status() publisher.Status
	ResetStatus() error
	Busy() bool
}

// Overview is the dashboard status summary.
type Overview struct {
	DestinationsCount int              `json:"groups_count"`
	IntervalMinutes   int              `json:"interval_minutes"`
	Interval          string           `json:"interval"`
	Scheduler         SchedulerStatus  `json:"scheduler"`
	Post              content.Info     `json:"post_info"`
	PublicationStatus publisher.Status `json:"publication_status"`
}

type Preview struct {
	Text     string         `json:"text"`
	HasImage bool           `json:"has_image"`
	Source   content.Source `json:"source"`
}

// PostingService is the control surface used by the HTTP API. Every error
// it returns carries one of the Code* categories.
type PostingService struct {
	repo      repository.Repository
	engine    PublicationEngine
	scheduler *Scheduler
	content   ContentSource
	lookup    ChatLookup
	stats     *StatisticsService
	logger    *zap.Logger
}

func NewPostingService(
	repo repository.Repository,
	engine PublicationEngine,
	scheduler *Scheduler,
	source ContentSource,
	lookup ChatLookup,
	stats *StatisticsService,
	logger *zap.Logger,
) *PostingService {
	return &PostingService{
		repo:      repo,
		engine:    engine,
		scheduler: scheduler,
		content:   source,
		lookup:    lookup,
		stats:     stats,
		logger:    logger.Named("posting"),
	}
}

func (p *PostingService) Status(ctx context.Context) (*Overview, error) {
	dests, err := p.repo.ListAllDestinations(ctx)
	if err != nil {
		return nil, systemError(err, "failed to load destinations")
	}
	minutes, err := p.repo.GetIntervalMinutes(ctx)
	if err != nil {
		return nil, systemError(err, "failed to load interval")
	}
	return &Overview{
		DestinationsCount: len(dests),
		IntervalMinutes:   minutes,
		Interval:          util.FormatInterval(minutes),
		Scheduler:         p.scheduler.Status(),
		Post:              p.content.Info(ctx),
		PublicationStatus: p.engine.Status(),
	}, nil
}

func (p *PostingService) PublicationStatus() publisher.Status {
	return p.engine.Status()
}

func (p *PostingService) ResetPublicationStatus() error {
	if err := p.engine.ResetStatus(); err != nil {
		if errors.Is(err, publisher.ErrRunInProgress) {
			return oops.Code(CodeConflict).Errorf("cannot reset status while publishing")
		}
		return systemError(err, "internal error")
	}
	return nil
}

// PostNow starts an immediate run in the background. It reports whether
// the run has to wait for one already in progress.
func (p *PostingService) PostNow() (queued bool) {
	queued = p.engine.Busy()
	p.scheduler.PostNow()
	p.logger.Info("Immediate publication requested", zap.Bool("queued", queued))
	return queued
}

func (p *PostingService) StartScheduler(ctx context.Context) error {
	if err := p.scheduler.Start(ctx); err != nil {
		return systemError(err, "failed to start scheduler")
	}
	return nil
}

func (p *PostingService) StopScheduler() {
	p.scheduler.Stop()
}

func (p *PostingService) UpdateInterval(ctx context.Context, minutes int) error {
	if err := p.scheduler.UpdateInterval(ctx, minutes); err != nil {
		if errors.Is(err, ErrInvalidInterval) {
			return oops.Code(CodeConfiguration).Wrap(err)
		}
		return systemError(err, "failed to update interval")
	}
	return nil
}

func (p *PostingService) ReloadContent(ctx context.Context) (content.Info, error) {
	if err := p.content.Reload(); err != nil {
		return content.Info{}, systemError(err, "failed to reload post content")
	}
	return p.content.Info(ctx), nil
}

func (p *PostingService) PreviewPost(ctx context.Context) Preview {
	post := p.content.Preview(ctx)
	return Preview{Text: post.Text, HasImage: post.ImagePath != "", Source: post.Source}
}

func (p *PostingService) PostInfo(ctx context.Context) content.Info {
	return p.content.Info(ctx)
}

func (p *PostingService) ListDestinations(ctx context.Context) ([]models.Destination, error) {
	dests, err := p.repo.ListAllDestinations(ctx)
	if err != nil {
		return nil, systemError(err, "failed to list destinations")
	}
	return dests, nil
}

// AddDestination resolves input (a chat id, @handle or t.me link) and
// stores the chat.
func (p *PostingService) AddDestination(ctx context.Context, input string) (*models.Destination, error) {
	ref, err := util.ParseChatRef(input)
	if err != nil {
		return nil, oops.Code(CodeConfiguration).Wrap(err)
	}

	chat, err := p.lookup.Lookup(ctx, ref.Ref)
	if err != nil {
		if errors.Is(err, telegram.ErrUnreachable) {
			return nil, oops.Code(CodeNotFound).Errorf("chat %s not found or not accessible to the bot", ref.Ref)
		}
		return nil, oops.Code(CodeDelivery).Wrapf(err, "failed to look up chat %s", ref.Ref)
	}

	dest := &models.Destination{
		ChatID: strconv.FormatInt(chat.ID, 10),
		Title:  chat.Title,
	}
	switch {
	case ref.Handle != "":
		dest.Handle = &ref.Handle
	case chat.Username != "":
		handle := "@" + strings.TrimPrefix(chat.Username, "@")
		dest.Handle = &handle
	}
	if dest.Title == "" {
		dest.Title = dest.DisplayName()
	}

	inserted, err := p.repo.AddDestination(ctx, dest)
	if err != nil {
		return nil, systemError(err, "failed to add destination")
	}
	if !inserted {
		return nil, oops.Code(CodeConflict).Errorf("destination %s is already added", dest.ChatID)
	}
	p.logger.Info("Destination added",
		zap.String("chat_id", dest.ChatID),
		zap.String("title", dest.Title))
	return dest, nil
}

func (p *PostingService) RemoveDestination(ctx context.Context, chatID string) error {
	removed, err := p.repo.RemoveDestination(ctx, chatID)
	if err != nil {
		return systemError(err, "failed to remove destination")
	}
	if !removed {
		return oops.Code(CodeNotFound).Errorf("destination %s not found", chatID)
	}
	p.logger.Info("Destination removed", zap.String("chat_id", chatID))
	return nil
}

func (p *PostingService) SetDestinationDisabled(ctx context.Context, chatID string, disabled bool) error {
	ok, err := p.repo.SetDestinationDisabled(ctx, chatID, disabled)
	if err != nil {
		return systemError(err, "failed to update destination")
	}
	if !ok {
		return oops.Code(CodeNotFound).Errorf("destination %s not found", chatID)
	}
	return nil
}

func (p *PostingService) QueryHistory(ctx context.Context, filter repository.HistoryFilter) (*repository.HistoryPage, error) {
	if filter.Status != "" && filter.Status != models.PublicationSuccess && filter.Status != models.PublicationError {
		return nil, oops.Code(CodeConfiguration).Errorf("unknown status filter %q", filter.Status)
	}
	page, err := p.repo.QueryHistory(ctx, filter)
	if err != nil {
		return nil, systemError(err, "failed to query history")
	}
	return page, nil
}

func (p *PostingService) ClearHistory(ctx context.Context, olderThanDays *int) (int64, error) {
	if olderThanDays != nil && *olderThanDays < 0 {
		return 0, oops.Code(CodeConfiguration).Errorf("older_than_days must not be negative")
	}
	deleted, err := p.repo.ClearHistory(ctx, olderThanDays)
	if err != nil {
		return 0, systemError(err, "failed to clear history")
	}
	return deleted, nil
}

func (p *PostingService) Statistics(ctx context.Context, start, end *time.Time) (*Statistics, error) {
	stats, err := p.stats.Compute(ctx, start, end)
	if err != nil {
		return nil, systemError(err, "failed to compute statistics")
	}
	return stats, nil
}

func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return oops.Code(CodeNotFound).Errorf(format, args...)
	}
	return systemError(err, "internal error")
}
