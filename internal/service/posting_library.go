package service

import (
	"context"
	"strings"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/ifuryst/postpilot/internal/models"
	"github.com/ifuryst/postpilot/internal/service/content"
)

type TemplateInput struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	IsActive bool   `json:"is_active"`
}

type ScheduleInput struct {
	Type     models.ScheduleType `json:"schedule_type"`
	Data     models.ScheduleData `json:"schedule_data"`
	IsActive bool                `json:"is_active"`
}

func (in TemplateInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return oops.Code(CodeConfiguration).Errorf("template name is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return oops.Code(CodeConfiguration).Errorf("template content is required")
	}
	if err := content.ValidateTemplate(in.Content); err != nil {
		return oops.Code(CodeConfiguration).Wrapf(err, "invalid template content")
	}
	return nil
}

func (p *PostingService) ListTemplates(ctx context.Context) ([]models.ContentTemplate, error) {
	tpls, err := p.repo.ListTemplates(ctx)
	if err != nil {
		return nil, systemError(err, "failed to list templates")
	}
	return tpls, nil
}

func (p *PostingService) CreateTemplate(ctx context.Context, in TemplateInput) (*models.ContentTemplate, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	tpl := &models.ContentTemplate{Name: strings.TrimSpace(in.Name), Content: in.Content, IsActive: in.IsActive}
	if err := p.repo.UpsertTemplate(ctx, tpl); err != nil {
		return nil, systemError(err, "failed to create template")
	}
	p.logger.Info("Template created", zap.Uint("id", tpl.ID), zap.Bool("active", tpl.IsActive))
	return tpl, nil
}

func (p *PostingService) UpdateTemplate(ctx context.Context, id uint, in TemplateInput) (*models.ContentTemplate, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	tpl, err := p.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "template %d not found", id)
	}
	tpl.Name = strings.TrimSpace(in.Name)
	tpl.Content = in.Content
	tpl.IsActive = in.IsActive
	if err := p.repo.UpsertTemplate(ctx, tpl); err != nil {
		return nil, notFoundOr(err, "template %d not found", id)
	}
	return tpl, nil
}

func (p *PostingService) DeleteTemplate(ctx context.Context, id uint) error {
	if err := p.repo.DeleteTemplate(ctx, id); err != nil {
		return notFoundOr(err, "template %d not found", id)
	}
	return nil
}

func (p *PostingService) ActivateTemplate(ctx context.Context, id uint) error {
	if err := p.repo.SetActiveTemplate(ctx, id); err != nil {
		return notFoundOr(err, "template %d not found", id)
	}
	p.logger.Info("Template activated", zap.Uint("id", id))
	return nil
}

func (p *PostingService) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	schedules, err := p.repo.ListSchedules(ctx)
	if err != nil {
		return nil, systemError(err, "failed to list schedules")
	}
	return schedules, nil
}

func (p *PostingService) CreateSchedule(ctx context.Context, in ScheduleInput) (*models.Schedule, error) {
	schedule := &models.Schedule{}
	if err := fillSchedule(schedule, in); err != nil {
		return nil, err
	}
	if err := p.repo.UpsertSchedule(ctx, schedule); err != nil {
		return nil, systemError(err, "failed to create schedule")
	}
	if schedule.IsActive {
		p.reschedule(ctx)
	}
	return schedule, nil
}

func (p *PostingService) UpdateSchedule(ctx context.Context, id uint, in ScheduleInput) (*models.Schedule, error) {
	schedule, err := p.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "schedule %d not found", id)
	}
	wasActive := schedule.IsActive
	if err := fillSchedule(schedule, in); err != nil {
		return nil, err
	}
	if err := p.repo.UpsertSchedule(ctx, schedule); err != nil {
		return nil, notFoundOr(err, "schedule %d not found", id)
	}
	if wasActive || schedule.IsActive {
		p.reschedule(ctx)
	}
	return schedule, nil
}

func (p *PostingService) DeleteSchedule(ctx context.Context, id uint) error {
	schedule, err := p.repo.GetSchedule(ctx, id)
	if err != nil {
		return notFoundOr(err, "schedule %d not found", id)
	}
	if err := p.repo.DeleteSchedule(ctx, id); err != nil {
		return notFoundOr(err, "schedule %d not found", id)
	}
	if schedule.IsActive {
		p.reschedule(ctx)
	}
	return nil
}

func (p *PostingService) ActivateSchedule(ctx context.Context, id uint) error {
	if err := p.repo.SetActiveSchedule(ctx, id); err != nil {
		return notFoundOr(err, "schedule %d not found", id)
	}
	p.logger.Info("Schedule activated", zap.Uint("id", id))
	p.reschedule(ctx)
	return nil
}

func fillSchedule(schedule *models.Schedule, in ScheduleInput) error {
	if err := ValidateScheduleData(in.Type, in.Data); err != nil {
		return oops.Code(CodeConfiguration).Wrap(err)
	}
	if err := schedule.Encode(in.Data); err != nil {
		return systemError(err, "internal error")
	}
	schedule.Type = in.Type
	schedule.IsActive = in.IsActive
	return nil
}

// reschedule reinstalls the trigger. The schedule change is already
// stored, so a failure here is only logged.
func (p *PostingService) reschedule(ctx context.Context) {
	if err := p.scheduler.Reschedule(ctx); err != nil {
		p.logger.Error("Failed to reinstall trigger", zap.Error(err))
	}
}
