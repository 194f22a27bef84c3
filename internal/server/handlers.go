package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/ifuryst/postpilot/internal/models"
	"github.com/ifuryst/postpilot/internal/repository"
	"github.com/ifuryst/postpilot/internal/service"
)

const codeUnauthorized = "unauthorized"

var statusByCode = map[string]int{
	service.CodeConfiguration: http.StatusBadRequest,
	service.CodeNotFound:      http.StatusNotFound,
	service.CodeConflict:      http.StatusConflict,
	service.CodeDelivery:      http.StatusBadGateway,
	service.CodeSystem:        http.StatusInternalServerError,
	codeUnauthorized:          http.StatusUnauthorized,
}

func respond(c *gin.Context, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(status, body)
}

// fail renders err using its oops code. Errors without a code are system
// errors.
func (s *Server) fail(c *gin.Context, err error) {
	code := service.CodeSystem
	if oopsErr, ok := oops.AsOops(err); ok {
		if v := fmt.Sprint(oopsErr.Code()); v != "" && v != "<nil>" {
			code = v
		}
	}
	status, known := statusByCode[code]
	if !known {
		status = http.StatusInternalServerError
	}
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.Logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	if status == http.StatusInternalServerError {
		// The cause stays in the log.
		message = service.PublicMessage(err)
	}
	c.JSON(status, gin.H{
		"success":  false,
		"error":    message,
		"category": code,
	})
}

func badRequest(format string, args ...any) error {
	return oops.Code(service.CodeConfiguration).Errorf(format, args...)
}

func idParam(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid id %q", c.Param("id"))
	}
	return uint(id), nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339. A bare end date covers the
// whole day.
func parseDate(value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, time.Local)
	if err != nil {
		return nil, badRequest("invalid date %q, expected YYYY-MM-DD", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid %s %q", key, raw)
	}
	return v, nil
}

func (s *Server) handleStatus(c *gin.Context) {
	overview, err := s.Posting.Status(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"status": overview})
}

func (s *Server) handleUpdateInterval(c *gin.Context) {
	var req struct {
		Minutes *int `json:"minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Minutes == nil {
		s.fail(c, badRequest("minutes is required"))
		return
	}
	if err := s.Posting.UpdateInterval(c.Request.Context(), *req.Minutes); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"message":          "Interval updated",
		"interval_minutes": *req.Minutes,
	})
}

func (s *Server) handlePublicationStatus(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"status": s.Posting.PublicationStatus()})
}

func (s *Server) handleResetPublication(c *gin.Context) {
	if err := s.Posting.ResetPublicationStatus(); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Publication status reset"})
}

func (s *Server) handlePostNow(c *gin.Context) {
	queued := s.Posting.PostNow()
	message := "Publication started"
	if queued {
		message = "Publication queued behind the run in progress"
	}
	respond(c, http.StatusAccepted, gin.H{"message": message, "queued": queued})
}

func (s *Server) handleStartScheduler(c *gin.Context) {
	if err := s.Posting.StartScheduler(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Scheduler started"})
}

func (s *Server) handleStopScheduler(c *gin.Context) {
	s.Posting.StopScheduler()
	respond(c, http.StatusOK, gin.H{"message": "Scheduler stopped"})
}

func (s *Server) handleReloadContent(c *gin.Context) {
	info, err := s.Posting.ReloadContent(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Content reloaded", "post_info": info})
}

func (s *Server) handlePreview(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"preview": s.Posting.PreviewPost(c.Request.Context())})
}

func (s *Server) handlePostInfo(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"post_info": s.Posting.PostInfo(c.Request.Context())})
}

func (s *Server) handleListDestinations(c *gin.Context) {
	dests, err := s.Posting.ListDestinations(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	active := lo.CountBy(dests, func(d models.Destination) bool { return !d.Disabled })
	respond(c, http.StatusOK, gin.H{"groups": dests, "total": len(dests), "active": active})
}

func (s *Server) handleAddDestination(c *gin.Context) {
	var req struct {
		Input string `json:"input"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Input) == "" {
		s.fail(c, badRequest("input is required"))
		return
	}
	dest, err := s.Posting.AddDestination(c.Request.Context(), req.Input)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{
		"message": fmt.Sprintf("Added %s", dest.DisplayName()),
		"group":   dest,
	})
}

func (s *Server) handleRemoveDestination(c *gin.Context) {
	if err := s.Posting.RemoveDestination(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Destination removed"})
}

func (s *Server) handleSetDestinationDisabled(c *gin.Context) {
	var req struct {
		Disabled *bool `json:"disabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Disabled == nil {
		s.fail(c, badRequest("disabled is required"))
		return
	}
	if err := s.Posting.SetDestinationDisabled(c.Request.Context(), c.Param("id"), *req.Disabled); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Destination updated", "disabled": *req.Disabled})
}

func (s *Server) handleListTemplates(c *gin.Context) {
	tpls, err := s.Posting.ListTemplates(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"templates": tpls})
}

func (s *Server) handleCreateTemplate(c *gin.Context) {
	var in service.TemplateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.fail(c, badRequest("invalid template: %v", err))
		return
	}
	tpl, err := s.Posting.CreateTemplate(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"message": "Template created", "template": tpl})
}

func (s *Server) handleUpdateTemplate(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var in service.TemplateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.fail(c, badRequest("invalid template: %v", err))
		return
	}
	tpl, err := s.Posting.UpdateTemplate(c.Request.Context(), id, in)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Template updated", "template": tpl})
}

func (s *Server) handleDeleteTemplate(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.Posting.DeleteTemplate(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Template deleted"})
}

func (s *Server) handleActivateTemplate(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.Posting.ActivateTemplate(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Template activated"})
}

func (s *Server) handleListSchedules(c *gin.Context) {
	schedules, err := s.Posting.ListSchedules(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"schedules": schedules})
}

func (s *Server) handleCreateSchedule(c *gin.Context) {
	var in service.ScheduleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.fail(c, badRequest("invalid schedule: %v", err))
		return
	}
	schedule, err := s.Posting.CreateSchedule(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"message": "Schedule created", "schedule": schedule})
}

func (s *Server) handleUpdateSchedule(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var in service.ScheduleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.fail(c, badRequest("invalid schedule: %v", err))
		return
	}
	schedule, err := s.Posting.UpdateSchedule(c.Request.Context(), id, in)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Schedule updated", "schedule": schedule})
}

func (s *Server) handleDeleteSchedule(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.Posting.DeleteSchedule(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Schedule deleted"})
}

func (s *Server) handleActivateSchedule(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.Posting.ActivateSchedule(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Schedule activated"})
}

func (s *Server) handleQueryHistory(c *gin.Context) {
	filter := repository.HistoryFilter{
		Status:        models.PublicationStatus(c.Query("status")),
		DestinationID: c.Query("group_id"),
		Search:        c.Query("search"),
	}
	var err error
	if filter.Page, err = queryInt(c, "page"); err != nil {
		s.fail(c, err)
		return
	}
	if filter.PerPage, err = queryInt(c, "per_page"); err != nil {
		s.fail(c, err)
		return
	}
	if filter.StartDate, err = parseDate(c.Query("start_date"), false); err != nil {
		s.fail(c, err)
		return
	}
	if filter.EndDate, err = parseDate(c.Query("end_date"), true); err != nil {
		s.fail(c, err)
		return
	}

	page, err := s.Posting.QueryHistory(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	pages := 0
	if page.PerPage > 0 {
		pages = int((page.Total + int64(page.PerPage) - 1) / int64(page.PerPage))
	}
	respond(c, http.StatusOK, gin.H{
		"history":     page.Records,
		"total":       page.Total,
		"page":        page.Page,
		"per_page":    page.PerPage,
		"total_pages": pages,
	})
}

func (s *Server) handleClearHistory(c *gin.Context) {
	var olderThan *int
	if raw := c.Query("older_than_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(c, badRequest("invalid older_than_days %q", raw))
			return
		}
		olderThan = &days
	}
	deleted, err := s.Posting.ClearHistory(c.Request.Context(), olderThan)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"message": fmt.Sprintf("Deleted %d records", deleted),
		"deleted": deleted,
	})
}

func (s *Server) handleStatistics(c *gin.Context) {
	start, err := parseDate(c.Query("start_date"), false)
	if err != nil {
		s.fail(c, err)
		return
	}
	end, err := parseDate(c.Query("end_date"), true)
	if err != nil {
		s.fail(c, err)
		return
	}
	stats, err := s.Posting.Statistics(c.Request.Context(), start, end)
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"statistics": stats})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		s.fail(c, badRequest("code is required"))
		return
	}
	token, expires, err := s.Auth.Login(req.Code)
	switch {
	case errors.Is(err, service.ErrInvalidCode):
		s.fail(c, oops.Code(codeUnauthorized).Wrap(err))
		return
	case errors.Is(err, service.ErrTOTPNotConfigured):
		s.fail(c, oops.Code(service.CodeConfiguration).Wrap(err))
		return
	case err != nil:
		s.fail(c, err)
		return
	}

	maxAge := int(time.Until(expires).Seconds())
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(service.SessionCookie, token, maxAge, "/", "", c.Request.TLS != nil, true)
	respond(c, http.StatusOK, gin.H{"message": "Logged in", "expires_at": expires})
}

func (s *Server) handleAuthSetup(c *gin.Context) {
	secret, url, err := s.Auth.Setup()
	if errors.Is(err, service.ErrTOTPConfigured) {
		s.fail(c, oops.Code(service.CodeConflict).Wrap(err))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"secret":  secret,
		"url":     url,
		"message": "Add the secret to auth.totp_secret and restart",
	})
}
