package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ifuryst/postpilot/internal/models"
)

// ValidateScheduleData checks the payload of a schedule of the given type.
func ValidateScheduleData(kind models.ScheduleType, data models.ScheduleData) error {
	switch kind {
	case models.ScheduleTypeInterval:
		return validateIntervalMinutes(data.Minutes)
	case models.ScheduleTypeTime:
		return validateClock(data.Hour, data.Minute)
	case models.ScheduleTypeDays:
		if len(data.Days) == 0 {
			return fmt.Errorf("days schedule needs at least one day")
		}
		for _, d := range data.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("day %d out of range 0 (Monday) to 6 (Sunday)", d)
			}
		}
		return validateClock(data.Hour, data.Minute)
	case models.ScheduleTypeHours:
		if data.StartHour < 0 || data.EndHour > 24 || data.StartHour >= data.EndHour {
			return fmt.Errorf("hour window %d-%d is invalid", data.StartHour, data.EndHour)
		}
		if data.IntervalMinutes < 1 || data.IntervalMinutes > 24*60 {
			return fmt.Errorf("interval_minutes must be between 1 and 1440, got %d", data.IntervalMinutes)
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule type %q", kind)
	}
}

func validateIntervalMinutes(minutes int) error {
	if minutes < models.MinIntervalMinutes || minutes > models.MaxIntervalMinutes {
		return fmt.Errorf("interval must be between %d and %d minutes, got %d",
			models.MinIntervalMinutes, models.MaxIntervalMinutes, minutes)
	}
	return nil
}

func validateClock(hour, minute int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("time %02d:%02d is invalid", hour, minute)
	}
	return nil
}

// IntervalSchedule fires every given number of minutes.
func IntervalSchedule(minutes int) cron.Schedule {
	return cron.Every(time.Duration(minutes) * time.Minute)
}

// BuildSchedule turns a stored schedule into a cron schedule evaluated in
// loc, and a short description of it.
func BuildSchedule(s *models.Schedule, loc *time.Location) (cron.Schedule, string, error) {
	data, err := s.Decode()
	if err != nil {
		return nil, "", err
	}
	if err := ValidateScheduleData(s.Type, data); err != nil {
		return nil, "", err
	}

	switch s.Type {
	case models.ScheduleTypeInterval:
		return IntervalSchedule(data.Minutes), fmt.Sprintf("every %d minutes", data.Minutes), nil
	case models.ScheduleTypeTime:
		spec := fmt.Sprintf("CRON_TZ=%s %d %d * * *", loc, data.Minute, data.Hour)
		sched, err := cron.ParseStandard(spec)
		return sched, fmt.Sprintf("daily at %02d:%02d", data.Hour, data.Minute), err
	case models.ScheduleTypeDays:
		spec := fmt.Sprintf("CRON_TZ=%s %d %d * * %s", loc, data.Minute, data.Hour, cronWeekdays(data.Days))
		sched, err := cron.ParseStandard(spec)
		return sched, fmt.Sprintf("at %02d:%02d on %s", data.Hour, data.Minute, weekdayNames(data.Days)), err
	default:
		w := windowSchedule{
			startHour: data.StartHour,
			endHour:   data.EndHour,
			every:     time.Duration(data.IntervalMinutes) * time.Minute,
		}
		return w, fmt.Sprintf("every %d minutes between %02d:00 and %02d:00",
			data.IntervalMinutes, data.StartHour, data.EndHour), nil
	}
}

// cronWeekdays maps Monday-based day numbers to cron's Sunday-based ones.
func cronWeekdays(days []int) string {
	seen := map[int]bool{}
	var out []int
	for _, d := range days {
		c := (d + 1) % 7
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Ints(out)
	parts := make([]string, len(out))
	for i, d := range out {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

var mondayFirst = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func weekdayNames(days []int) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, mondayFirst[d])
	}
	return strings.Join(names, ",")
}

// windowSchedule fires every interval starting at startHour, as long as the
// fire time is before endHour, every day.
type windowSchedule struct {
	startHour int
	endHour   int
	every     time.Duration
}

func (w windowSchedule) Next(t time.Time) time.Time {
	for day := 0; day < 2; day++ {
		start := time.Date(t.Year(), t.Month(), t.Day()+day, w.startHour, 0, 0, 0, t.Location())
		end := time.Date(t.Year(), t.Month(), t.Day()+day, w.endHour, 0, 0, 0, t.Location())
		if t.Before(start) {
			return start
		}
		if !t.Before(end) {
			continue
		}
		next := start.Add((t.Sub(start)/w.every + 1) * w.every)
		if next.Before(end) {
			return next
		}
	}
	return time.Time{}
}
