package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type ScheduleType string

const (
	ScheduleTypeInterval ScheduleType = "interval"
	ScheduleTypeTime     ScheduleType = "time"
	ScheduleTypeDays     ScheduleType = "days"
	ScheduleTypeHours    ScheduleType = "hours"
)

// ScheduleData is the union of the per-type payloads.
//
//	interval: minutes
//	time:     hour, minute
//	days:     days (0=Monday .. 6=Sunday), hour, minute
//	hours:    start_hour, end_hour, interval_minutes
type ScheduleData struct {
	Minutes         int   `json:"minutes,omitempty"`
	Hour            int   `json:"hour,omitempty"`
	Minute          int   `json:"minute,omitempty"`
	Days            []int `json:"days,omitempty"`
	StartHour       int   `json:"start_hour,omitempty"`
	EndHour         int   `json:"end_hour,omitempty"`
	IntervalMinutes int   `json:"interval_minutes,omitempty"`
}

type Schedule struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Type      ScheduleType   `gorm:"size:20;not null" json:"schedule_type"`
	Data      datatypes.JSON `json:"schedule_data"`
	IsActive  bool           `gorm:"not null;default:false;index" json:"is_active"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// Decode unmarshals the stored payload.
func (s *Schedule) Decode() (ScheduleData, error) {
	var data ScheduleData
	if len(s.Data) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(s.Data, &data); err != nil {
		return data, fmt.Errorf("decode schedule %d data: %w", s.ID, err)
	}
	return data, nil
}

// Encode stores data as the schedule payload.
func (s *Schedule) Encode(data ScheduleData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode schedule data: %w", err)
	}
	s.Data = datatypes.JSON(raw)
	return nil
}
