package models

import "time"

const (
	SettingIntervalMinutes     = "post_interval_minutes"
	SettingLegacyIntervalHours = "post_interval"
	DefaultIntervalMinutes     = 1440
	MinIntervalMinutes         = 1
	MaxIntervalMinutes         = 10080
)

type Setting struct {
	Key       string    `gorm:"primaryKey;size:100" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
