package models

import "time"

type PublicationStatus string

const (
	PublicationSuccess PublicationStatus = "success"
	PublicationError   PublicationStatus = "error"
)

// PublicationRecord is one append-only history row per destination per run.
// RetryCount holds the number of delivery attempts made.
type PublicationRecord struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	DestinationID     string            `gorm:"not null;size:255;index" json:"destination_id"`
	DestinationTitle  string            `gorm:"size:500" json:"destination_title"`
	DestinationHandle *string           `gorm:"size:255" json:"destination_handle"`
	Status            PublicationStatus `gorm:"size:20;not null;index" json:"status"`
	ErrorMessage      *string           `gorm:"type:text" json:"error_message"`
	PublishedAt       time.Time         `gorm:"not null;index" json:"published_at"`
	RetryCount        int               `gorm:"not null;default:0" json:"retry_count"`
}

func (PublicationRecord) TableName() string {
	return "publication_history"
}
