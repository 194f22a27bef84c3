package models

import (
	"time"
)

// Destination is a chat the posts are published into.
// ID is a surrogate key and defines the processing order of a run.
type Destination struct {
	ID              uint       `gorm:"primaryKey" json:"-"`
	ChatID          string     `gorm:"uniqueIndex;not null;size:255" json:"id"`
	Title           string     `gorm:"size:500" json:"title"`
	Handle          *string    `gorm:"size:255" json:"handle"`
	AddedAt         time.Time  `gorm:"autoCreateTime" json:"added_at"`
	LastPublishedAt *time.Time `json:"last_published_at"`
	Disabled        bool       `gorm:"not null;default:false;index" json:"disabled"`
}

// Target returns the identifier used for delivery: the handle when known,
// the chat id otherwise.
func (d Destination) Target() string {
	if d.Handle != nil && *d.Handle != "" {
		return *d.Handle
	}
	return d.ChatID
}

// DisplayName returns the most readable name available.
func (d Destination) DisplayName() string {
	switch {
	case d.Title != "":
		return d.Title
	case d.Handle != nil && *d.Handle != "":
		return *d.Handle
	default:
		return d.ChatID
	}
}
