package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ifuryst/postpilot/internal/models"
	"github.com/ifuryst/postpilot/internal/service/content"
)

// Message is what gets delivered to a single destination.
type Message struct {
	Text      string
	ImagePath string
}

// PublishResult is the outcome of delivering to one destination.
type PublishResult struct {
	Destination string    `json:"destination"`
	Success     bool      `json:"success"`
	Attempts    int       `json:"attempts"`
	Error       error     `json:"-"`
	PublishedAt time.Time `json:"published_at"`
}

// DeliveryError is returned by a Gateway when a message was not delivered.
// Permanent failures are those the destination cannot recover from, such as
// an unknown chat or a removed bot.
type DeliveryError struct {
	Target    string
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s delivery failure to %s: %v", kind, e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err carries a permanent DeliveryError.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

// Gateway sends one message to one destination. It must not touch the
// repository.
type Gateway interface {
	Send(ctx context.Context, target string, msg Message) error
}

// ContentProvider resolves the post and renders it per destination.
type ContentProvider interface {
	Resolve(ctx context.Context) content.Post
	Render(text, chatID, title string) string
}

// Repository is the slice of the store the engine writes to.
type Repository interface {
	ListActiveDestinations(ctx context.Context) ([]models.Destination, error)
	MarkPublished(ctx context.Context, chatID string, at time.Time) error
	AppendHistory(ctx context.Context, record *models.PublicationRecord) error
	RemoveDestination(ctx context.Context, chatID string) (bool, error)
}
