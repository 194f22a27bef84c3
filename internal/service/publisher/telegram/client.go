// Package telegram delivers posts through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// ErrUnreachable marks chats the bot cannot post to: unknown chats, chats
// the bot was removed from, or chats where it lacks rights.
var ErrUnreachable = errors.New("chat unreachable")

const captionLimit = 1024

type Chat struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Username string `json:"username"`
	Type     string `json:"type"`
}

// API is the part of the Bot API used for publishing.
type API interface {
	GetChat(ctx context.Context, chatID any) (*Chat, error)
	SendText(ctx context.Context, chatID any, text string) error
	SendPhoto(ctx context.Context, chatID any, path, caption string) error
}

type Client struct {
	bot *bot.Bot
}

func NewClient(token, apiURL string) (*Client, error) {
	opts := []bot.Option{
		bot.WithCheckInitTimeout(10 * time.Second),
	}
	if apiURL != "" {
		opts = append(opts, bot.WithServerURL(apiURL))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Client{bot: b}, nil
}

func (c *Client) GetChat(ctx context.Context, chatID any) (*Chat, error) {
	info, err := c.bot.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return nil, classify(err)
	}
	return &Chat{
		ID:       info.ID,
		Title:    info.Title,
		Username: info.Username,
		Type:     string(info.Type),
	}, nil
}

func (c *Client) SendText(ctx context.Context, chatID any, text string) error {
	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	return classify(err)
}

// SendPhoto uploads the image with text as caption. Captions over the API
// limit are sent as a separate message after the photo.
func (c *Client) SendPhoto(ctx context.Context, chatID any, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	params := &bot.SendPhotoParams{
		ChatID:    chatID,
		Photo:     &models.InputFileUpload{Filename: filepath.Base(path), Data: f},
		ParseMode: models.ParseModeHTML,
	}
	long := len([]rune(caption)) > captionLimit
	if !long {
		params.Caption = caption
	}
	if _, err := c.bot.SendPhoto(ctx, params); err != nil {
		return classify(err)
	}
	if long {
		return c.SendText(ctx, chatID, caption)
	}
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, bot.ErrorForbidden),
		errors.Is(err, bot.ErrorNotFound),
		errors.Is(err, bot.ErrorBadRequest) && strings.Contains(strings.ToLower(err.Error()), "chat not found"):
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	default:
		return err
	}
}

// DryRunClient resolves every chat and logs instead of sending. It is used
// when no bot token is configured.
type DryRunClient struct {
	logger *zap.Logger
}

func NewDryRunClient(logger *zap.Logger) *DryRunClient {
	return &DryRunClient{logger: logger.Named("telegram-dry-run")}
}

func (c *DryRunClient) GetChat(_ context.Context, chatID any) (*Chat, error) {
	switch v := chatID.(type) {
	case int64:
		return &Chat{ID: v, Title: strconv.FormatInt(v, 10), Type: "channel"}, nil
	case string:
		if !strings.HasPrefix(v, "@") {
			return nil, fmt.Errorf("%w: %s", ErrUnreachable, v)
		}
		return &Chat{ID: dryRunID(v), Title: v, Username: strings.TrimPrefix(v, "@"), Type: "channel"}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported chat id %v", ErrUnreachable, chatID)
	}
}

func (c *DryRunClient) SendText(_ context.Context, chatID any, text string) error {
	c.logger.Info("Dry run message", zap.Any("chat_id", chatID), zap.Int("length", len(text)))
	return nil
}

func (c *DryRunClient) SendPhoto(_ context.Context, chatID any, path, caption string) error {
	c.logger.Info("Dry run photo",
		zap.Any("chat_id", chatID),
		zap.String("image", path),
		zap.Int("length", len(caption)))
	return nil
}

// dryRunID derives a stable negative id for a handle.
func dryRunID(handle string) int64 {
	var h int64 = 1000000000
	for _, r := range handle {
		h = (h*31 + int64(r)) % 1000000000000
	}
	return -h
}
