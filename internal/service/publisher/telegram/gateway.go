package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ifuryst/postpilot/internal/service/publisher"
)

const DefaultSendTimeout = 30 * time.Second

// Gateway implements publisher.Gateway on top of API. Sends are rate
// limited across destinations and every attempt has its own deadline.
type Gateway struct {
	api     API
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewGateway(api API, timeout time.Duration, perSecond float64, logger *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Gateway{
		api:     api,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("telegram"),
	}
}

// Send delivers msg to target, a numeric chat id or a handle. A target that
// cannot be resolved is a permanent failure; deadline and cancellation are
// transient.
func (g *Gateway) Send(ctx context.Context, target string, msg publisher.Message) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &publisher.DeliveryError{Target: target, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	chat, err := g.resolve(ctx, target)
	if err != nil {
		return &publisher.DeliveryError{Target: target, Permanent: !isContextError(err), Err: err}
	}

	if msg.ImagePath != "" {
		err = g.api.SendPhoto(ctx, chat.ID, msg.ImagePath, msg.Text)
	} else {
		err = g.api.SendText(ctx, chat.ID, msg.Text)
	}
	if err != nil {
		return &publisher.DeliveryError{
			Target:    target,
			Permanent: errors.Is(err, ErrUnreachable),
			Err:       err,
		}
	}
	g.logger.Debug("Message sent", zap.String("target", target), zap.Int64("chat_id", chat.ID))
	return nil
}

// Lookup resolves a chat reference to its chat info using the same order
// as Send.
func (g *Gateway) Lookup(ctx context.Context, ref string) (*Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.resolve(ctx, ref)
}

// resolve tries the numeric id, then the raw string, then the "@" handle.
func (g *Gateway) resolve(ctx context.Context, target string) (*Chat, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: empty chat reference", ErrUnreachable)
	}

	var lastErr error
	for _, candidate := range candidates(target) {
		chat, err := g.api.GetChat(ctx, candidate)
		if err == nil {
			return chat, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("resolving %s: %w", target, ctx.Err())
		}
		if isContextError(err) {
			return nil, fmt.Errorf("resolving %s: %w", target, err)
		}
		g.logger.Debug("Chat lookup failed",
			zap.String("target", target),
			zap.Any("candidate", candidate),
			zap.Error(err))
		lastErr = err
	}
	return nil, fmt.Errorf("%w: could not resolve %s: %v", ErrUnreachable, target, lastErr)
}

func candidates(target string) []any {
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return []any{id}
	}
	out := []any{target}
	if !strings.HasPrefix(target, "@") {
		out = append(out, "@"+target)
	}
	return out
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
