package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/gofiber/fiber/v2"
)

// DefaultTimeout bounds a single webhook call.
const DefaultTimeout = 5 * time.Second

// ErrUnexpectedStatus is returned when the endpoint answers with neither 200
// nor 404.
const ErrUnexpectedStatus errors.Error = "unexpected webhook status"

// WebhookMessenger posts messages to the proxy's messaging endpoint.  The
// endpoint answers 200 when the player received the message and 404 when
// the player is not connected.
type WebhookMessenger struct {
	url     string
	timeout time.Duration
	logger  *slog.Logger
}

var _ Messenger = (*WebhookMessenger)(nil)

// WebhookConfig is the configuration of a WebhookMessenger.
type WebhookConfig struct {
	Logger *slog.Logger
	// URL is required.
	URL     string
	Timeout time.Duration
}

// NewWebhookMessenger returns a WebhookMessenger.
func NewWebhookMessenger(c *WebhookConfig) *WebhookMessenger {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &WebhookMessenger{
		url:     c.URL,
		timeout: timeout,
		logger:  c.Logger,
	}
}

type webhookPayload struct {
	Player  string `json:"player"`
	Message string `json:"message"`
}

// Notify implements the Messenger interface for *WebhookMessenger.
func (m *WebhookMessenger) Notify(ctx context.Context, player, message string) (delivered bool, err error) {
	defer func() { err = errors.Annotate(err, "notifying %q: %w", player) }()

	if err = ctx.Err(); err != nil {
		return false, err
	}

	agent := fiber.Post(m.url).
		Timeout(m.timeout).
		JSON(webhookPayload{
			Player:  player,
			Message: message,
		})

	code, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return false, errors.Join(errs...)
	}

	switch code {
	case fiber.StatusOK, fiber.StatusNoContent:
		m.logger.DebugContext(ctx, "player message delivered", "player", player)
		return true, nil
	case fiber.StatusNotFound:
		m.logger.DebugContext(ctx, "player not connected", "player", player)
		return false, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
}

// New returns the messenger for url: a WebhookMessenger, or a LogMessenger
// when url is empty.
func New(url string, timeout time.Duration, logger *slog.Logger) Messenger {
	if url == "" {
		return NewLogMessenger(logger)
	}

	return NewWebhookMessenger(&WebhookConfig{
		Logger:  logger,
		URL:     url,
		Timeout: timeout,
	})
}
