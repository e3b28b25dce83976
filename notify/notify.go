// Package notify delivers short text messages to connected players.
package notify

import (
	"context"
	"log/slog"
	"strings"
)

// Messenger sends a message to a player.  delivered is false when the player
// is not connected; that is not an error.
type Messenger interface {
	Notify(ctx context.Context, player, message string) (delivered bool, err error)
}

const colorCodes = "0123456789AaBbCcDdEeFfKkLlMmNnOoRr"

// TranslateColorCodes replaces '&' followed by a colour or format code with
// the section sign form understood by game clients.
func TranslateColorCodes(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}

	runes := []rune(s)
	for i := 0; i < len(runes)-1; i++ {
		if runes[i] == '&' && strings.ContainsRune(colorCodes, runes[i+1]) {
			runes[i] = '§'
			runes[i+1] = toLower(runes[i+1])
		}
	}

	return string(runes)
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// LogMessenger only logs messages.  It is used when no delivery endpoint is
// configured.
type LogMessenger struct {
	logger *slog.Logger
}

var _ Messenger = (*LogMessenger)(nil)

// NewLogMessenger returns a LogMessenger writing to logger.
func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	return &LogMessenger{logger: logger}
}

// Notify implements the Messenger interface for *LogMessenger.
func (m *LogMessenger) Notify(ctx context.Context, player, message string) (bool, error) {
	m.logger.InfoContext(ctx, "player message not delivered, no endpoint configured", "player", player, "message", message)
	return false, nil
}
