package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ledgerbot/internal/interfaces"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// NewTelegramDialer returns a Dialer backed by the Bot API. The HTTP client
// timeout must exceed the long-poll timeout or every getUpdates call fails.
func NewTelegramDialer(apiEndpoint string, pollTimeout int) Dialer {
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: time.Duration(pollTimeout)*time.Second + 15*time.Second}

	return func(ctx context.Context, token string) (interfaces.BotAPI, tgbotapi.User, error) {
		if err := ctx.Err(); err != nil {
			return nil, tgbotapi.User{}, err
		}
		// NewBotAPIWithClient performs getMe, confirming the token is live.
		bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
		if err != nil {
			return nil, tgbotapi.User{}, fmt.Errorf("invalid token: %w", err)
		}
		return bot, bot.Self, nil
	}
}

var _ interfaces.BotAPI = (*tgbotapi.BotAPI)(nil)
