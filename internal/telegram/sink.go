package telegram

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/thedetect/UTB2/internal/delivery"
)

var _ delivery.Sink = (*Sink)(nil)

// Sink delivers daily and broadcast messages through the Bot API.
type Sink struct {
	bot Bot
}

// NewSink returns a delivery.Sink backed by bot.
func NewSink(bot Bot) *Sink {
	return &Sink{bot: bot}
}

// Send delivers one message. Failures are classified into *delivery.Failure.
// The Bot API call itself is bounded by the HTTP client timeout.
func (s *Sink) Send(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return &delivery.Failure{Reason: delivery.NetworkError, Err: err}
	}
	_, err := s.bot.Send(tgbotapi.NewMessage(userID, text))
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 403:
			return &delivery.Failure{Reason: delivery.Blocked, Err: err}
		case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "chat not found"):
			return &delivery.Failure{Reason: delivery.Blocked, Err: err}
		case apiErr.Code == 429:
			return &delivery.Failure{
				Reason:     delivery.RateLimited,
				RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
				Err:        err,
			}
		case apiErr.Code >= 500:
			return &delivery.Failure{Reason: delivery.NetworkError, Err: err}
		}
		return &delivery.Failure{Reason: delivery.Unknown, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &delivery.Failure{Reason: delivery.NetworkError, Err: err}
	}
	return &delivery.Failure{Reason: delivery.Unknown, Err: err}
}
