package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/store"
)

const (
	invoicePayload = "subscription"
	starsCurrency  = "XTR" // Telegram Stars need no provider token
)

func (r *Router) paymentsEnabled() bool {
	p := r.opts.Payment
	return p.PriceMinor > 0 && (p.ProviderToken != "" || p.Currency == starsCurrency)
}

func (r *Router) handleSubscribe(ctx context.Context, chatID int64) {
	if !r.paymentsEnabled() {
		r.sendText(chatID, paymentsDisabledText)
		return
	}
	if _, err := r.ensureUser(ctx, chatID); err != nil {
		r.log.Error("ensure user failed", zap.Error(err))
		r.sendText(chatID, profileErrorText)
		return
	}
	p := r.opts.Payment
	invoice := tgbotapi.InvoiceConfig{
		BaseChat:            tgbotapi.BaseChat{ChatID: chatID},
		Title:               subscriptionTitle,
		Description:         fmt.Sprintf(subscriptionDescFmt, p.DurationDays),
		Payload:             invoicePayload,
		ProviderToken:       p.ProviderToken,
		Currency:            p.Currency,
		Prices:              []tgbotapi.LabeledPrice{{Label: subscriptionTitle, Amount: p.PriceMinor}},
		StartParameter:      invoicePayload,
		SuggestedTipAmounts: []int{},
	}
	if _, err := r.bot.Send(invoice); err != nil {
		r.log.Error("send invoice failed", zap.Int64("user_id", chatID), zap.Error(err))
		r.sendText(chatID, paymentErrorText)
	}
}

func (r *Router) handlePreCheckout(q *tgbotapi.PreCheckoutQuery) {
	p := r.opts.Payment
	cfg := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}
	if q.InvoicePayload != invoicePayload || q.Currency != p.Currency || q.TotalAmount != p.PriceMinor {
		cfg.OK = false
		cfg.ErrorMessage = paymentErrorText
	}
	if _, err := r.bot.Request(cfg); err != nil {
		r.log.Error("pre-checkout answer failed", zap.Error(err))
	}
}

func (r *Router) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	sp := msg.SuccessfulPayment
	chatID := msg.Chat.ID
	payment := store.Payment{
		ChargeID: sp.TelegramPaymentChargeID,
		UserID:   chatID,
		Amount:   sp.TotalAmount,
		Currency: sp.Currency,
		PaidAt:   r.now(),
	}
	extend := time.Duration(r.opts.Payment.DurationDays) * 24 * time.Hour

	err := r.deps.Repo.ApplyPayment(ctx, payment, extend)
	switch {
	case errors.Is(err, store.ErrDuplicatePayment):
		r.log.Info("duplicate payment ignored", zap.Int64("user_id", chatID), zap.String("charge_id", payment.ChargeID))
		return
	case err != nil:
		r.log.Error("apply payment failed", zap.Int64("user_id", chatID), zap.String("charge_id", payment.ChargeID), zap.Error(err))
		r.sendText(chatID, paymentErrorText)
		return
	}
	r.log.Info("payment applied", zap.Int64("user_id", chatID), zap.Int("amount", payment.Amount), zap.String("currency", payment.Currency))

	u, err := r.deps.Repo.GetUser(ctx, chatID)
	if err != nil || u.SubscriptionExpiry == nil {
		r.sendText(chatID, fmt.Sprintf(paymentThanksFmt, "—"))
		return
	}
	until, err := domain.LocalizeTime(*u.SubscriptionExpiry, u.TZ)
	if err != nil {
		until = u.SubscriptionExpiry.Format("02.01.2006 15:04 UTC")
	}
	r.sendText(chatID, fmt.Sprintf(paymentThanksFmt, until))
}
