package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/thedetect/UTB2/internal/config"
	"github.com/thedetect/UTB2/internal/dispatch"
	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/entitlement"
	"github.com/thedetect/UTB2/internal/geo"
	"github.com/thedetect/UTB2/internal/referral"
	"github.com/thedetect/UTB2/internal/store"
)

// Bot is the subset of *tgbotapi.BotAPI the router calls.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// ChartBuilder computes a natal chart from birth data.
type ChartBuilder interface {
	BuildChart(ctx context.Context, b domain.BirthData) (domain.Chart, error)
}

// Broadcaster runs operator broadcasts.
type Broadcaster interface {
	Broadcast(ctx context.Context, req dispatch.BroadcastRequest) (dispatch.BroadcastReport, error)
}

// DailyDispatcher sends the daily message of a user for a local date.
type DailyDispatcher interface {
	Dispatch(ctx context.Context, u *domain.User, localDate string, now time.Time) (dispatch.Result, error)
}

// Deps are the collaborators of a Router.
type Deps struct {
	Repo        store.Repo
	Charts      ChartBuilder
	Places      *geo.Gazetteer
	Referrals   *referral.Service
	Entitlement *entitlement.Service
	Broadcaster Broadcaster
	Daily       DailyDispatcher
}

// Options are static router settings.
type Options struct {
	DefaultTZ   string
	AdminID     int64
	BotUsername string
	Payment     config.PaymentConfig
}

// Conversation steps.
const (
	stepName         = "await_name"
	stepBirthDate    = "await_birth_date"
	stepBirthPlace   = "await_birth_place"
	stepBirthTime    = "await_birth_time"
	stepDeliveryTime = "await_delivery_time"
	stepTZ           = "await_tz"
)

// session is the in-memory state of a conversational flow.
type session struct {
	step       string
	birthDate  time.Time
	place      geo.Place
	onboarding bool // first delivery time pick, the first forecast follows
}

// Router wires Telegram updates to handlers and holds minimal in-memory state.
type Router struct {
	bot  Bot
	log  *zap.Logger
	deps Deps
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	sessions map[int64]*session

	wg sync.WaitGroup // background broadcasts
}

// NewRouter creates a new Telegram router.
func NewRouter(bot Bot, log *zap.Logger, deps Deps, opts Options) *Router {
	return &Router{
		bot:      bot,
		log:      log,
		deps:     deps,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[int64]*session),
	}
}

func (r *Router) session(chatID int64) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		s = &session{}
		r.sessions[chatID] = s
	}
	return s
}

func (r *Router) setStep(chatID int64, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		s = &session{}
		r.sessions[chatID] = s
	}
	s.step = step
}

func (r *Router) step(chatID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[chatID]; ok {
		return s.step
	}
	return ""
}

func (r *Router) clearSession(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, chatID)
}

// Wait blocks until background broadcasts started by the router finish.
func (r *Router) Wait() {
	r.wg.Wait()
}

// HandleUpdate routes a single update to the appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("update handler panic", zap.Any("panic", p), zap.Int("update_id", upd.UpdateID))
		}
	}()

	switch {
	case upd.PreCheckoutQuery != nil:
		r.handlePreCheckout(upd.PreCheckoutQuery)
	case upd.Message != nil && upd.Message.SuccessfulPayment != nil:
		r.handleSuccessfulPayment(ctx, upd.Message)
	case upd.Message != nil:
		r.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		r.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !msg.IsCommand() {
		r.handleFreeForm(ctx, chatID, strings.TrimSpace(msg.Text))
		return
	}
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		r.handleStart(ctx, chatID, args)
	case "menu", "settings":
		r.handleMenu(ctx, chatID)
	case "status":
		r.handleStatus(ctx, chatID)
	case "pause":
		r.handlePause(ctx, chatID)
	case "resume":
		r.handleResume(ctx, chatID)
	case "subscribe":
		r.handleSubscribe(ctx, chatID)
	case "cancel":
		r.clearSession(chatID)
		r.sendText(chatID, cancelledText)
	case "broadcast", "broadcast_daily", "suspend", "unsuspend":
		if !r.isAdmin(msg.From) {
			r.sendText(chatID, unknownCommandText)
			return
		}
		r.handleAdmin(ctx, chatID, msg.Command(), args)
	default:
		r.sendText(chatID, unknownCommandText)
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	data := cb.Data
	_ = r.answerCallback(cb.ID, "")

	switch {
	case data == cbMenuTime:
		r.setStep(chatID, stepDeliveryTime)
		r.sendText(chatID, askDeliveryTimeText)
	case data == cbMenuTZ:
		r.askTZPresets(chatID)
	case strings.HasPrefix(data, cbTZPrefix):
		r.handleTZChoice(ctx, chatID, strings.TrimPrefix(data, cbTZPrefix))
	case data == cbMenuReferral:
		r.handleReferral(ctx, chatID)
	case data == cbMenuSubscribe:
		r.handleSubscribe(ctx, chatID)
	case data == cbMenuBirth:
		r.setStep(chatID, stepBirthDate)
		r.sendText(chatID, askBirthDateText)
	default:
		// Unknown callback, ignore.
	}
}

func (r *Router) isAdmin(from *tgbotapi.User) bool {
	return from != nil && r.opts.AdminID != 0 && from.ID == r.opts.AdminID
}

func (r *Router) sendText(chatID int64, text string) {
	if _, err := r.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.Warn("send failed", zap.Int64("user_id", chatID), zap.Error(err))
	}
}

func (r *Router) sendWithMarkup(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	if _, err := r.bot.Send(msg); err != nil {
		r.log.Warn("send failed", zap.Int64("user_id", chatID), zap.Error(err))
	}
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}
