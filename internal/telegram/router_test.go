package telegram

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/thedetect/UTB2/internal/astro"
	"github.com/thedetect/UTB2/internal/config"
	"github.com/thedetect/UTB2/internal/delivery"
	"github.com/thedetect/UTB2/internal/dispatch"
	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/entitlement"
	"github.com/thedetect/UTB2/internal/geo"
	"github.com/thedetect/UTB2/internal/referral"
	"github.com/thedetect/UTB2/internal/store"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, b.sendErr
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// lastText returns the text of the last message sent to chatID.
func (b *fakeBot) lastText(chatID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.sent) - 1; i >= 0; i-- {
		if m, ok := b.sent[i].(tgbotapi.MessageConfig); ok && m.ChatID == chatID {
			return m.Text
		}
	}
	return ""
}

type stubCharts struct {
	err  error
	last domain.BirthData
}

func (s *stubCharts) BuildChart(ctx context.Context, b domain.BirthData) (domain.Chart, error) {
	s.last = b
	if s.err != nil {
		return nil, s.err
	}
	return domain.Chart{"Sun": 245.3, "Moon": 10}, nil
}

type stubBroadcaster struct {
	mu  sync.Mutex
	got []dispatch.BroadcastRequest
}

func (s *stubBroadcaster) Broadcast(ctx context.Context, req dispatch.BroadcastRequest) (dispatch.BroadcastReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, req)
	return dispatch.BroadcastReport{RunID: "run", Sent: 1}, nil
}

type dailyCall struct {
	userID    int64
	localDate string
}

type stubDaily struct {
	mu    sync.Mutex
	calls []dailyCall
}

func (s *stubDaily) Dispatch(ctx context.Context, u *domain.User, localDate string, now time.Time) (dispatch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, dailyCall{userID: u.ID, localDate: localDate})
	return dispatch.Result{Outcome: dispatch.Sent, Attempts: 1}, nil
}

type fixture struct {
	bot    *fakeBot
	repo   *store.SQLiteRepo
	charts *stubCharts
	bc     *stubBroadcaster
	daily  *stubDaily
	router *Router
}

const adminID = 999

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tg.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	places, err := geo.LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{bot: &fakeBot{}, repo: repo, charts: &stubCharts{}, bc: &stubBroadcaster{}, daily: &stubDaily{}}
	f.router = NewRouter(f.bot, zap.NewNop(), Deps{
		Repo:        repo,
		Charts:      f.charts,
		Places:      places,
		Referrals:   referral.New(repo, referral.Rules{Threshold: 1, RewardDays: 7}, "Europe/Moscow", zap.NewNop()),
		Entitlement: entitlement.New(),
		Broadcaster: f.bc,
		Daily:       f.daily,
	}, Options{
		DefaultTZ:   "Europe/Moscow",
		AdminID:     adminID,
		BotUsername: "astro_bot",
		Payment:     config.PaymentConfig{Currency: "XTR", PriceMinor: 100, DurationDays: 30},
	})
	f.router.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	return f
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: chatID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{Message: msg}
}

func (f *fixture) say(chatID int64, text string) string {
	f.router.HandleUpdate(context.Background(), textUpdate(chatID, text))
	return f.bot.lastText(chatID)
}

func TestOnboardingFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.say(1, "/start"); !strings.Contains(got, "What is your name") {
		t.Fatalf("start reply = %q", got)
	}
	if got := f.say(1, "анна"); !strings.Contains(got, "Анна") {
		t.Fatalf("name reply = %q", got)
	}
	if got := f.say(1, "31.02.1997"); got != badBirthDateText {
		t.Fatalf("bad date reply = %q", got)
	}
	f.say(1, "27.11.1997")
	if got := f.say(1, "Atlantis"); got != badPlaceText {
		t.Fatalf("bad place reply = %q", got)
	}
	if got := f.say(1, "Москва"); !strings.Contains(got, "Moscow") {
		t.Fatalf("place reply = %q", got)
	}
	if got := f.say(1, "18:25"); got != askDeliveryTimeText {
		t.Fatalf("birth time reply = %q", got)
	}
	if b := f.charts.last; b.TZ != "Europe/Moscow" || b.Minute != 18*60+25 || !b.TimeKnown {
		t.Fatalf("chart input = %+v", b)
	}
	if got := f.say(1, "08:00"); !strings.Contains(got, "08:00") {
		t.Fatalf("delivery reply = %q", got)
	}

	u, err := f.repo.GetUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if u.Name != "Анна" || !u.HasChart() || u.DeliveryMinute != 480 || u.Birth == nil || u.Birth.Place != "Moscow" {
		t.Fatalf("profile after onboarding: %+v", u)
	}
	if f.router.step(1) != "" {
		t.Fatalf("session not cleared: %q", f.router.step(1))
	}
	// 09:00 UTC is 12:00 in Moscow: today's forecast goes out at once.
	if len(f.daily.calls) != 1 || f.daily.calls[0] != (dailyCall{userID: 1, localDate: "2025-06-01"}) {
		t.Fatalf("first forecast calls = %+v", f.daily.calls)
	}

	// Changing the delivery time later does not send another one.
	f.router.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    cbMenuTime,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}},
	}})
	if got := f.say(1, "09:30"); !strings.Contains(got, "09:30") {
		t.Fatalf("delivery edit reply = %q", got)
	}
	if len(f.daily.calls) != 1 {
		t.Fatalf("first forecast sent again: %+v", f.daily.calls)
	}

	if got := f.say(1, "/start"); !strings.Contains(got, "Welcome back") {
		t.Fatalf("returning start = %q", got)
	}
}

func TestOnboardingDateOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.charts.err = astro.ErrEphemerisUnavailable
	f.say(1, "/start")
	f.say(1, "Ivan")
	f.say(1, "01.01.1700")
	f.say(1, "Moscow")
	if got := f.say(1, "unknown"); got != dateOutOfRangeText {
		t.Fatalf("reply = %q", got)
	}
	if f.router.step(1) != stepBirthDate {
		t.Fatalf("step = %q, want birth date again", f.router.step(1))
	}
}

func TestStartWithReferralCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.say(10, "/start")
	f.say(20, "/start u10")

	ref, _ := f.repo.GetUser(ctx, 10)
	if ref.ReferralCount != 1 || ref.SubscriptionExpiry == nil {
		t.Fatalf("referrer after redeem: count=%d expiry=%v", ref.ReferralCount, ref.SubscriptionExpiry)
	}
	if got := f.bot.lastText(10); got != newReferralText {
		t.Fatalf("referrer notification = %q", got)
	}
	// Repeated and self referrals change nothing.
	f.say(20, "/start u10")
	f.say(10, "/start u10")
	ref, _ = f.repo.GetUser(ctx, 10)
	if ref.ReferralCount != 1 {
		t.Fatalf("referral count = %d", ref.ReferralCount)
	}
}

func TestPauseResumeAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.say(1, "/start")
	f.say(1, "/pause")
	u, _ := f.repo.GetUser(ctx, 1)
	if u.Enabled {
		t.Fatal("pause did not disable")
	}
	if got := f.say(1, "/status"); !strings.Contains(got, "Paused") {
		t.Fatalf("status = %q", got)
	}
	f.say(1, "/resume")
	u, _ = f.repo.GetUser(ctx, 1)
	if !u.Enabled {
		t.Fatal("resume did not enable")
	}
}

func TestTimezoneCallback(t *testing.T) {
	f := newFixture(t)
	f.say(1, "/start")
	f.router.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    cbTZPrefix + "Asia/Tokyo",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}},
	}})
	u, _ := f.repo.GetUser(context.Background(), 1)
	if u.TZ != "Asia/Tokyo" {
		t.Fatalf("tz = %q", u.TZ)
	}
}

func TestSuccessfulPaymentAppliedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.say(5, "/start")

	upd := tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 5},
		Chat: &tgbotapi.Chat{ID: 5},
		SuccessfulPayment: &tgbotapi.SuccessfulPayment{
			Currency:                "XTR",
			TotalAmount:             100,
			InvoicePayload:          invoicePayload,
			TelegramPaymentChargeID: "charge-1",
		},
	}}
	f.router.HandleUpdate(ctx, upd)
	f.router.HandleUpdate(ctx, upd)

	u, _ := f.repo.GetUser(ctx, 5)
	want := f.router.now().Add(30 * 24 * time.Hour)
	if !u.EverPaid || u.SubscriptionExpiry == nil || !u.SubscriptionExpiry.Equal(want) {
		t.Fatalf("after payment: everPaid=%v expiry=%v want %v", u.EverPaid, u.SubscriptionExpiry, want)
	}
}

func TestPreCheckoutValidatesInvoice(t *testing.T) {
	f := newFixture(t)
	for _, tt := range []struct {
		amount int
		ok     bool
	}{{100, true}, {1, false}} {
		f.router.HandleUpdate(context.Background(), tgbotapi.Update{PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{
			ID: "q", Currency: "XTR", TotalAmount: tt.amount, InvoicePayload: invoicePayload,
		}})
		last := f.bot.requests[len(f.bot.requests)-1].(tgbotapi.PreCheckoutConfig)
		if last.OK != tt.ok {
			t.Fatalf("amount %d: OK = %v, want %v", tt.amount, last.OK, tt.ok)
		}
	}
}

func TestSubscribeSendsInvoice(t *testing.T) {
	f := newFixture(t)
	f.say(5, "/subscribe")
	inv, ok := f.bot.sent[len(f.bot.sent)-1].(tgbotapi.InvoiceConfig)
	if !ok {
		t.Fatalf("last sent is %T, want InvoiceConfig", f.bot.sent[len(f.bot.sent)-1])
	}
	if inv.Currency != "XTR" || inv.Prices[0].Amount != 100 || inv.SuggestedTipAmounts == nil {
		t.Fatalf("invoice = %+v", inv)
	}
}

func TestAdminCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.say(7, "/start")

	if got := f.say(7, "/suspend 7"); got != unknownCommandText {
		t.Fatalf("non-admin suspend reply = %q", got)
	}
	f.say(adminID, "/suspend 7")
	u, _ := f.repo.GetUser(ctx, 7)
	if !u.Suspended {
		t.Fatal("admin suspend did not apply")
	}
	f.say(adminID, "/unsuspend 7")
	u, _ = f.repo.GetUser(ctx, 7)
	if u.Suspended {
		t.Fatal("admin unsuspend did not apply")
	}

	f.say(adminID, "/broadcast Hello everyone")
	f.say(adminID, "/broadcast_daily paid")
	f.router.Wait()
	if len(f.bc.got) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(f.bc.got))
	}
	var text, daily bool
	for _, req := range f.bc.got {
		if req.Text == "Hello everyone" && !req.UseDaily {
			text = true
		}
		if req.UseDaily && req.Target == dispatch.TargetPaid {
			daily = true
		}
	}
	if !text || !daily {
		t.Fatalf("unexpected requests: %+v", f.bc.got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestSinkClassifiesErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  delivery.Reason
		after time.Duration
	}{
		{"blocked", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}, delivery.Blocked, 0},
		{"chat not found", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, delivery.Blocked, 0},
		{"rate limited", &tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}}, delivery.RateLimited, 3 * time.Second},
		{"server", &tgbotapi.Error{Code: 502}, delivery.NetworkError, 0},
		{"bad request", &tgbotapi.Error{Code: 400, Message: "Bad Request: message is too long"}, delivery.Unknown, 0},
		{"network", timeoutErr{}, delivery.NetworkError, 0},
		{"other", errors.New("boom"), delivery.Unknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.bot.sendErr = tt.err
			err := NewSink(f.bot).Send(context.Background(), 1, "hi")
			var fail *delivery.Failure
			if !errors.As(err, &fail) {
				t.Fatalf("Send err = %v, want *delivery.Failure", err)
			}
			if fail.Reason != tt.want || fail.RetryAfter != tt.after {
				t.Fatalf("failure = %+v, want %s after %v", fail, tt.want, tt.after)
			}
		})
	}

	f := newFixture(t)
	if err := NewSink(f.bot).Send(context.Background(), 1, "hi"); err != nil {
		t.Fatalf("Send ok err = %v", err)
	}
}
