package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/thedetect/UTB2/internal/astro"
	"github.com/thedetect/UTB2/internal/dispatch"
	"github.com/thedetect/UTB2/internal/domain"
	"github.com/thedetect/UTB2/internal/referral"
	"github.com/thedetect/UTB2/internal/store"
)

func (r *Router) ensureUser(ctx context.Context, chatID int64) (*domain.User, error) {
	u, _, err := r.deps.Repo.EnsureUser(ctx, chatID, r.opts.DefaultTZ, r.now())
	return u, err
}

// --- Core commands ---

func (r *Router) handleStart(ctx context.Context, chatID int64, payload string) {
	u, created, err := r.deps.Repo.EnsureUser(ctx, chatID, r.opts.DefaultTZ, r.now())
	if err != nil {
		r.log.Error("ensure user failed", zap.Int64("user_id", chatID), zap.Error(err))
		r.sendText(chatID, profileErrorText)
		return
	}
	if payload != "" && r.deps.Referrals != nil {
		r.redeem(ctx, chatID, payload)
	}
	if created {
		r.log.Info("user registered", zap.Int64("user_id", chatID))
	}

	if u.HasChart() && u.HasDeliveryTime() {
		r.clearSession(chatID)
		r.sendWithMarkup(chatID, fmt.Sprintf(welcomeBackText, u.DisplayName()), mainMenuKeyboard(u.Enabled))
		return
	}
	r.setStep(chatID, stepName)
	r.sendText(chatID, startText)
}

func (r *Router) redeem(ctx context.Context, chatID int64, code string) {
	referrerID, err := r.deps.Referrals.Redeem(ctx, chatID, code, r.now())
	switch {
	case err == nil:
		r.sendText(referrerID, newReferralText)
	case errors.Is(err, store.ErrAlreadyReferred), errors.Is(err, store.ErrSelfReferral), errors.Is(err, store.ErrNotFound):
		r.log.Debug("referral ignored", zap.Int64("user_id", chatID), zap.String("code", code), zap.Error(err))
	default:
		r.log.Error("referral failed", zap.Int64("user_id", chatID), zap.Error(err))
	}
}

func (r *Router) handleMenu(ctx context.Context, chatID int64) {
	if _, err := r.ensureUser(ctx, chatID); err != nil {
		r.log.Error("ensure user failed", zap.Error(err))
		r.sendText(chatID, profileErrorText)
		return
	}
	r.sendWithMarkup(chatID, menuText, menuInlineKeyboard())
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensure user failed", zap.Error(err))
		r.sendText(chatID, profileErrorText)
		return
	}
	now := r.now()

	birth := "—"
	if u.Birth != nil {
		bt := "unknown"
		if u.Birth.TimeKnown {
			bt = domain.FormatMinutes(u.Birth.Minute)
		}
		birth = fmt.Sprintf("%s %s, %s", domain.FormatBirthDate(u.Birth.Date), bt, u.Birth.Place)
	}
	enabled := "✅ Enabled"
	if !u.Enabled {
		enabled = "⏸ Paused"
	}
	next := "—"
	if at, ok := domain.NextDelivery(u, now); ok {
		if s, err := domain.LocalizeTime(at, u.TZ); err == nil {
			next = s
		}
	}
	d := r.deps.Entitlement.Evaluate(u, now)
	plan := string(d.Tier)
	switch {
	case u.LifetimeFree:
		plan += " (lifetime)"
	case u.SubscriptionExpiry != nil && u.SubscriptionExpiry.After(now):
		if s, err := domain.LocalizeTime(*u.SubscriptionExpiry, u.TZ); err == nil {
			plan += " until " + s
		}
	}

	body := fmt.Sprintf("%s\n\n"+statusFmt,
		statusTitle,
		u.DisplayName(),
		birth,
		domain.FormatMinutes(u.DeliveryMinute),
		u.TZ,
		enabled,
		next,
		plan,
	)
	r.sendWithMarkup(chatID, body, mainMenuKeyboard(u.Enabled))
}

// --- Onboarding and edits ---

func (r *Router) handleFreeForm(ctx context.Context, chatID int64, text string) {
	switch r.step(chatID) {
	case stepName:
		r.onName(ctx, chatID, text)
	case stepBirthDate:
		r.onBirthDate(chatID, text)
	case stepBirthPlace:
		r.onBirthPlace(chatID, text)
	case stepBirthTime:
		r.onBirthTime(ctx, chatID, text)
	case stepDeliveryTime:
		r.onDeliveryTime(ctx, chatID, text)
	case stepTZ:
		r.clearSession(chatID)
		r.handleTZChoice(ctx, chatID, text)
	default:
		r.sendText(chatID, hintText)
	}
}

func (r *Router) onName(ctx context.Context, chatID int64, text string) {
	name, err := domain.NormalizeName(text)
	if err != nil {
		r.sendText(chatID, badNameText)
		return
	}
	if err := r.deps.Repo.SetName(ctx, chatID, name); err != nil {
		r.log.Error("save name failed", zap.Int64("user_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	r.setStep(chatID, stepBirthDate)
	r.sendText(chatID, fmt.Sprintf(askBirthDateNamedText, name))
}

func (r *Router) onBirthDate(chatID int64, text string) {
	d, err := domain.ParseBirthDate(text, r.now())
	if err != nil {
		r.sendText(chatID, badBirthDateText)
		return
	}
	s := r.session(chatID)
	r.mu.Lock()
	s.birthDate = d
	s.step = stepBirthPlace
	r.mu.Unlock()
	r.sendText(chatID, askBirthPlaceText)
}

func (r *Router) onBirthPlace(chatID int64, text string) {
	p, err := r.deps.Places.Resolve(text)
	if err != nil {
		r.sendText(chatID, badPlaceText)
		return
	}
	s := r.session(chatID)
	r.mu.Lock()
	s.place = p
	s.step = stepBirthTime
	r.mu.Unlock()
	r.sendText(chatID, fmt.Sprintf(askBirthTimeText, p.Name))
}

func (r *Router) onBirthTime(ctx context.Context, chatID int64, text string) {
	minute, known, err := domain.ParseBirthTime(text)
	if err != nil {
		r.sendText(chatID, badBirthTimeText)
		return
	}
	s := r.session(chatID)
	r.mu.Lock()
	b := domain.BirthData{
		Date:      s.birthDate,
		Minute:    minute,
		TimeKnown: known,
		Place:     s.place.Name,
		Lat:       s.place.Lat,
		Lon:       s.place.Lon,
		TZ:        s.place.TZ,
	}
	r.mu.Unlock()

	chart, err := r.deps.Charts.BuildChart(ctx, b)
	switch {
	case errors.Is(err, astro.ErrEphemerisUnavailable):
		r.setStep(chatID, stepBirthDate)
		r.sendText(chatID, dateOutOfRangeText)
		return
	case errors.Is(err, astro.ErrInvalidBirthLocation):
		r.setStep(chatID, stepBirthPlace)
		r.sendText(chatID, badPlaceText)
		return
	case err != nil:
		r.log.Error("build chart failed", zap.Int64("user_id", chatID), zap.Error(err))
		r.sendText(chatID, chartErrorText)
		return
	}

	if err := r.deps.Repo.SaveBirthData(ctx, chatID, b, chart, r.now()); err != nil {
		r.log.Error("save birth data failed", zap.Int64("user_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	r.log.Info("natal chart saved", zap.Int64("user_id", chatID), zap.Int("bodies", len(chart)))

	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensure user failed", zap.Error(err))
		r.sendText(chatID, profileErrorText)
		return
	}
	if u.HasDeliveryTime() {
		r.clearSession(chatID)
		r.sendWithMarkup(chatID, chartUpdatedText, mainMenuKeyboard(u.Enabled))
		return
	}
	// First onboarding: schedule in the birth place zone until changed.
	if err := r.deps.Repo.SetTimezone(ctx, chatID, b.TZ); err != nil {
		r.log.Warn("set timezone failed", zap.Int64("user_id", chatID), zap.Error(err))
	}
	s = r.session(chatID)
	r.mu.Lock()
	s.step = stepDeliveryTime
	s.onboarding = true
	r.mu.Unlock()
	r.sendText(chatID, askDeliveryTimeText)
}

func (r *Router) onDeliveryTime(ctx context.Context, chatID int64, text string) {
	minute, err := domain.ParseClock(text)
	if err != nil {
		r.sendText(chatID, badClockText)
		return
	}
	if err := r.deps.Repo.SetDeliveryTime(ctx, chatID, minute); err != nil {
		r.log.Error("save delivery time failed", zap.Int64("user_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	s := r.session(chatID)
	r.mu.Lock()
	first := s.onboarding
	r.mu.Unlock()
	r.clearSession(chatID)
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.sendText(chatID, profileErrorText)
		return
	}
	r.sendWithMarkup(chatID, fmt.Sprintf(deliveryTimeSetText, domain.FormatMinutes(minute), u.TZ), mainMenuKeyboard(u.Enabled))
	if first {
		r.sendFirstForecast(ctx, u)
	}
}

// sendFirstForecast delivers today's message right after onboarding. It
// goes through the per-date claim, so the scheduler does not repeat it today.
func (r *Router) sendFirstForecast(ctx context.Context, u *domain.User) {
	if r.deps.Daily == nil {
		return
	}
	now := r.now()
	localDate := domain.LocalDate(now, u.TZ)
	res, err := r.deps.Daily.Dispatch(ctx, u, localDate, now)
	if err != nil {
		r.log.Error("first forecast failed", zap.Int64("user_id", u.ID), zap.Error(err))
		return
	}
	r.log.Info("first forecast", zap.Int64("user_id", u.ID),
		zap.String("local_date", localDate), zap.String("outcome", string(res.Outcome)))
}

// --- Timezone ---

func (r *Router) askTZPresets(chatID int64) {
	r.setStep(chatID, stepTZ)
	r.sendWithMarkup(chatID, askTZText, tzPresetsKeyboard())
}

func (r *Router) handleTZChoice(ctx context.Context, chatID int64, value string) {
	tz, err := domain.ValidateTZ(value)
	if err != nil {
		r.sendText(chatID, badTZText)
		return
	}
	r.clearSession(chatID)
	if err := r.deps.Repo.SetTimezone(ctx, chatID, tz); err != nil {
		r.log.Error("save timezone failed", zap.Int64("user_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	r.sendText(chatID, "Timezone updated: "+tz)
}

// --- Referrals ---

func (r *Router) handleReferral(ctx context.Context, chatID int64) {
	code, err := r.deps.Referrals.EnsureCode(ctx, chatID)
	if err != nil {
		r.log.Error("referral code failed", zap.Int64("user_id", chatID), zap.Error(err))
		r.sendText(chatID, profileErrorText)
		return
	}
	st, err := r.deps.Referrals.Stats(ctx, chatID)
	if err != nil {
		r.log.Error("referral stats failed", zap.Int64("user_id", chatID), zap.Error(err))
		r.sendText(chatID, profileErrorText)
		return
	}
	body := fmt.Sprintf(referralFmt, referral.Link(r.opts.BotUsername, code), st.Invited, st.PaidInvited, st.Rewards)
	if st.NextRewardAt > 0 {
		body += fmt.Sprintf(referralNextFmt, st.NextRewardAt)
	}
	r.sendText(chatID, body)
}

// --- Pause / Resume ---

func (r *Router) handlePause(ctx context.Context, chatID int64) {
	if err := r.deps.Repo.SetEnabled(ctx, chatID, false); err != nil {
		r.log.Error("pause failed", zap.Error(err))
		r.sendText(chatID, "Failed to pause.")
		return
	}
	r.sendWithMarkup(chatID, "Paused ⏸", mainMenuKeyboard(false))
}

func (r *Router) handleResume(ctx context.Context, chatID int64) {
	if err := r.deps.Repo.SetEnabled(ctx, chatID, true); err != nil {
		r.log.Error("resume failed", zap.Error(err))
		r.sendText(chatID, "Failed to resume.")
		return
	}
	r.sendWithMarkup(chatID, "Resumed ✅", mainMenuKeyboard(true))
}

// --- Operator commands ---

func (r *Router) handleAdmin(ctx context.Context, chatID int64, cmd, args string) {
	switch cmd {
	case "broadcast":
		if args == "" {
			r.sendText(chatID, "Usage: /broadcast <text>")
			return
		}
		r.startBroadcast(ctx, chatID, textRequest(args))
	case "broadcast_daily":
		req, err := dailyRequest(args)
		if err != nil {
			r.sendText(chatID, "Usage: /broadcast_daily [all|free|paid]")
			return
		}
		r.startBroadcast(ctx, chatID, req)
	case "suspend", "unsuspend":
		id, err := parseUserID(args)
		if err != nil {
			r.sendText(chatID, "Usage: /"+cmd+" <user id>")
			return
		}
		if err := r.deps.Repo.SetSuspended(ctx, id, cmd == "suspend"); err != nil {
			r.log.Error("suspend failed", zap.Int64("user_id", id), zap.Error(err))
			r.sendText(chatID, "Failed: "+err.Error())
			return
		}
		r.log.Info("suspension changed", zap.Int64("user_id", id), zap.Bool("suspended", cmd == "suspend"))
		r.sendText(chatID, fmt.Sprintf("User %d %sed.", id, cmd))
	}
}

func (r *Router) startBroadcast(ctx context.Context, chatID int64, req dispatch.BroadcastRequest) {
	r.sendText(chatID, "Broadcast started.")
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		rep, err := r.deps.Broadcaster.Broadcast(ctx, req)
		body := fmt.Sprintf(broadcastReportFmt, rep.RunID, rep.Sent, rep.Skipped, rep.Failed)
		if err != nil {
			r.log.Error("broadcast failed", zap.String("run_id", rep.RunID), zap.Error(err))
			body += "\nError: " + err.Error()
		}
		r.sendText(chatID, strings.TrimSpace(body))
	}()
}
