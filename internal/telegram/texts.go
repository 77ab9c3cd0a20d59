package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// UI texts in English
const (
	startText = "✨ Hi! I send one personal astro forecast every morning, " +
		"based on your natal chart and today's sky.\n\n" +
		"Let's get acquainted. What is your name?"
	welcomeBackText       = "Welcome back, %s! Your daily forecast is set up."
	askBirthDateNamedText = "Nice to meet you, %s! Your birth date (DD.MM.YYYY)?"
	askBirthDateText      = "Your birth date (DD.MM.YYYY)?"
	askBirthPlaceText     = "Where were you born? A city name, or \"lat, lon, Region/City\" (e.g. 55.75, 37.62, Europe/Moscow)."
	askBirthTimeText      = "%s, got it. Birth time (HH:MM)? Send \"unknown\" if you don't know it."
	askDeliveryTimeText   = "When should I send your daily forecast? Local time, HH:MM (e.g. 08:00)."
	askTZText             = "Choose a timezone or enter your own (Region/City):"
	deliveryTimeSetText   = "Done! Forecasts will arrive daily at %s (%s). Use /menu to change settings."
	chartUpdatedText      = "Birth data updated, your natal chart was recalculated."

	badNameText        = "Please send your name as text."
	badBirthDateText   = "Invalid date. Example: 27.11.1997"
	badPlaceText       = "I don't know this place. Try a larger city nearby or \"lat, lon, Region/City\"."
	badBirthTimeText   = "Invalid time. Example: 18:25, or \"unknown\"."
	badClockText       = "Invalid time. Example: 08:00"
	badTZText          = "Invalid timezone. Example: Europe/Moscow"
	dateOutOfRangeText = "Sorry, I can only compute charts for dates between 1800 and 2050. Please send your birth date again."
	chartErrorText     = "Could not compute your chart right now. Please send your birth time again in a minute."

	profileErrorText   = "Profile error. Please try again later."
	saveErrorText      = "Could not save, please try again."
	hintText           = "Use /menu for settings or /status to see your profile."
	cancelledText      = "Cancelled."
	unknownCommandText = "Unknown command. Try /menu."
	newReferralText    = "🎉 Someone joined with your referral link!"

	menuText    = "⚙️ Settings"
	statusTitle = "🧾 Your profile:"
	statusFmt   = "• Name: %s\n• Birth: %s\n• Delivery time: %s\n• TZ: %s\n• Enabled: %s\n• Next: %s\n• Plan: %s\n"

	referralFmt     = "👥 Your referral link:\n%s\n\nInvited: %d\nSubscribed: %d\nRewards received: %d"
	referralNextFmt = "\nInvite %d more for the next reward."

	subscriptionTitle    = "Astro subscription"
	subscriptionDescFmt  = "Extended daily forecasts for %d days."
	paymentsDisabledText = "Payments are not configured."
	paymentErrorText     = "Payment could not be processed. Please try again later."
	paymentThanksFmt     = "Thank you! Your subscription is active until %s."

	broadcastReportFmt = "Broadcast %s finished.\nSent: %d\nSkipped: %d\nFailed: %d"
)

// Callback data
const (
	cbMenuTime      = "menu:time"
	cbMenuTZ        = "menu:tz"
	cbMenuReferral  = "menu:ref"
	cbMenuSubscribe = "menu:sub"
	cbMenuBirth     = "menu:birth"
	cbTZPrefix      = "tz:"
)

// mainMenuKeyboard builds a reply keyboard with a pause/resume toggle.
func mainMenuKeyboard(enabled bool) tgbotapi.ReplyKeyboardMarkup {
	toggle := "/pause"
	if !enabled {
		toggle = "/resume"
	}
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/status"),
			tgbotapi.NewKeyboardButton("/menu"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(toggle),
		),
	)
}

func menuInlineKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🕗 Delivery time", cbMenuTime),
			tgbotapi.NewInlineKeyboardButtonData("🌍 Timezone", cbMenuTZ),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👥 Referrals", cbMenuReferral),
			tgbotapi.NewInlineKeyboardButtonData("⭐ Subscription", cbMenuSubscribe),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Birth data", cbMenuBirth),
		),
	)
}

func tzPresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Europe/Moscow", cbTZPrefix+"Europe/Moscow"),
			tgbotapi.NewInlineKeyboardButtonData("Europe/Kaliningrad", cbTZPrefix+"Europe/Kaliningrad"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Asia/Yekaterinburg", cbTZPrefix+"Asia/Yekaterinburg"),
			tgbotapi.NewInlineKeyboardButtonData("Asia/Novosibirsk", cbTZPrefix+"Asia/Novosibirsk"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Asia/Almaty", cbTZPrefix+"Asia/Almaty"),
			tgbotapi.NewInlineKeyboardButtonData("UTC", cbTZPrefix+"UTC"),
		),
	)
}
