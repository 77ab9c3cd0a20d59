package domain

import "time"

// Tier is the stored subscription tier of a profile.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// NoDeliveryTime marks a profile that has not picked a delivery time yet.
const NoDeliveryTime = -1

// Chart maps a body name to its natal ecliptic longitude in degrees.
type Chart map[string]float64

// BirthData is the natal input collected by the onboarding flow.
type BirthData struct {
	Date      time.Time // calendar date, only Y/M/D are meaningful
	Minute    int       // minutes from midnight (0..1439), local birth time
	TimeKnown bool      // false: birth time unknown, local noon is used
	Place     string    // label as entered or resolved
	Lat       float64
	Lon       float64
	TZ        string // IANA zone of the birth place
}

// User is one end user profile.
type User struct {
	ID   int64 // Telegram chat id
	Name string

	Birth           *BirthData // nil until onboarding is complete
	Chart           Chart      // cached natal chart, nil until computed
	ChartComputedAt *time.Time

	DeliveryMinute int    // minutes from midnight, NoDeliveryTime if unset
	TZ             string // current IANA zone used for scheduling
	Enabled        bool

	ReferralCode  string
	ReferredBy    string // referral code of the referrer, empty if none
	ReferralCount int

	Tier               Tier
	SubscriptionExpiry *time.Time // UTC, nil = no active paid term
	LifetimeFree       bool
	EverPaid           bool
	Suspended          bool

	LastDispatchedDate string // YYYY-MM-DD in TZ, empty if never dispatched

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasChart reports whether a natal chart is available for dispatch.
func (u *User) HasChart() bool {
	return len(u.Chart) > 0
}

// HasDeliveryTime reports whether the user picked a daily delivery time.
func (u *User) HasDeliveryTime() bool {
	return u.DeliveryMinute >= 0 && u.DeliveryMinute < 24*60
}

// DisplayName returns the name used in greetings.
func (u *User) DisplayName() string {
	if u.Name == "" {
		return "friend"
	}
	return u.Name
}
