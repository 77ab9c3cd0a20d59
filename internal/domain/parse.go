package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	ErrInvalidClock     = errors.New("invalid time of day")
	ErrInvalidBirthDate = errors.New("invalid birth date")
	ErrEmptyName        = errors.New("empty name")
)

const birthDateLayout = "02.01.2006"

const maxNameLen = 64

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: expected HH:MM", ErrInvalidClock)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: invalid hour", ErrInvalidClock)
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: invalid minute", ErrInvalidClock)
	}
	return h*60 + m, nil
}

// ParseBirthTime accepts "HH:MM" or an explicit "unknown" answer.
// Unknown birth times resolve to local noon with known=false.
func ParseBirthTime(s string) (minute int, known bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unknown", "?", "-", "—", "не знаю":
		return 12 * 60, false, nil
	}
	minute, err = ParseClock(s)
	if err != nil {
		return 0, false, err
	}
	return minute, true, nil
}

// ParseBirthDate parses "DD.MM.YYYY" and rejects dates in the future relative to now.
func ParseBirthDate(s string, now time.Time) (time.Time, error) {
	d, err := time.Parse(birthDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expected DD.MM.YYYY", ErrInvalidBirthDate)
	}
	if d.After(now) {
		return time.Time{}, fmt.Errorf("%w: date is in the future", ErrInvalidBirthDate)
	}
	return d, nil
}

// FormatBirthDate renders a birth date the way it is entered.
func FormatBirthDate(d time.Time) string {
	return d.Format(birthDateLayout)
}

// NormalizeName trims the input, capitalizes words and caps the length.
func NormalizeName(s string) (string, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", ErrEmptyName
	}
	for i, f := range fields {
		r := []rune(strings.ToLower(f))
		r[0] = unicode.ToUpper(r[0])
		fields[i] = string(r)
	}
	name := []rune(strings.Join(fields, " "))
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return string(name), nil
}

// ValidateTZ checks that the tz is a valid IANA location.
func ValidateTZ(tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return "", errors.New("empty timezone")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}

// FormatMinutes returns HH:MM for minutes since midnight (00:00..23:59).
func FormatMinutes(mins int) string {
	if mins < 0 {
		return "—"
	}
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// LocalizeTime formats t in the given timezone as "02.01.2006 15:04".
func LocalizeTime(t time.Time, tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return t.In(loc).Format("02.01.2006 15:04"), nil
}
