// Package clock provides a timezone-aware market-hours predicate for the
// markets TickerPulse tracks. It deliberately does not model holiday
// calendars or early-close rules — only the weekday trading window.
package clock

import "time"

// Market identifies one of the markets TickerPulse tracks prices for.
type Market string

const (
	US    Market = "US"
	India Market = "India"
)

// TradingWindow is a market's regular, timezone-local trading session.
type TradingWindow struct {
	Timezone    *time.Location
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

var windows = map[Market]TradingWindow{
	US: {
		Timezone:    mustLoadLocation("America/New_York"),
		OpenHour:    9,
		OpenMinute:  30,
		CloseHour:   16,
		CloseMinute: 0,
	},
	India: {
		Timezone:    mustLoadLocation("Asia/Kolkata"),
		OpenHour:    9,
		OpenMinute:  15,
		CloseHour:   15,
		CloseMinute: 30,
	},
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// Falls back to UTC rather than panicking at init — a stripped-down
		// tzdata build (common in slim container images) shouldn't crash
		// the process, just degrade the predicate.
		return time.UTC
	}
	return loc
}

// IsMarketHours reports whether at falls within market's regular weekday
// trading window, evaluated in the market's local timezone. Unknown markets
// are always closed.
func IsMarketHours(market Market, at time.Time) bool {
	w, ok := windows[market]
	if !ok {
		return false
	}

	local := at.In(w.Timezone)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}

	open := time.Date(local.Year(), local.Month(), local.Day(), w.OpenHour, w.OpenMinute, 0, 0, w.Timezone)
	close := time.Date(local.Year(), local.Month(), local.Day(), w.CloseHour, w.CloseMinute, 0, 0, w.Timezone)

	return !local.Before(open) && local.Before(close)
}

// Window returns the trading window for market and whether it is known.
func Window(market Market) (TradingWindow, bool) {
	w, ok := windows[market]
	return w, ok
}
