// Package markethours answers session-calendar questions for NSE:
// whether the market is open, when the next session starts, and when
// the feed should connect relative to the bell.
package markethours

import (
	"fmt"
	"time"
)

// IST is Indian Standard Time (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30

	// Connect the feed a minute before the bell so the first traded
	// tick is never missed.
	WSConnectMinutesBefore = 1
)

// sessionOpen and sessionClose are minutes past midnight IST.
const (
	sessionOpen  = OpenHour*60 + OpenMinute
	sessionClose = CloseHour*60 + CloseMinute
)

// IsWeekday reports whether t falls Mon–Fri in IST.
func IsWeekday(t time.Time) bool {
	switch t.In(IST).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// IsTradingDay reports whether t is a weekday that is not an exchange
// holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !IsHoliday(ist)
}

// IsMarketOpen reports whether t falls inside the 9:15–15:30 IST
// session on a trading day.
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	minute := ist.Hour()*60 + ist.Minute()
	return minute >= sessionOpen && minute < sessionClose
}

// openOn returns the 9:15 bell on the calendar day of t.
func openOn(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
}

// NextOpen returns the first bell at or after t: today's open when t
// is a trading-day morning, otherwise the open of the next trading day.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	if IsTradingDay(ist) && ist.Before(openOn(ist)) {
		return openOn(ist)
	}
	day := ist
	for i := 0; i < 10; i++ { // long weekends plus clustered holidays
		day = day.AddDate(0, 0, 1)
		if IsTradingDay(day) {
			return openOn(day)
		}
	}
	return openOn(ist.AddDate(0, 0, 1))
}

// WSConnectTime returns when the feed should dial for a session
// opening at openTime.
func WSConnectTime(openTime time.Time) time.Time {
	return openTime.Add(-WSConnectMinutesBefore * time.Minute)
}

// TodayClose returns the 15:30 bell on the calendar day of t.
func TodayClose(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}

// TimeUntilClose returns how long until today's close, or zero once
// the session is over.
func TimeUntilClose(t time.Time) time.Duration {
	if d := TodayClose(t).Sub(t.In(IST)); d > 0 {
		return d
	}
	return 0
}

// StatusString renders the session state for the terminal status bar.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open — closes in %s", humanDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	ist := next.In(IST)
	return fmt.Sprintf("Market Closed — opens %s %s (%s)",
		ist.Weekday().String()[:3], ist.Format("15:04"), humanDur(next.Sub(t)))
}

func humanDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
