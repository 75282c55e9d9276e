// Package markethours answers NYSE regular-session questions.
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata" // America/New_York without relying on the host zoneinfo
)

// NewYork is the exchange time zone.
var NewYork = mustLoad("America/New_York")

// Regular session in exchange time.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0

	// Cache warming starts this many minutes before the open.
	PreOpenMinutesBefore = 15
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("markethours: load %s: %v", name, err))
	}
	return loc
}

// IsMarketOpen returns true if t falls within NYSE regular hours
// (9:30 AM – 4:00 PM ET, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	et := t.In(NewYork)
	if !IsTradingDay(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri in exchange time.
func IsWeekday(t time.Time) bool {
	wd := t.In(NewYork).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	et := t.In(NewYork)
	return IsWeekday(et) && !IsHoliday(et)
}

// InWarmWindow reports whether t is inside the session or the pre-open
// warm-up window of a trading day.
func InWarmWindow(t time.Time) bool {
	if IsMarketOpen(t) {
		return true
	}
	et := t.In(NewYork)
	if !IsTradingDay(et) {
		return false
	}
	open := todayOpen(et)
	return !et.Before(open.Add(-PreOpenMinutesBefore*time.Minute)) && et.Before(open)
}

func todayOpen(et time.Time) time.Time {
	return time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, NewYork)
}

// NextOpen returns the next session open. If t is before today's open on a
// trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	et := t.In(NewYork)

	open := todayOpen(et)
	if et.Before(open) && IsTradingDay(et) {
		return open
	}

	d := et.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // weekends plus the longest holiday run
		if IsTradingDay(d) {
			return todayOpen(d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return todayOpen(et.AddDate(0, 0, 1))
}

// TodayClose returns today's close (4:00 PM ET).
func TodayClose(t time.Time) time.Time {
	et := t.In(NewYork)
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, CloseMinute, 0, 0, NewYork)
}

// TimeUntilClose returns the duration until today's close, or 0 once
// closed.
func TimeUntilClose(t time.Time) time.Duration {
	d := TodayClose(t).Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	et := next.In(NewYork)
	return fmt.Sprintf("Market Closed, opens %s %s ET (%s)",
		et.Weekday().String()[:3], et.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
