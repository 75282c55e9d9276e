package markethours

import "time"

// NYSE full-day closures, observed dates.
var nyseHolidays = []struct {
	year  int
	month time.Month
	day   int
}{
	{2026, time.January, 1},   // New Year's Day
	{2026, time.January, 19},  // Martin Luther King Jr. Day
	{2026, time.February, 16}, // Washington's Birthday
	{2026, time.April, 3},     // Good Friday
	{2026, time.May, 25},      // Memorial Day
	{2026, time.June, 19},     // Juneteenth
	{2026, time.July, 3},      // Independence Day (observed)
	{2026, time.September, 7}, // Labor Day
	{2026, time.November, 26}, // Thanksgiving
	{2026, time.December, 25}, // Christmas

	{2027, time.January, 1},
	{2027, time.January, 18},
	{2027, time.February, 15},
	{2027, time.March, 26},
	{2027, time.May, 31},
	{2027, time.June, 18}, // observed
	{2027, time.July, 5},  // observed
	{2027, time.September, 6},
	{2027, time.November, 25},
	{2027, time.December, 24}, // observed
}

var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, len(nyseHolidays))
	for _, h := range nyseHolidays {
		holidaySet[dateKey(h.year, h.month, h.day)] = true
	}
}

// IsHoliday returns true if the date (in exchange time) is an NYSE holiday.
func IsHoliday(t time.Time) bool {
	et := t.In(NewYork)
	return holidaySet[dateKey(et.Year(), et.Month(), et.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}
