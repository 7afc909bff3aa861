package markethours

import "time"

type monthDay struct {
	month time.Month
	day   int
}

// NSE trading holidays for 2026, per the exchange's published list.
// Dates marked tentative follow the lunar calendar and may shift.
var nseHolidays2026 = []monthDay{
	{time.January, 26},  // Republic Day
	{time.February, 17}, // Mahashivratri (tentative)
	{time.March, 14},    // Holi
	{time.March, 31},    // Id-ul-Fitr (Eid) (tentative)
	{time.April, 2},     // Ram Navami (tentative)
	{time.April, 6},     // Mahavir Jayanti
	{time.April, 10},    // Good Friday
	{time.April, 14},    // Dr. Ambedkar Jayanti
	{time.May, 1},       // Maharashtra Day
	{time.June, 7},      // Bakrid / Eid ul-Adha (tentative)
	{time.July, 6},      // Muharram (tentative)
	{time.August, 15},   // Independence Day
	{time.August, 16},   // Janmashtami (tentative)
	{time.September, 5}, // Milad-un-Nabi (tentative)
	{time.October, 2},   // Mahatma Gandhi Jayanti
	{time.October, 20},  // Dussehra
	{time.October, 21},  // Dussehra (tentative)
	{time.November, 5},  // Diwali / Lakshmi Puja (tentative)
	{time.November, 6},  // Diwali Balipratipada (tentative)
	{time.November, 7},  // Bhai Dooj (tentative)
	{time.November, 19}, // Guru Nanak Jayanti
	{time.December, 25}, // Christmas
}

var holidaySet = func() map[monthDay]bool {
	set := make(map[monthDay]bool, len(nseHolidays2026))
	for _, h := range nseHolidays2026 {
		set[h] = true
	}
	return set
}()

// IsHoliday reports whether the IST calendar date of t is an NSE
// holiday. Only 2026 is tabulated; other years fall through to false.
func IsHoliday(t time.Time) bool {
	ist := t.In(IST)
	if ist.Year() != 2026 {
		return false
	}
	return holidaySet[monthDay{ist.Month(), ist.Day()}]
}
