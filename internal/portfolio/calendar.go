package portfolio

import "time"

// AnnualDays is the trading-day count used to annualize time to expiry.
const AnnualDays = 240

// marketHolidays lists US market closures. One calendar serves every
// contract; per-exchange calendars are out of scope.
var marketHolidays = map[string]struct{}{
	// 2025
	"2025-01-01": {}, "2025-01-20": {}, "2025-02-17": {}, "2025-04-18": {},
	"2025-05-26": {}, "2025-06-19": {}, "2025-07-04": {}, "2025-09-01": {},
	"2025-11-27": {}, "2025-12-25": {},
	// 2026
	"2026-01-01": {}, "2026-01-19": {}, "2026-02-16": {}, "2026-04-03": {},
	"2026-05-25": {}, "2026-06-19": {}, "2026-07-03": {}, "2026-09-07": {},
	"2026-11-26": {}, "2026-12-25": {},
	// 2027
	"2027-01-01": {}, "2027-01-18": {}, "2027-02-15": {}, "2027-03-26": {},
	"2027-05-31": {}, "2027-06-18": {}, "2027-07-05": {}, "2027-09-06": {},
	"2027-11-25": {}, "2027-12-24": {},
}

// IsTradingDay reports whether the market is open on the given date.
func IsTradingDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := marketHolidays[d.Format("2006-01-02")]
	return !holiday
}

// TradingDaysUntil counts trading days from now through expiry, inclusive
// of the expiry date. The current day always counts as one, so an option
// expiring today has one trading day left. Past expiries return zero.
func TradingDaysUntil(now, expiry time.Time) int {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, now.Location())
	if end.Before(day) {
		return 0
	}
	days := 1
	for d := day.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days++
		}
	}
	return days
}
