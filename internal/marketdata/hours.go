package marketdata

import "time"

// USMarketOpen reports whether the US stock market is in its regular
// session, approximated as Mon-Fri 13:30-21:00 UTC. Crypto and
// prediction markets trade around the clock and are not gated.
func USMarketOpen(now time.Time) bool {
	now = now.UTC()
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= 13*60+30 && minutes <= 21*60
}
