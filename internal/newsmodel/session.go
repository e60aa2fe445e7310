package newsmodel

import "time"

// SessionWindows configures the market-time session boundaries used to
// classify a NewsItem's MarketState. Boundaries are HH:MM wall-clock
// times in the configured market timezone; the regular session runs
// premarket_end to 16:00, after-hours runs 16:00 to 20:00.
type SessionWindows struct {
	Location         *time.Location
	PreMarketStart   string // "04:00"
	PreMarketEnd     string // "09:30"
	AfterHoursEnd    string // "20:00"
}

// DefaultSessionWindows returns the standard market-hours session windows.
func DefaultSessionWindows(loc *time.Location) SessionWindows {
	return SessionWindows{
		Location:       loc,
		PreMarketStart: "04:00",
		PreMarketEnd:   "09:30",
		AfterHoursEnd:  "20:00",
	}
}

// Classify returns the MarketState for a timestamp against the configured
// session windows. The lower bound of each window is inclusive: an article
// published exactly at 09:30 is "regular".
func (w SessionWindows) Classify(t time.Time) MarketState {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)

	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return MarketStateWeekend
	}

	minutesOfDay := local.Hour()*60 + local.Minute()
	preStart := mustParseHM(w.PreMarketStart)
	preEnd := mustParseHM(w.PreMarketEnd)
	afterEnd := mustParseHM(w.AfterHoursEnd)

	switch {
	case minutesOfDay >= preStart && minutesOfDay < preEnd:
		return MarketStatePreMarket
	case minutesOfDay >= preEnd && minutesOfDay < 16*60:
		return MarketStateRegular
	case minutesOfDay >= 16*60 && minutesOfDay < afterEnd:
		return MarketStateAfterHours
	default:
		// Overnight (after afterEnd, or before preStart): the after-hours
		// session is treated as continuing until the next pre-market open.
		return MarketStateAfterHours
	}
}

func mustParseHM(hm string) int {
	if len(hm) != 5 || hm[2] != ':' {
		return 0
	}
	h := int(hm[0]-'0')*10 + int(hm[1]-'0')
	m := int(hm[3]-'0')*10 + int(hm[4]-'0')
	return h*60 + m
}
