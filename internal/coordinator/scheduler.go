package coordinator

// scheduler.go implements the time-of-day-aware mode selection and tick
// loop: a single logical scheduler that picks a mode from wall-clock time
// in the configured market timezone, and skips a tick if the previous
// cycle hasn't reached a terminal state.

import (
	"context"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"go.uber.org/zap"
)

// ScheduleWindows holds the HH:MM boundaries and per-mode tick intervals,
// loaded from configuration at startup. Coordinator.SetWindows replaces
// them at runtime; no reload operation re-reads them from configuration.
type ScheduleWindows struct {
	Location *time.Location

	PremarketStart string // 04:00
	PremarketEnd   string // 09:30
	MarketEnd      string // 16:00 (end of normal session)
	AfterHoursEnd  string // 20:00

	AggressiveInterval time.Duration // 5 min
	NormalInterval     time.Duration // 30 min
	LightInterval      time.Duration // 60 min
	MinimalInterval    time.Duration // 240 min
}

// DefaultScheduleWindows returns the standard market-hours schedule:
// aggressive pre-market, normal during the session, light after hours,
// minimal overnight and on weekends.
func DefaultScheduleWindows(loc *time.Location) ScheduleWindows {
	return ScheduleWindows{
		Location:           loc,
		PremarketStart:     "04:00",
		PremarketEnd:       "09:30",
		MarketEnd:          "16:00",
		AfterHoursEnd:       "20:00",
		AggressiveInterval: 5 * time.Minute,
		NormalInterval:     30 * time.Minute,
		LightInterval:      60 * time.Minute,
		MinimalInterval:    240 * time.Minute,
	}
}

// ModeForTime picks the operating mode for a given wall-clock time.
// Weekends always fall into "minimal" since none of the weekday windows
// apply.
func (w ScheduleWindows) ModeForTime(t time.Time) newsmodel.CycleMode {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return newsmodel.ModeMinimal
	}

	minutesOfDay := local.Hour()*60 + local.Minute()
	preStart := parseHM(w.PremarketStart)
	preEnd := parseHM(w.PremarketEnd)
	marketEnd := parseHM(w.MarketEnd)
	afterEnd := parseHM(w.AfterHoursEnd)

	switch {
	case minutesOfDay >= preStart && minutesOfDay < preEnd:
		return newsmodel.ModeAggressive
	case minutesOfDay >= preEnd && minutesOfDay < marketEnd:
		return newsmodel.ModeNormal
	case minutesOfDay >= marketEnd && minutesOfDay < afterEnd:
		return newsmodel.ModeLight
	default:
		return newsmodel.ModeMinimal
	}
}

// IntervalFor returns the tick interval configured for mode.
func (w ScheduleWindows) IntervalFor(mode newsmodel.CycleMode) time.Duration {
	switch mode {
	case newsmodel.ModeAggressive:
		return w.AggressiveInterval
	case newsmodel.ModeNormal:
		return w.NormalInterval
	case newsmodel.ModeLight:
		return w.LightInterval
	default:
		return w.MinimalInterval
	}
}

func parseHM(hm string) int {
	if len(hm) != 5 || hm[2] != ':' {
		return 0
	}
	h := int(hm[0]-'0')*10 + int(hm[1]-'0')
	m := int(hm[3]-'0')*10 + int(hm[4]-'0')
	return h*60 + m
}

// RunScheduler drives the continuous tick loop: at each tick it picks the
// mode from the current wall-clock time, and starts a cycle unless one is
// already active, in which case the tick is skipped and logged rather
// than queued.
func (co *Coordinator) RunScheduler(ctx context.Context) {
	co.logger.Info("scheduler started")
	for {
		windows := co.windows()
		mode := windows.ModeForTime(time.Now())
		interval := windows.IntervalFor(mode)

		if _, err := co.StartCycle(ctx, mode); err != nil {
			if isBusy(err) {
				co.logger.Debug("tick skipped: cycle already active", zap.String("mode", string(mode)))
			} else {
				co.logger.Error("scheduler tick failed to start cycle", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			co.logger.Info("scheduler stopped")
			return
		case <-time.After(interval):
		}
	}
}
