package coordinator

// feedback.go implements the Coordinator's outcome-feedback sweep: every
// 15 minutes, ask the trading collaborator which trades closed since the
// last sweep, then push each trade's outcome back into the News Collector
// so NewsItem.priceMove1h/24h, volumeSurgeRatio, wasAccurate, and the
// originating source's SourceMetrics all stay current.

import (
	"context"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/coordinator/collaborators"
	"go.uber.org/zap"
)

const feedbackSweepInterval = 15 * time.Minute

// RunFeedbackSweep drives the continuous outcome-feedback loop until ctx
// is canceled. It runs once immediately so a freshly started process
// doesn't wait a full interval before its first sweep.
func (co *Coordinator) RunFeedbackSweep(ctx context.Context) {
	co.logger.Info("feedback sweep started", zap.Duration("interval", feedbackSweepInterval))

	since := time.Now().Add(-feedbackSweepInterval)
	co.sweepOnce(ctx, since)

	ticker := time.NewTicker(feedbackSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			co.logger.Info("feedback sweep stopped")
			return
		case now := <-ticker.C:
			co.sweepOnce(ctx, since)
			since = now
		}
	}
}

func (co *Coordinator) sweepOnce(ctx context.Context, since time.Time) {
	sweepCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	closed, err := co.collab.Trading.ListClosedSince(sweepCtx, since)
	if err != nil {
		co.logger.Warn("feedback sweep: failed to list closed trades", zap.Error(err))
		return
	}
	if len(closed) == 0 {
		return
	}

	applied := 0
	for _, trade := range closed {
		if err := co.applyOutcome(sweepCtx, trade); err != nil {
			co.logger.Warn("feedback sweep: failed to apply outcome",
				zap.String("trade_id", trade.TradeID), zap.String("symbol", trade.Symbol), zap.Error(err))
			continue
		}
		applied++
	}
	co.logger.Info("feedback sweep applied outcomes", zap.Int("closed", len(closed)), zap.Int("applied", applied))
}

func (co *Coordinator) applyOutcome(ctx context.Context, trade collaborators.ClosedTrade) error {
	accurate := trade.WasAccurate
	priceMove1h := trade.PriceMove1h
	priceMove24h := trade.PriceMove24h
	volumeSurge := trade.VolumeSurgeRatio

	payload := collaborators.OutcomePayload{
		NewsID:           trade.NewsFingerprint,
		PriceMove1h:      &priceMove1h,
		PriceMove24h:     &priceMove24h,
		VolumeSurgeRatio: &volumeSurge,
		WasAccurate:      &accurate,
	}
	return co.collab.News.UpdateOutcome(ctx, payload)
}
