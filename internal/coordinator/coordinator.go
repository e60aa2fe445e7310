// Package coordinator implements the Cycle Coordinator service: the
// single process that drives a trading cycle through its six stages,
// enforces that at most one cycle runs at a time, and exposes the public
// contract (StartCycle, GetCurrentCycle, ServiceHealth, UpdateConfig).
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/coordinator/collaborators"
	"github.com/TradingApplication/catalyst-trading-system/internal/coreerrs"
	"github.com/TradingApplication/catalyst-trading-system/internal/events"
	"github.com/TradingApplication/catalyst-trading-system/internal/ids"
	"github.com/TradingApplication/catalyst-trading-system/internal/newsmodel"
	"github.com/TradingApplication/catalyst-trading-system/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	patternStageTimeout   = 30 * time.Second
	technicalStageTimeout = 30 * time.Second
	tradingStageTimeout   = 10 * time.Second
	cancelPropagation     = 2 * time.Second
)

// Config controls stage timeouts and the cycle's auto-cancel budget.
type Config struct {
	PatternTimeout   time.Duration
	TechnicalTimeout time.Duration
	TradingTimeout   time.Duration
	TickInterval     time.Duration // used to derive the auto-cancel budget (5x)

	MinCombinedScoreForSignal float64 // floor on a technical signal's confidence; weaker signals are dropped at the Signal stage
}

// DefaultConfig matches the stage timeout table: 30s for pattern and
// technical confirmation, 10s for trade execution.
func DefaultConfig() Config {
	return Config{
		PatternTimeout:            patternStageTimeout,
		TechnicalTimeout:          technicalStageTimeout,
		TradingTimeout:            tradingStageTimeout,
		TickInterval:              30 * time.Minute,
		MinCombinedScoreForSignal: 0,
	}
}

// Collaborators bundles the out-of-process clients a cycle orchestrates.
// Pattern and Technical are external collaborators; News and Scanner are
// the sibling core services.
type Collaborators struct {
	News      *collaborators.NewsClient
	Scanner   *collaborators.ScannerClient
	Pattern   *collaborators.PatternClient
	Technical *collaborators.TechnicalClient
	Trading   *collaborators.TradingClient
}

func (co *Collaborators) healthCheckers() []collaborators.HealthChecker {
	return []collaborators.HealthChecker{co.News, co.Scanner, co.Pattern, co.Technical, co.Trading}
}

// Coordinator is the Cycle Coordinator service.
type Coordinator struct {
	logger *zap.Logger
	store  store.Port
	bus    *events.EventBus
	collab Collaborators
	cfg    Config

	mu       sync.Mutex
	active   *newsmodel.TradingCycle
	cancelActive context.CancelFunc
	scheduleWindows ScheduleWindows
}

// New constructs a Coordinator. windows controls the scheduler's
// time-of-day mode selection; it may be replaced later via SetWindows.
func New(logger *zap.Logger, st store.Port, bus *events.EventBus, collab Collaborators, cfg Config, windows ScheduleWindows) *Coordinator {
	if cfg.PatternTimeout <= 0 {
		cfg.PatternTimeout = patternStageTimeout
	}
	if cfg.TechnicalTimeout <= 0 {
		cfg.TechnicalTimeout = technicalStageTimeout
	}
	if cfg.TradingTimeout <= 0 {
		cfg.TradingTimeout = tradingStageTimeout
	}
	return &Coordinator{
		logger:   logger.Named("coordinator"),
		store:    st,
		bus:      bus,
		collab:   collab,
		cfg:      cfg,
		scheduleWindows: windows,
	}
}

func (co *Coordinator) windows() ScheduleWindows {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.scheduleWindows
}

// SetWindows updates the scheduler's time-of-day windows (operator reload).
func (co *Coordinator) SetWindows(w ScheduleWindows) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.scheduleWindows = w
}

func isBusy(err error) bool { return coreerrs.Is(err, coreerrs.KindBusy) }

// reasonOrCancelled reports "cancelled" instead of a stage-specific
// failure reason when the cycle's own context was operator-cancelled.
func (co *Coordinator) reasonOrCancelled(ctx context.Context, fallback string) string {
	if ctx.Err() == context.Canceled {
		return "cancelled"
	}
	return fallback
}

// StartCycle begins a new trading cycle in the given mode. Only one
// cycle may be active at a time; a second call while one is running
// returns a Busy error, since a single active cycle is enforced by a
// mutex.
func (co *Coordinator) StartCycle(ctx context.Context, mode newsmodel.CycleMode) (*CycleView, error) {
	co.mu.Lock()
	if co.active != nil {
		busyID := co.active.CycleID
		co.mu.Unlock()
		return nil, coreerrs.ErrBusy(busyID)
	}
	cycle := &newsmodel.TradingCycle{
		CycleID:   ids.NewCycleID(),
		StartedAt: time.Now(),
		Status:    newsmodel.CycleRunning,
		Mode:      mode,
	}
	co.active = cycle
	co.mu.Unlock()

	if err := co.store.InsertCycle(ctx, cycle); err != nil {
		co.clearActive()
		return nil, fmt.Errorf("coordinator: insert cycle: %w", err)
	}

	budget := co.cfg.TickInterval * 5
	if budget <= 0 {
		budget = 2 * time.Hour
	}
	cycleCtx, cancel := context.WithTimeout(ctx, budget)

	co.mu.Lock()
	co.cancelActive = cancel
	co.mu.Unlock()

	go co.run(cycleCtx, cancel, cycle)

	return viewFromCycle(cycle), nil
}

func (co *Coordinator) clearActive() {
	co.mu.Lock()
	co.active = nil
	co.cancelActive = nil
	co.mu.Unlock()
}

// CancelCycle aborts the active cycle if its id matches. Operator-
// initiated cancellation propagates to in-flight stage calls within
// cancelPropagation and marks the cycle failed with reason "cancelled".
// Cancellation itself is asynchronous: this only triggers the cycle
// context's cancellation; run() observes it and finalizes the cycle.
func (co *Coordinator) CancelCycle(cycleID string) error {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.active == nil || co.active.CycleID != cycleID {
		return coreerrs.ErrNotFound("cycle", cycleID)
	}
	if co.cancelActive != nil {
		co.cancelActive()
	}
	return nil
}

// GetCurrentCycle returns the active cycle's live projection, or nil if
// idle.
func (co *Coordinator) GetCurrentCycle() *CycleView {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.active == nil {
		return nil
	}
	return viewFromCycle(co.active)
}

// GetCycle reads a historical cycle by id.
func (co *Coordinator) GetCycle(ctx context.Context, cycleID string) (*CycleView, error) {
	cycle, err := co.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: get cycle: %w", err)
	}
	if cycle == nil {
		return nil, coreerrs.ErrNotFound("cycle", cycleID)
	}
	return viewFromCycle(cycle), nil
}

// ServiceHealthReport is the result of probing every collaborator
// (served at /service_health).
type ServiceHealthReport struct {
	Healthy  bool              `json:"healthy"`
	Services map[string]string `json:"services"` // name -> "ok" | error message
}

// ServiceHealth probes every collaborator concurrently.
func (co *Coordinator) ServiceHealth(ctx context.Context) ServiceHealthReport {
	checkers := co.collab.healthCheckers()
	report := ServiceHealthReport{Healthy: true, Services: make(map[string]string, len(checkers))}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range checkers {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err := c.Health(hctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Healthy = false
				report.Services[c.Name()] = err.Error()
			} else {
				report.Services[c.Name()] = "ok"
			}
		}()
	}
	wg.Wait()
	return report
}

// UpdateConfig is the single writable path into the shared configuration
// store: all other processes only read it.
func (co *Coordinator) UpdateConfig(ctx context.Context, key, value string, modifier store.ConfigModifier) error {
	if err := co.store.WriteConfig(ctx, key, value, modifier); err != nil {
		return fmt.Errorf("coordinator: update config %q: %w", key, err)
	}
	co.logger.Info("config updated", zap.String("key", key), zap.String("value", value), zap.String("modifier", string(modifier)))
	return nil
}

// run drives a cycle through its six stages and always finalizes it,
// whether to Completed or Failed (state machine: Idle -> Running(stage)
// -> ... -> Completed|Failed -> Idle).
func (co *Coordinator) run(ctx context.Context, cancel context.CancelFunc, cycle *newsmodel.TradingCycle) {
	defer cancel()
	defer co.clearActive()

	logger := co.logger.With(zap.String("cycle_id", cycle.CycleID), zap.String("mode", string(cycle.Mode)))
	logger.Info("cycle started")

	var failureReason string
	var scanCandidates []collaborators.CandidatePayload

	if err := co.stage(ctx, cycle, newsmodel.StageCollect, func(ctx context.Context) (int, bool, error) {
		report, err := co.collab.News.Collect(ctx, string(cycle.Mode))
		if err != nil {
			return 0, false, err
		}
		cycle.NewsCollected = report.New
		return report.New, false, nil
	}); err != nil {
		failureReason = co.reasonOrCancelled(ctx, fmt.Sprintf("collect: %v", err))
		co.finalize(ctx, cycle, newsmodel.CycleFailed, failureReason)
		return
	}

	if err := co.stage(ctx, cycle, newsmodel.StageScan, func(ctx context.Context) (int, bool, error) {
		result, err := co.collab.Scanner.Scan(ctx, string(cycle.Mode))
		if err != nil {
			return 0, false, err
		}
		scanCandidates = result.Candidates
		cycle.CandidatesSelected = len(result.Candidates)
		return len(result.Candidates), false, nil
	}); err != nil {
		failureReason = co.reasonOrCancelled(ctx, fmt.Sprintf("scan: %v", err))
		co.finalize(ctx, cycle, newsmodel.CycleFailed, failureReason)
		return
	}

	var patterns []collaborators.PatternRecord
	analyzePartial := co.runPerCandidateStage(ctx, cycle, newsmodel.StageAnalyze, co.cfg.PatternTimeout, scanCandidates,
		func(ctx context.Context, cand collaborators.CandidatePayload) (bool, error) {
			rec, err := co.collab.Pattern.Analyze(ctx, cand.ScanID, cand.Symbol)
			if err != nil {
				return false, err
			}
			patterns = append(patterns, rec)
			return true, nil
		})
	cycle.PatternsAnalyzed = len(patterns)
	if len(patterns) == 0 && len(scanCandidates) > 0 {
		failureReason = co.reasonOrCancelled(ctx, "analyze: all candidates failed pattern analysis")
		co.finalize(ctx, cycle, newsmodel.CycleFailed, failureReason)
		return
	}

	var signals []collaborators.SignalRecord
	signalPartial := co.runPerPatternStage(ctx, cycle, newsmodel.StageSignal, co.cfg.TechnicalTimeout, patterns,
		func(ctx context.Context, pat collaborators.PatternRecord) (bool, error) {
			sig, err := co.collab.Technical.Signal(ctx, pat)
			if err != nil {
				return false, err
			}
			if sig == nil {
				return false, nil
			}
			if sig.Confidence < co.cfg.MinCombinedScoreForSignal {
				return false, nil
			}
			signals = append(signals, *sig)
			return true, nil
		})
	cycle.SignalsGenerated = len(signals)

	var trades int
	var cyclePnL decimal.Decimal
	executePartial := co.runPerSignalStage(ctx, cycle, newsmodel.StageExecute, co.cfg.TradingTimeout, signals,
		func(ctx context.Context, sig collaborators.SignalRecord) (bool, error) {
			tradeID, err := co.collab.Trading.Execute(ctx, sig)
			if err != nil {
				return false, err
			}
			if tradeID != "" {
				trades++
			}
			return tradeID != "", nil
		})
	cycle.TradesExecuted = trades
	cycle.CyclePnL = cyclePnL

	if err := co.stage(ctx, cycle, newsmodel.StageFinalize, func(ctx context.Context) (int, bool, error) {
		return trades, analyzePartial || signalPartial || executePartial, nil
	}); err != nil {
		failureReason = fmt.Sprintf("finalize: %v", err)
	}
	if ctx.Err() == context.Canceled {
		failureReason = "cancelled"
	}

	status := newsmodel.CycleCompleted
	if failureReason != "" {
		status = newsmodel.CycleFailed
	}
	co.finalize(ctx, cycle, status, failureReason)
	logger.Info("cycle finished", zap.String("status", string(status)),
		zap.Int("news", cycle.NewsCollected), zap.Int("candidates", cycle.CandidatesSelected),
		zap.Int("patterns", cycle.PatternsAnalyzed), zap.Int("signals", cycle.SignalsGenerated),
		zap.Int("trades", cycle.TradesExecuted))
}

// stage runs one whole-cycle stage (Collect, Scan, Finalize) under its own
// timeout, records a StageRecord, and emits a cycle_stage_changed event
// for the live feed.
func (co *Coordinator) stage(ctx context.Context, cycle *newsmodel.TradingCycle, stage newsmodel.Stage, fn func(context.Context) (count int, partial bool, err error)) error {
	started := time.Now()
	stageCtx, cancel := co.stageContext(ctx, stage)
	defer cancel()

	count, partial, err := fn(stageCtx)

	rec := newsmodel.StageRecord{Stage: stage, StartedAt: started, EndedAt: time.Now(), RecordCount: count, Partial: partial}
	if err != nil {
		rec.Error = err.Error()
	}
	cycle.Stages = append(cycle.Stages, rec)
	if uerr := co.store.UpdateCycleStage(ctx, cycle.CycleID, rec); uerr != nil {
		co.logger.Warn("failed to persist stage record", zap.Error(uerr), zap.String("stage", string(stage)))
	}
	if co.bus != nil {
		co.bus.Publish(events.NewCycleStageChangedEvent(cycle.CycleID, string(stage), partial, rec.Error))
	}
	return err
}

// stageContext returns a context bounded by the stage's own timeout
// (30s for pattern/technical stages, 10s for trading), with cancellation
// propagated to the collaborator call within cancelPropagation of the
// parent ctx's own cancellation.
func (co *Coordinator) stageContext(ctx context.Context, stage newsmodel.Stage) (context.Context, context.CancelFunc) {
	var timeout time.Duration
	switch stage {
	case newsmodel.StageAnalyze:
		timeout = co.cfg.PatternTimeout
	case newsmodel.StageSignal:
		timeout = co.cfg.TechnicalTimeout
	case newsmodel.StageExecute:
		timeout = co.cfg.TradingTimeout
	default:
		timeout = 60 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// runPerCandidateStage fans a per-candidate operation out sequentially
// (the collaborators are external services reached one call at a time,
// each under its own bounded timeout), tolerating individual failures as
// partial progress rather than aborting the stage.
func (co *Coordinator) runPerCandidateStage(ctx context.Context, cycle *newsmodel.TradingCycle, stage newsmodel.Stage, timeout time.Duration, items []collaborators.CandidatePayload, fn func(context.Context, collaborators.CandidatePayload) (bool, error)) bool {
	started := time.Now()
	count := 0
	partial := false
	var lastErr string

	for _, item := range items {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		ok, err := fn(callCtx, item)
		cancel()
		if err != nil {
			partial = true
			lastErr = err.Error()
			co.logger.Warn("candidate stage call failed", zap.String("stage", string(stage)), zap.String("symbol", item.Symbol), zap.Error(err))
			continue
		}
		if ok {
			count++
		}
	}

	rec := newsmodel.StageRecord{Stage: stage, StartedAt: started, EndedAt: time.Now(), RecordCount: count, Partial: partial, Error: lastErr}
	cycle.Stages = append(cycle.Stages, rec)
	if uerr := co.store.UpdateCycleStage(ctx, cycle.CycleID, rec); uerr != nil {
		co.logger.Warn("failed to persist stage record", zap.Error(uerr))
	}
	if co.bus != nil {
		co.bus.Publish(events.NewCycleStageChangedEvent(cycle.CycleID, string(stage), partial, lastErr))
	}
	return partial
}

func (co *Coordinator) runPerPatternStage(ctx context.Context, cycle *newsmodel.TradingCycle, stage newsmodel.Stage, timeout time.Duration, items []collaborators.PatternRecord, fn func(context.Context, collaborators.PatternRecord) (bool, error)) bool {
	started := time.Now()
	count := 0
	partial := false
	var lastErr string

	for _, item := range items {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		ok, err := fn(callCtx, item)
		cancel()
		if err != nil {
			partial = true
			lastErr = err.Error()
			co.logger.Warn("pattern stage call failed", zap.String("stage", string(stage)), zap.String("symbol", item.Symbol), zap.Error(err))
			continue
		}
		if ok {
			count++
		}
	}

	rec := newsmodel.StageRecord{Stage: stage, StartedAt: started, EndedAt: time.Now(), RecordCount: count, Partial: partial, Error: lastErr}
	cycle.Stages = append(cycle.Stages, rec)
	if uerr := co.store.UpdateCycleStage(ctx, cycle.CycleID, rec); uerr != nil {
		co.logger.Warn("failed to persist stage record", zap.Error(uerr))
	}
	if co.bus != nil {
		co.bus.Publish(events.NewCycleStageChangedEvent(cycle.CycleID, string(stage), partial, lastErr))
	}
	return partial
}

func (co *Coordinator) runPerSignalStage(ctx context.Context, cycle *newsmodel.TradingCycle, stage newsmodel.Stage, timeout time.Duration, items []collaborators.SignalRecord, fn func(context.Context, collaborators.SignalRecord) (bool, error)) bool {
	started := time.Now()
	count := 0
	partial := false
	var lastErr string

	for _, item := range items {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		ok, err := fn(callCtx, item)
		cancel()
		if err != nil {
			partial = true
			lastErr = err.Error()
			co.logger.Warn("execute stage call failed", zap.String("stage", string(stage)), zap.String("symbol", item.Symbol), zap.Error(err))
			continue
		}
		if ok {
			count++
		}
	}

	rec := newsmodel.StageRecord{Stage: stage, StartedAt: started, EndedAt: time.Now(), RecordCount: count, Partial: partial, Error: lastErr}
	cycle.Stages = append(cycle.Stages, rec)
	if uerr := co.store.UpdateCycleStage(ctx, cycle.CycleID, rec); uerr != nil {
		co.logger.Warn("failed to persist stage record", zap.Error(uerr))
	}
	if co.bus != nil {
		co.bus.Publish(events.NewCycleStageChangedEvent(cycle.CycleID, string(stage), partial, lastErr))
	}
	return partial
}

func (co *Coordinator) finalize(ctx context.Context, cycle *newsmodel.TradingCycle, status newsmodel.CycleStatus, reason string) {
	cycle.Status = status
	cycle.FailureReason = reason
	cycle.EndedAt = time.Now()

	finalizeCtx, cancel := context.WithTimeout(context.Background(), cancelPropagation+5*time.Second)
	defer cancel()
	if err := co.store.FinalizeCycle(finalizeCtx, cycle.CycleID, status, reason, cycle); err != nil {
		co.logger.Error("failed to finalize cycle", zap.Error(err), zap.String("cycle_id", cycle.CycleID))
	}
	if co.bus != nil {
		co.bus.Publish(events.NewCycleCompletedEvent(cycle.CycleID, string(status), reason, cycle.TradesExecuted, cycle.CyclePnL))
	}
}
