// Package events provides the pub/sub bus the Coordinator, Collector and
// Scanner use to push state transitions to in-process listeners — chiefly
// the websocket live-cycle feed subscribers in internal/api.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventType defines the category of event.
type EventType string

const (
	EventTypeNewsCollected       EventType = "news_collected"
	EventTypeClusterDetected     EventType = "cluster_detected"
	EventTypeCandidateSelected   EventType = "candidate_selected"
	EventTypeCycleStageChanged   EventType = "cycle_stage_changed"
	EventTypeCycleCompleted      EventType = "cycle_completed"
	EventTypeCycleFailed         EventType = "cycle_failed"
	EventTypeOutcomeApplied      EventType = "outcome_applied"
	EventTypeSourceMetricsUpdate EventType = "source_metrics_updated"
)

// Event is the base interface for all bus events.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

// NewsCollectedEvent fires once per successfully upserted news item.
type NewsCollectedEvent struct {
	BaseEvent
	Fingerprint string `json:"fingerprint"`
	Symbol      string `json:"symbol,omitempty"`
	Source      string `json:"source"`
	Headline    string `json:"headline"`
	IsNew       bool   `json:"isNew"`
}

// ClusterDetectedEvent fires when the hourly narrative sweep flags a
// coordinated cluster.
type ClusterDetectedEvent struct {
	BaseEvent
	ClusterID         string  `json:"clusterId"`
	Symbol            string  `json:"symbol"`
	ArticleCount      int     `json:"articleCount"`
	DistinctSources   int     `json:"distinctSources"`
	CoordinationScore float64 `json:"coordinationScore"`
}

// CandidateSelectedEvent fires once per candidate placed on a scan's
// ranked shortlist.
type CandidateSelectedEvent struct {
	BaseEvent
	ScanID        string          `json:"scanId"`
	Symbol        string          `json:"symbol"`
	CombinedScore float64         `json:"combinedScore"`
	SelectionRank int             `json:"selectionRank"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
}

// CycleStageChangedEvent fires on every stage transition of a trading cycle.
type CycleStageChangedEvent struct {
	BaseEvent
	CycleID string `json:"cycleId"`
	Stage   string `json:"stage"`
	Partial bool   `json:"partial"`
	Error   string `json:"error,omitempty"`
}

// CycleCompletedEvent fires when a cycle reaches a terminal state.
type CycleCompletedEvent struct {
	BaseEvent
	CycleID           string          `json:"cycleId"`
	Status            string          `json:"status"`
	FailureReason     string          `json:"failureReason,omitempty"`
	TradesExecuted    int             `json:"tradesExecuted"`
	CyclePnL          decimal.Decimal `json:"cyclePnl"`
}

// OutcomeAppliedEvent fires when the feedback sweep writes a price/volume
// outcome back onto a news item.
type OutcomeAppliedEvent struct {
	BaseEvent
	Fingerprint string `json:"fingerprint"`
	Source      string `json:"source"`
	WasAccurate *bool  `json:"wasAccurate,omitempty"`
}

// SourceMetricsUpdatedEvent fires after a source's reliability counters change.
type SourceMetricsUpdatedEvent struct {
	BaseEvent
	Source       string  `json:"source"`
	AccuracyRate float64 `json:"accuracyRate"`
}

// EventHandler processes events.
type EventHandler func(event Event) error

// EventFilter can selectively process events.
type EventFilter func(event Event) bool

// SubscriptionOptions configures subscription behavior.
type SubscriptionOptions struct {
	Filter     EventFilter
	Async      bool
	BufferSize int
}

// Subscription represents an active event subscription.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive returns whether subscription is active.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusStats tracks bus throughput and latency.
type EventBusStats struct {
	EventsPublished   int64         `json:"eventsPublished"`
	EventsProcessed   int64         `json:"eventsProcessed"`
	EventsDropped     int64         `json:"eventsDropped"`
	ProcessingErrors  int64         `json:"processingErrors"`
	AvgLatencyNs      int64         `json:"avgLatencyNs"`
	MaxLatencyNs      int64         `json:"maxLatencyNs"`
	P99LatencyNs      int64         `json:"p99LatencyNs"`
	P99Latency        time.Duration `json:"p99Latency"`
	ActiveSubscribers int64         `json:"activeSubscribers"`
}

// EventBusConfig configures the event bus.
type EventBusConfig struct {
	NumWorkers int `json:"numWorkers"`
	BufferSize int `json:"bufferSize"`
}

// DefaultEventBusConfig returns sensible defaults for a control-plane bus:
// event volume here is bursty (one event per article/candidate/stage), not
// the tick-level firehose the pool/bus sizing in internal/workers assumes.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		NumWorkers: 4,
		BufferSize: 4096,
	}
}

// EventBus is the central in-process event routing system feeding the
// websocket live-cycle feed and any other internal listeners.
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	latencies  []int64
	latencyMu  sync.Mutex
	maxLatency atomic.Int64
	avgLatency atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus creates and starts an event bus.
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	workerCount := config.NumWorkers
	bufferSize := config.BufferSize
	if workerCount <= 0 {
		workerCount = 4
	}
	if bufferSize <= 0 {
		bufferSize = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())

	eb := &EventBus{
		subscribers:    make(map[EventType][]*Subscription),
		allSubscribers: make([]*Subscription, 0),
		eventChan:      make(chan Event, bufferSize),
		workerCount:    workerCount,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger.Named("events"),
		latencies:      make([]int64, 0, 1024),
	}

	for i := 0; i < workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker(i)
	}

	eb.logger.Info("event bus started",
		zap.Int("workers", workerCount),
		zap.Int("buffer_size", bufferSize),
	)

	return eb
}

func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			startTime := time.Now()
			eb.processEvent(event)
			eb.trackLatency(time.Since(startTime).Nanoseconds())
		}
	}
}

func (eb *EventBus) processEvent(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	for _, sub := range subs {
		eb.dispatch(sub, event)
	}
	for _, sub := range allSubs {
		eb.dispatch(sub, event)
	}

	eb.eventsProcessed.Add(1)
}

func (eb *EventBus) dispatch(sub *Subscription, event Event) {
	if !sub.active.Load() {
		return
	}
	if sub.Options.Filter != nil && !sub.Options.Filter(event) {
		return
	}
	if sub.Options.Async {
		go eb.executeHandler(sub, event)
	} else {
		eb.executeHandler(sub, event)
	}
}

func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("event handler panic",
				zap.String("subscription_id", sub.ID),
				zap.String("event_type", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("event handler error",
			zap.String("subscription_id", sub.ID),
			zap.String("event_type", string(event.GetType())),
			zap.Error(err),
		)
	}
}

func (eb *EventBus) trackLatency(latencyNs int64) {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	eb.latencies = append(eb.latencies, latencyNs)
	if len(eb.latencies) > 1024 {
		eb.latencies = eb.latencies[512:]
	}

	if currentMax := eb.maxLatency.Load(); latencyNs > currentMax {
		eb.maxLatency.Store(latencyNs)
	}
	currentAvg := eb.avgLatency.Load()
	eb.avgLatency.Store((currentAvg*99 + latencyNs) / 100)
}

var subscriptionCounter atomic.Int64
var eventCounter atomic.Int64

func generateSubscriptionID() string {
	id := subscriptionCounter.Add(1)
	return "sub_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

func generateEventID() string {
	id := eventCounter.Add(1)
	return "evt_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Subscribe registers a handler for an event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true, BufferSize: 256}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{ID: generateSubscriptionID(), EventType: eventType, Handler: handler, Options: options}
	sub.active.Store(true)

	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// SubscribeAll registers a handler for every event type — used by the
// websocket hub to fan every cycle/news event out to connected clients.
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true, BufferSize: 256}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{ID: generateSubscriptionID(), EventType: "*", Handler: handler, Options: options}
	sub.active.Store(true)

	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// Unsubscribe deactivates a subscription.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	eb.activeSubscribers.Add(-1)
}

// Publish sends an event to all subscribers, non-blocking; a full buffer
// drops the event and increments EventsDropped rather than stalling the
// caller's stage-orchestration goroutine.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		eb.eventsDropped.Add(1)
		eb.logger.Warn("event dropped, buffer full", zap.String("event_type", string(event.GetType())))
	}
}

// GetStats returns current performance statistics.
func (eb *EventBus) GetStats() EventBusStats {
	p99Ns := eb.getP99LatencyNs()
	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		AvgLatencyNs:      eb.avgLatency.Load(),
		MaxLatencyNs:      eb.maxLatency.Load(),
		P99LatencyNs:      p99Ns,
		P99Latency:        time.Duration(p99Ns),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

func (eb *EventBus) getP99LatencyNs() int64 {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	if len(eb.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(eb.latencies))
	copy(sorted, eb.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stop shuts the bus down, waiting up to 5s for in-flight handlers.
func (eb *EventBus) Stop() {
	eb.logger.Info("stopping event bus")
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus stopped",
			zap.Int64("events_processed", eb.eventsProcessed.Load()),
			zap.Int64("events_dropped", eb.eventsDropped.Load()),
		)
	case <-time.After(5 * time.Second):
		eb.logger.Warn("event bus stop timed out")
	}
}

// Helper constructors.

func NewNewsCollectedEvent(fingerprint, symbol, source, headline string, isNew bool) *NewsCollectedEvent {
	return &NewsCollectedEvent{
		BaseEvent:   BaseEvent{ID: generateEventID(), Type: EventTypeNewsCollected, Timestamp: time.Now()},
		Fingerprint: fingerprint, Symbol: symbol, Source: source, Headline: headline, IsNew: isNew,
	}
}

func NewClusterDetectedEvent(clusterID, symbol string, articleCount, distinctSources int, coordinationScore float64) *ClusterDetectedEvent {
	return &ClusterDetectedEvent{
		BaseEvent:         BaseEvent{ID: generateEventID(), Type: EventTypeClusterDetected, Timestamp: time.Now()},
		ClusterID:         clusterID,
		Symbol:            symbol,
		ArticleCount:      articleCount,
		DistinctSources:   distinctSources,
		CoordinationScore: coordinationScore,
	}
}

func NewCandidateSelectedEvent(scanID, symbol string, combinedScore float64, rank int, price decimal.Decimal) *CandidateSelectedEvent {
	return &CandidateSelectedEvent{
		BaseEvent:     BaseEvent{ID: generateEventID(), Type: EventTypeCandidateSelected, Timestamp: time.Now()},
		ScanID:        scanID,
		Symbol:        symbol,
		CombinedScore: combinedScore,
		SelectionRank: rank,
		CurrentPrice:  price,
	}
}

func NewCycleStageChangedEvent(cycleID, stage string, partial bool, errMsg string) *CycleStageChangedEvent {
	return &CycleStageChangedEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeCycleStageChanged, Timestamp: time.Now()},
		CycleID:   cycleID,
		Stage:     stage,
		Partial:   partial,
		Error:     errMsg,
	}
}

func NewCycleCompletedEvent(cycleID, status, failureReason string, tradesExecuted int, pnl decimal.Decimal) *CycleCompletedEvent {
	eventType := EventTypeCycleCompleted
	if status == "failed" {
		eventType = EventTypeCycleFailed
	}
	return &CycleCompletedEvent{
		BaseEvent:      BaseEvent{ID: generateEventID(), Type: eventType, Timestamp: time.Now()},
		CycleID:        cycleID,
		Status:         status,
		FailureReason:  failureReason,
		TradesExecuted: tradesExecuted,
		CyclePnL:       pnl,
	}
}

func NewOutcomeAppliedEvent(fingerprint, source string, wasAccurate *bool) *OutcomeAppliedEvent {
	return &OutcomeAppliedEvent{
		BaseEvent:   BaseEvent{ID: generateEventID(), Type: EventTypeOutcomeApplied, Timestamp: time.Now()},
		Fingerprint: fingerprint,
		Source:      source,
		WasAccurate: wasAccurate,
	}
}

func NewSourceMetricsUpdatedEvent(source string, accuracyRate float64) *SourceMetricsUpdatedEvent {
	return &SourceMetricsUpdatedEvent{
		BaseEvent:    BaseEvent{ID: generateEventID(), Type: EventTypeSourceMetricsUpdate, Timestamp: time.Now()},
		Source:       source,
		AccuracyRate: accuracyRate,
	}
}
