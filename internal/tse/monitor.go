package tse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kiwoom-trader/internal/kia"
)

// Loop states.
const (
	LoopStopped  = "STOPPED"
	LoopRunning  = "RUNNING"
	LoopDegraded = "DEGRADED"
)

// Monitor defaults.
const (
	DefaultPollIntervalMs    = 3000
	DefaultPollTimeoutMs     = 2000
	DefaultErrorThreshold    = 3
	DefaultRecoveryThreshold = 2
)

// QuoteFetcher is the slice of the broker gateway the monitor polls.
type QuoteFetcher interface {
	FetchQuotesBatch(ctx context.Context, mode kia.Mode, symbols []string, timeoutMs int, pollCycleID string) (kia.PollQuotesResult, error)
}

// MonitorConfig tunes the polling loop. Zero values take the defaults.
type MonitorConfig struct {
	Mode              kia.Mode
	PollIntervalMs    int
	PollTimeoutMs     int
	ErrorThreshold    int
	RecoveryThreshold int
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.PollTimeoutMs <= 0 {
		c.PollTimeoutMs = DefaultPollTimeoutMs
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = DefaultErrorThreshold
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = DefaultRecoveryThreshold
	}
	return c
}

// CycleResult summarises one poll round-trip.
type CycleResult struct {
	PollCycleID string
	State       string
	Partial     bool
	QuoteCount  int
	ErrorCount  int
	Quotes      []kia.MarketQuote
	Outputs     []Output
	FetchError  string
}

// Monitor runs the batch-quote polling loop and the RUNNING/DEGRADED
// health model. A degraded loop blocks new buy entries in the engine
// until enough consecutive clean cycles pass.
type Monitor struct {
	service *Service
	quotes  QuoteFetcher
	config  MonitorConfig
	logger  *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration)

	state              string
	consecutiveErrors  int
	consecutiveSuccess int
	cycleSeq           int
}

// NewMonitor wires the loop to an engine and a quote source.
func NewMonitor(service *Service, quotes QuoteFetcher, config MonitorConfig, logger *slog.Logger) *Monitor {
	return &Monitor{
		service: service,
		quotes:  quotes,
		config:  config.withDefaults(),
		logger:  logger.With("component", "tse-monitor"),
		now:     time.Now,
		sleep:   ctxSleep,
		state:   LoopStopped,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// SetClock overrides wall clock and sleep for tests.
func (m *Monitor) SetClock(now func() time.Time, sleep func(context.Context, time.Duration)) {
	if now != nil {
		m.now = now
	}
	if sleep != nil {
		m.sleep = sleep
	}
}

// State returns the loop health state.
func (m *Monitor) State() string {
	return m.state
}

// Start resets counters and moves the loop to RUNNING.
func (m *Monitor) Start() {
	m.state = LoopRunning
	m.consecutiveErrors = 0
	m.consecutiveSuccess = 0
	m.cycleSeq = 0
	m.service.SetBuyEntryBlockedByDegraded(false)
}

// Stop moves the loop to STOPPED and clears the degraded block.
func (m *Monitor) Stop() {
	m.state = LoopStopped
	m.service.SetBuyEntryBlockedByDegraded(false)
}

// RunCycle performs one batch poll and feeds the quotes into the engine.
func (m *Monitor) RunCycle(ctx context.Context) CycleResult {
	if m.state == LoopStopped {
		m.Start()
	}

	m.cycleSeq++
	now := m.now().In(MarketZone)
	pollCycleID := fmt.Sprintf("poll-%s-%s-%03d",
		strings.ReplaceAll(m.service.TradingDate(), "-", ""),
		now.Format("150405"), m.cycleSeq)

	result, err := m.quotes.FetchQuotesBatch(ctx, m.config.Mode, m.service.WatchSymbols(), m.config.PollTimeoutMs, pollCycleID)
	if err != nil {
		m.onCycleFailure()
		m.logger.Warn("quote poll failed",
			"poll_cycle_id", pollCycleID, "state", m.state, "error", err)
		return CycleResult{
			PollCycleID: pollCycleID,
			State:       m.state,
			Partial:     true,
			ErrorCount:  1,
			FetchError:  err.Error(),
		}
	}

	outputs := make([]Output, 0, len(result.Quotes))
	for i, quote := range result.Quotes {
		outputs = append(outputs, m.service.OnQuote(QuoteEvent{
			TradingDate:  m.service.TradingDate(),
			OccurredAt:   quote.AsOf,
			Symbol:       quote.Symbol,
			CurrentPrice: quote.Price,
			Sequence:     i + 1,
		}))
	}

	if result.Partial {
		m.onCycleFailure()
	} else {
		m.onCycleSuccess()
	}

	return CycleResult{
		PollCycleID: pollCycleID,
		State:       m.state,
		Partial:     result.Partial,
		QuoteCount:  len(result.Quotes),
		ErrorCount:  len(result.Errors),
		Quotes:      result.Quotes,
		Outputs:     outputs,
	}
}

// Run polls until the context is cancelled or Stop is called, sleeping the
// poll interval between cycles. Cycle results stream to the channel when
// one is supplied.
func (m *Monitor) Run(ctx context.Context, results chan<- CycleResult) {
	if m.state == LoopStopped {
		m.Start()
	}
	interval := time.Duration(m.config.PollIntervalMs) * time.Millisecond

	for m.state == LoopRunning || m.state == LoopDegraded {
		if ctx.Err() != nil {
			m.Stop()
			return
		}
		cycle := m.RunCycle(ctx)
		if results != nil {
			select {
			case results <- cycle:
			case <-ctx.Done():
				m.Stop()
				return
			}
		}
		m.sleep(ctx, interval)
	}
}

func (m *Monitor) onCycleSuccess() {
	m.consecutiveErrors = 0
	m.consecutiveSuccess++
	if m.state == LoopDegraded && m.consecutiveSuccess >= m.config.RecoveryThreshold {
		m.state = LoopRunning
		m.service.SetBuyEntryBlockedByDegraded(false)
		m.logger.Info("quote loop recovered", "consecutive_success", m.consecutiveSuccess)
	}
}

func (m *Monitor) onCycleFailure() {
	m.consecutiveSuccess = 0
	m.consecutiveErrors++
	if m.consecutiveErrors >= m.config.ErrorThreshold && m.state != LoopDegraded {
		m.state = LoopDegraded
		m.service.SetBuyEntryBlockedByDegraded(true)
		m.logger.Warn("quote loop degraded", "consecutive_errors", m.consecutiveErrors)
	}
}
