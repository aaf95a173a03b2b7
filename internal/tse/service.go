package tse

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"kiwoom-trader/internal/rules"
)

// MarketZone is the exchange's wall clock. Quote timestamps are compared
// against the reference capture time in this zone.
var MarketZone = time.FixedZone("KST", 9*60*60)

// Reference prices are captured at or after 09:03 market time by default.
const defaultReferenceCaptureSec = 9*3600 + 3*60

// Service is the per-day strategy engine. It is not safe for concurrent
// use; the monitoring loop is its only caller.
type Service struct {
	Ctx       DailyContext
	scheduler *Scheduler
	logger    *slog.Logger

	commandSequence          int
	referenceCaptureSec      int
	buyEntryBlockedByDegrade bool
}

// NewService builds the engine for one trading date and watch list. Watch
// rank follows list order, starting at 1.
func NewService(tradingDate string, watchSymbols []string, logger *slog.Logger) (*Service, error) {
	if len(watchSymbols) < 1 || len(watchSymbols) > MaxWatchSymbols {
		return nil, fmt.Errorf("watch symbols must hold 1..%d entries, got %d", MaxWatchSymbols, len(watchSymbols))
	}
	symbols := make(map[string]*SymbolContext, len(watchSymbols))
	for i, symbol := range watchSymbols {
		symbols[symbol] = &SymbolContext{
			Symbol:    symbol,
			WatchRank: i + 1,
			State:     SymbolWaitReference,
		}
	}
	return &Service{
		Ctx: DailyContext{
			TradingDate: tradingDate,
			Symbols:     symbols,
			Portfolio:   PortfolioContext{State: PortfolioNoPosition, GateOpen: true},
		},
		scheduler:           NewScheduler(),
		logger:              logger.With("component", "tse"),
		referenceCaptureSec: defaultReferenceCaptureSec,
	}, nil
}

// SetReferenceCaptureTime overrides the market time at which reference
// prices become capturable.
func (s *Service) SetReferenceCaptureTime(hour, minute int) {
	s.referenceCaptureSec = hour*3600 + minute*60
}

// OnDayChanged resets all daily state, keeping the watch list and its
// ranking.
func (s *Service) OnDayChanged(tradingDate string) {
	watch := s.WatchSymbols()
	fresh, err := NewService(tradingDate, watch, s.logger)
	if err != nil {
		// The watch list was already validated at construction.
		panic(err)
	}
	fresh.referenceCaptureSec = s.referenceCaptureSec
	*s = *fresh
}

// SetBuyEntryBlockedByDegraded toggles the degraded-mode kill switch for
// new buy entries. Sell signals are unaffected.
func (s *Service) SetBuyEntryBlockedByDegraded(blocked bool) {
	s.buyEntryBlockedByDegrade = blocked
}

// BuyEntryBlockedByDegraded reports the kill switch state.
func (s *Service) BuyEntryBlockedByDegraded() bool {
	return s.buyEntryBlockedByDegrade
}

// WatchSymbols returns the watch list ordered by rank.
func (s *Service) WatchSymbols() []string {
	out := make([]string, len(s.Ctx.Symbols))
	for _, ctx := range s.Ctx.Symbols {
		out[ctx.WatchRank-1] = ctx.Symbol
	}
	return out
}

// TradingDate returns the engine's current day.
func (s *Service) TradingDate() string {
	return s.Ctx.TradingDate
}

func (s *Service) beforeReferenceCapture(at time.Time) bool {
	local := at.In(MarketZone)
	sec := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return sec < s.referenceCaptureSec
}

// OnQuote feeds one quote through the engine. Quotes for the wrong day,
// unknown symbols, non-positive prices, or before the reference capture
// time are dropped silently.
func (s *Service) OnQuote(event QuoteEvent) Output {
	var output Output

	if event.TradingDate != s.Ctx.TradingDate {
		return output
	}
	symbolCtx, ok := s.Ctx.Symbols[event.Symbol]
	if !ok {
		return output
	}
	if !event.CurrentPrice.IsPositive() {
		return output
	}
	if s.beforeReferenceCapture(event.OccurredAt) {
		return output
	}

	symbolCtx.LastQuoteAt = event.OccurredAt
	symbolCtx.LastSequence = event.Sequence

	if symbolCtx.ReferencePrice == nil {
		price := event.CurrentPrice
		symbolCtx.ReferencePrice = &price
		symbolCtx.State = SymbolTracking
		s.logger.Info("reference price captured",
			"symbol", event.Symbol, "reference_price", price.String())
		return output
	}

	if s.buyEntryBlockedByDegrade {
		return output
	}

	if s.Ctx.Portfolio.GateOpen && s.Ctx.Portfolio.State == PortfolioNoPosition {
		s.evaluateBuyCandidate(symbolCtx, event, &output)
		s.flushBuyCandidate(event, &output)
	}
	return output
}

// OnPositionUpdate mirrors the order manager's position into the portfolio
// gate and emits profit-lock and sell signals.
func (s *Service) OnPositionUpdate(event PositionUpdateEvent) Output {
	var output Output

	if event.TradingDate != s.Ctx.TradingDate {
		return output
	}
	if s.Ctx.Portfolio.ActiveSymbol != "" && event.Symbol != s.Ctx.Portfolio.ActiveSymbol {
		return output
	}

	switch event.PositionState {
	case UpdateBuyRequested:
		s.Ctx.Portfolio.State = PortfolioBuyRequested
	case UpdateLongOpen:
		s.Ctx.Portfolio.State = PortfolioPositionOpen
	case UpdateSellRequested:
		s.Ctx.Portfolio.State = PortfolioSellRequested
	case UpdateClosed:
		s.Ctx.Portfolio.State = PortfolioPositionClosed
	case UpdateBuyFailed:
		// Failed buys reopen the gate for the rest of the day.
		s.Ctx.Portfolio.State = PortfolioNoPosition
		s.Ctx.Portfolio.GateOpen = true
		s.Ctx.Portfolio.ActiveSymbol = ""
	}

	if !s.Ctx.Portfolio.MinProfitLocked && rules.IsMinProfitLocked(event.CurrentProfitRate) {
		s.Ctx.Portfolio.MinProfitLocked = true
		output.StrategyEvents = append(output.StrategyEvents, StrategyEvent{
			EventType:     EventMinProfitLocked,
			TradingDate:   event.TradingDate,
			Symbol:        event.Symbol,
			OccurredAt:    event.UpdatedAt,
			StrategyState: s.Ctx.Portfolio.State,
			Metrics:       map[string]any{"currentProfitRate": event.CurrentProfitRate.String()},
		})
	}

	if s.Ctx.Portfolio.MinProfitLocked && !s.Ctx.Portfolio.SellSignaled &&
		s.shouldEmitSellSignal(event.CurrentProfitRate, event.MaxProfitRate) {
		s.Ctx.Portfolio.SellSignaled = true
		preservation, _ := rules.ProfitPreservation(event.CurrentProfitRate, event.MaxProfitRate)
		output.Commands = append(output.Commands, OrderCommand{
			CommandID:   s.nextCommandID(event.TradingDate, event.Symbol, "SELL"),
			TradingDate: event.TradingDate,
			Symbol:      event.Symbol,
			Side:        "SELL",
			OrderPrice:  event.CurrentPrice,
			ReasonCode:  "TSE_PROFIT_PRESERVATION_BREAK",
		})
		output.StrategyEvents = append(output.StrategyEvents, StrategyEvent{
			EventType:     EventSellSignal,
			TradingDate:   event.TradingDate,
			Symbol:        event.Symbol,
			OccurredAt:    event.UpdatedAt,
			StrategyState: s.Ctx.Portfolio.State,
			Metrics: map[string]any{
				"currentProfitRate":      event.CurrentProfitRate.String(),
				"maxProfitRate":          event.MaxProfitRate.String(),
				"profitPreservationRate": preservation.String(),
			},
		})
	}
	return output
}

func (s *Service) shouldEmitSellSignal(currentRate, maxRate decimal.Decimal) bool {
	if maxRate.LessThanOrEqual(decimal.Zero) {
		return false
	}
	broken, err := rules.IsPreservationBreak(currentRate, maxRate)
	if err != nil {
		return false
	}
	return broken
}

func (s *Service) evaluateBuyCandidate(symbolCtx *SymbolContext, event QuoteEvent, output *Output) {
	if symbolCtx.ReferencePrice == nil {
		return
	}

	dropRate, err := rules.DropRate(*symbolCtx.ReferencePrice, event.CurrentPrice)
	if err != nil {
		return
	}

	if (symbolCtx.State == SymbolTracking || symbolCtx.State == SymbolBuyCandidate) &&
		rules.GTE(dropRate, rules.DropThreshold) {
		if symbolCtx.State != SymbolBuyCandidate {
			symbolCtx.State = SymbolBuyCandidate
			low := event.CurrentPrice
			symbolCtx.TrackedLow = &low
			output.StrategyEvents = append(output.StrategyEvents, StrategyEvent{
				EventType:     EventBuyCandidateEntered,
				TradingDate:   event.TradingDate,
				Symbol:        event.Symbol,
				OccurredAt:    event.OccurredAt,
				StrategyState: symbolCtx.State,
				Metrics:       map[string]any{"dropRate": dropRate.String()},
			})
		}
	}

	if symbolCtx.State != SymbolBuyCandidate || symbolCtx.TrackedLow == nil {
		return
	}

	if event.CurrentPrice.LessThan(*symbolCtx.TrackedLow) {
		low := event.CurrentPrice
		symbolCtx.TrackedLow = &low
		output.StrategyEvents = append(output.StrategyEvents, StrategyEvent{
			EventType:     EventLocalLowUpdated,
			TradingDate:   event.TradingDate,
			Symbol:        event.Symbol,
			OccurredAt:    event.OccurredAt,
			StrategyState: symbolCtx.State,
			Metrics:       map[string]any{"trackedLow": low.String()},
		})
	}

	reboundRate, err := rules.ReboundRate(*symbolCtx.TrackedLow, event.CurrentPrice)
	if err != nil {
		return
	}
	if rules.GTE(reboundRate, rules.ReboundThreshold) {
		s.scheduler.Enqueue(BuyCandidate{
			OccurredAt:   event.OccurredAt,
			Sequence:     event.Sequence,
			WatchRank:    symbolCtx.WatchRank,
			Symbol:       event.Symbol,
			CurrentPrice: event.CurrentPrice,
			ReboundRate:  reboundRate,
		})
	}
}

func (s *Service) flushBuyCandidate(event QuoteEvent, output *Output) {
	if !s.Ctx.Portfolio.GateOpen || s.Ctx.Portfolio.State != PortfolioNoPosition {
		return
	}

	candidate, ok := s.scheduler.PopNext()
	if !ok {
		return
	}
	symbolCtx := s.Ctx.Symbols[candidate.Symbol]
	if symbolCtx.State != SymbolBuyCandidate {
		return
	}

	s.Ctx.Portfolio.GateOpen = false
	s.Ctx.Portfolio.State = PortfolioBuyRequested
	s.Ctx.Portfolio.ActiveSymbol = candidate.Symbol
	symbolCtx.State = SymbolBuyTriggered

	output.Commands = append(output.Commands, OrderCommand{
		CommandID:   s.nextCommandID(event.TradingDate, candidate.Symbol, "BUY"),
		TradingDate: event.TradingDate,
		Symbol:      candidate.Symbol,
		Side:        "BUY",
		OrderPrice:  candidate.CurrentPrice,
		ReasonCode:  "TSE_REBOUND_BUY_SIGNAL",
	})
	var trackedLow string
	if symbolCtx.TrackedLow != nil {
		trackedLow = symbolCtx.TrackedLow.String()
	}
	output.StrategyEvents = append(output.StrategyEvents, StrategyEvent{
		EventType:     EventBuySignal,
		TradingDate:   event.TradingDate,
		Symbol:        candidate.Symbol,
		OccurredAt:    candidate.OccurredAt,
		StrategyState: symbolCtx.State,
		Metrics: map[string]any{
			"reboundRate": candidate.ReboundRate.String(),
			"trackedLow":  trackedLow,
		},
	})
}

func (s *Service) nextCommandID(tradingDate, symbol, side string) string {
	s.commandSequence++
	return fmt.Sprintf("%s-%s-%s-%d", tradingDate, symbol, side, s.commandSequence)
}
