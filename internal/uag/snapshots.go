package uag

import (
	"encoding/json"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"kiwoom-trader/internal/rules"
	"kiwoom-trader/internal/tse"
)

const marketCloseSec = 15*3600 + 30*60

func marketSeconds(at time.Time) int {
	local := at.In(tse.MarketZone)
	return local.Hour()*3600 + local.Minute()*60 + local.Second()
}

func formatHMS(at *time.Time) *string {
	if at == nil {
		return nil
	}
	s := at.In(tse.MarketZone).Format("15:04:05")
	return &s
}

func decString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func (s *Service) snapshotForSymbol(symbol string) *MonitoringSnapshot {
	snapshot, ok := s.snapshots[symbol]
	if !ok {
		snapshot = &MonitoringSnapshot{SymbolCode: symbol, SymbolName: symbol}
		s.snapshots[symbol] = snapshot
	}
	return snapshot
}

func (s *Service) setSnapshotPrice(snapshot *MonitoringSnapshot, field string, dst **decimal.Decimal, value decimal.Decimal, source string, occurredAt time.Time) {
	if *dst != nil && (*dst).Equal(value) {
		return
	}
	v := value
	*dst = &v
	if field == "currentPrice" || field == "currentPriceAtClose" {
		return
	}
	s.logger.Info("monitor row updated",
		"symbol", snapshot.SymbolCode, "field", field,
		"value", value.String(), "source", source,
		"occurred_at", occurredAt.Format(time.RFC3339))
}

func (s *Service) setSnapshotTime(snapshot *MonitoringSnapshot, field string, dst **time.Time, value time.Time, source string) {
	v := value
	*dst = &v
	s.logger.Info("monitor row updated",
		"symbol", snapshot.SymbolCode, "field", field,
		"value", value.Format(time.RFC3339), "source", source)
}

// meetsPreviousHighRequirements gates post-buy high tracking: the quote
// must come at or after the buy and sit at least the profit-lock margin
// above the buy price.
func meetsPreviousHighRequirements(snapshot *MonitoringSnapshot, quoteTime time.Time, quotePrice decimal.Decimal) bool {
	if snapshot.BuyTime == nil || snapshot.BuyPrice == nil {
		return false
	}
	if marketSeconds(quoteTime) < marketSeconds(*snapshot.BuyTime) {
		return false
	}
	required := snapshot.BuyPrice.Mul(decimal.NewFromInt(1).Add(rules.MinProfitLockThreshold.Div(decimal.NewFromInt(100))))
	return quotePrice.GreaterThanOrEqual(required)
}

// applyCycleToSnapshots folds one poll cycle's quotes and outputs into the
// monitoring rows. Caller holds the state mutex.
func (s *Service) applyCycleToSnapshots(cycle tse.CycleResult, referenceCaptureSec int) {
	for _, quote := range cycle.Quotes {
		snapshot := s.snapshotForSymbol(quote.Symbol)
		if quote.SymbolName != "" && quote.SymbolName != snapshot.SymbolName {
			snapshot.SymbolName = quote.SymbolName
		}
		if !quote.Price.IsPositive() {
			s.logger.Warn("non-positive quote skipped for monitoring",
				"symbol", quote.Symbol, "price", quote.Price.String(),
				"poll_cycle_id", cycle.PollCycleID)
			continue
		}
		tod := marketSeconds(quote.AsOf)

		if snapshot.PriceAtReference == nil && tod >= referenceCaptureSec {
			s.setSnapshotPrice(snapshot, "priceAtReference", &snapshot.PriceAtReference, quote.Price, "QUOTE_REFERENCE_CAPTURE", quote.AsOf)
		}
		s.setSnapshotPrice(snapshot, "currentPrice", &snapshot.CurrentPrice, quote.Price, "QUOTE_TICK", quote.AsOf)

		if snapshot.BuyTime == nil &&
			(snapshot.PreviousLowPrice == nil || quote.Price.LessThanOrEqual(*snapshot.PreviousLowPrice)) {
			s.setSnapshotPrice(snapshot, "previousLowPrice", &snapshot.PreviousLowPrice, quote.Price, "QUOTE_PREVIOUS_LOW", quote.AsOf)
			s.setSnapshotTime(snapshot, "previousLowTime", &snapshot.PreviousLowTime, quote.AsOf, "QUOTE_PREVIOUS_LOW")
		}

		if meetsPreviousHighRequirements(snapshot, quote.AsOf, quote.Price) &&
			(snapshot.PreviousHighPrice == nil || quote.Price.GreaterThanOrEqual(*snapshot.PreviousHighPrice)) {
			s.setSnapshotPrice(snapshot, "previousHighPrice", &snapshot.PreviousHighPrice, quote.Price, "QUOTE_PREVIOUS_HIGH", quote.AsOf)
			s.setSnapshotTime(snapshot, "previousHighTime", &snapshot.PreviousHighTime, quote.AsOf, "QUOTE_PREVIOUS_HIGH")
		}

		if snapshot.CurrentPriceAtClose == nil && tod >= marketCloseSec {
			s.setSnapshotPrice(snapshot, "currentPriceAtClose", &snapshot.CurrentPriceAtClose, quote.Price, "QUOTE_MARKET_CLOSE_CAPTURE", quote.AsOf)
		}
	}

	for _, output := range cycle.Outputs {
		s.applyOutputToSnapshots(output)
	}
	s.persistMonitoringState()
}

func (s *Service) applyOutputToSnapshots(output tse.Output) {
	signalTimes := map[string]map[string]time.Time{"BUY": {}, "SELL": {}}
	for _, event := range output.StrategyEvents {
		if event.EventType == tse.EventBuySignal {
			signalTimes["BUY"][event.Symbol] = event.OccurredAt
		}
		if event.EventType == tse.EventSellSignal {
			signalTimes["SELL"][event.Symbol] = event.OccurredAt
		}
	}

	for _, command := range output.Commands {
		snapshot := s.snapshotForSymbol(command.Symbol)
		at, ok := signalTimes[command.Side][command.Symbol]
		if !ok {
			at = s.now()
		}
		if command.Side == "BUY" {
			s.setSnapshotTime(snapshot, "buyTime", &snapshot.BuyTime, at, "BUY_COMMAND")
			s.setSnapshotPrice(snapshot, "buyPrice", &snapshot.BuyPrice, command.OrderPrice, "BUY_COMMAND", at)
			// The post-buy high starts fresh.
			snapshot.PreviousHighTime = nil
			snapshot.PreviousHighPrice = nil
		} else {
			s.setSnapshotTime(snapshot, "sellTime", &snapshot.SellTime, at, "SELL_COMMAND")
			s.setSnapshotPrice(snapshot, "sellPrice", &snapshot.SellPrice, command.OrderPrice, "SELL_COMMAND", at)
		}
	}
}

type snapshotEntry struct {
	SymbolCode          string  `json:"symbolCode"`
	SymbolName          string  `json:"symbolName"`
	PriceAtReference    *string `json:"priceAtReference"`
	CurrentPrice        *string `json:"currentPrice"`
	CurrentPriceAtClose *string `json:"currentPriceAtClose"`
	PreviousLowTime     *string `json:"previousLowTime"`
	PreviousLowPrice    *string `json:"previousLowPrice"`
	BuyTime             *string `json:"buyTime"`
	BuyPrice            *string `json:"buyPrice"`
	PreviousHighTime    *string `json:"previousHighTime"`
	PreviousHighPrice   *string `json:"previousHighPrice"`
	SellTime            *string `json:"sellTime"`
	SellPrice           *string `json:"sellPrice"`
}

type snapshotDocument struct {
	TradingDate string                   `json:"tradingDate"`
	UpdatedAt   string                   `json:"updatedAt"`
	Snapshots   map[string]snapshotEntry `json:"snapshots"`
}

func timeOut(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func timeIn(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}

func decIn(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}

// persistMonitoringState writes the snapshot document keyed by trading
// date. Failures are logged, never fatal.
func (s *Service) persistMonitoringState() {
	tradingDate := s.state.TradingDate
	if tradingDate == "" {
		tradingDate = s.today()
	}
	doc := snapshotDocument{
		TradingDate: tradingDate,
		UpdatedAt:   s.now().UTC().Format(time.RFC3339Nano),
		Snapshots:   make(map[string]snapshotEntry, len(s.snapshots)),
	}
	for symbol, snapshot := range s.snapshots {
		doc.Snapshots[symbol] = snapshotEntry{
			SymbolCode:          snapshot.SymbolCode,
			SymbolName:          snapshot.SymbolName,
			PriceAtReference:    decString(snapshot.PriceAtReference),
			CurrentPrice:        decString(snapshot.CurrentPrice),
			CurrentPriceAtClose: decString(snapshot.CurrentPriceAtClose),
			PreviousLowTime:     timeOut(snapshot.PreviousLowTime),
			PreviousLowPrice:    decString(snapshot.PreviousLowPrice),
			BuyTime:             timeOut(snapshot.BuyTime),
			BuyPrice:            decString(snapshot.BuyPrice),
			PreviousHighTime:    timeOut(snapshot.PreviousHighTime),
			PreviousHighPrice:   decString(snapshot.PreviousHighPrice),
			SellTime:            timeOut(snapshot.SellTime),
			SellPrice:           decString(snapshot.SellPrice),
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		s.logger.Warn("monitoring state marshal failed", "error", err)
		return
	}
	tmp := s.monitoringPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.logger.Warn("monitoring state write failed", "path", s.monitoringPath, "error", err)
		return
	}
	if err := os.Rename(tmp, s.monitoringPath); err != nil {
		s.logger.Warn("monitoring state rename failed", "path", s.monitoringPath, "error", err)
	}
}

// restoreMonitoringState loads the snapshot document; stale documents from
// a previous trading date are discarded.
func (s *Service) restoreMonitoringState() {
	data, err := os.ReadFile(s.monitoringPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("monitoring state read failed", "path", s.monitoringPath, "error", err)
		}
		return
	}
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("monitoring state unmarshal failed", "path", s.monitoringPath, "error", err)
		return
	}
	if doc.TradingDate != s.today() {
		_ = os.Remove(s.monitoringPath)
		return
	}

	restored := make(map[string]*MonitoringSnapshot, len(doc.Snapshots))
	for symbol, entry := range doc.Snapshots {
		code := entry.SymbolCode
		if code == "" {
			code = symbol
		}
		name := entry.SymbolName
		if name == "" {
			name = symbol
		}
		restored[symbol] = &MonitoringSnapshot{
			SymbolCode:          code,
			SymbolName:          name,
			PriceAtReference:    decIn(entry.PriceAtReference),
			CurrentPrice:        decIn(entry.CurrentPrice),
			CurrentPriceAtClose: decIn(entry.CurrentPriceAtClose),
			PreviousLowTime:     timeIn(entry.PreviousLowTime),
			PreviousLowPrice:    decIn(entry.PreviousLowPrice),
			BuyTime:             timeIn(entry.BuyTime),
			BuyPrice:            decIn(entry.BuyPrice),
			PreviousHighTime:    timeIn(entry.PreviousHighTime),
			PreviousHighPrice:   decIn(entry.PreviousHighPrice),
			SellTime:            timeIn(entry.SellTime),
			SellPrice:           decIn(entry.SellPrice),
		}
	}
	s.snapshots = restored
	s.state.TradingDate = doc.TradingDate
	s.logger.Info("monitoring state restored",
		"trading_date", doc.TradingDate, "symbols", len(restored))
}

// buildMonitoringRows projects snapshots into UI rows for the watch list.
// Low and high columns only appear once their strategy preconditions held.
func (s *Service) buildMonitoringRows(watchSymbols []string, useClosePrice bool, tradingDate string) []MonitoringRow {
	if tradingDate != "" && s.state.TradingDate != tradingDate {
		return []MonitoringRow{}
	}

	rows := make([]MonitoringRow, 0, len(watchSymbols))
	for _, symbol := range watchSymbols {
		snapshot, ok := s.snapshots[symbol]
		if !ok {
			snapshot = &MonitoringSnapshot{SymbolCode: symbol, SymbolName: symbol}
		}

		currentPrice := snapshot.CurrentPrice
		if useClosePrice && snapshot.CurrentPriceAtClose != nil {
			currentPrice = snapshot.CurrentPriceAtClose
		}

		previousLowTracked := false
		if snapshot.PreviousLowPrice != nil && snapshot.PriceAtReference != nil {
			if dropRate, err := rules.DropRate(*snapshot.PriceAtReference, *snapshot.PreviousLowPrice); err == nil {
				previousLowTracked = rules.GTE(dropRate, rules.DropThreshold)
			}
		}
		var previousLowPrice *decimal.Decimal
		var previousLowTime *time.Time
		if previousLowTracked {
			previousLowPrice = snapshot.PreviousLowPrice
			previousLowTime = snapshot.PreviousLowTime
		}

		previousHighValid := previousLowTracked &&
			snapshot.BuyTime != nil && snapshot.BuyPrice != nil &&
			snapshot.PreviousHighTime != nil && snapshot.PreviousHighPrice != nil &&
			meetsPreviousHighRequirements(snapshot, *snapshot.PreviousHighTime, *snapshot.PreviousHighPrice)
		var previousHighPrice *decimal.Decimal
		var previousHighTime *time.Time
		if previousHighValid {
			previousHighPrice = snapshot.PreviousHighPrice
			previousHighTime = snapshot.PreviousHighTime
		}

		rows = append(rows, MonitoringRow{
			SymbolName:          snapshot.SymbolName,
			SymbolCode:          snapshot.SymbolCode,
			PriceAtReference:    decString(snapshot.PriceAtReference),
			CurrentPrice:        decString(currentPrice),
			PreviousLowTime:     formatHMS(previousLowTime),
			PreviousLowPrice:    decString(previousLowPrice),
			BuyTime:             formatHMS(snapshot.BuyTime),
			BuyPrice:            decString(snapshot.BuyPrice),
			PreviousHighTime:    formatHMS(previousHighTime),
			PreviousHighPrice:   decString(previousHighPrice),
			SellTime:            formatHMS(snapshot.SellTime),
			SellPrice:           decString(snapshot.SellPrice),
			CurrentPriceAtClose: decString(snapshot.CurrentPriceAtClose),
		})
	}
	return rows
}
