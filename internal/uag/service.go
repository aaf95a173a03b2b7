package uag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kiwoom-trader/internal/csm"
	"kiwoom-trader/internal/kia"
	"kiwoom-trader/internal/opm"
	"kiwoom-trader/internal/prp"
	"kiwoom-trader/internal/tse"
)

// EngineError is a lifecycle failure surfaced to the envelope.
type EngineError struct {
	Code    string
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// BrokerGateway is the slice of the broker layer the orchestrator uses.
// *kia.Gateway satisfies it.
type BrokerGateway interface {
	FetchQuotesBatch(ctx context.Context, mode kia.Mode, symbols []string, timeoutMs int, pollCycleID string) (kia.PollQuotesResult, error)
	SubmitOrder(ctx context.Context, req kia.SubmitOrderRequest) (kia.OrderResult, error)
	FetchExecution(ctx context.Context, mode kia.Mode, accountNo, brokerOrderID string) (kia.ExecutionResult, error)
	FetchReferencePrice(ctx context.Context, mode kia.Mode, symbol, tradingDate, referenceMinute string) (decimal.Decimal, bool, error)
}

// Config tunes the orchestrator.
type Config struct {
	MonitoringStatePath    string
	ReferenceCaptureHour   int // defaults to 09:03 when both are zero
	ReferenceCaptureMinute int
	Monitor                tse.MonitorConfig
}

// Service wires configuration, strategy, orders, and persistence together
// and owns the quote monitoring worker.
type Service struct {
	csmService *csm.Service
	repository *csm.Repository
	store      *prp.Store
	gateway    BrokerGateway
	orders     *opm.Service
	logger     *slog.Logger

	monitoringPath string
	refHour        int
	refMinute      int
	monitorConfig  tse.MonitorConfig

	mu        sync.Mutex
	state     RuntimeState
	snapshots map[string]*MonitoringSnapshot
	position  *opm.Position

	loopMu  sync.Mutex
	engine  *tse.Service
	monitor *tse.Monitor
	stopCh  chan struct{}
	doneCh  chan struct{}

	now func() time.Time
}

// NewService builds the orchestrator and restores any same-day monitoring
// state from disk.
func NewService(csmService *csm.Service, repository *csm.Repository, store *prp.Store, gateway BrokerGateway, config Config, logger *slog.Logger) (*Service, error) {
	if config.MonitoringStatePath == "" {
		config.MonitoringStatePath = "runtime/state/uag_monitoring_state.json"
	}
	if config.ReferenceCaptureHour == 0 && config.ReferenceCaptureMinute == 0 {
		config.ReferenceCaptureHour = 9
		config.ReferenceCaptureMinute = 3
	}
	if err := os.MkdirAll(filepath.Dir(config.MonitoringStatePath), 0o755); err != nil {
		return nil, fmt.Errorf("create monitoring state dir: %w", err)
	}

	s := &Service{
		csmService:     csmService,
		repository:     repository,
		store:          store,
		gateway:        gateway,
		orders:         opm.NewService(store, logger),
		logger:         logger.With("component", "uag"),
		monitoringPath: config.MonitoringStatePath,
		refHour:        config.ReferenceCaptureHour,
		refMinute:      config.ReferenceCaptureMinute,
		monitorConfig:  config.Monitor,
		state:          RuntimeState{EngineState: EngineIdle, DryRun: true, QuoteLoopState: tse.LoopStopped},
		snapshots:      map[string]*MonitoringSnapshot{},
		now:            time.Now,
	}
	s.restoreMonitoringState()
	return s, nil
}

// SetNowFunc overrides wall clock for tests.
func (s *Service) SetNowFunc(now func() time.Time) {
	s.now = now
}

func (s *Service) today() string {
	return s.now().In(tse.MarketZone).Format("2006-01-02")
}

func (s *Service) referenceCaptureSec() int {
	return s.refHour*3600 + s.refMinute*60
}

func (s *Service) referenceMinute() string {
	return fmt.Sprintf("%02d%02d", s.refHour, s.refMinute)
}

// SaveSettings delegates to the settings manager.
func (s *Service) SaveSettings(req csm.SaveSettingsRequest) (*csm.SettingsView, error) {
	return s.csmService.SaveSettings(req)
}

// MaskedCredentials returns the stored credentials, masked.
func (s *Service) MaskedCredentials() (csm.MaskedCredential, error) {
	credentials, err := s.repository.ReadCredentials()
	if err != nil || credentials == nil {
		return csm.MaskedCredential{}, err
	}
	return csm.MaskCredential(credentials.Credential), nil
}

// SwitchMode changes the trading mode after checking the engine guard.
func (s *Service) SwitchMode(targetMode string, liveModeConfirmed bool) (*csm.ModeSwitchView, error) {
	s.mu.Lock()
	guard := csm.TradingGuardStatus{EngineState: s.state.EngineState}
	if s.position != nil && s.position.Quantity > 0 {
		guard.OpenPositions = 1
	}
	s.mu.Unlock()
	return s.csmService.SwitchMode(targetMode, liveModeConfirmed, guard)
}

// StartTrading moves the engine to RUNNING and starts the quote worker.
// A second start while RUNNING fails with UAG_ENGINE_ALREADY_RUNNING.
func (s *Service) StartTrading(tradingDate string, dryRun bool) (*StartTradingResult, error) {
	s.mu.Lock()
	if s.state.EngineState == EngineRunning {
		s.mu.Unlock()
		return nil, &EngineError{Code: ErrEngineAlreadyRunning, Message: "trading engine is already running"}
	}
	if tradingDate == "" {
		tradingDate = s.today()
	}
	s.state.EngineState = EngineRunning
	s.state.TradingStartedAt = s.now()
	s.state.TradingDate = tradingDate
	s.state.DryRun = dryRun
	if tradingDate != s.today() {
		s.snapshots = map[string]*MonitoringSnapshot{}
		s.persistMonitoringState()
	}
	startedAt := s.state.TradingStartedAt
	s.mu.Unlock()

	s.logger.Info("start trading requested", "trading_date", tradingDate, "dry_run", dryRun)
	s.startQuoteLoop()

	return &StartTradingResult{
		EngineState: EngineRunning,
		AcceptedAt:  startedAt.UTC().Format(time.RFC3339Nano),
		TradingDate: tradingDate,
		DryRun:      dryRun,
		SafeMode:    true,
	}, nil
}

// RolloverTradingDate moves a running engine onto a new trading date:
// snapshots reset and the quote loop restarts with fresh strategy
// contexts. A stopped engine only clears stale snapshots.
func (s *Service) RolloverTradingDate() {
	today := s.today()

	s.mu.Lock()
	if s.state.TradingDate == today {
		s.mu.Unlock()
		return
	}
	running := s.state.EngineState == EngineRunning
	s.state.TradingDate = today
	s.snapshots = map[string]*MonitoringSnapshot{}
	s.persistMonitoringState()
	s.mu.Unlock()

	s.logger.Info("trading date rolled over", "trading_date", today, "restart_loop", running)
	if running {
		s.startQuoteLoop()
	}
}

// Shutdown stops the worker and idles the engine.
func (s *Service) Shutdown() {
	s.logger.Info("shutdown requested, stopping quote loop")
	s.mu.Lock()
	s.state.EngineState = EngineIdle
	s.mu.Unlock()
	s.stopQuoteLoop()
}

// MonitorStatus is the read-only engine projection.
func (s *Service) MonitorStatus() (*MonitorStatus, error) {
	settings, err := s.repository.ReadSettings()
	if err != nil {
		return nil, err
	}
	mode := "mock"
	var watchSymbols []string
	if settings != nil {
		mode = settings.Mode
		watchSymbols = settings.WatchSymbols
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := &MonitorStatus{
		EngineState:    s.state.EngineState,
		Mode:           mode,
		WatchSymbols:   watchSymbols,
		TradingDate:    s.state.TradingDate,
		DryRun:         s.state.DryRun,
		SafeMode:       true,
		MonitoringRows: s.buildMonitoringRows(watchSymbols, false, ""),
		QuoteMonitoring: QuoteMonitoringStatus{
			LoopState:              s.state.QuoteLoopState,
			CyclesTotal:            s.state.QuoteCyclesTotal,
			LastPollCycleID:        s.state.QuoteLastPollCycleID,
			LastCyclePartial:       s.state.QuoteLastCyclePartial,
			LastQuoteCount:         s.state.QuoteLastQuoteCount,
			LastErrorCount:         s.state.QuoteLastErrorCount,
			LastCommandCount:       s.state.QuoteLastCommandCount,
			LastStrategyEventCount: s.state.QuoteLastStrategyEventCount,
			LastCycleError:         s.state.QuoteLastCycleError,
		},
	}
	if s.position != nil && s.position.Quantity > 0 {
		status.OpenPositions = 1
	}
	if !s.state.TradingStartedAt.IsZero() {
		status.StartedAt = s.state.TradingStartedAt.UTC().Format(time.RFC3339Nano)
	}
	if !s.state.QuoteLastCycleAt.IsZero() {
		status.QuoteMonitoring.LastCycleAt = s.state.QuoteLastCycleAt.UTC().Format(time.RFC3339Nano)
	}
	return status, nil
}

// DailyReport regenerates and returns the day's rollup.
func (s *Service) DailyReport(tradingDate string) (*DailyReportView, error) {
	report, err := s.store.GenerateDailyReport(tradingDate)
	if err != nil {
		return nil, err
	}
	watchSymbols := s.watchSymbolsFromSettings()

	s.mu.Lock()
	rows := s.buildMonitoringRows(watchSymbols, true, tradingDate)
	s.mu.Unlock()

	return &DailyReportView{
		TradingDate:     report.TradingDate,
		TotalBuyAmount:  report.TotalBuyAmount.String(),
		TotalSellAmount: report.TotalSellAmount.String(),
		TotalSellTax:    report.TotalSellTax.String(),
		TotalSellFee:    report.TotalSellFee.String(),
		TotalNetPnl:     report.TotalNetPnl.String(),
		TotalReturnRate: report.TotalReturnRate.String(),
		GeneratedAt:     report.GeneratedAt.UTC().Format(time.RFC3339Nano),
		MonitoringRows:  rows,
	}, nil
}

// TradesReport lists the day's FIFO-matched trades, generating the report
// first when none exist yet.
func (s *Service) TradesReport(tradingDate string) (*TradesReportView, error) {
	details, err := s.store.ListTradeDetails(tradingDate, "")
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		if _, err := s.store.GenerateDailyReport(tradingDate); err != nil {
			return nil, err
		}
		if details, err = s.store.ListTradeDetails(tradingDate, ""); err != nil {
			return nil, err
		}
	}

	items := make([]TradeDetailView, 0, len(details))
	for _, detail := range details {
		items = append(items, TradeDetailView{
			ID:             detail.ID,
			Symbol:         detail.Symbol,
			BuyExecutedAt:  detail.BuyExecutedAt.UTC().Format(time.RFC3339Nano),
			SellExecutedAt: detail.SellExecutedAt.UTC().Format(time.RFC3339Nano),
			Quantity:       detail.Quantity,
			BuyPrice:       detail.BuyPrice.String(),
			SellPrice:      detail.SellPrice.String(),
			BuyAmount:      detail.BuyAmount.String(),
			SellAmount:     detail.SellAmount.String(),
			SellTax:        detail.SellTax.String(),
			SellFee:        detail.SellFee.String(),
			NetPnl:         detail.NetPnl.String(),
			ReturnRate:     detail.ReturnRate.String(),
		})
	}

	watchSymbols := s.watchSymbolsFromSettings()
	s.mu.Lock()
	rows := s.buildMonitoringRows(watchSymbols, true, tradingDate)
	s.mu.Unlock()

	return &TradesReportView{
		TradingDate:    tradingDate,
		Count:          len(items),
		Items:          items,
		MonitoringRows: rows,
	}, nil
}

func (s *Service) watchSymbolsFromSettings() []string {
	settings, err := s.repository.ReadSettings()
	if err != nil || settings == nil {
		return nil
	}
	return settings.WatchSymbols
}

func (s *Service) startQuoteLoop() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	s.stopWorkerLocked()

	settings, err := s.repository.ReadSettings()
	watchSymbols := []string{"005930"}
	mode := kia.ModeMock
	if err == nil && settings != nil {
		if len(settings.WatchSymbols) > 0 {
			watchSymbols = settings.WatchSymbols
		}
		if settings.Mode == "live" {
			mode = kia.ModeLive
		}
	}

	s.mu.Lock()
	tradingDate := s.state.TradingDate
	if tradingDate == "" {
		tradingDate = s.today()
	}
	s.mu.Unlock()

	engine, err := tse.NewService(tradingDate, watchSymbols, s.logger)
	if err != nil {
		s.logger.Error("quote loop start failed", "error", err)
		return
	}
	engine.SetReferenceCaptureTime(s.refHour, s.refMinute)
	s.initializeReferencePrices(engine, mode, watchSymbols, tradingDate)

	config := s.monitorConfig
	config.Mode = mode
	monitor := tse.NewMonitor(engine, s.gateway, config, s.logger)

	s.logger.Info("quote loop starting",
		"trading_date", tradingDate, "mode", string(mode),
		"symbols", strings.Join(watchSymbols, ","))

	s.mu.Lock()
	s.state.QuoteLoopState = tse.LoopRunning
	s.state.QuoteLastCycleError = ""
	s.engine = engine
	s.monitor = monitor
	s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.quoteWorker(monitor, s.stopCh, s.doneCh)
}

// initializeReferencePrices backfills per-symbol reference prices from the
// minute chart when the engine starts after the capture time.
func (s *Service) initializeReferencePrices(engine *tse.Service, mode kia.Mode, watchSymbols []string, tradingDate string) {
	nowSec := marketSeconds(s.now())
	chartDate := strings.ReplaceAll(tradingDate, "-", "")

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, symbol := range watchSymbols {
		snapshot := s.snapshotForSymbol(symbol)
		symbolCtx, ok := engine.Ctx.Symbols[symbol]
		if !ok {
			continue
		}

		if snapshot.PriceAtReference != nil && symbolCtx.ReferencePrice == nil {
			price := *snapshot.PriceAtReference
			symbolCtx.ReferencePrice = &price
			symbolCtx.State = tse.SymbolTracking
		}

		if nowSec < s.referenceCaptureSec() || snapshot.PriceAtReference != nil {
			continue
		}

		price, found, err := s.gateway.FetchReferencePrice(context.Background(), mode, symbol, chartDate, s.referenceMinute())
		if err != nil {
			s.logger.Warn("reference price backfill failed", "symbol", symbol, "mode", string(mode), "error", err)
			continue
		}
		if !found || !price.IsPositive() {
			continue
		}

		s.setSnapshotPrice(snapshot, "priceAtReference", &snapshot.PriceAtReference, price,
			"QUOTE_REFERENCE_BACKFILL", s.now())
		if symbolCtx.ReferencePrice == nil {
			ref := price
			symbolCtx.ReferencePrice = &ref
			symbolCtx.State = tse.SymbolTracking
		}
	}
	s.persistMonitoringState()
}

func (s *Service) stopQuoteLoop() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	s.stopWorkerLocked()
}

func (s *Service) stopWorkerLocked() {
	if s.stopCh != nil {
		close(s.stopCh)
		select {
		case <-s.doneCh:
		case <-time.After(2 * time.Second):
			s.logger.Warn("quote worker did not stop within join timeout")
		}
		s.stopCh = nil
		s.doneCh = nil
	}

	s.mu.Lock()
	if s.monitor != nil {
		s.monitor.Stop()
	}
	s.monitor = nil
	s.engine = nil
	s.state.QuoteLoopState = tse.LoopStopped
	s.mu.Unlock()
	s.logger.Info("quote loop stopped")
}

func (s *Service) quoteWorker(monitor *tse.Monitor, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	monitor.Start()
	interval := time.Duration(s.monitorConfig.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = tse.DefaultPollIntervalMs * time.Millisecond
	}

	for {
		select {
		case <-stopCh:
			return
		default:
		}
		if !s.engineRunning() {
			return
		}

		cycle := monitor.RunCycle(context.Background())
		s.recordCycle(cycle)

		s.mu.Lock()
		dryRun := s.state.DryRun
		commandCount := s.state.QuoteLastCommandCount
		s.mu.Unlock()

		if !dryRun {
			s.executeCycleCommands(cycle.Outputs)
		} else if commandCount > 0 {
			s.logger.Info("dry-run active, skipping commands",
				"commands", commandCount, "poll_cycle_id", cycle.PollCycleID)
		}

		select {
		case <-stopCh:
			return
		case <-time.After(interval):
		}
	}
}

func (s *Service) engineRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.EngineState == EngineRunning
}

func (s *Service) recordCycle(cycle tse.CycleResult) {
	commandCount := 0
	eventCount := 0
	for _, output := range cycle.Outputs {
		commandCount += len(output.Commands)
		eventCount += len(output.StrategyEvents)
	}

	s.mu.Lock()
	s.applyCycleToSnapshots(cycle, s.referenceCaptureSec())
	s.state.QuoteLoopState = cycle.State
	s.state.QuoteCyclesTotal++
	s.state.QuoteLastPollCycleID = cycle.PollCycleID
	s.state.QuoteLastCycleAt = s.now()
	s.state.QuoteLastCyclePartial = cycle.Partial
	s.state.QuoteLastQuoteCount = cycle.QuoteCount
	s.state.QuoteLastErrorCount = cycle.ErrorCount
	s.state.QuoteLastCycleError = cycle.FetchError
	s.state.QuoteLastCommandCount = commandCount
	s.state.QuoteLastStrategyEventCount = eventCount
	cyclesTotal := s.state.QuoteCyclesTotal
	s.mu.Unlock()

	for _, output := range cycle.Outputs {
		s.persistStrategyEvents(output.StrategyEvents)
	}

	if cycle.Partial || cycle.FetchError != "" || cycle.ErrorCount > 0 ||
		cycle.QuoteCount == 0 || commandCount > 0 || cyclesTotal%30 == 0 {
		s.logger.Info("quote cycle summary",
			"poll_cycle_id", cycle.PollCycleID, "state", cycle.State,
			"partial", cycle.Partial, "quotes", cycle.QuoteCount,
			"errors", cycle.ErrorCount, "commands", commandCount,
			"events", eventCount, "fetch_error", cycle.FetchError)
	}
}

func (s *Service) persistStrategyEvents(events []tse.StrategyEvent) {
	for _, event := range events {
		if err := s.store.AppendStrategyEvent(prp.StrategyEvent{
			EventID:     "evt-stg-" + shortID(12),
			TradingDate: event.TradingDate,
			OccurredAt:  event.OccurredAt,
			Symbol:      event.Symbol,
			EventType:   event.EventType,
			Payload:     event.Metrics,
		}); err != nil {
			s.logger.Warn("strategy event append failed",
				"event_type", event.EventType, "symbol", event.Symbol, "error", err)
		}
	}
}

func (s *Service) executeCycleCommands(outputs []tse.Output) {
	commandCount := 0
	for _, output := range outputs {
		commandCount += len(output.Commands)
	}
	if commandCount > 0 {
		s.logger.Info("executing cycle commands", "count", commandCount)
	}
	for _, output := range outputs {
		for _, command := range output.Commands {
			s.executeTseCommand(command)
		}
	}
}

func (s *Service) orderExecutionContext() (kia.Mode, string) {
	mode := kia.ModeMock
	if settings, err := s.repository.ReadSettings(); err == nil && settings != nil && settings.Mode == "live" {
		mode = kia.ModeLive
	}
	accountNo := "00000000"
	if credentials, err := s.repository.ReadCredentials(); err == nil && credentials != nil {
		if no := strings.TrimSpace(credentials.Credential.AccountNo); no != "" {
			accountNo = no
		}
	}
	return mode, accountNo
}

// resolveOrderQuantity sizes the order. Sells always exit one position
// unit per command; buys take floor(budget/price) with a one-share default
// when no budget is configured.
func (s *Service) resolveOrderQuantity(side string, orderPrice decimal.Decimal) int64 {
	if side != "BUY" {
		return 1
	}
	if !orderPrice.IsPositive() {
		return 0
	}
	settings, err := s.repository.ReadSettings()
	if err != nil || settings == nil || settings.BuyBudget == "" {
		return 1
	}
	budget, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(settings.BuyBudget), ",", ""))
	if err != nil {
		return 1
	}
	if !budget.IsPositive() {
		return 0
	}
	return budget.Div(orderPrice).Floor().IntPart()
}

func (s *Service) executeTseCommand(command tse.OrderCommand) {
	mode, accountNo := s.orderExecutionContext()
	quantity := s.resolveOrderQuantity(command.Side, command.OrderPrice)
	if quantity <= 0 {
		s.logger.Warn("command skipped, resolved quantity is zero",
			"command_id", command.CommandID, "symbol", command.Symbol,
			"side", command.Side, "order_price", command.OrderPrice.String())
		return
	}

	limitPrice := command.OrderPrice
	if command.Side == "SELL" {
		// Sells go out two ticks under the mark so the exit fills.
		computed, err := s.orders.ComputeSellPrice(command.OrderPrice)
		if err != nil {
			s.logger.Error("sell price computation failed",
				"command_id", command.CommandID, "price", command.OrderPrice.String(), "error", err)
			return
		}
		limitPrice = computed
	}

	now := s.now()
	s.logger.Info("submitting order command",
		"command_id", command.CommandID, "symbol", command.Symbol,
		"side", command.Side, "quantity", quantity,
		"price", limitPrice.String())

	order, err := s.orders.CreateOrder(command.TradingDate, command.Symbol, opm.Side(command.Side),
		limitPrice, quantity, command.CommandID, now)
	if err != nil {
		s.logger.Error("order create failed", "command_id", command.CommandID, "error", err)
		return
	}
	if err := s.orders.MoveOrderStatus(order, opm.StatusSubmitted, s.now(), "", ""); err != nil {
		s.logger.Error("order submit transition failed", "order_id", order.ID, "error", err)
		return
	}

	price := limitPrice
	result, err := s.gateway.SubmitOrder(context.Background(), kia.SubmitOrderRequest{
		Mode:          mode,
		AccountNo:     accountNo,
		Symbol:        command.Symbol,
		Side:          command.Side,
		OrderType:     "LIMIT",
		Price:         &price,
		Quantity:      quantity,
		ClientOrderID: order.ClientOrderID,
	})
	if err != nil {
		s.logger.Error("order submit failed",
			"command_id", command.CommandID, "symbol", command.Symbol,
			"side", command.Side, "client_order_id", order.ClientOrderID, "error", err)
		if err := s.orders.MoveOrderStatus(order, opm.StatusRejected, s.now(), "", "OPM_KIA_SUBMIT_FAILED"); err != nil {
			s.logger.Error("order reject transition failed", "order_id", order.ID, "error", err)
		}
		s.notifyBuyFailure(command)
		return
	}

	if result.Status != "ACCEPTED" {
		if err := s.orders.MoveOrderStatus(order, opm.StatusRejected, s.now(), result.BrokerOrderID, "OPM_KIA_ORDER_REJECTED"); err != nil {
			s.logger.Error("order reject transition failed", "order_id", order.ID, "error", err)
		}
		s.notifyBuyFailure(command)
		return
	}

	if err := s.orders.MoveOrderStatus(order, opm.StatusAccepted, s.now(), result.BrokerOrderID, ""); err != nil {
		s.logger.Error("order accept transition failed", "order_id", order.ID, "error", err)
		return
	}
	s.logger.Info("order submit completed",
		"command_id", command.CommandID, "symbol", command.Symbol,
		"side", command.Side, "status", result.Status,
		"broker_order_id", result.BrokerOrderID, "client_order_id", order.ClientOrderID)

	s.reconcileOrder(order, mode, accountNo, command.OrderPrice)
}

// notifyBuyFailure reopens the engine's buy gate after a failed buy.
func (s *Service) notifyBuyFailure(command tse.OrderCommand) {
	if command.Side != "BUY" {
		return
	}
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return
	}
	engine.OnPositionUpdate(tse.PositionUpdateEvent{
		TradingDate:   command.TradingDate,
		Symbol:        command.Symbol,
		PositionState: tse.UpdateBuyFailed,
		UpdatedAt:     s.now(),
	})
}

// reconcileOrder pulls broker executions for an accepted order, applies
// them through the order manager, and feeds the resulting position back
// into the strategy engine. Sell commands the engine emits in response are
// executed in turn.
func (s *Service) reconcileOrder(order *opm.OrderAggregate, mode kia.Mode, accountNo string, latestPrice decimal.Decimal) {
	execution, err := s.gateway.FetchExecution(context.Background(), mode, accountNo, order.BrokerOrderID)
	if err != nil {
		s.logger.Warn("execution fetch failed",
			"order_id", order.ID, "broker_order_id", order.BrokerOrderID, "error", err)
		return
	}

	fills := make([]opm.Fill, 0, len(execution.Fills))
	for _, fill := range execution.Fills {
		fills = append(fills, opm.Fill{
			ExecutionID: fill.ExecutionID,
			Symbol:      order.Symbol,
			Side:        order.Side,
			Price:       fill.Price,
			Qty:         fill.Quantity,
			ExecutedAt:  fill.ExecutedAt,
		})
	}

	s.mu.Lock()
	if s.position == nil || s.position.TradingDate != order.TradingDate || s.position.Symbol != order.Symbol {
		s.position = opm.NewPosition("pos-"+order.TradingDate+"-"+order.Symbol, order.TradingDate, order.Symbol, s.now())
	}
	position := s.position
	s.mu.Unlock()

	applied, err := s.orders.ReconcileExecutionEvents(order, position, fills, execution.RemainingQty, latestPrice, s.now())
	if err != nil {
		s.logger.Error("execution reconcile failed", "order_id", order.ID, "error", err)
		return
	}
	s.logger.Info("executions reconciled",
		"order_id", order.ID, "applied", applied,
		"position_state", position.State, "quantity", position.Quantity)

	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return
	}
	output := engine.OnPositionUpdate(mapPositionUpdate(position, s.now()))
	s.persistStrategyEvents(output.StrategyEvents)
	for _, next := range output.Commands {
		s.executeTseCommand(next)
	}
}

func mapPositionUpdate(position *opm.Position, at time.Time) tse.PositionUpdateEvent {
	var state string
	switch position.State {
	case opm.PositionFlat:
		state = tse.UpdateBuyFailed
	case opm.PositionLongOpen:
		state = tse.UpdateLongOpen
	case opm.PositionExiting:
		state = tse.UpdateSellRequested
	case opm.PositionClosed:
		state = tse.UpdateClosed
	default:
		state = tse.UpdateBuyRequested
	}
	return tse.PositionUpdateEvent{
		TradingDate:       position.TradingDate,
		Symbol:            position.Symbol,
		PositionState:     state,
		AvgBuyPrice:       position.AvgBuyPrice,
		CurrentPrice:      position.CurrentPrice,
		CurrentProfitRate: position.CurrentProfitRate,
		MaxProfitRate:     position.MaxProfitRate,
		MinProfitLocked:   position.MinProfitLocked,
		UpdatedAt:         at,
	}
}
