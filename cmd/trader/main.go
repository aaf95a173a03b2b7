// Kiwoom intraday trader — an automated single-position trading engine for
// KRX equities over the Kiwoom REST API.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires the services, waits for SIGINT/SIGTERM
//	uag/service.go       — application gateway: engine lifecycle, quote worker, command execution
//	tse/service.go       — strategy: per-symbol drop/rebound tracking, single-position gate
//	tse/monitor.go       — quote polling loop with RUNNING/DEGRADED health tracking
//	opm/service.go       — order state machine, execution reconciliation, interim P&L
//	kia/gateway.go       — typed broker facade over the Kiwoom REST client (mock + live)
//	csm/service.go       — runtime settings and credentials with validation and masking
//	prp/store.go         — SQLite event store, FIFO trade matching, daily reports
//	rules/rules.go       — threshold predicates, tick ladder, tax/fee math
//
// How it trades:
//
//	At the reference capture time each symbol's base price is recorded.
//	A symbol that drops at least 1% from the base becomes a buy candidate;
//	a 0.2% rebound off its tracked low triggers a limit buy one tick under
//	market. With a position open, profit is marked to market every poll;
//	once the rate has touched 1% the engine sells when the current rate
//	falls below 80% of the maximum seen.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"kiwoom-trader/internal/config"
	"kiwoom-trader/internal/csm"
	"kiwoom-trader/internal/kia"
	"kiwoom-trader/internal/prp"
	"kiwoom-trader/internal/tse"
	"kiwoom-trader/internal/uag"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("KIWOOM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logSink, err := newRotatingLog(cfg.Runtime.LogDir)
	if err != nil {
		slog.Error("failed to open log file", "error", err, "dir", cfg.Runtime.LogDir)
		os.Exit(1)
	}
	defer logSink.Close()

	out := io.MultiWriter(os.Stdout, logSink)
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	logger := slog.New(handler)

	repository, err := csm.NewRepository(cfg.Store.ConfigDir)
	if err != nil {
		logger.Error("failed to open config repository", "error", err)
		os.Exit(1)
	}
	csmService := csm.NewService(repository, logger)

	source := brokerSource{
		inner:   csm.NewConfigSource(repository, logger),
		mockURL: cfg.Broker.MockBaseURL,
		liveURL: cfg.Broker.LiveBaseURL,
	}
	client := kia.NewRoutingClient(source, kia.LiveClientOptions{
		Timeout:          cfg.Broker.RequestTimeout,
		QuoteMinInterval: cfg.Broker.QuoteMinInterval,
		Idempotency:      kia.NewIdempotencyStore(),
	}, logger)
	gateway := kia.NewGateway(client, logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Store.EventDBPath), 0o755); err != nil {
		logger.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}
	store, err := prp.Open(cfg.Store.EventDBPath, logger)
	if err != nil {
		logger.Error("failed to open event store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	refHour, refMinute, _ := cfg.ReferenceCapture()
	service, err := uag.NewService(csmService, repository, store, gateway, uag.Config{
		MonitoringStatePath:    cfg.Store.MonitorState,
		ReferenceCaptureHour:   refHour,
		ReferenceCaptureMinute: refMinute,
		Monitor: tse.MonitorConfig{
			PollIntervalMs:    int(cfg.Quote.PollInterval / time.Millisecond),
			PollTimeoutMs:     int(cfg.Quote.PollTimeout / time.Millisecond),
			ErrorThreshold:    cfg.Quote.ErrorThreshold,
			RecoveryThreshold: cfg.Quote.RecoveryThreshold,
		},
	}, logger)
	if err != nil {
		logger.Error("failed to create trading service", "error", err)
		os.Exit(1)
	}

	var jobs *cron.Cron
	if cfg.Runtime.MidnightJobs {
		jobs = cron.New(cron.WithLocation(tse.MarketZone))
		_, err := jobs.AddFunc("0 0 * * *", func() {
			if err := logSink.Rotate(); err != nil {
				logger.Error("log rotation failed", "error", err)
			}
			service.RolloverTradingDate()
		})
		if err != nil {
			logger.Error("failed to schedule midnight job", "error", err)
			os.Exit(1)
		}
		jobs.Start()
	}

	result, err := service.StartTrading("", cfg.DryRun)
	if err != nil {
		logger.Error("failed to start trading", "error", err)
		os.Exit(1)
	}
	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("kiwoom trader started",
		"trading_date", result.TradingDate,
		"dry_run", result.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if jobs != nil {
		jobs.Stop()
	}
	service.Shutdown()
}

// brokerSource decorates the runtime config source with the deploy-level
// base URL overrides from the YAML config.
type brokerSource struct {
	inner   kia.ConfigSource
	mockURL string
	liveURL string
}

func (b brokerSource) Mode() kia.Mode { return b.inner.Mode() }

func (b brokerSource) Credential() kia.CredentialInfo {
	cred := b.inner.Credential()
	if cred.MockBaseURL == "" {
		cred.MockBaseURL = b.mockURL
	}
	if cred.LiveBaseURL == "" {
		cred.LiveBaseURL = b.liveURL
	}
	return cred
}

// rotatingLog writes to trader-YYYYMMDD.log and swaps the file on Rotate.
type rotatingLog struct {
	mu   sync.Mutex
	dir  string
	file *os.File
}

func newRotatingLog(dir string) (*rotatingLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &rotatingLog{dir: dir}
	if err := w.Rotate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingLog) Rotate() error {
	name := fmt.Sprintf("trader-%s.log", time.Now().In(tse.MarketZone).Format("20060102"))
	file, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.mu.Lock()
	old := w.file
	w.file = file
	w.mu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

func (w *rotatingLog) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Write(p)
}

func (w *rotatingLog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
