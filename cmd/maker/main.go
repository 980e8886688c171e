package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alejandrodnm/polymaker/config"
	"github.com/alejandrodnm/polymaker/internal/adapters/feed"
	"github.com/alejandrodnm/polymaker/internal/adapters/notify"
	"github.com/alejandrodnm/polymaker/internal/adapters/onchain"
	"github.com/alejandrodnm/polymaker/internal/adapters/polymarket"
	"github.com/alejandrodnm/polymaker/internal/adapters/storage"
	"github.com/alejandrodnm/polymaker/internal/application/maker"
	"github.com/alejandrodnm/polymaker/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	cancelAll := flag.Bool("cancel-all", false, "cancel every open order and exit")
	status := flag.Bool("status", false, "print open orders and balances and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	runID := uuid.NewString()[:8]
	slog.Info("polymaker starting",
		"run_id", runID,
		"config", *configPath,
		"markets", cfg.Markets,
	)

	auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase,
		cfg.Wallet.PrivateKey, cfg.Wallet.Funder)
	if err != nil {
		slog.Error("failed to build auth client", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := auth.EnsureCreds(ctx); err != nil {
		slog.Error("failed to derive API credentials", "err", err)
		os.Exit(1)
	}
	slog.Info("authenticated", "signer", auth.Address(), "funder", auth.Funder())

	trading := polymarket.NewTradingClient(auth)

	if *cancelAll {
		runCancelAll(ctx, trading)
		return
	}
	if *status {
		runStatus(ctx, auth, trading, cfg.Markets)
		return
	}

	chain, err := onchain.NewReader(cfg.Chain.RPCURL, auth.Funder())
	if err != nil {
		slog.Error("failed to connect Polygon RPC", "err", err, "rpc", cfg.Chain.RPCURL)
		os.Exit(1)
	}
	defer chain.Close()

	// Read-only approval check: without operator approval every SELL will be
	// gated, so surface it loudly before quoting starts.
	if approved, err := chain.IsApprovedForAll(ctx); err != nil {
		slog.Warn("could not verify conditional token approval", "err", err)
	} else if !approved {
		slog.Warn("exchange is not approved to transfer conditional tokens; SELL orders will be skipped",
			"funder", auth.Funder())
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.ApplySchema(ctx); err != nil {
		slog.Error("failed to apply schema", "err", err)
		os.Exit(1)
	}

	markets, err := auth.ActiveMarkets(ctx, cfg.Markets)
	if err != nil {
		slog.Error("failed to load markets", "err", err)
		os.Exit(1)
	}
	if len(markets) == 0 {
		slog.Error("no active markets matched the configured slugs", "slugs", cfg.Markets)
		os.Exit(1)
	}

	makerCfg := buildMakerConfig(cfg.Maker)
	notifier := notify.NewConsole()

	var wg sync.WaitGroup
	for _, market := range markets {
		m := newMarketMaker(market, makerCfg, cfg, trading, chain, store, auth)

		wg.Add(1)
		go func(market domain.Market) {
			defer wg.Done()
			if err := m.Run(ctx); err != nil {
				slog.Error("maker stopped with error", "market", market.Slug, "err", err)
			}
			printSummary(ctx, notifier, trading, m.Report())
		}(market)
	}

	wg.Wait()
	slog.Info("polymaker stopped", "run_id", runID)
}

// newMarketMaker wires one maker instance: feeds, ledger, engine.
func newMarketMaker(market domain.Market, makerCfg maker.Config, cfg *config.Config,
	trading *polymarket.TradingClient, chain *onchain.Reader,
	store *storage.SQLiteStorage, auth *polymarket.AuthClient) *maker.Maker {

	marketURL := cfg.API.MarketWSURL
	if marketURL == "" {
		marketURL = feed.DefaultMarketURL
	}
	userURL := cfg.API.UserWSURL
	if userURL == "" {
		userURL = feed.DefaultUserURL
	}

	marketFeed := feed.NewMarketSupervisor(marketURL, market.TokenIDs())
	userFeed := feed.NewUserSupervisor(userURL, []string{market.ConditionID}, auth)

	ledger := maker.NewLedger(chain, trading, store, makerCfg)
	return maker.NewMaker(market, makerCfg, trading, marketFeed, userFeed, ledger)
}

// buildMakerConfig maps the YAML tunables onto the engine config. Zero values
// fall through to the engine's production defaults.
func buildMakerConfig(mc config.MakerConfig) maker.Config {
	cfg := maker.Config{
		Guard: domain.GuardConfig{
			ImprovementTicks:   mc.Guard.ImprovementTicks,
			MaxDistanceFromMid: mc.Guard.MaxDistanceFromMid,
			MinSpreadMult:      mc.Guard.MinSpreadMult,
			MaxSpreadMult:      mc.Guard.MaxSpreadMult,
			BaseSpread:         mc.Guard.BaseSpread,
			ParityTolerance:    mc.Guard.ParityTolerance,
		},
		OrderSize:          mc.OrderSizeShares,
		OrderTTL:           mc.OrderTTL(),
		PlaceCooldown:      mc.PlaceCooldown(),
		ReplaceCooldown:    mc.ReplaceCooldownDur(),
		MidMoveThreshold:   mc.MidMoveThreshold,
		MaxNotionalAtRisk:  mc.MaxNotionalUSDC,
		MaxPosition:        mc.MaxPositionShares,
		QuoteInterval:      mc.QuoteInterval(),
		ReconcileInterval:  mc.ReconcileInterval(),
		ResyncInterval:     mc.ResyncInterval(),
		DoubtRequeryDelay:  mc.DoubtRequeryDelay(),
		DoubtHardThreshold: mc.DoubtHardThreshold(),
		FeedStaleAfter:     mc.FeedStaleAfter(),
		AllowanceThreshold: mc.AllowanceThresholdUSDC,
	}
	cfg.SetDefaults()
	return cfg
}

// printSummary maps the engine report onto the console table, enriched with
// the closing collateral balance when the exchange still answers.
func printSummary(ctx context.Context, notifier *notify.Console,
	trading *polymarket.TradingClient, r maker.SessionReport) {

	report := notify.SessionReport{
		Market:       r.Market,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		OrdersPlaced: r.OrdersPlaced,
		Fills:        r.Fills,
		RealizedPnL:  r.RealizedPnL,
	}

	for _, token := range r.Market.Tokens {
		flow, ok := r.Flows[token.TokenID]
		if !ok {
			continue
		}
		report.Tokens = append(report.Tokens, notify.TokenReport{
			TokenID:   token.TokenID,
			Outcome:   token.Outcome,
			Shares:    flow.Shares,
			BuyFills:  flow.BuyFills,
			SellFills: flow.SellFills,
			AvgBuy:    flow.AvgBuy,
			AvgSell:   flow.AvgSell,
		})
	}

	if ba, err := trading.BalanceAllowance(ctx); err == nil {
		report.Collateral = ba.Balance
	}

	notifier.PrintSessionSummary(report)
}

// setupLogger configura slog: nivel, formato y rotación de archivo opcional.
func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := io.Writer(os.Stdout)
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
}
