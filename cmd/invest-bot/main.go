package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/aifolio/invest-bot/internal/api"
	"github.com/aifolio/invest-bot/internal/config"
	"github.com/aifolio/invest-bot/internal/ledger"
	"github.com/aifolio/invest-bot/internal/logger"
	"github.com/aifolio/invest-bot/internal/marketdata"
	"github.com/aifolio/invest-bot/internal/oracle"
	"github.com/aifolio/invest-bot/internal/portfolio"
	"github.com/aifolio/invest-bot/internal/postgres"
	"github.com/aifolio/invest-bot/internal/scheduler"
	"github.com/aifolio/invest-bot/internal/server"
	"github.com/aifolio/invest-bot/internal/settings"
	"github.com/joho/godotenv"
)

const (
	_botCfgFilePath = "./configs/bot.yaml"
)

func main() {
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.Debug)
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	if err := godotenv.Load(); err != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig(_botCfgFilePath)
	if err != nil {
		zapLogger.Fatalf("%s: can't load bot cfg", err)
	}

	db, err := postgres.NewDB(postgres.NewConfigFromEnv().Setup())
	if err != nil {
		zapLogger.Fatalf("%s: can't connect to postgres", err)
	}
	defer db.Close()

	store := ledger.New(db, cfg.InitialCapital, zapLogger.With("component", "ledger"))
	if err := store.InitSchema(ctx); err != nil {
		zapLogger.Fatalf("%s: can't init ledger schema", err)
	}
	if err := store.Seed(ctx); err != nil {
		zapLogger.Fatalf("%s: can't seed ledger", err)
	}

	book := portfolio.NewPortfolio(store, cfg.Guardrails, zapLogger.With("component", "portfolio"))
	if err := book.Load(ctx); err != nil {
		zapLogger.Fatalf("%s: can't load portfolio state", err)
	}
	zapLogger.Infof("state loaded: balance %.2f, %d holdings", book.Balance(), len(book.View().Holdings))

	advisor, err := oracle.NewAdvisor(ctx, cfg.Oracle, zapLogger.With("component", "oracle"))
	if err != nil {
		zapLogger.Fatalf("%s: can't create advisor", err)
	}

	quotes := marketdata.NewQuotesService(cfg.MarketData, zapLogger.With("component", "quotes"))
	markets := marketdata.NewPolymarketService(cfg.MarketData, cfg.Universe.PolymarketLimit, zapLogger.With("component", "polymarket"))

	registry := settings.NewRegistry()
	sched := scheduler.NewScheduler(cfg, book, registry, quotes, markets, advisor, store, zapLogger.With("component", "scheduler"))
	go sched.Run(ctx)

	handler := api.NewHandler(cfg, book, sched, registry, store, zapLogger.With("component", "api"))
	srv := server.NewHTTPServer(ctx, cfg.Port, handler.Router(cfg.CORSOrigins))

	zapLogger.Infof("listening on :%s, cycle interval %s", cfg.Port, cfg.CycleInterval.Std())
	if err := srv.Run(ctx); err != nil {
		zapLogger.Errorf("%s: server stopped", err)
	}
}
