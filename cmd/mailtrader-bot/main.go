// mailtrader-bot is the main service: it runs the Telegram bot, the
// matching scheduler, and the operator HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mailtrader/internal/bot"
	"mailtrader/internal/config"
	"mailtrader/internal/engine"
	"mailtrader/internal/gateway"
	"mailtrader/internal/httpapi"
	"mailtrader/internal/notify"
	"mailtrader/internal/scheduler"
	"mailtrader/internal/store"
	"mailtrader/internal/util"
)

func main() {
	cfgPath := "config/mailtrader.yaml"
	if p := os.Getenv("MAILTRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Telegram.Token == "" {
		log.Fatal("telegram token is not configured (set BOT_TOKEN or telegram.token)")
	}
	if cfg.Telegram.OwnerID == 0 {
		log.Fatal("owner id is not configured (set OWNER_ID or telegram.owner_id)")
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	var gw gateway.Gateway
	if cfg.TradeAPI.PaperMode {
		logger.Warn("paper mode enabled, using simulated gateway")
		gw = gateway.NewSimulator(0.35, 0.60, 100)
	} else {
		if cfg.TradeAPI.Key == "" {
			log.Fatal("trade API key is not configured (set API_KEY or trade_api.key)")
		}
		gw = gateway.NewClient(cfg.TradeAPI.Domain, cfg.TradeAPI.Key,
			cfg.TradeAPI.RateLimitPerMin, logger)
	}

	limits := engine.NewOrderLimits(cfg.Limits.MinQuantity, cfg.Limits.MaxQuantity)
	eng := engine.NewEngine(gw, st, limits, logger)

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatalf("failed to connect to Telegram: %v", err)
	}
	logger.Info("telegram connected", "bot", api.Self.UserName)

	notifier := notify.NewTelegramNotifier(api, logger)
	tgBot := bot.New(api, eng, st, gw, limits, cfg.Telegram.OwnerID, logger)
	sched := scheduler.New(eng, st, notifier,
		time.Duration(cfg.Scheduler.MatchIntervalMin)*time.Minute,
		time.Duration(cfg.Scheduler.BroadcastIntervalMin)*time.Minute,
		logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := api.GetUpdatesChan(u)
		tgBot.Run(ctx, updates)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: httpapi.NewServer(eng, st, logger).Handler(),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("http api listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	api.StopReceivingUpdates()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	wg.Wait()
	logger.Info("stopped")
}
