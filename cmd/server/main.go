package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parking/internal/audit"
	"parking/internal/barcode"
	"parking/internal/config"
	"parking/internal/db"
	"parking/internal/handlers"
	"parking/internal/services"
	"parking/internal/store"
	"parking/internal/websocket"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.AppEnv == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DatabaseURL, db.Pool{MaxOpen: cfg.DBMaxOpenConns, MaxIdle: cfg.DBMaxIdleConns})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	defer database.Close()

	// Redis only carries audit flush alerts; run without it rather than refuse to start.
	var alerter audit.Alerter
	var deadLetters *audit.RedisAlerter
	rdb, err := audit.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, audit flush alerts go to the log only")
	} else {
		defer rdb.Close()
		deadLetters = audit.NewRedisAlerter(rdb)
		alerter = deadLetters
	}

	barcodes, err := barcode.New(cfg.BarcodeNode)
	if err != nil {
		log.Fatal().Err(err).Int64("node", cfg.BarcodeNode).Msg("invalid barcode node")
	}

	operators := store.NewOperatorStore(database)
	admin := store.NewAdminStore(database)
	auditStore := store.NewAuditStore(database)
	tickets := store.NewTicketStore(database)
	registers := store.NewRegisterStore(database)
	transactions := store.NewTransactionStore(database)
	cashFlows := store.NewCashFlowStore(database)
	pricingStore := store.NewPricingStore(database)
	pensions := store.NewPensionStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()
	hub.AllowOrigins(cfg.AllowedOrigins)

	settings := services.DefaultSettings()
	settings.PersistenceTimeout = cfg.PersistenceTimeout
	settings.DiscrepancyWarnPct = decimal.NewFromFloat(cfg.DiscrepancyWarnPct)
	settings.DiscrepancyCriticalPct = decimal.NewFromFloat(cfg.DiscrepancyCriticalPct)

	registerService := services.NewRegisterService(txRunner, registers, transactions, cashFlows, auditStore, hub, settings)
	ticketService := services.NewTicketService(txRunner, tickets, transactions, pricingStore, auditStore, registerService, barcodes, settings)
	pensionService := services.NewPensionService(txRunner, pensions, pricingStore, auditStore, registerService, settings)
	pricingService := services.NewPricingService(txRunner, pricingStore, auditStore, settings)

	flusher := audit.NewFlusher(txRunner, auditStore, alerter, cfg.AuditFlushInterval, cfg.AuditBatchSize)
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		flusher.Run(ctx)
	}()

	handler := handlers.New(txRunner, cfg, operators, admin, auditStore, ticketService, registerService, pensionService, pricingService, hub)
	if deadLetters != nil {
		handler.ReportDeadLetters(deadLetters)
	}
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("env", cfg.AppEnv).Msg("parking API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	<-flushDone
}
