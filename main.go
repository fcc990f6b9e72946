package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"mypalette/internal"
)

func main() {
	cfg, err := internal.ParseConfig()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := internal.SetupTracing(ctx, cfg.OTelEndpoint, "mypalette")
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	var store internal.Store
	if cfg.DatabaseURL != "" {
		store = internal.NewPostgresStore(internal.MustDB(ctx, cfg.DatabaseURL, cfg.DBMaxConns))
	} else {
		log.Printf("DATABASE_URL not set, using sqlite at %s", cfg.SQLitePath)
		store, err = internal.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatal(err)
		}
	}
	if m, ok := store.(internal.Migrator); ok && cfg.AutoMigrate {
		if err := m.Migrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}
	store = internal.WithTimeout(store, cfg.StoreTimeout)
	defer store.Close()

	var payments internal.PaymentProvider
	if cfg.StripeSecretKey != "" {
		payments = internal.NewStripePayments(cfg.StripeSecretKey, nil)
	} else {
		log.Printf("STRIPE_SECRET_KEY not set, payment references are simulated")
		payments = internal.NewSimulatedPayments()
	}

	var cache *internal.ListingCache
	if cfg.RedisAddr != "" {
		rdb := internal.MustRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		cache = internal.NewListingCache(rdb, cfg.OpenCallsTTL)
	}

	r := internal.NewRouter(internal.Deps{
		Store: store,
		Admitter: internal.NewAdmitter(store, payments, internal.Fee{
			Amount:   cfg.FeeAmount,
			Currency: cfg.FeeCurrency,
		}, internal.WithPaymentTimeout(cfg.PaymentTimeout)),
		OpenCalls:     internal.NewOpenCalls(store, cache),
		Confirmations: internal.NewPaymentConfirmations(store),
		JWTSecret:     cfg.JWTSecret,
		CookieName:    cfg.CookieName,
		WebhookSecret: cfg.StripeWebhookSecret,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("Listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
