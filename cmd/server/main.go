package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coziyoo/backend/internal/abuse"
	"github.com/coziyoo/backend/internal/catalog"
	"github.com/coziyoo/backend/internal/chat"
	"github.com/coziyoo/backend/internal/compliance"
	"github.com/coziyoo/backend/internal/config"
	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/deliveryproof"
	"github.com/coziyoo/backend/internal/disclosure"
	"github.com/coziyoo/backend/internal/dispatch"
	"github.com/coziyoo/backend/internal/disputes"
	"github.com/coziyoo/backend/internal/finance"
	"github.com/coziyoo/backend/internal/httpapi"
	"github.com/coziyoo/backend/internal/idempotency"
	"github.com/coziyoo/backend/internal/identity"
	"github.com/coziyoo/backend/internal/lots"
	"github.com/coziyoo/backend/internal/media"
	"github.com/coziyoo/backend/internal/notifications"
	"github.com/coziyoo/backend/internal/orders"
	"github.com/coziyoo/backend/internal/outbox"
	"github.com/coziyoo/backend/internal/payments"
	"github.com/coziyoo/backend/internal/retention"
	"github.com/coziyoo/backend/internal/reviews"
)

func main() {
	seed := flag.Bool("seed", false, "load demo fixtures after migrating, then continue serving")
	flag.Parse()

	log.Println("🚀 Starting Coziyoo backend...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("❌ Database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("❌ Migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️ Redis unreachable at boot, monetary flows will fail closed: %v", err)
	}
	defer rdb.Close()

	// Identity and cross-cutting gates.
	signer := identity.NewTokenSigner(cfg.Auth.AppJWTSecret, cfg.Auth.AdminJWTSecret, cfg.Auth.AccessTokenTTL)
	identitySvc := identity.NewService(db, signer, cfg.Auth.RefreshTokenTTL)
	abuseGate := abuse.NewGate(rdb, db)
	idemStore := idempotency.NewStore(db)

	// Domain services.
	complianceSvc := compliance.NewService(db)
	catalogSvc := catalog.NewService(db, complianceSvc)
	financeSvc := finance.NewService(db)
	orderSvc := orders.NewService(db, financeSvc, cfg.Orders)
	paymentSvc := payments.NewService(db, cfg.Payment)
	lotSvc := lots.NewService(db)
	proofSvc := deliveryproof.NewService(db)
	disclosureStore := disclosure.NewStore(db)
	disputeSvc := disputes.NewService(db)
	chatStore := chat.NewStore(db)
	reviewStore := reviews.NewStore(db)
	mediaStore := media.NewStore(db)
	dispatcher := dispatch.NewDispatcher(cfg.Agent, cfg.LiveKit)

	if *seed {
		if err := seedDemoData(ctx, db, identitySvc, complianceSvc, catalogSvc, lotSvc, financeSvc); err != nil {
			log.Fatalf("❌ Seed: %v", err)
		}
	}

	// Notification fan-out: persistent store, live WebSocket hub, and the
	// Pub/Sub bridge for mobile push.
	notifStore := notifications.NewStore(db)
	hub := notifications.NewHub()
	publisher, err := notifications.NewPublisher(cfg.PubSub)
	if err != nil {
		log.Fatalf("❌ Pub/Sub: %v", err)
	}
	defer publisher.Close()
	notifSvc := notifications.NewService(db, notifStore, hub, publisher)

	reportJobs, err := finance.NewReportJobs(cfg.Tasks)
	if err != nil {
		log.Fatalf("❌ Cloud Tasks: %v", err)
	}
	defer reportJobs.Shutdown()

	// Outbox worker: every handler consumes committed domain events.
	registry := outbox.NewRegistry()
	notifSvc.RegisterHandlers(registry)
	registry.Register(outbox.EventReportRequested, financeSvc.ReportHandler())
	worker := outbox.NewWorker(db, registry, outbox.WorkerConfig{
		Workers:      cfg.Outbox.Workers,
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		BaseBackoff:  cfg.Outbox.BaseBackoff,
		ClaimLease:   cfg.Outbox.ClaimLease,
	})

	retentionPolicy, err := cfg.LoadRetentionPolicy()
	if err != nil {
		log.Fatalf("❌ Retention policy: %v", err)
	}
	purger := retention.NewPurger(db, cfg.Retention, retentionPolicy)

	server := httpapi.NewServer(httpapi.Deps{
		Config:      cfg,
		DB:          db,
		Identity:    identitySvc,
		Abuse:       abuseGate,
		Idempotency: idemStore,
		Catalog:     catalogSvc,
		Orders:      orderSvc,
		Payments:    paymentSvc,
		Compliance:  complianceSvc,
		Lots:        lotSvc,
		Proof:       proofSvc,
		Disclosures: disclosureStore,
		Finance:     financeSvc,
		ReportJobs:  reportJobs,
		Disputes:    disputeSvc,
		Chats:       chatStore,
		Reviews:     reviewStore,
		NotifStore:  notifStore,
		Hub:         hub,
		Dispatcher:  dispatcher,
		Media:       mediaStore,
		Retention:   purger,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		orderSvc.RunSweeper(ctx)
	}()
	go func() {
		defer wg.Done()
		purger.Run(ctx)
	}()

	// Expired lots sweep shares the order sweeper cadence.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Orders.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := lotSvc.ExpireLots(ctx); err != nil && ctx.Err() == nil {
					log.Printf("⚠️ Lot expiry sweep failed: %v", err)
				} else if n > 0 {
					log.Printf("📦 Expired %d lots", n)
				}
			}
		}
	}()

	go func() {
		log.Printf("✅ Listening on :%s (env=%s)", cfg.Server.Port, cfg.Server.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("❌ HTTP server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	wg.Wait()
	log.Println("👋 Goodbye")
}
