package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventhub/analytics"
	"eventhub/booking"
	"eventhub/config"
	"eventhub/db"
	"eventhub/events"
	"eventhub/forums"
	"eventhub/globals"
	"eventhub/ledger"
	"eventhub/middleware"
	"eventhub/mq"
	"eventhub/notifications"
	"eventhub/payments"
	"eventhub/ratelim"
	"eventhub/rdx"
	"eventhub/routes"
	"eventhub/tickets"
	"eventhub/userdata"

	"github.com/joho/godotenv"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "optional YAML config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Info("no .env file found; using system environment")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if cfg.Production() {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetLevel(log.DebugLevel)
	}
	globals.JwtSecret = cfg.DeriveKey("jwt")
	globals.QRSecret = cfg.DeriveKey("qr")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Connect(ctx, cfg.MongoURI, cfg.MongoDB); err != nil {
		log.WithError(err).Fatal("connect to MongoDB")
	}
	if err := db.EnsureIndexes(ctx); err != nil {
		log.WithError(err).Fatal("create indexes")
	}
	rdb, err := rdx.Connect(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.WithError(err).Fatal("connect to Redis")
	}

	emitter := mq.NewEmitter(rdb)
	led := ledger.New(ledger.NewMongoStore(db.EventsCollection),
		ledger.WithHoldTTL(cfg.HoldTimeout),
		ledger.WithNotifier(emitter),
	)

	var gateway payments.Gateway = payments.NewSandbox()
	if cfg.GatewayMode == config.GatewayHTTP {
		gateway = payments.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.PaymentTimeout)
	}
	log.WithField("mode", cfg.GatewayMode).Info("payment gateway ready")

	inbox := notifications.NewMongoStore(nil)
	dispatcher := notifications.NewDispatcher(inbox, emitter, 1024)
	dispatcher.Start(ctx, cfg.NotifyWorkers)

	eventStore := events.NewStore(nil)
	ticketStore := tickets.NewStore(db.TicketsCollection)
	paymentStore := payments.NewStore(db.PaymentsCollection)
	waitlistStore := events.NewMongoWaitlist(nil)
	waitlist := events.NewWaitlist(waitlistStore, eventStore, dispatcher)

	manager := booking.NewManager(booking.Config{
		PaymentTimeout: cfg.PaymentTimeout,
		CommitRetries:  cfg.CommitRetries,
		CommitBackoff:  cfg.CommitBackoff,
		MaxPerBooking:  cfg.MaxTicketsPerBooking,
		Currency:       cfg.Currency,
	}, booking.Deps{
		Ledger:   led,
		Gateway:  gateway,
		Events:   eventStore,
		Tickets:  ticketStore,
		Payments: paymentStore,
		Users:    userdata.NewDirectory(nil),
		Notifier: dispatcher,
		Locker:   rdx.NewLocker(rdb),
		Waitlist: waitlist,
	})
	go booking.NewReconciler(manager, cfg.SweepInterval).Run(ctx)

	hub := events.NewHub()
	go hub.Run()
	go mq.Subscribe(ctx, rdb, mq.InventoryChannel, hub.OnInventory)

	limiter := ratelim.NewRateLimiter(120, 20)
	go limiter.Run(ctx)

	router := httprouter.New()
	routes.Register(router, routes.Handlers{
		Events: events.NewHandlers(events.Deps{
			Repo:      eventStore,
			Inventory: led,
			Holders:   ticketStore,
			Tickets:   manager,
			Notifier:  dispatcher,
			Hub:       hub,
			Waitlist:  waitlistStore,
			Reviews:   events.NewMongoReviews(nil),
			Wishlist:  events.NewMongoWishlist(nil),
			UploadDir: cfg.UploadDir,
		}),
		Tickets:       tickets.NewHandlers(manager, ticketStore, eventStore),
		Payments:      payments.NewHandlers(paymentStore),
		Notifications: notifications.NewHandlers(inbox),
		Forums:        forums.NewHandlers(forums.NewMongoStore(nil, nil), ticketStore, eventStore),
		Analytics:     analytics.NewHandlers(eventStore, led, ticketStore, rdx.NewCache(rdb, "analytics:dashboard:")),
		Idempotency:   middleware.NewIdempotency(middleware.NewMongoIdempotencyStore(nil)),
		Limiter:       limiter,
		UploadDir:     cfg.UploadDir,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
		ExposedHeaders:   []string{"Idempotent-Replayed"},
		AllowCredentials: true,
	}).Handler(router)

	server := &http.Server{
		Addr:              cfg.Port,
		Handler:           middleware.AccessLog(middleware.SecurityHeaders(corsHandler)),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.PaymentTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}
	server.RegisterOnShutdown(hub.Stop)

	go func() {
		log.WithField("addr", cfg.Port).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("ListenAndServe")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received; shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	dispatcher.Wait()
	if err := rdb.Close(); err != nil {
		log.WithError(err).Warn("close redis")
	}
	if err := db.Disconnect(shutdownCtx); err != nil {
		log.WithError(err).Warn("disconnect mongo")
	}
	log.Info("server stopped cleanly")
}
