package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
	"github.com/wenkexue-ai/wechat-bot/internal/credit"
	"github.com/wenkexue-ai/wechat-bot/internal/handlers"
	"github.com/wenkexue-ai/wechat-bot/internal/i18n"
	"github.com/wenkexue-ai/wechat-bot/internal/ledger"
	"github.com/wenkexue-ai/wechat-bot/internal/middleware"
	"github.com/wenkexue-ai/wechat-bot/internal/queue"
	"github.com/wenkexue-ai/wechat-bot/internal/services/ai"
	"github.com/wenkexue-ai/wechat-bot/internal/services/cache"
	"github.com/wenkexue-ai/wechat-bot/internal/services/pay"
	"github.com/wenkexue-ai/wechat-bot/internal/services/wechat"
	"github.com/wenkexue-ai/wechat-bot/pkg/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting WeChat bot server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	credits, err := credit.NewStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize credit store")
	}

	orders, err := ledger.NewStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize order store")
	}

	// Initialize services
	aiService := ai.NewClient(&cfg.AI, log)
	payClient := pay.NewClient(cfg, log)
	replyCache := cache.NewReplyCache(log)
	rateLimiter := middleware.NewRateLimiter(cfg, log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize metrics
	metrics := middleware.NewMetrics()

	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Initialize push pipeline
	pushQueue, err := queue.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize push queue")
	}

	pusher := wechat.NewPusher(&cfg.WeChat, log)
	workers := queue.NewWorkers(pushQueue, pusher, cfg.Queue.Workers, log)
	workers.Start(ctx)

	// Initialize reconciliation
	notifier := handlers.NewQueueNotifier(pushQueue, localizer, metrics, log)
	reconciler := ledger.NewReconciler(orders, credits, notifier, log)

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(
		cfg,
		credits,
		orders,
		aiService,
		payClient,
		replyCache,
		pushQueue,
		rateLimiter,
		localizer,
		metrics,
		log,
	)

	paymentHandler := handlers.NewPaymentHandler(cfg, orders, credits, reconciler, metrics, log)
	adminHandler := handlers.NewAdminHandler(credits, log)

	// Setup routes
	router := mux.NewRouter()
	router.HandleFunc("/wechat", webhookHandler.HandleVerify).Methods(http.MethodGet)
	router.HandleFunc("/wechat", webhookHandler.HandleMessage).Methods(http.MethodPost)
	router.HandleFunc("/api/pay/notify", paymentHandler.HandleNotify).Methods(http.MethodPost)
	router.HandleFunc("/api/pay/params/{orderNo}", paymentHandler.HandlePayParams).Methods(http.MethodGet)
	router.HandleFunc("/api/stats", adminHandler.HandleStats).Methods(http.MethodGet)
	router.HandleFunc("/api/users", adminHandler.HandleUsers).Methods(http.MethodGet)
	router.HandleFunc("/api/user/{openID}", adminHandler.HandleUser).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	if cfg.Pay.TestEndpoints {
		log.Warn("Test recharge endpoint enabled")
		router.HandleFunc("/api/pay/test", paymentHandler.HandleTestRecharge).Methods(http.MethodGet)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}

	// Stop the push workers after in-flight requests drained
	cancel()
	workers.Wait()

	log.Info("Server stopped")
}
