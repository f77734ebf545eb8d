package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/account"
	accountpostgres "github.com/jccalsado/tuition-portal/internal/account/postgres"
	"github.com/jccalsado/tuition-portal/internal/audit"
	"github.com/jccalsado/tuition-portal/internal/core/events"
	"github.com/jccalsado/tuition-portal/internal/fraud"
	"github.com/jccalsado/tuition-portal/internal/gateway"
	gatewaypostgres "github.com/jccalsado/tuition-portal/internal/gateway/postgres"
	"github.com/jccalsado/tuition-portal/internal/ledger"
	ledgerpostgres "github.com/jccalsado/tuition-portal/internal/ledger/postgres"
	"github.com/jccalsado/tuition-portal/internal/notification"
	"github.com/jccalsado/tuition-portal/internal/payment"
	paymentpostgres "github.com/jccalsado/tuition-portal/internal/payment/postgres"
	"github.com/jccalsado/tuition-portal/internal/transport/rest"
	"github.com/jccalsado/tuition-portal/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config *internal.Config
	DB     *sqlx.DB
	Router *chi.Mux
	Logger *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if config.Observability.Logging.Format == "json" {
		logger.Init("production")
	} else {
		logger.Init("development")
	}
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	eventBus := events.NewEventBus(log)

	// repositories
	feeItemRepo := ledgerpostgres.NewFeeItemRepository(gormDB)
	accountRepo := accountpostgres.NewAccountRepository(gormDB)
	studentRepo := accountpostgres.NewStudentRepository(gormDB)
	paymentRepo := paymentpostgres.NewPaymentRepository(gormDB)
	detailRepo := gatewaypostgres.NewDetailRepository(gormDB)

	// domain services
	ledgerService := ledger.NewService(feeItemRepo, eventBus, log)
	accountService := account.NewService(accountRepo, studentRepo, config.Promotion.YearLevels, eventBus, log)

	scorer := fraud.NewScorer(
		config.Fraud,
		fraud.NewLRUStore(config.Fraud.TrackingTTL),
		fraud.SystemClock{},
		log,
	)

	gcash := gateway.NewGCashGateway(config.Gateways.GCash, log)
	paypal := gateway.NewPayPalGateway(config.Gateways.PayPal, log)
	stripe := gateway.NewStripeGateway(config.Gateways.Stripe, log)

	initiators := map[string]payment.GatewayInitiator{
		gcash.Name():  gcash,
		paypal.Name(): paypal,
		stripe.Name(): stripe,
	}
	gateways := map[string]gateway.Gateway{
		gcash.Name():  gcash,
		paypal.Name(): paypal,
		stripe.Name(): stripe,
	}

	paymentService := payment.NewService(paymentRepo, ledgerService, accountService, initiators, scorer, eventBus, log)
	reconciliationService := gateway.NewService(gateways, detailRepo, paymentService, log)

	notification.NewEventHandler(log).RegisterEventHandlers(eventBus)
	audit.NewEventHandler(log).RegisterEventHandlers(eventBus)
	account.NewEventHandler(accountService, log).RegisterEventHandlers(eventBus)

	// transport
	ledgerHandler := ledger.NewHandler(ledgerService, log)
	accountHandler := account.NewHandler(accountService, log)
	paymentHandler := payment.NewHandler(paymentService, log)
	webhookHandler := gateway.NewWebhookHandler(reconciliationService, log)

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, db.DB, ledgerHandler, accountHandler, paymentHandler, webhookHandler, log)

	return &Dependencies{
		Config: config,
		DB:     db,
		Router: router,
		Logger: log,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm layers the ORM over the already pooled pgx connection.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
}
