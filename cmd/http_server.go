package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/auth"
	authPostgres "github.com/frahmantamala/zenn-checkout/internal/auth/postgres"
	"github.com/frahmantamala/zenn-checkout/internal/bancard"
	"github.com/frahmantamala/zenn-checkout/internal/card"
	"github.com/frahmantamala/zenn-checkout/internal/core/events"
	"github.com/frahmantamala/zenn-checkout/internal/core/outbox"
	"github.com/frahmantamala/zenn-checkout/internal/delivery"
	deliveryPostgres "github.com/frahmantamala/zenn-checkout/internal/delivery/postgres"
	"github.com/frahmantamala/zenn-checkout/internal/metrics"
	"github.com/frahmantamala/zenn-checkout/internal/notification"
	notificationPostgres "github.com/frahmantamala/zenn-checkout/internal/notification/postgres"
	"github.com/frahmantamala/zenn-checkout/internal/signature"
	"github.com/frahmantamala/zenn-checkout/internal/transaction"
	transactionPostgres "github.com/frahmantamala/zenn-checkout/internal/transaction/postgres"
	"github.com/frahmantamala/zenn-checkout/internal/transport/rest"
	"github.com/frahmantamala/zenn-checkout/internal/transport/swagger"
	"github.com/frahmantamala/zenn-checkout/internal/user"
	userPostgres "github.com/frahmantamala/zenn-checkout/internal/user/postgres"
	"github.com/frahmantamala/zenn-checkout/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server, and the notification dispatcher unless it runs as a separate worker`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config     *internal.Config
	DB         *sqlx.DB
	Gorm       *gorm.DB
	Router     *chi.Mux
	Bus        *events.EventBus
	Metrics    *metrics.CheckoutMetrics
	Webhook    *transaction.WebhookHandler
	Dispatcher *notification.Dispatcher
	Notifier   notification.Notifier
	Logger     *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	lg := deps.Logger

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	lg.Info("Starting HTTP server", "address", addr, "env", deps.Config.Env)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	dispatchCtx, stopDispatcher := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	if deps.Dispatcher != nil {
		go func() {
			defer close(dispatchDone)
			if err := deps.Dispatcher.Run(dispatchCtx); err != nil {
				lg.Error("notification dispatcher stopped", "error", err)
			}
		}()
	} else {
		close(dispatchDone)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		lg.Info("Received signal, shutting down...", "signal", sig)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("Server failed to start", "error", err)
			stopDispatcher()
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		lg.Error("Server shutdown error", "error", err)
	}

	// confirmations already acknowledged to the gateway must still be applied
	waitOrTimeout(ctx, lg, "webhook reconciliation", deps.Webhook.Wait)
	waitOrTimeout(ctx, lg, "event handlers", deps.Bus.Wait)

	stopDispatcher()
	<-dispatchDone
	if deps.Dispatcher != nil {
		deps.Dispatcher.Close()
	}
	closeNotifier(deps.Notifier, lg)

	if err := deps.DB.Close(); err != nil {
		lg.Error("Database close error", "error", err)
	}

	lg.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(config.Env, config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, gdb, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if config.Server.OpenAPIPath != "" {
		if _, err := swagger.LoadSpec(context.Background(), config.Server.OpenAPIPath); err != nil {
			return nil, fmt.Errorf("failed to load openapi spec: %w", err)
		}
	}

	box, err := outbox.New(config.Notification.OutboxNodeID)
	if err != nil {
		return nil, err
	}

	bus := events.NewEventBus(lg)
	checkoutMetrics := metrics.New()
	checkoutMetrics.Subscribe(bus)

	bancardCfg := bancard.ConfigFrom(config.Bancard)
	signer := signature.New(bancardCfg.PrivateKey)
	gateway := bancard.NewClient(bancardCfg, signer, lg.With("component", "bancard"))

	transactionRepo := transactionPostgres.NewTransactionRepository(gdb, box)
	deliveryRepo := deliveryPostgres.NewDeliveryRepository(gdb, db, box)
	notificationRepo := notificationPostgres.NewNotificationRepository(gdb, box)
	userRepo := userPostgres.NewRepository(gdb)
	authRepo := authPostgres.NewRepository(gdb)

	tokens := auth.NewJWTTokenGenerator(
		config.Security.AccessTokenSecret,
		config.Security.RefreshTokenSecret,
		config.Security.AccessTokenDuration,
		config.Security.RefreshTokenDuration,
	)
	authService := auth.NewService(authRepo, tokens, config.Security.BCryptCost, lg)
	userService := user.NewService(userRepo)

	transactionService := transaction.NewService(
		transactionRepo,
		gateway,
		signer,
		signature.NewProcessIDAllocator(),
		bus,
		checkoutMetrics,
		lg,
	)
	cardService, err := card.NewService(gateway, signature.NewProcessIDAllocator(), lg)
	if err != nil {
		return nil, err
	}
	deliveryService := delivery.NewService(deliveryRepo, bus, lg)
	notificationService, err := notification.NewService(notificationRepo, transactionRepo, bus, lg)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Config:  config,
		DB:      db,
		Gorm:    gdb,
		Router:  chi.NewRouter(),
		Bus:     bus,
		Metrics: checkoutMetrics,
		Webhook: transaction.NewWebhookHandler(transactionService, config.Notification.WebhookTimeout, lg),
		Logger:  lg,
	}

	if config.Notification.RunInServer {
		notifier, err := notification.NewNotifier(config.Notification, lg)
		if err != nil {
			return nil, err
		}
		dispatcher, err := notification.NewDispatcher(
			notificationRepo,
			notifier,
			checkoutMetrics,
			notification.DispatcherConfigFrom(config.Notification),
			lg.With("component", "dispatcher"),
		)
		if err != nil {
			return nil, err
		}
		dispatcher.Subscribe(bus)
		deps.Notifier = notifier
		deps.Dispatcher = dispatcher
	}

	routes := rest.Routes{
		DB:                  db,
		AllowedOrigins:      config.Server.AllowedOrigins,
		OpenAPIPath:         config.Server.OpenAPIPath,
		AuthHandler:         auth.NewHandler(authService),
		UserHandler:         user.NewHandler(userService),
		TransactionHandler:  transaction.NewHandler(transactionService),
		WebhookHandler:      deps.Webhook,
		CardHandler:         card.NewHandler(cardService),
		DeliveryHandler:     delivery.NewHandler(deliveryService),
		NotificationHandler: notification.NewHandler(notificationService),
		Logger:              lg,
	}
	if config.Observability.Metrics.Enabled {
		routes.Metrics = checkoutMetrics.Handler()
		routes.MetricsPath = config.Observability.Metrics.Path
	}
	rest.RegisterAllRoutes(deps.Router, routes)

	return deps, nil
}

// initDB opens one pgx pool and shares it between sqlx and gorm.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, *gorm.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: dbConn.DB}), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		_ = dbConn.Close()
		return nil, nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	return dbConn, gdb, nil
}

func waitOrTimeout(ctx context.Context, lg *slog.Logger, what string, wait func()) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		lg.Warn("shutdown timeout reached before "+what+" finished", "error", ctx.Err())
	}
}

func closeNotifier(n notification.Notifier, lg *slog.Logger) {
	if c, ok := n.(io.Closer); ok {
		if err := c.Close(); err != nil {
			lg.Error("notifier close error", "error", err)
		}
	}
}
