package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/zenn-checkout/internal/core/events"
	"github.com/frahmantamala/zenn-checkout/internal/core/outbox"
	"github.com/frahmantamala/zenn-checkout/internal/delivery"
	deliveryPostgres "github.com/frahmantamala/zenn-checkout/internal/delivery/postgres"
	"github.com/frahmantamala/zenn-checkout/internal/metrics"
	"github.com/frahmantamala/zenn-checkout/internal/notification"
	notificationPostgres "github.com/frahmantamala/zenn-checkout/internal/notification/postgres"
	"github.com/frahmantamala/zenn-checkout/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that run outside the HTTP server, like the notification dispatcher.`,
}

var notificationWorkerCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Start the notification dispatcher",
	Long:  `Drain the notification outbox with a worker pool. Run it when notification.run_in_server is false.`,
	Run: func(cmd *cobra.Command, args []string) {
		startNotificationWorker()
	},
}

var deliveryStatsCmd = &cobra.Command{
	Use:   "delivery-stats",
	Short: "Log delivery statistics",
	Long:  `Log order counts per delivery status and the rating average, once or on an interval.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDeliveryStats()
	},
}

var (
	workers        int
	batchSize      int
	maxAttempts    int
	statsInterval  time.Duration
	notifierDriver string
)

func startNotificationWorker() {
	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	config.Notification.Driver = getStringFlag(notifierDriver, config.Notification.Driver)
	config.Notification.Workers = getIntFlag(workers, config.Notification.Workers)
	config.Notification.BatchSize = getIntFlag(batchSize, config.Notification.BatchSize)
	config.Notification.MaxAttempts = getIntFlag(maxAttempts, config.Notification.MaxAttempts)

	if err := config.Database.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid database config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Notification.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid notification config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Env, config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper().With("component", "dispatcher")

	db, gdb, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	box, err := outbox.New(config.Notification.OutboxNodeID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create outbox: %v\n", err)
		os.Exit(1)
	}

	notifier, err := notification.NewNotifier(config.Notification, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create notifier: %v\n", err)
		os.Exit(1)
	}
	defer closeNotifier(notifier, lg)

	dispatcher, err := notification.NewDispatcher(
		notificationPostgres.NewNotificationRepository(gdb, box),
		notifier,
		metrics.New(),
		notification.DispatcherConfigFrom(config.Notification),
		lg,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create dispatcher: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg.Info("notification worker is running. Press Ctrl+C to stop.",
		"driver", notifier.Name(),
		"workers", config.Notification.Workers)

	if err := dispatcher.Run(ctx); err != nil {
		lg.Error("dispatcher stopped with error", "error", err)
	}

	shutdownDone := make(chan struct{})
	go func() {
		dispatcher.Close()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		lg.Info("notification worker pool shutdown complete")
	case <-time.After(shutdownTimeout):
		lg.Warn("shutdown timeout reached, forcing exit")
	}
}

func runDeliveryStats() {
	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Database.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid database config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Env, config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, gdb, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	box, err := outbox.New(config.Notification.OutboxNodeID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create outbox: %v\n", err)
		os.Exit(1)
	}
	service := delivery.NewService(deliveryPostgres.NewDeliveryRepository(gdb, db, box), events.NewEventBus(lg), lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		stats, err := service.Stats(ctx)
		if err != nil {
			lg.Error("failed to load delivery stats", "error", err)
		} else {
			for _, row := range stats.ByStatus {
				lg.Info("delivery status", "status", row.Status, "orders", row.Count)
			}
			lg.Info("delivery totals",
				"orders", stats.Total,
				"rated_orders", stats.RatedOrders,
				"average_rating", stats.AverageRating)
		}

		if statsInterval <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(statsInterval):
		}
	}
}

func getStringFlag(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	notificationWorkerCmd.Flags().IntVar(&workers, "workers", 0, "Number of dispatch workers (overrides config)")
	notificationWorkerCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Outbox rows claimed per poll (overrides config)")
	notificationWorkerCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempts before a notification is marked failed (overrides config)")
	notificationWorkerCmd.Flags().StringVar(&notifierDriver, "driver", "", "Notifier driver: log, http or kafka (overrides config)")

	deliveryStatsCmd.Flags().DurationVar(&statsInterval, "every", 0, "Repeat on this interval instead of logging once")

	workerCmd.AddCommand(notificationWorkerCmd)
	workerCmd.AddCommand(deliveryStatsCmd)

	rootCmd.AddCommand(workerCmd)
}
