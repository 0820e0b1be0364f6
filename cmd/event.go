package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/zenn-checkout/internal/notification"
	"github.com/frahmantamala/zenn-checkout/pkg/logger"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event inspection commands",
	Long:  `Inspect the notification events published to Kafka`,
}

var tailEventCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log notification messages from the Kafka topic",
	Long:  `Consume the notification topic and log every message, for debugging the kafka driver`,
	Run: func(cmd *cobra.Command, args []string) {
		tailEvents()
	},
}

var (
	tailTopic     string
	tailGroupID   string
	tailFromStart bool
)

func tailEvents() {
	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Env, config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	brokers := config.Notification.KafkaBrokers
	topic := getStringFlag(tailTopic, config.Notification.KafkaTopic)
	if len(brokers) == 0 || topic == "" {
		fmt.Fprintln(os.Stderr, "notification.kafka_brokers and notification.kafka_topic are required")
		os.Exit(1)
	}

	readerCfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  getStringFlag(tailGroupID, config.Notification.KafkaGroupID),
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if tailFromStart {
		readerCfg.StartOffset = kafka.FirstOffset
	} else {
		readerCfg.StartOffset = kafka.LastOffset
	}
	reader := kafka.NewReader(readerCfg)
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg.Info("tailing notification topic", "topic", topic, "brokers", brokers, "group_id", readerCfg.GroupID)

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				lg.Info("tail stopped")
				return
			}
			lg.Error("failed to read message", "error", err)
			return
		}

		var msg notification.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			lg.Warn("undecodable message",
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err)
			continue
		}

		lg.Info("notification",
			"partition", m.Partition,
			"offset", m.Offset,
			"message_id", msg.ID,
			"process_id", msg.ProcessID,
			"event_type", msg.EventType,
			"recipient", logger.Mask(msg.Recipient),
			"attempt", msg.Attempt,
			"idempotency_key", headerValue(m.Headers, "idempotency_key"))
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func init() {
	tailEventCmd.Flags().StringVar(&tailTopic, "topic", "", "Topic to read (overrides config)")
	tailEventCmd.Flags().StringVar(&tailGroupID, "group", "", "Consumer group id (overrides config)")
	tailEventCmd.Flags().BoolVar(&tailFromStart, "from-start", false, "Read the topic from the first offset")

	eventCmd.AddCommand(tailEventCmd)

	rootCmd.AddCommand(eventCmd)
}
