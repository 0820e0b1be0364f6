package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/frahmantamala/zenn-checkout/internal"
)

const (
	DriverLog   = "log"
	DriverHTTP  = "http"
	DriverKafka = "kafka"
)

// NewNotifier builds the notifier selected by config. The caller owns Close for kafka.
func NewNotifier(cfg internal.NotificationConfig, logger *slog.Logger) (Notifier, error) {
	switch cfg.Driver {
	case "", DriverLog:
		return NewLogNotifier(logger), nil
	case DriverHTTP:
		return NewHTTPNotifier(cfg.HTTPURL, cfg.DispatchTimeout, logger), nil
	case DriverKafka:
		return NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, logger), nil
	default:
		return nil, fmt.Errorf("unknown notification driver %q", cfg.Driver)
	}
}

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return DriverLog }

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.logger.Info("notification",
		"message_id", msg.ID,
		"process_id", msg.ProcessID,
		"event_type", msg.EventType,
		"channel", msg.Channel,
		"recipient", msg.Recipient,
		"attempt", msg.Attempt)
	return nil
}

// HTTPNotifier posts the message to the email service. Any non-2xx answer is a failure and
// the dispatcher retries it.
type HTTPNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewHTTPNotifier(url string, timeout time.Duration, logger *slog.Logger) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (n *HTTPNotifier) Name() string { return DriverHTTP }

func (n *HTTPNotifier) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.IdempotencyKey())
	req.Header.Set("X-Message-ID", msg.ID)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		n.logger.Warn("notification endpoint rejected message",
			"process_id", msg.ProcessID,
			"status_code", resp.StatusCode,
			"body", string(snippet))
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes messages keyed by process id so all events of one transaction land
// on the same partition in order.
type KafkaNotifier struct {
	writer kafkaWriter
	topic  string
	logger *slog.Logger
}

func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		topic:  topic,
		logger: logger,
	}
}

func newKafkaNotifierWithWriter(w kafkaWriter, topic string, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: w, topic: topic, logger: logger}
}

func (n *KafkaNotifier) Name() string { return DriverKafka }

func (n *KafkaNotifier) Notify(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(msg.ProcessID, 10)),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "idempotency_key", Value: []byte(msg.IdempotencyKey())},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write notification to %s: %w", n.topic, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
