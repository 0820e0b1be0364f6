package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/jaevor/go-nanoid"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/core/events"
	"github.com/frahmantamala/zenn-checkout/internal/core/outbox"
	"github.com/frahmantamala/zenn-checkout/internal/metrics"
)

const maxRetryDelay = time.Hour

type Repository interface {
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*OutboxMessage, error)
	MarkDispatched(ctx context.Context, id int64, at time.Time) error
	Reschedule(ctx context.Context, id int64, availableAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	RecordSent(ctx context.Context, sent *Sent) error
	ListSent(ctx context.Context, transactionID int64) ([]*Sent, error)
	LastSent(ctx context.Context, transactionID int64, triggeringStatus string) (*Sent, error)
	Enqueue(ctx context.Context, intent outbox.Intent) (bool, error)
}

type DispatcherConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	Workers         int
	MaxAttempts     int
	RetryBackoff    time.Duration
	DispatchTimeout time.Duration
	Lease           time.Duration
}

func DispatcherConfigFrom(cfg internal.NotificationConfig) DispatcherConfig {
	return DispatcherConfig{
		PollInterval:    cfg.PollInterval,
		BatchSize:       cfg.BatchSize,
		Workers:         cfg.Workers,
		MaxAttempts:     cfg.MaxAttempts,
		RetryBackoff:    cfg.RetryBackoff,
		DispatchTimeout: cfg.DispatchTimeout,
	}
}

func (c *DispatcherConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 30 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 10 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
}

// Dispatcher drains the notification outbox. Failures stay inside the outbox; they never
// reach the payment or delivery state.
type Dispatcher struct {
	repo     Repository
	notifier Notifier
	metrics  *metrics.CheckoutMetrics
	logger   *slog.Logger
	cfg      DispatcherConfig
	now      func() time.Time
	newID    func() string
	wake     chan struct{}
	pool     *pool
}

func NewDispatcher(repo Repository, notifier Notifier, m *metrics.CheckoutMetrics, cfg DispatcherConfig, logger *slog.Logger) (*Dispatcher, error) {
	cfg.applyDefaults()
	idGenerator, err := nanoid.Standard(21)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		repo:     repo,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    idGenerator,
		wake:     make(chan struct{}, 1),
	}
	d.pool = startPool(cfg.Workers, d.process, logger)
	return d, nil
}

// Subscribe lets committed state changes wake the dispatcher instead of waiting for the tick.
func (d *Dispatcher) Subscribe(bus *events.EventBus) {
	if bus == nil {
		return
	}
	bus.Subscribe(events.EventTypeNotificationQueued, func(ctx context.Context, e events.Event) error {
		d.Wake()
		return nil
	})
}

func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// RunOnce claims one batch of due intents and waits until every claimed intent has an outcome.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	claimed, err := d.repo.ClaimDue(ctx, d.now(), d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		d.logger.Error("failed to claim outbox intents", "error", err)
		return 0, err
	}
	d.metrics.RecordClaimed(len(claimed))
	if len(claimed) == 0 {
		return 0, nil
	}

	submitted := 0
	for _, msg := range claimed {
		if !d.pool.submit(ctx, msg) {
			// unsubmitted intents are picked up again once their lease expires
			break
		}
		submitted++
	}
	d.pool.drain()

	d.logger.Debug("outbox batch dispatched", "claimed", len(claimed), "submitted", submitted)
	return submitted, ctx.Err()
}

func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("notification dispatcher started",
		"driver", d.notifier.Name(),
		"poll_interval", d.cfg.PollInterval,
		"batch_size", d.cfg.BatchSize,
		"max_attempts", d.cfg.MaxAttempts)

	for {
		for {
			n, err := d.RunOnce(ctx)
			if err != nil || n < d.cfg.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopping")
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) Close() {
	d.pool.stop()
}

func (d *Dispatcher) process(ctx context.Context, row *OutboxMessage) {
	msg := Message{
		ID:            d.newID(),
		OutboxID:      row.ID,
		TransactionID: row.TransactionID,
		ProcessID:     row.ProcessID,
		EventType:     row.EventType,
		Channel:       row.Channel,
		Recipient:     row.Recipient,
		Snapshot:      []byte(row.Payload),
		Attempt:       row.Attempts,
		CreatedAt:     row.CreatedAt,
	}

	nctx, cancel := context.WithTimeout(ctx, d.cfg.DispatchTimeout)
	notifyErr := d.notifier.Notify(nctx, msg)
	cancel()

	// bookkeeping must survive a pool shutdown that raced the notifier call
	bctx, bcancel := internal.Detached(ctx, 5*time.Second)
	defer bcancel()

	sent := &Sent{
		TransactionID:    row.TransactionID,
		OutboxID:         row.ID,
		Channel:          row.Channel,
		TriggeringStatus: TriggeringStatus(row.EventType),
		Recipient:        row.Recipient,
		Success:          notifyErr == nil,
		SentAt:           d.now(),
	}
	if notifyErr != nil {
		errMsg := notifyErr.Error()
		sent.ErrorMessage = &errMsg
	}
	if err := d.repo.RecordSent(bctx, sent); err != nil {
		d.logger.Error("failed to record notification outcome", "outbox_id", row.ID, "error", err)
	}
	d.metrics.RecordNotification(d.notifier.Name(), notifyErr == nil)

	if notifyErr == nil {
		if err := d.repo.MarkDispatched(bctx, row.ID, d.now()); err != nil {
			d.logger.Error("failed to mark intent dispatched", "outbox_id", row.ID, "error", err)
		}
		d.logger.Info("notification dispatched",
			"process_id", row.ProcessID,
			"event_type", row.EventType,
			"attempt", row.Attempts)
		return
	}

	if row.Attempts >= d.cfg.MaxAttempts {
		if err := d.repo.MarkFailed(bctx, row.ID, notifyErr.Error()); err != nil {
			d.logger.Error("failed to mark intent failed", "outbox_id", row.ID, "error", err)
		}
		d.logger.Error("notification gave up after max attempts",
			"process_id", row.ProcessID,
			"event_type", row.EventType,
			"attempts", row.Attempts,
			"error", notifyErr)
		return
	}

	next := d.now().Add(d.backoff(row.Attempts))
	if err := d.repo.Reschedule(bctx, row.ID, next, notifyErr.Error()); err != nil {
		d.logger.Error("failed to reschedule intent", "outbox_id", row.ID, "error", err)
	}
	d.logger.Warn("notification failed, rescheduled",
		"process_id", row.ProcessID,
		"event_type", row.EventType,
		"attempt", row.Attempts,
		"next_attempt_at", next,
		"error", notifyErr)
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
