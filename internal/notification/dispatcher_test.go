package notification_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	notificationDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/notification"
	"github.com/frahmantamala/zenn-checkout/internal/core/outbox"
	"github.com/frahmantamala/zenn-checkout/internal/metrics"
	"github.com/frahmantamala/zenn-checkout/internal/notification"
	"github.com/frahmantamala/zenn-checkout/internal/notification/postgres"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
	fail     error
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Notify(ctx context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.fail
}

func (n *recordingNotifier) calls() []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Message(nil), n.messages...)
}

var _ = Describe("Dispatcher", func() {
	var (
		db         *gorm.DB
		box        *outbox.Outbox
		repo       *postgres.NotificationRepository
		notifier   *recordingNotifier
		dispatcher *notification.Dispatcher
		clock      time.Time
		ctx        context.Context
	)

	enqueue := func(key string) {
		inserted, err := box.EnqueueTx(ctx, db, outbox.Intent{
			TransactionID: 7,
			ProcessID:     12345678,
			EventType:     "payment.approved",
			Recipient:     "ana@example.com",
			DedupeKey:     key,
			Snapshot:      map[string]interface{}{"process_id": 12345678},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(inserted).To(BeTrue())
	}

	outboxRow := func() notificationDatamodel.OutboxMessage {
		var row notificationDatamodel.OutboxMessage
		Expect(db.First(&row).Error).To(Succeed())
		return row
	}

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db = newTestDB()
		box, err = outbox.New(3)
		Expect(err).NotTo(HaveOccurred())
		repo = postgres.NewNotificationRepository(db, box)
		notifier = &recordingNotifier{}

		dispatcher, err = notification.NewDispatcher(repo, notifier, metrics.New(), notification.DispatcherConfig{
			BatchSize:    10,
			Workers:      2,
			MaxAttempts:  2,
			RetryBackoff: time.Minute,
		}, quietLogger())
		Expect(err).NotTo(HaveOccurred())

		// intents are written with the wall clock; the dispatcher runs slightly ahead of it
		clock = time.Now().UTC().Add(time.Second)
		dispatcher.SetClock(func() time.Time { return clock })
	})

	AfterEach(func() {
		dispatcher.Close()
	})

	It("delivers a due intent once and records the outcome", func() {
		enqueue(outbox.PaymentDedupeKey(12345678, "approved"))

		n, err := dispatcher.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		calls := notifier.calls()
		Expect(calls).To(HaveLen(1))
		Expect(calls[0].EventType).To(Equal("payment.approved"))
		Expect(calls[0].Recipient).To(Equal("ana@example.com"))
		Expect(calls[0].ID).NotTo(BeEmpty())
		Expect(calls[0].IdempotencyKey()).To(HavePrefix("outbox-"))

		row := outboxRow()
		Expect(row.Status).To(Equal(notificationDatamodel.OutboxDispatched))
		Expect(row.DispatchedAt).NotTo(BeNil())

		sent, err := repo.ListSent(ctx, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Success).To(BeTrue())
		Expect(sent[0].TriggeringStatus).To(Equal("approved"))

		n, err = dispatcher.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
		Expect(notifier.calls()).To(HaveLen(1))
	})

	It("reschedules a failed intent and gives up after max attempts", func() {
		notifier.fail = errors.New("smtp unavailable")
		enqueue(outbox.DeliveryDedupeKey(12345678, "in_transit"))

		_, err := dispatcher.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		row := outboxRow()
		Expect(row.Status).To(Equal(notificationDatamodel.OutboxPending))
		Expect(row.Attempts).To(Equal(1))
		Expect(*row.LastError).To(ContainSubstring("smtp unavailable"))

		// not due yet
		n, err := dispatcher.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		clock = clock.Add(2 * time.Minute)
		_, err = dispatcher.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())

		row = outboxRow()
		Expect(row.Status).To(Equal(notificationDatamodel.OutboxFailed))
		Expect(row.Attempts).To(Equal(2))

		sent, err := repo.ListSent(ctx, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(sent).To(HaveLen(2))
		for _, s := range sent {
			Expect(s.Success).To(BeFalse())
			Expect(*s.ErrorMessage).To(ContainSubstring("smtp unavailable"))
		}

		clock = clock.Add(24 * time.Hour)
		n, err = dispatcher.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("takes an intent back once its processing lease expired", func() {
		enqueue("payment:1:approved")
		claimed, err := repo.ClaimDue(ctx, clock, 10, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(HaveLen(1))

		n, err := dispatcher.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		clock = clock.Add(10 * time.Minute)
		n, err = dispatcher.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(outboxRow().Attempts).To(Equal(2))
	})

	It("wakes the run loop when an intent is queued", func() {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = dispatcher.Run(runCtx)
		}()

		enqueue("payment:2:approved")
		dispatcher.Wake()

		Eventually(func() int { return len(notifier.calls()) }, 2*time.Second, 20*time.Millisecond).Should(Equal(1))
		cancel()
		Eventually(done).Should(BeClosed())
	})
})
