package notification_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/frahmantamala/zenn-checkout/internal"
	notificationDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/notification"
	"github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/core/outbox"
	"github.com/frahmantamala/zenn-checkout/internal/notification"
	"github.com/frahmantamala/zenn-checkout/internal/notification/postgres"
)

type fakeFinder struct {
	txns map[int64]*transaction.Transaction
}

func (f *fakeFinder) GetByProcessID(ctx context.Context, processID int64) (*transaction.Transaction, error) {
	t, ok := f.txns[processID]
	if !ok {
		return nil, internal.ErrTransactionNotFound
	}
	return t, nil
}

var _ = Describe("Service", func() {
	var (
		db      *gorm.DB
		repo    *postgres.NotificationRepository
		finder  *fakeFinder
		service *notification.Service
		ctx     context.Context
	)

	inTransit := transaction.DeliveryInTransit

	BeforeEach(func() {
		ctx = context.Background()
		db = newTestDB()
		box, err := outbox.New(4)
		Expect(err).NotTo(HaveOccurred())
		repo = postgres.NewNotificationRepository(db, box)
		finder = &fakeFinder{txns: map[int64]*transaction.Transaction{
			12345678: {
				ID:               7,
				ProcessID:        12345678,
				Amount:           decimal.RequireFromString("151241.00"),
				Currency:         "PYG",
				PaymentStatus:    transaction.PaymentApproved,
				DeliveryStatus:   &inTransit,
				CustomerSnapshot: datatypes.JSON(`{"name":"Ana","email":"ana@example.com"}`),
			},
			555: {
				ID:            8,
				ProcessID:     555,
				Amount:        decimal.RequireFromString("10.00"),
				Currency:      "USD",
				PaymentStatus: transaction.PaymentPending,
			},
		}}
		service, err = notification.NewService(repo, finder, nil, quietLogger())
		Expect(err).NotTo(HaveOccurred())
	})

	recordSent := func(success bool) {
		Expect(repo.RecordSent(ctx, &notification.Sent{
			TransactionID:    7,
			Channel:          "email",
			TriggeringStatus: transaction.DeliveryInTransit,
			Recipient:        "ana@example.com",
			Success:          success,
			SentAt:           time.Now().UTC(),
		})).To(Succeed())
	}

	countOutbox := func() int64 {
		var n int64
		db.Model(&notificationDatamodel.OutboxMessage{}).Count(&n)
		return n
	}

	It("refuses to resend when the current status was already notified", func() {
		recordSent(true)

		_, err := service.Resend(ctx, 12345678, false, 1)
		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(internal.ErrCodeAlreadyNotified))
		Expect(countOutbox()).To(BeZero())
	})

	It("resends when forced, with a fresh dedupe key each time", func() {
		recordSent(true)

		first, err := service.Resend(ctx, 12345678, true, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Queued).To(BeTrue())
		Expect(first.TriggeringStatus).To(Equal("in_transit"))

		_, err = service.Resend(ctx, 12345678, true, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(countOutbox()).To(Equal(int64(2)))

		var row notificationDatamodel.OutboxMessage
		Expect(db.First(&row).Error).To(Succeed())
		Expect(row.EventType).To(Equal("delivery.in_transit"))
		Expect(row.Recipient).To(Equal("ana@example.com"))
		Expect(row.DedupeKey).To(HavePrefix("resend:12345678:in_transit:"))
	})

	It("resends without force after a failed notification", func() {
		recordSent(false)

		resp, err := service.Resend(ctx, 12345678, false, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Queued).To(BeTrue())
	})

	It("has nothing to resend while the payment is pending", func() {
		_, err := service.Resend(ctx, 555, true, 1)
		Expect(internal.IsErrorType(err, internal.ErrorTypeConflict)).To(BeTrue())
	})

	It("returns the notification history newest first", func() {
		recordSent(false)
		recordSent(true)

		history, err := service.History(ctx, 12345678)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(2))
		Expect(history[0].Success).To(BeTrue())
	})

	It("reports unknown transactions", func() {
		_, err := service.History(ctx, 1)
		Expect(internal.IsErrorType(err, internal.ErrorTypeNotFound)).To(BeTrue())
	})
})
