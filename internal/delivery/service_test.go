package delivery_test

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/frahmantamala/zenn-checkout/internal"
	notificationDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/notification"
	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/core/events"
	"github.com/frahmantamala/zenn-checkout/internal/core/outbox"
	"github.com/frahmantamala/zenn-checkout/internal/delivery"
	"github.com/frahmantamala/zenn-checkout/internal/delivery/postgres"
)

var _ = Describe("CanTransition", func() {
	DescribeTable("delivery edges",
		func(from, to string, legal bool) {
			Expect(delivery.CanTransition(from, to)).To(Equal(legal))
		},
		Entry("confirmed to preparing", "payment_confirmed", "preparing_order", true),
		Entry("preparing to in transit", "preparing_order", "in_transit", true),
		Entry("in transit to delivered", "in_transit", "delivered", true),
		Entry("skipping a step", "payment_confirmed", "in_transit", false),
		Entry("going back", "in_transit", "preparing_order", false),
		Entry("problem from confirmed", "payment_confirmed", "problem", true),
		Entry("problem from in transit", "in_transit", "problem", true),
		Entry("delivered is terminal", "delivered", "problem", false),
		Entry("problem is absorbing", "problem", "in_transit", false),
		Entry("no delivery yet", "", "preparing_order", false),
	)
})

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		db      *gorm.DB
		reports *sqlx.DB
		bus     *events.EventBus
		service *delivery.Service
		repo    *postgres.DeliveryRepository
		clock   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		db, reports = newTestDB()
		box, err := outbox.New(3)
		Expect(err).NotTo(HaveOccurred())
		bus = events.NewEventBus(quietLogger())
		repo = postgres.NewDeliveryRepository(db, reports, box)
		service = delivery.NewService(repo, bus, quietLogger())
		clock = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
		service.SetClock(func() time.Time { return clock })
	})

	AfterEach(func() {
		bus.Wait()
	})

	Describe("Advance", func() {
		It("moves an approved order one step and appends a timeline entry", func() {
			txn := seedOrder(db, 1001, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryPaymentConfirmed, 7)

			quiet := false
			resp, err := service.Advance(ctx, 1001, delivery.AdvanceDTO{
				Status:         transactionDatamodel.DeliveryPreparingOrder,
				Notes:          "packing",
				NotifyCustomer: &quiet,
			}, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.From).To(Equal(transactionDatamodel.DeliveryPaymentConfirmed))
			Expect(resp.To).To(Equal(transactionDatamodel.DeliveryPreparingOrder))
			Expect(resp.Notified).To(BeFalse())

			stored, err := repo.GetByProcessID(ctx, 1001)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.CurrentDeliveryStatus()).To(Equal(transactionDatamodel.DeliveryPreparingOrder))
			Expect(*stored.DeliveryUpdatedBy).To(Equal(int64(42)))
			Expect(*stored.DeliveryNotes).To(Equal("packing"))
			Expect(stored.Timeline).To(HaveLen(1))
			Expect(*stored.Timeline[0].Actor).To(Equal(int64(42)))
			Expect(stored.Timeline[0].Automatic).To(BeFalse())

			Expect(countRows(db, &notificationDatamodel.OutboxMessage{}, "transaction_id = ?", txn.ID)).To(BeZero())
		})

		It("enqueues one notification intent when the customer is notified", func() {
			seedOrder(db, 1002, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryPreparingOrder, 7)
			notify := true

			resp, err := service.Advance(ctx, 1002, delivery.AdvanceDTO{
				Status:         transactionDatamodel.DeliveryInTransit,
				TrackingNumber: "TRK-1",
				CourierCompany: "Correo",
				NotifyCustomer: &notify,
			}, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Notified).To(BeTrue())

			var msgs []notificationDatamodel.OutboxMessage
			Expect(db.Find(&msgs).Error).To(Succeed())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].DedupeKey).To(Equal("delivery:1002:in_transit"))
			Expect(msgs[0].EventType).To(Equal("delivery.in_transit"))
			Expect(msgs[0].Recipient).To(Equal("ana@example.com"))
			Expect(string(msgs[0].Payload)).To(ContainSubstring("TRK-1"))
		})

		It("notifies the customer when the request leaves notify_customer out", func() {
			txn := seedOrder(db, 1010, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryPaymentConfirmed, 7)

			var dto delivery.AdvanceDTO
			Expect(json.Unmarshal([]byte(`{"status":"preparing_order"}`), &dto)).To(Succeed())

			resp, err := service.Advance(ctx, 1010, dto, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Notified).To(BeTrue())
			Expect(countRows(db, &notificationDatamodel.OutboxMessage{},
				"transaction_id = ? AND dedupe_key = ?", txn.ID, "delivery:1010:preparing_order")).To(Equal(int64(1)))
		})

		It("rejects orders whose payment is not approved without writing a timeline entry", func() {
			txn := seedOrder(db, 1003, transactionDatamodel.PaymentPending, "", 7)

			_, err := service.Advance(ctx, 1003, delivery.AdvanceDTO{Status: transactionDatamodel.DeliveryPreparingOrder}, 42)
			expectConflict(err, internal.ErrCodeDeliveryRequiresApproval)
			Expect(countRows(db, &transactionDatamodel.TimelineEntry{}, "transaction_id = ?", txn.ID)).To(BeZero())
		})

		It("rejects rolled back orders", func() {
			txn := seedOrder(db, 1004, transactionDatamodel.PaymentRolledBack, transactionDatamodel.DeliveryPaymentConfirmed, 7)
			Expect(db.Model(txn).Update("is_rolled_back", true).Error).To(Succeed())

			_, err := service.Advance(ctx, 1004, delivery.AdvanceDTO{Status: transactionDatamodel.DeliveryPreparingOrder}, 42)
			expectConflict(err, internal.ErrCodeDeliveryRequiresApproval)
		})

		It("rejects skipped steps", func() {
			seedOrder(db, 1005, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryPaymentConfirmed, 7)

			_, err := service.Advance(ctx, 1005, delivery.AdvanceDTO{Status: transactionDatamodel.DeliveryDelivered}, 42)
			expectConflict(err, internal.ErrCodeInvalidDeliveryStep)
		})

		It("rejects a stale expected status", func() {
			seedOrder(db, 1006, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryPreparingOrder, 7)

			_, err := service.Advance(ctx, 1006, delivery.AdvanceDTO{
				Status:         transactionDatamodel.DeliveryPreparingOrder,
				ExpectedStatus: transactionDatamodel.DeliveryPaymentConfirmed,
			}, 42)
			expectConflict(err, internal.ErrCodeStaleDeliveryStatus)
		})

		It("moves to problem and stays there", func() {
			seedOrder(db, 1007, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryInTransit, 7)

			_, err := service.Advance(ctx, 1007, delivery.AdvanceDTO{Status: transactionDatamodel.DeliveryProblem, Notes: "lost"}, 42)
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Advance(ctx, 1007, delivery.AdvanceDTO{Status: transactionDatamodel.DeliveryDelivered}, 42)
			expectConflict(err, internal.ErrCodeInvalidDeliveryStep)
		})

		It("stamps the delivery date when delivered", func() {
			seedOrder(db, 1008, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryInTransit, 7)

			_, err := service.Advance(ctx, 1008, delivery.AdvanceDTO{Status: transactionDatamodel.DeliveryDelivered}, 42)
			Expect(err).NotTo(HaveOccurred())

			stored, err := repo.GetByProcessID(ctx, 1008)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ActualDeliveryDate).NotTo(BeNil())
			Expect(stored.ActualDeliveryDate.Equal(clock)).To(BeTrue())
		})

		It("rejects unknown statuses", func() {
			seedOrder(db, 1009, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryPaymentConfirmed, 7)

			_, err := service.Advance(ctx, 1009, delivery.AdvanceDTO{Status: "shipped"}, 42)
			Expect(internal.IsErrorType(err, internal.ErrorTypeValidation)).To(BeTrue())
		})

		It("returns not found for unknown orders", func() {
			_, err := service.Advance(ctx, 999, delivery.AdvanceDTO{Status: transactionDatamodel.DeliveryPreparingOrder}, 42)
			Expect(internal.IsErrorType(err, internal.ErrorTypeNotFound)).To(BeTrue())
		})
	})

	Describe("DeliveryRepository.Advance", func() {
		It("does not apply a transition from a status the order already left", func() {
			txn := seedOrder(db, 1101, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryInTransit, 7)

			applied, err := repo.Advance(ctx, delivery.Transition{
				TransactionID: txn.ID,
				ProcessID:     txn.ProcessID,
				From:          transactionDatamodel.DeliveryPaymentConfirmed,
				To:            transactionDatamodel.DeliveryPreparingOrder,
				Notify:        true,
				At:            clock,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeFalse())
			Expect(countRows(db, &transactionDatamodel.TimelineEntry{}, "transaction_id = ?", txn.ID)).To(BeZero())
			Expect(countRows(db, &notificationDatamodel.OutboxMessage{}, "transaction_id = ?", txn.ID)).To(BeZero())
		})
	})

	Describe("DeliveryRepository.RecordAttempt", func() {
		It("writes nothing when the delivered transition cannot be applied", func() {
			txn := seedOrder(db, 1111, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryInTransit, 7)

			applied, err := repo.RecordAttempt(ctx, txn.ID,
				&delivery.DeliveryAttempt{Result: transactionDatamodel.AttemptSuccessful, AttemptedAt: clock},
				&delivery.Transition{
					TransactionID: txn.ID,
					ProcessID:     txn.ProcessID,
					From:          transactionDatamodel.DeliveryPreparingOrder,
					To:            transactionDatamodel.DeliveryDelivered,
					Automatic:     true,
					Notify:        true,
					At:            clock,
				})
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeFalse())

			stored, err := repo.GetByProcessID(ctx, 1111)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.DeliveryAttemptCount).To(BeZero())
			Expect(stored.CurrentDeliveryStatus()).To(Equal(transactionDatamodel.DeliveryInTransit))
			Expect(countRows(db, &transactionDatamodel.DeliveryAttempt{}, "transaction_id = ?", txn.ID)).To(BeZero())
			Expect(countRows(db, &notificationDatamodel.OutboxMessage{}, "transaction_id = ?", txn.ID)).To(BeZero())
		})

		It("refuses attempts on a rolled back payment", func() {
			txn := seedOrder(db, 1112, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryInTransit, 7)
			Expect(db.Model(txn).Update("is_rolled_back", true).Error).To(Succeed())

			applied, err := repo.RecordAttempt(ctx, txn.ID,
				&delivery.DeliveryAttempt{Result: transactionDatamodel.AttemptFailed, AttemptedAt: clock}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeFalse())
			Expect(countRows(db, &transactionDatamodel.DeliveryAttempt{}, "transaction_id = ?", txn.ID)).To(BeZero())
		})
	})

	Describe("RecordAttempt", func() {
		It("records a failed attempt and keeps the order in transit", func() {
			seedOrder(db, 1201, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryInTransit, 7)
			retry := clock.Add(24 * time.Hour)

			view, err := service.RecordAttempt(ctx, 1201, delivery.AttemptDTO{
				Result:          transactionDatamodel.AttemptCustomerNotAvailable,
				Notes:           "nobody home",
				NextAttemptDate: &retry,
			}, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.CurrentStatus).To(Equal(transactionDatamodel.DeliveryInTransit))
			Expect(view.AttemptCount).To(Equal(1))
			Expect(view.Attempts).To(HaveLen(1))
			Expect(view.Attempts[0].Result).To(Equal(transactionDatamodel.AttemptCustomerNotAvailable))
		})

		It("delivers the order and notifies the customer on a successful attempt", func() {
			seedOrder(db, 1202, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryInTransit, 7)

			_, err := service.RecordAttempt(ctx, 1202, delivery.AttemptDTO{Result: transactionDatamodel.AttemptFailed}, 42)
			Expect(err).NotTo(HaveOccurred())

			view, err := service.RecordAttempt(ctx, 1202, delivery.AttemptDTO{Result: transactionDatamodel.AttemptSuccessful}, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.CurrentStatus).To(Equal(transactionDatamodel.DeliveryDelivered))
			Expect(view.AttemptCount).To(Equal(2))
			Expect(view.ActualDeliveryDate).NotTo(BeNil())
			Expect(view.CanRate).To(BeTrue())
			Expect(view.Timeline).To(HaveLen(1))
			Expect(view.Timeline[0].Automatic).To(BeTrue())
			Expect(view.Timeline[0].Note).To(Equal("delivered on attempt 2"))

			var msg notificationDatamodel.OutboxMessage
			Expect(db.Where("dedupe_key = ?", "delivery:1202:delivered").First(&msg).Error).To(Succeed())
		})

		It("refuses attempts outside in transit", func() {
			txn := seedOrder(db, 1203, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryPreparingOrder, 7)

			_, err := service.RecordAttempt(ctx, 1203, delivery.AttemptDTO{Result: transactionDatamodel.AttemptFailed}, 42)
			expectConflict(err, internal.ErrCodeInvalidDeliveryStep)
			Expect(countRows(db, &transactionDatamodel.DeliveryAttempt{}, "transaction_id = ?", txn.ID)).To(BeZero())
		})
	})

	Describe("Rate", func() {
		It("accepts one rating from the owner of a delivered order", func() {
			seedOrder(db, 1301, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryDelivered, 7)

			view, err := service.Rate(ctx, 1301, delivery.RateDTO{Rating: 5, Feedback: "fast"}, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(*view.Rating).To(Equal(5))
			Expect(view.CanRate).To(BeFalse())

			_, err = service.Rate(ctx, 1301, delivery.RateDTO{Rating: 1}, 7)
			expectConflict(err, internal.ErrCodeAlreadyRated)

			stored, err := repo.GetByProcessID(ctx, 1301)
			Expect(err).NotTo(HaveOccurred())
			Expect(*stored.Rating).To(Equal(5))
			Expect(*stored.RatingFeedback).To(Equal("fast"))
		})

		It("refuses orders that were not delivered", func() {
			seedOrder(db, 1302, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryInTransit, 7)

			_, err := service.Rate(ctx, 1302, delivery.RateDTO{Rating: 4}, 7)
			expectConflict(err, internal.ErrCodeNotDelivered)
		})

		It("hides orders of other customers", func() {
			seedOrder(db, 1303, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryDelivered, 7)

			_, err := service.Rate(ctx, 1303, delivery.RateDTO{Rating: 4}, 8)
			Expect(internal.IsErrorType(err, internal.ErrorTypeNotFound)).To(BeTrue())
		})

		It("validates the rating range", func() {
			seedOrder(db, 1304, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryDelivered, 7)

			_, err := service.Rate(ctx, 1304, delivery.RateDTO{Rating: 6}, 7)
			Expect(internal.IsErrorType(err, internal.ErrorTypeValidation)).To(BeTrue())
		})

		It("does not overwrite a rating through the repository", func() {
			txn := seedOrder(db, 1305, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryDelivered, 7)

			applied, err := repo.Rate(ctx, txn.ID, 3, "", clock)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeTrue())

			applied, err = repo.Rate(ctx, txn.ID, 5, "", clock)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(BeFalse())
		})
	})

	Describe("Progress", func() {
		It("reports the step and percentage", func() {
			seedOrder(db, 1401, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryPreparingOrder, 7)

			view, err := service.Progress(ctx, 1401, 7, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.StepIndex).To(Equal(2))
			Expect(view.TotalSteps).To(Equal(4))
			Expect(view.ProgressPercentage).To(Equal(50))
			Expect(view.NextStep).To(Equal(transactionDatamodel.DeliveryInTransit))
			Expect(view.CanRate).To(BeFalse())
		})

		It("reports no step for problem orders", func() {
			seedOrder(db, 1402, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryProblem, 7)

			view, err := service.Progress(ctx, 1402, 0, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.StepIndex).To(BeZero())
			Expect(view.ProgressPercentage).To(BeZero())
			Expect(view.NextStep).To(BeEmpty())
		})

		It("hides orders of other customers unless viewing all", func() {
			seedOrder(db, 1403, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryInTransit, 7)

			_, err := service.Progress(ctx, 1403, 8, false)
			Expect(internal.IsErrorType(err, internal.ErrorTypeNotFound)).To(BeTrue())

			view, err := service.Progress(ctx, 1403, 8, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.ProgressPercentage).To(Equal(75))
		})
	})

	Describe("Stats", func() {
		It("counts approved orders per delivery status and averages ratings", func() {
			seedOrder(db, 1501, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryInTransit, 7)
			seedOrder(db, 1502, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryInTransit, 7)
			a := seedOrder(db, 1503, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryDelivered, 7)
			b := seedOrder(db, 1504, transactionDatamodel.PaymentApproved, transactionDatamodel.DeliveryDelivered, 7)
			seedOrder(db, 1505, transactionDatamodel.PaymentPending, "", 7)

			_, err := repo.Rate(ctx, a.ID, 5, "", clock)
			Expect(err).NotTo(HaveOccurred())
			_, err = repo.Rate(ctx, b.ID, 4, "", clock)
			Expect(err).NotTo(HaveOccurred())

			stats, err := service.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Total).To(Equal(int64(4)))
			Expect(stats.ByStatus).To(ConsistOf(
				delivery.StatusCount{Status: transactionDatamodel.DeliveryInTransit, Count: 2},
				delivery.StatusCount{Status: transactionDatamodel.DeliveryDelivered, Count: 2},
			))
			Expect(stats.RatedOrders).To(Equal(int64(2)))
			Expect(stats.AverageRating).To(BeNumerically("~", 4.5, 0.001))
		})

		It("returns zeros on an empty store", func() {
			stats, err := service.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Total).To(BeZero())
			Expect(stats.ByStatus).To(BeEmpty())
			Expect(stats.AverageRating).To(BeZero())
		})
	})
})
