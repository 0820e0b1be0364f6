package transaction_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/bancard"
	notificationDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/notification"
	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/core/outbox"
	"github.com/frahmantamala/zenn-checkout/internal/metrics"
	"github.com/frahmantamala/zenn-checkout/internal/signature"
	"github.com/frahmantamala/zenn-checkout/internal/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/transaction/postgres"
)

var _ = Describe("Service", func() {
	var (
		db      *gorm.DB
		repo    *postgres.TransactionRepository
		gateway *fakeGateway
		signer  *signature.Generator
		service *transaction.Service
		ctx     context.Context
	)

	amount := decimal.RequireFromString("151241.00")

	BeforeEach(func() {
		ctx = context.Background()
		db = newTestDB()
		box, err := outbox.New(1)
		Expect(err).NotTo(HaveOccurred())
		repo = postgres.NewTransactionRepository(db, box)
		gateway = newFakeGateway()
		signer = signature.New(privateKey)
		service = transaction.NewService(repo, gateway, signer, signature.NewProcessIDAllocator(), nil, metrics.New(), quietLogger())
	})

	newCard := func() transaction.CreateChargeDTO {
		return transaction.CreateChargeDTO{
			Amount:      amount,
			Currency:    "PYG",
			Description: "Compra de prueba en tienda online",
			Customer:    transaction.Customer{Name: "Ana", Email: "ana@example.com"},
			Items: []transaction.Item{
				{ProductID: "sku-1", Name: "Termo", Quantity: 1, UnitPrice: amount},
			},
		}
	}

	savedCard := func() transaction.CreateChargeDTO {
		dto := newCard()
		dto.PaymentMethod = transactionDatamodel.MethodSavedCard
		dto.AliasToken = "alias-token-1"
		return dto
	}

	confirmation := func(pid int64, flag, code string) transaction.ConfirmationDTO {
		body := fmt.Sprintf(`{"operation":{
			"token":%q,
			"shop_process_id":%d,
			"response":%q,
			"response_details":"procesado",
			"amount":"151241.00",
			"currency":"PYG",
			"authorization_number":"123456",
			"ticket_number":"123456789",
			"response_code":%q,
			"response_description":"Transaccion procesada"
		}}`, signer.Confirmation(pid, amount, "PYG"), pid, flag, code)
		dto, err := transaction.ParseConfirmation([]byte(body), url.Values{})
		Expect(err).NotTo(HaveOccurred())
		return dto
	}

	stored := func(pid int64) *transaction.Transaction {
		txn, err := repo.GetByProcessID(ctx, pid)
		Expect(err).NotTo(HaveOccurred())
		return txn
	}

	outboxEvents := func() []string {
		var rows []notificationDatamodel.OutboxMessage
		Expect(db.Order("created_at ASC, id ASC").Find(&rows).Error).To(Succeed())
		out := make([]string, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.EventType)
		}
		return out
	}

	auditKinds := func(pid int64) []string {
		entries, err := repo.ListAudit(ctx, stored(pid).ID)
		Expect(err).NotTo(HaveOccurred())
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Kind)
		}
		return out
	}

	Describe("new card checkout", func() {
		It("returns the iframe descriptor and resolves through the webhook", func() {
			resp, err := service.CreateCharge(ctx, newCard(), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.PaymentStatus).To(Equal(transactionDatamodel.PaymentPending))
			Expect(resp.RequiresAction).NotTo(BeNil())
			Expect(resp.RequiresAction.Type).To(Equal(transaction.RequiresActionIframe))
			Expect(resp.RequiresAction.GatewayProcessID).To(Equal("gw-1"))
			Expect(resp.RequiresAction.ScriptURL).To(HaveSuffix("/checkout/javascript/dist/bancard-checkout-4.0.0.js"))

			txn := stored(resp.ProcessID)
			Expect(txn.PaymentStatus).To(Equal(transactionDatamodel.PaymentPending))
			Expect(*txn.GatewayReference).To(Equal("gw-1"))
			Expect(txn.CreatedBy).To(BeNil())
			Expect(outboxEvents()).To(BeEmpty())

			Expect(service.Reconcile(ctx, confirmation(resp.ProcessID, "S", "00"))).To(Succeed())

			txn = stored(resp.ProcessID)
			Expect(txn.PaymentStatus).To(Equal(transactionDatamodel.PaymentApproved))
			Expect(txn.ConfirmedByWebhook).To(BeTrue())
			Expect(*txn.AuthorizationNumber).To(Equal("123456"))
			Expect(txn.CurrentDeliveryStatus()).To(Equal(transactionDatamodel.DeliveryPaymentConfirmed))
			Expect(txn.Timeline).To(HaveLen(1))
			Expect(txn.Timeline[0].Automatic).To(BeTrue())
			Expect(outboxEvents()).To(Equal([]string{"payment.approved"}))
		})

		It("applies a duplicate webhook only once", func() {
			resp, err := service.CreateCharge(ctx, newCard(), 0)
			Expect(err).NotTo(HaveOccurred())

			Expect(service.Reconcile(ctx, confirmation(resp.ProcessID, "S", "00"))).To(Succeed())
			err = service.Reconcile(ctx, confirmation(resp.ProcessID, "S", "00"))
			Expect(errors.Is(err, internal.ErrDuplicateConfirmation)).To(BeTrue())

			Expect(outboxEvents()).To(HaveLen(1))
			Expect(stored(resp.ProcessID).Timeline).To(HaveLen(1))
			Expect(auditKinds(resp.ProcessID)).To(ConsistOf(transactionDatamodel.AuditDuplicateConfirmation))
		})

		It("applies concurrent identical webhooks exactly once", func() {
			resp, err := service.CreateCharge(ctx, newCard(), 0)
			Expect(err).NotTo(HaveOccurred())
			dto := confirmation(resp.ProcessID, "S", "00")

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				applied int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := service.Reconcile(ctx, dto)
					if err == nil {
						mu.Lock()
						applied++
						mu.Unlock()
						return
					}
					Expect(internal.IsDuplicateConfirmation(err)).To(BeTrue())
				}()
			}
			wg.Wait()

			Expect(applied).To(Equal(1))
			Expect(outboxEvents()).To(HaveLen(1))
			Expect(stored(resp.ProcessID).PaymentStatus).To(Equal(transactionDatamodel.PaymentApproved))
		})

		It("rejects on an N webhook", func() {
			resp, err := service.CreateCharge(ctx, newCard(), 0)
			Expect(err).NotTo(HaveOccurred())

			Expect(service.Reconcile(ctx, confirmation(resp.ProcessID, "N", "05"))).To(Succeed())

			txn := stored(resp.ProcessID)
			Expect(txn.PaymentStatus).To(Equal(transactionDatamodel.PaymentRejected))
			Expect(txn.DeliveryStatus).To(BeNil())
			Expect(*txn.FailureReason).To(Equal("Transaccion procesada"))
			Expect(outboxEvents()).To(Equal([]string{"payment.rejected"}))
		})

		It("keeps the transaction pending on an inconclusive webhook", func() {
			resp, err := service.CreateCharge(ctx, newCard(), 0)
			Expect(err).NotTo(HaveOccurred())

			Expect(service.Reconcile(ctx, confirmation(resp.ProcessID, "", "00"))).To(Succeed())
			Expect(stored(resp.ProcessID).PaymentStatus).To(Equal(transactionDatamodel.PaymentPending))
			Expect(auditKinds(resp.ProcessID)).To(ConsistOf(transactionDatamodel.AuditInconclusive))

			Expect(service.Reconcile(ctx, confirmation(resp.ProcessID, "S", "00"))).To(Succeed())
			Expect(stored(resp.ProcessID).PaymentStatus).To(Equal(transactionDatamodel.PaymentApproved))
		})

		It("notes a token that does not match the stored amount but still applies", func() {
			resp, err := service.CreateCharge(ctx, newCard(), 0)
			Expect(err).NotTo(HaveOccurred())

			dto := confirmation(resp.ProcessID, "S", "00")
			dto.Token = "00000000000000000000000000000000"
			Expect(service.Reconcile(ctx, dto)).To(Succeed())

			Expect(stored(resp.ProcessID).PaymentStatus).To(Equal(transactionDatamodel.PaymentApproved))
			Expect(auditKinds(resp.ProcessID)).To(ContainElement(transactionDatamodel.AuditTokenMismatch))
		})

		It("forwards a valid promotion code and a truncated description", func() {
			dto := newCard()
			dto.PromotionCode = "123AB CDE123456"
			_, err := service.CreateCharge(ctx, dto, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(gateway.lastBuy.AdditionalData).To(Equal("123AB CDE123456"))
			Expect(gateway.lastBuy.Description).To(Equal("Compra de prueba en "))
			Expect(gateway.lastBuy.Amount.StringFixed(2)).To(Equal("151241.00"))

			dto.PromotionCode = "not-a-code"
			_, err = service.CreateCharge(ctx, dto, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(gateway.lastBuy.AdditionalData).To(BeEmpty())
		})

		It("leaves the transaction pending when the gateway times out", func() {
			gateway.singleBuy = func(req bancard.SingleBuyRequest) (*bancard.SingleBuyResult, error) {
				return nil, &bancard.TransientFailure{Operation: "single_buy", Cause: context.DeadlineExceeded}
			}
			pid := int64(424242)
			dto := newCard()
			dto.ProcessID = &pid

			_, err := service.CreateCharge(ctx, dto, 0)
			Expect(internal.IsErrorType(err, internal.ErrorTypeGatewayTransient)).To(BeTrue())
			Expect(stored(pid).PaymentStatus).To(Equal(transactionDatamodel.PaymentPending))
		})

		It("marks the transaction failed on a gateway error answer", func() {
			gateway.singleBuy = func(req bancard.SingleBuyRequest) (*bancard.SingleBuyResult, error) {
				return &bancard.SingleBuyResult{Messages: bancard.Messages{{Key: "InvalidPublicKeyError", Level: "error"}}}, nil
			}
			pid := int64(777)
			dto := newCard()
			dto.ProcessID = &pid

			_, err := service.CreateCharge(ctx, dto, 0)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(appErr.Code).To(Equal(internal.ErrCodeGatewayFailed))

			txn := stored(pid)
			Expect(txn.PaymentStatus).To(Equal(transactionDatamodel.PaymentFailed))
			Expect(*txn.FailureReason).To(ContainSubstring("InvalidPublicKeyError"))
		})

		It("refuses to charge with a broken gateway configuration", func() {
			gateway.cfg.PublicKey = "short"
			_, err := service.CreateCharge(ctx, newCard(), 0)
			Expect(internal.IsErrorType(err, internal.ErrorTypeConfiguration)).To(BeTrue())
			Expect(gateway.Calls("single_buy")).To(BeZero())

			var n int64
			db.Model(&transactionDatamodel.Transaction{}).Count(&n)
			Expect(n).To(BeZero())
		})

		It("reports a taken process id", func() {
			pid := int64(31337)
			dto := newCard()
			dto.ProcessID = &pid
			_, err := service.CreateCharge(ctx, dto, 0)
			Expect(err).NotTo(HaveOccurred())

			_, err = service.CreateCharge(ctx, dto, 0)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeProcessIDTaken))
		})

		It("validates the request", func() {
			dto := newCard()
			dto.Amount = decimal.Zero
			dto.Currency = "EUR"
			_, err := service.CreateCharge(ctx, dto, 0)
			Expect(internal.IsErrorType(err, internal.ErrorTypeValidation)).To(BeTrue())
			Expect(gateway.Calls("single_buy")).To(BeZero())
		})
	})

	Describe("saved card checkout", func() {
		It("approves synchronously on S/00", func() {
			gateway.charge = chargeAnswer("S", "00")

			resp, err := service.CreateCharge(ctx, savedCard(), 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.PaymentStatus).To(Equal(transactionDatamodel.PaymentApproved))
			Expect(resp.RequiresAction).To(BeNil())
			Expect(gateway.lastCharge.AliasToken).To(Equal("alias-token-1"))

			txn := stored(resp.ProcessID)
			Expect(*txn.CreatedBy).To(Equal(int64(5)))
			Expect(txn.IsTokenPayment).To(BeTrue())
			Expect(txn.ConfirmedByWebhook).To(BeFalse())
			Expect(outboxEvents()).To(Equal([]string{"payment.approved"}))
		})

		It("rejects on N with a 402", func() {
			gateway.charge = chargeAnswer("N", "05")

			_, err := service.CreateCharge(ctx, savedCard(), 5)
			Expect(internal.IsErrorType(err, internal.ErrorTypeGatewayRejection)).To(BeTrue())

			var txn transactionDatamodel.Transaction
			Expect(db.First(&txn).Error).To(Succeed())
			Expect(txn.PaymentStatus).To(Equal(transactionDatamodel.PaymentRejected))
		})

		It("tells a gateway error answer apart from a bank decline", func() {
			gateway.charge = func(req bancard.ChargeRequest) (*bancard.ChargeResult, error) {
				return &bancard.ChargeResult{Messages: bancard.Messages{{Key: "AliasTokenError", Level: "error"}}}, nil
			}

			_, err := service.CreateCharge(ctx, savedCard(), 5)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeGatewayFailure))
			Expect(appErr.StatusCode).To(Equal(http.StatusBadGateway))

			var txn transactionDatamodel.Transaction
			Expect(db.First(&txn).Error).To(Succeed())
			Expect(txn.PaymentStatus).To(Equal(transactionDatamodel.PaymentFailed))
		})

		It("stays pending on an ambiguous answer and is settled by the webhook", func() {
			gateway.charge = func(req bancard.ChargeRequest) (*bancard.ChargeResult, error) {
				return &bancard.ChargeResult{
					Accepted:    true,
					Decision:    bancard.DecisionRequiresAction,
					ProcessID:   "gw-3ds",
					RedirectURL: "https://vpos.infonet.com.py:8888/checkout/new/gw-3ds",
				}, nil
			}

			resp, err := service.CreateCharge(ctx, savedCard(), 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.PaymentStatus).To(Equal(transactionDatamodel.PaymentPending))
			Expect(resp.RequiresAction.Type).To(Equal(transaction.RequiresActionRedirect))
			Expect(resp.RequiresAction.RedirectURL).To(HaveSuffix("/checkout/new/gw-3ds"))

			Expect(service.Reconcile(ctx, confirmation(resp.ProcessID, "S", "00"))).To(Succeed())
			Expect(stored(resp.ProcessID).PaymentStatus).To(Equal(transactionDatamodel.PaymentApproved))
		})

		It("never downgrades on a disagreeing webhook", func() {
			gateway.charge = chargeAnswer("S", "00")
			resp, err := service.CreateCharge(ctx, savedCard(), 5)
			Expect(err).NotTo(HaveOccurred())

			err = service.Reconcile(ctx, confirmation(resp.ProcessID, "N", "05"))
			Expect(internal.IsDuplicateConfirmation(err)).To(BeTrue())

			txn := stored(resp.ProcessID)
			Expect(txn.PaymentStatus).To(Equal(transactionDatamodel.PaymentApproved))
			Expect(txn.ConfirmedByWebhook).To(BeTrue())
			Expect(*txn.GatewayResponseCode).To(Equal("00"))
			Expect(auditKinds(resp.ProcessID)).To(ConsistOf(transactionDatamodel.AuditOutcomeDisagreement))
			Expect(outboxEvents()).To(HaveLen(1))
		})

		It("reaches the same final state whichever confirmation lands first", func() {
			type finalState struct {
				Status    string
				Confirmed bool
				Delivery  string
				Timeline  int
				Intents   int64
				Audit     []string
			}
			snapshot := func(pid int64) finalState {
				txn := stored(pid)
				var intents int64
				Expect(db.Model(&notificationDatamodel.OutboxMessage{}).
					Where("transaction_id = ?", txn.ID).
					Count(&intents).Error).To(Succeed())
				return finalState{
					Status:    txn.PaymentStatus,
					Confirmed: txn.ConfirmedByWebhook,
					Delivery:  txn.CurrentDeliveryStatus(),
					Timeline:  len(txn.Timeline),
					Intents:   intents,
					Audit:     auditKinds(pid),
				}
			}

			gateway.charge = chargeAnswer("S", "00")
			syncFirst, err := service.CreateCharge(ctx, savedCard(), 5)
			Expect(err).NotTo(HaveOccurred())
			err = service.Reconcile(ctx, confirmation(syncFirst.ProcessID, "S", "00"))
			Expect(internal.IsDuplicateConfirmation(err)).To(BeTrue())

			answer := chargeAnswer("S", "00")
			gateway.charge = func(req bancard.ChargeRequest) (*bancard.ChargeResult, error) {
				Expect(service.Reconcile(ctx, confirmation(req.ProcessID, "S", "00"))).To(Succeed())
				return answer(req)
			}
			webhookFirst, err := service.CreateCharge(ctx, savedCard(), 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(webhookFirst.PaymentStatus).To(Equal(transactionDatamodel.PaymentApproved))

			want := finalState{
				Status:    transactionDatamodel.PaymentApproved,
				Confirmed: true,
				Delivery:  transactionDatamodel.DeliveryPaymentConfirmed,
				Timeline:  1,
				Intents:   1,
				Audit:     []string{transactionDatamodel.AuditDuplicateConfirmation},
			}
			Expect(snapshot(syncFirst.ProcessID)).To(Equal(want))
			Expect(snapshot(webhookFirst.ProcessID)).To(Equal(want))
		})

		It("requires a registered user", func() {
			gateway.charge = chargeAnswer("S", "00")
			_, err := service.CreateCharge(ctx, savedCard(), 0)
			Expect(internal.IsErrorType(err, internal.ErrorTypeForbidden)).To(BeTrue())
			Expect(gateway.Calls("charge")).To(BeZero())
		})
	})

	Describe("Rollback", func() {
		approved := func() int64 {
			gateway.charge = chargeAnswer("S", "00")
			resp, err := service.CreateCharge(ctx, savedCard(), 5)
			Expect(err).NotTo(HaveOccurred())
			return resp.ProcessID
		}

		It("never calls the gateway for a pending transaction", func() {
			resp, err := service.CreateCharge(ctx, newCard(), 0)
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Rollback(ctx, resp.ProcessID, transaction.RollbackDTO{Reason: "customer request"}, 1)
			Expect(internal.IsErrorType(err, internal.ErrorTypeConflict)).To(BeTrue())
			Expect(gateway.Calls("rollback")).To(BeZero())
		})

		It("rolls back an approved payment", func() {
			pid := approved()

			view, err := service.Rollback(ctx, pid, transaction.RollbackDTO{Reason: "customer request"}, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.PaymentStatus).To(Equal(transactionDatamodel.PaymentRolledBack))
			Expect(view.IsRolledBack).To(BeTrue())
			Expect(*view.RollbackReason).To(Equal("customer request"))
			Expect(outboxEvents()).To(Equal([]string{"payment.approved", "payment.rolled_back"}))

			_, err = service.Rollback(ctx, pid, transaction.RollbackDTO{Reason: "again"}, 1)
			Expect(internal.IsErrorType(err, internal.ErrorTypeConflict)).To(BeTrue())
			Expect(gateway.Calls("rollback")).To(Equal(1))
		})

		It("reports an already settled payment", func() {
			pid := approved()
			gateway.rollback = func(int64) (*bancard.RollbackResult, error) {
				return &bancard.RollbackResult{
					AlreadySettled: true,
					Messages:       bancard.Messages{{Key: bancard.MessageKeyAlreadyConfirmed, Level: "error"}},
				}, nil
			}

			_, err := service.Rollback(ctx, pid, transaction.RollbackDTO{Reason: "late"}, 1)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeAlreadySettled))
			Expect(appErr.Code).To(Equal(internal.ErrCodeManualReversal))
			Expect(stored(pid).PaymentStatus).To(Equal(transactionDatamodel.PaymentApproved))
			Expect(auditKinds(pid)).To(ConsistOf(transactionDatamodel.AuditRollbackConflict))
		})

		It("requires a reason", func() {
			pid := approved()
			_, err := service.Rollback(ctx, pid, transaction.RollbackDTO{}, 1)
			Expect(internal.IsErrorType(err, internal.ErrorTypeValidation)).To(BeTrue())
		})
	})

	Describe("QueryConfirmation", func() {
		It("settles a pending transaction from the gateway status", func() {
			resp, err := service.CreateCharge(ctx, newCard(), 0)
			Expect(err).NotTo(HaveOccurred())
			gateway.confirmation = func(pid int64) (*bancard.ConfirmationResult, error) {
				return &bancard.ConfirmationResult{
					Found:    true,
					Decision: bancard.DecisionApproved,
					Operation: bancard.Operation{
						Response:            "S",
						ResponseCode:        "00",
						AuthorizationNumber: "654321",
					},
				}, nil
			}

			result, err := service.QueryConfirmation(ctx, resp.ProcessID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Applied).To(BeTrue())
			Expect(result.PaymentStatus).To(Equal(transactionDatamodel.PaymentApproved))

			result, err = service.QueryConfirmation(ctx, resp.ProcessID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Applied).To(BeFalse())
			Expect(outboxEvents()).To(HaveLen(1))
		})

		It("reports an unknown transaction at the gateway", func() {
			resp, err := service.CreateCharge(ctx, newCard(), 0)
			Expect(err).NotTo(HaveOccurred())
			gateway.confirmation = func(int64) (*bancard.ConfirmationResult, error) {
				return &bancard.ConfirmationResult{Found: false}, nil
			}

			result, err := service.QueryConfirmation(ctx, resp.ProcessID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Found).To(BeFalse())
			Expect(result.PaymentStatus).To(Equal(transactionDatamodel.PaymentPending))
		})
	})

	Describe("reads", func() {
		It("hides other customers' transactions", func() {
			gateway.charge = chargeAnswer("S", "00")
			resp, err := service.CreateCharge(ctx, savedCard(), 5)
			Expect(err).NotTo(HaveOccurred())

			_, err = service.GetForCustomer(ctx, resp.ProcessID, 6, false)
			Expect(internal.IsErrorType(err, internal.ErrorTypeNotFound)).To(BeTrue())

			view, err := service.GetForCustomer(ctx, resp.ProcessID, 5, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Amount).To(Equal("151241.00"))

			_, err = service.GetForCustomer(ctx, resp.ProcessID, 6, true)
			Expect(err).NotTo(HaveOccurred())
		})

		It("lists with filters", func() {
			gateway.charge = chargeAnswer("S", "00")
			_, err := service.CreateCharge(ctx, savedCard(), 5)
			Expect(err).NotTo(HaveOccurred())
			_, err = service.CreateCharge(ctx, newCard(), 0)
			Expect(err).NotTo(HaveOccurred())

			list, err := service.List(ctx, transaction.ListFilter{PaymentStatus: transactionDatamodel.PaymentApproved})
			Expect(err).NotTo(HaveOccurred())
			Expect(list.Total).To(Equal(int64(1)))
			Expect(list.Limit).To(Equal(20))
			Expect(list.Transactions[0].PaymentStatus).To(Equal(transactionDatamodel.PaymentApproved))
		})
	})
})
