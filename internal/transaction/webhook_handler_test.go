package transaction_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/transaction"
)

type blockingReconciler struct {
	mu       sync.Mutex
	release  chan struct{}
	received []transaction.ConfirmationDTO
	result   error
	deadline bool
}

func (r *blockingReconciler) Reconcile(ctx context.Context, dto transaction.ConfirmationDTO) error {
	if r.release != nil {
		<-r.release
	}
	_, hasDeadline := ctx.Deadline()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, dto)
	r.deadline = hasDeadline
	return r.result
}

func (r *blockingReconciler) calls() []transaction.ConfirmationDTO {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transaction.ConfirmationDTO(nil), r.received...)
}

var _ = Describe("WebhookHandler", func() {
	const body = `{"operation":{"token":"abc","shop_process_id":12345678,"response":"S","response_code":"00","amount":"151241.00","currency":"PYG"}}`

	It("acknowledges before the confirmation is applied", func() {
		reconciler := &blockingReconciler{release: make(chan struct{})}
		handler := transaction.NewWebhookHandler(reconciler, time.Second, quietLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/bancard/confirmation", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandleConfirmation(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"status":"success"}`))
		Expect(reconciler.calls()).To(BeEmpty())

		close(reconciler.release)
		handler.Wait()

		calls := reconciler.calls()
		Expect(calls).To(HaveLen(1))
		Expect(calls[0].ShopProcessID).To(Equal("12345678"))
		Expect(calls[0].Response).To(Equal("S"))
		Expect(reconciler.deadline).To(BeTrue())
	})

	It("keeps reconciling after the request context is cancelled", func() {
		reconciler := &blockingReconciler{release: make(chan struct{})}
		handler := transaction.NewWebhookHandler(reconciler, time.Second, quietLogger())

		ctx, cancel := context.WithCancel(context.Background())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bancard/confirmation", strings.NewReader(body)).WithContext(ctx)
		handler.HandleConfirmation(httptest.NewRecorder(), req)
		cancel()

		close(reconciler.release)
		handler.Wait()
		Expect(reconciler.calls()).To(HaveLen(1))
	})

	It("acknowledges an undecodable body without reconciling", func() {
		reconciler := &blockingReconciler{}
		handler := transaction.NewWebhookHandler(reconciler, time.Second, quietLogger())

		rec := httptest.NewRecorder()
		handler.HandleConfirmation(rec, httptest.NewRequest(http.MethodPost, "/api/v1/bancard/confirmation", strings.NewReader("{not json")))
		handler.Wait()

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(reconciler.calls()).To(BeEmpty())
	})

	It("falls back to query parameters", func() {
		reconciler := &blockingReconciler{result: internal.ErrDuplicateConfirmation}
		handler := transaction.NewWebhookHandler(reconciler, time.Second, quietLogger())

		req := httptest.NewRequest(http.MethodPost,
			"/api/v1/bancard/confirmation?shop_process_id=555&response=N&response_code=05", nil)
		rec := httptest.NewRecorder()
		handler.HandleConfirmation(rec, req)
		handler.Wait()

		Expect(rec.Code).To(Equal(http.StatusOK))
		calls := reconciler.calls()
		Expect(calls).To(HaveLen(1))
		Expect(calls[0].ShopProcessID).To(Equal("555"))
		Expect(calls[0].Response).To(Equal("N"))
	})

	It("answers the reachability probe", func() {
		handler := transaction.NewWebhookHandler(&blockingReconciler{}, time.Second, quietLogger())
		rec := httptest.NewRecorder()
		handler.Probe(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bancard/confirmation", nil))
		Expect(rec.Body.String()).To(MatchJSON(`{"status":"active","service":"bancard-confirmation"}`))
	})
})
