package notification_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/segmentio/kafka-go"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/notification"
)

type fakeKafkaWriter struct {
	written []kafka.Message
	closed  bool
}

func (w *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

var _ = Describe("Notifiers", func() {
	msg := notification.Message{
		ID:        "V1StGXR8_Z5jdHi6B-myT",
		OutboxID:  99,
		ProcessID: 12345678,
		EventType: "delivery.in_transit",
		Channel:   "email",
		Recipient: "ana@example.com",
		Snapshot:  json.RawMessage(`{"tracking_number":"TRK-1"}`),
		Attempt:   1,
	}

	Describe("HTTPNotifier", func() {
		It("posts the message with an idempotency key", func() {
			var (
				gotKey  string
				gotBody map[string]interface{}
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotKey = r.Header.Get("Idempotency-Key")
				body, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(body, &gotBody)
				w.WriteHeader(http.StatusAccepted)
			}))
			defer server.Close()

			n := notification.NewHTTPNotifier(server.URL, time.Second, quietLogger())
			Expect(n.Notify(context.Background(), msg)).To(Succeed())

			Expect(gotKey).To(Equal("outbox-99"))
			Expect(gotBody["event_type"]).To(Equal("delivery.in_transit"))
			Expect(gotBody["snapshot"]).To(HaveKeyWithValue("tracking_number", "TRK-1"))
		})

		It("fails on a non-2xx answer", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer server.Close()

			n := notification.NewHTTPNotifier(server.URL, time.Second, quietLogger())
			Expect(n.Notify(context.Background(), msg)).To(MatchError(ContainSubstring("503")))
		})
	})

	Describe("KafkaNotifier", func() {
		It("keys messages by process id", func() {
			w := &fakeKafkaWriter{}
			n := notification.NewKafkaNotifierWithWriter(w, "checkout.notifications", quietLogger())

			Expect(n.Notify(context.Background(), msg)).To(Succeed())
			Expect(w.written).To(HaveLen(1))
			Expect(string(w.written[0].Key)).To(Equal("12345678"))

			var decoded notification.Message
			Expect(json.Unmarshal(w.written[0].Value, &decoded)).To(Succeed())
			Expect(decoded.OutboxID).To(Equal(int64(99)))

			Expect(n.Close()).To(Succeed())
			Expect(w.closed).To(BeTrue())
		})
	})

	Describe("NewNotifier", func() {
		It("selects the driver from config", func() {
			n, err := notification.NewNotifier(internal.NotificationConfig{}, quietLogger())
			Expect(err).NotTo(HaveOccurred())
			Expect(n.Name()).To(Equal(notification.DriverLog))

			n, err = notification.NewNotifier(internal.NotificationConfig{Driver: "http", HTTPURL: "http://mailer.local/send"}, quietLogger())
			Expect(err).NotTo(HaveOccurred())
			Expect(n.Name()).To(Equal(notification.DriverHTTP))

			_, err = notification.NewNotifier(internal.NotificationConfig{Driver: "sms"}, quietLogger())
			Expect(err).To(HaveOccurred())
		})
	})

	It("derives the triggering status from the event type", func() {
		Expect(notification.TriggeringStatus("payment.approved")).To(Equal("approved"))
		Expect(notification.TriggeringStatus("delivery.in_transit")).To(Equal("in_transit"))
		Expect(notification.TriggeringStatus("plain")).To(Equal("plain"))
	})
})
