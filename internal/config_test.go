package internal_test

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/zenn-checkout/internal"
)

func validConfig() internal.Config {
	return internal.Config{
		Env: "development",
		Server: internal.ServerConfig{
			Port:              8080,
			AllowedOrigins:    "*",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
		},
		Database: internal.DatabaseConfig{
			Source:       "postgres://localhost/checkout",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Security: internal.SecurityConfig{
			AccessTokenSecret:   strings.Repeat("a", 32),
			RefreshTokenSecret:  strings.Repeat("b", 32),
			AccessTokenDuration: 15 * time.Minute,
			BCryptCost:          12,
		},
		Bancard: internal.BancardConfig{
			PublicKey:       strings.Repeat("p", 32),
			PrivateKey:      strings.Repeat("s", 40),
			Environment:     "staging",
			ConfirmationURL: "https://shop.example.com/api/v1/bancard/confirmation",
		},
		Notification: internal.NotificationConfig{Driver: "log"},
	}
}

var _ = Describe("Config", func() {
	var cfg internal.Config

	BeforeEach(func() {
		cfg = validConfig()
	})

	It("accepts a complete configuration", func() {
		Expect(cfg.Validate()).To(Succeed())
	})

	Context("bancard credentials", func() {
		It("rejects a public key that is not 32 characters", func() {
			cfg.Bancard.PublicKey = "short"
			err := cfg.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("public_key must be 32 characters"))
		})

		It("rejects a private key that is not 40 characters", func() {
			cfg.Bancard.PrivateKey = strings.Repeat("s", 39)
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("private_key must be 40 characters")))
		})

		It("requires a confirmation url", func() {
			cfg.Bancard.ConfirmationURL = ""
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("confirmation_url is required")))
		})

		It("rejects unknown environments", func() {
			cfg.Bancard.Environment = "sandbox"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("unknown environment")))
		})
	})

	Context("notification driver", func() {
		It("requires a url for the http driver", func() {
			cfg.Notification.Driver = "http"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("http_url is required")))
		})

		It("requires brokers and topic for the kafka driver", func() {
			cfg.Notification.Driver = "kafka"
			cfg.Notification.KafkaBrokers = []string{"localhost:9092"}
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("kafka_topic")))

			cfg.Notification.KafkaTopic = "checkout.notifications"
			Expect(cfg.Validate()).To(Succeed())
		})

		It("bounds the outbox node id", func() {
			cfg.Notification.OutboxNodeID = 1024
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("outbox_node_id")))
		})
	})

	It("aggregates errors from several sections", func() {
		cfg.Server.Port = 0
		cfg.Database.Source = ""
		err := cfg.Validate()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("server config"))
		Expect(err.Error()).To(ContainSubstring("database config"))
	})

	It("rejects short token secrets", func() {
		cfg.Security.AccessTokenSecret = "secret"
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("access_token_secret")))
	})
})

var _ = Describe("AppError", func() {
	It("maps gateway errors onto distinct statuses", func() {
		Expect(internal.NewGatewayRejectionError("declined", nil).StatusCode).To(Equal(http.StatusPaymentRequired))
		Expect(internal.NewGatewayFailureError("error answer", nil).StatusCode).To(Equal(http.StatusBadGateway))
		Expect(internal.NewGatewayTransientError("timeout", context.DeadlineExceeded).StatusCode).To(Equal(http.StatusGatewayTimeout))
		Expect(internal.NewAlreadySettledError("settled").Code).To(Equal(internal.ErrCodeManualReversal))
	})

	It("finds wrapped app errors", func() {
		wrapped := internal.NewGatewayTransientError("timeout", context.DeadlineExceeded)
		err := fmt.Errorf("charge: %w", wrapped)

		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Type).To(Equal(internal.ErrorTypeGatewayTransient))
		Expect(internal.IsErrorType(err, internal.ErrorTypeGatewayTransient)).To(BeTrue())
	})

	It("recognises duplicate confirmations", func() {
		Expect(internal.IsDuplicateConfirmation(internal.ErrDuplicateConfirmation)).To(BeTrue())
		Expect(internal.IsDuplicateConfirmation(internal.ErrTransactionNotFound)).To(BeFalse())
	})
})

var _ = Describe("Detached", func() {
	It("survives cancellation of the parent", func() {
		parent, cancel := context.WithCancel(context.Background())
		ctx, done := internal.Detached(parent, time.Second)
		defer done()

		cancel()
		Expect(ctx.Err()).NotTo(HaveOccurred())
		_, hasDeadline := ctx.Deadline()
		Expect(hasDeadline).To(BeTrue())
	})
})
