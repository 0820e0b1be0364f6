package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frahmantamala/zenn-checkout/internal"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "zenn-checkout",
	Short: "Zenn Checkout",
	Long:  `Card payments through Bancard vPOS and the delivery workflow that follows them.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads config.yml from path when present. Every key can be overridden from the
// environment, e.g. ENV_DATABASE_SOURCE or ENV_BANCARD_PRIVATE_KEY. Callers validate the
// sections they need.
func loadConfig(path string) (*internal.Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.SetEnvPrefix("ENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg internal.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// AutomaticEnv only resolves keys viper already knows about, so every key gets a default.
func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("http_server.port", 8080)
	v.SetDefault("http_server.base_url", "")
	v.SetDefault("http_server.allowed_origins", "*")
	v.SetDefault("http_server.read_header_timeout", "5s")
	v.SetDefault("http_server.read_timeout", "15s")
	v.SetDefault("http_server.write_timeout", "30s")
	v.SetDefault("http_server.idle_timeout", "60s")
	v.SetDefault("http_server.openapi_path", "api/openapi.yml")

	v.SetDefault("database.source", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")

	v.SetDefault("security.access_token_secret", "")
	v.SetDefault("security.refresh_token_secret", "")
	v.SetDefault("security.access_token_duration", "15m")
	v.SetDefault("security.refresh_token_duration", "168h")
	v.SetDefault("security.bcrypt_cost", 12)

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.logging.level", "")
	v.SetDefault("observability.logging.format", "")

	v.SetDefault("bancard.public_key", "")
	v.SetDefault("bancard.private_key", "")
	v.SetDefault("bancard.environment", "staging")
	v.SetDefault("bancard.base_url", "")
	v.SetDefault("bancard.confirmation_url", "")
	v.SetDefault("bancard.return_url", "")
	v.SetDefault("bancard.cancel_url", "")
	v.SetDefault("bancard.card_return_url", "")
	v.SetDefault("bancard.timeout", "30s")

	v.SetDefault("notification.driver", "log")
	v.SetDefault("notification.http_url", "")
	v.SetDefault("notification.kafka_brokers", []string{})
	v.SetDefault("notification.kafka_topic", "checkout.notifications")
	v.SetDefault("notification.kafka_group_id", "zenn-checkout-tail")
	v.SetDefault("notification.run_in_server", true)
	v.SetDefault("notification.poll_interval", "5s")
	v.SetDefault("notification.batch_size", 50)
	v.SetDefault("notification.workers", 4)
	v.SetDefault("notification.max_attempts", 5)
	v.SetDefault("notification.retry_backoff", "30s")
	v.SetDefault("notification.dispatch_timeout", "10s")
	v.SetDefault("notification.outbox_node_id", 1)
	v.SetDefault("notification.webhook_timeout", "30s")
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory holding config.yml")

	rootCmd.AddCommand(httpServerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}
