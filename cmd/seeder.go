package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/frahmantamala/zenn-checkout/internal/auth"
	"github.com/frahmantamala/zenn-checkout/internal/user"
	userPostgres "github.com/frahmantamala/zenn-checkout/internal/user/postgres"
	"github.com/frahmantamala/zenn-checkout/pkg/logger"
)

var seedPassword string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with operators and a sample customer",
	Long:  `Seed the database with an administrator, a delivery operator and a customer for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		if err := cfg.Database.Validate(); err != nil {
			log.Fatalf("database config: %v", err)
		}

		db, gdb, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		lg := logger.LoggerWrapper()
		hasher := auth.NewService(nil, nil, cfg.Security.BCryptCost, lg)
		users := user.NewService(userPostgres.NewRepository(gdb))

		seeds := []user.CreateUserDTO{
			{
				Email:       "padil@mail.com",
				Name:        "Padil Admin",
				Password:    seedPassword,
				Permissions: []string{auth.PermAdmin},
			},
			{
				Email:    "ops@mail.com",
				Name:     "Delivery Operator",
				Password: seedPassword,
				Permissions: []string{
					auth.PermViewTransactions,
					auth.PermManageDeliveries,
				},
			},
			{
				Email:    "fadhil@mail.com",
				Name:     "Fadhil",
				Phone:    "+595981000000",
				Password: seedPassword,
			},
		}

		ctx := context.Background()
		for _, dto := range seeds {
			u, err := users.Create(ctx, dto, hasher)
			if err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					fmt.Println("user already exists:", dto.Email)
					continue
				}
				log.Fatalf("failed to seed user %s: %v", dto.Email, err)
			}
			fmt.Printf("Seeded user %s (id %d) with permissions %v\n", u.Email, u.ID, u.Permissions)
		}
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedPassword, "password", "password", "password given to every seeded user")
}
