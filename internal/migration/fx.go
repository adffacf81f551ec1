package migration

import (
	"strings"

	entitlementdomain "github.com/stylora/stylora/internal/entitlement/domain"
	ledgerdomain "github.com/stylora/stylora/internal/ledger/domain"
	subscriptiondomain "github.com/stylora/stylora/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		// Versioned SQL runs on postgres; the other dialects exist for
		// local development and take the schema from the models.
		if !strings.EqualFold(conn.Dialector.Name(), "postgres") {
			return conn.AutoMigrate(
				&subscriptiondomain.Subscription{},
				&ledgerdomain.UsageEvent{},
				&entitlementdomain.AddOn{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
