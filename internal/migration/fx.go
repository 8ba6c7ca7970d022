package migration

import (
	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/glcore/internal/audit/domain"
	"github.com/smallbiznis/glcore/internal/config"
	fixedassetdomain "github.com/smallbiznis/glcore/internal/fixedasset/domain"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	recondomain "github.com/smallbiznis/glcore/internal/reconciliation/domain"
	"github.com/smallbiznis/glcore/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite and mysql development setups derive the schema from
			// the models directly.
			err := conn.AutoMigrate(
				&ledgerdomain.Account{},
				&ledgerdomain.Posting{},
				&ledgerdomain.PostingLine{},
				&auditdomain.AuditLog{},
				&recondomain.Workspace{},
				&recondomain.WorkspaceItem{},
				&recondomain.Attachment{},
				&fixedassetdomain.Asset{},
				&fixedassetdomain.AssetGroup{},
				&fixedassetdomain.AssetGroupMember{},
				&fixedassetdomain.Schedule{},
				&fixedassetdomain.ScheduleLine{},
				&fixedassetdomain.ARO{},
				&fixedassetdomain.ImpairmentTest{},
			)
			if err != nil {
				return err
			}
		}

		if cfg.DefaultTenantID != 0 {
			return seed.EnsureDefaultAccounts(conn, snowflake.ID(cfg.DefaultTenantID), "USD")
		}
		return nil
	}),
)
