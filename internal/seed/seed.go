package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	"gorm.io/gorm"
)

const (
	defaultBook   = "main"
	defaultEntity = "main"
)

// EnsureDefaultAccounts seeds a minimal chart of accounts so a fresh
// install can post depreciation and run reconciliations out of the box.
// Existing rows are left untouched.
func EnsureDefaultAccounts(db *gorm.DB, tenantID snowflake.ID, currency string) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if tenantID == 0 {
		return errors.New("seed tenant id is required")
	}
	if currency == "" {
		currency = "USD"
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	type account struct {
		Code string
		Name string
		Side ledgerdomain.NormalSide
	}

	accounts := []account{
		{"bank_control", "Bank Control", ledgerdomain.NormalSideDebit},
		{"accounts_receivable", "Accounts Receivable", ledgerdomain.NormalSideDebit},
		{"accounts_payable", "Accounts Payable", ledgerdomain.NormalSideCredit},
		{"intercompany_clearing", "Intercompany Clearing", ledgerdomain.NormalSideDebit},
		{"revenue", "Revenue", ledgerdomain.NormalSideCredit},

		{"depr_expense", "Depreciation Expense", ledgerdomain.NormalSideDebit},
		{"accum_depr", "Accumulated Depreciation", ledgerdomain.NormalSideCredit},
		{"impairment_expense", "Impairment Loss", ledgerdomain.NormalSideDebit},
		{"aro_liability", "Asset Retirement Obligation", ledgerdomain.NormalSideCredit},
		{"accretion_expense", "ARO Accretion Expense", ledgerdomain.NormalSideDebit},
	}

	ctx := context.Background()
	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, a := range accounts {
			err := tx.WithContext(ctx).Exec(`
				INSERT INTO accounts (id, tenant_id, book, entity, currency, code, name, normal_side, active, seq, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (tenant_id, book, entity, currency, code) DO NOTHING
			`,
				node.Generate(), tenantID, defaultBook, defaultEntity, currency,
				a.Code, a.Name, a.Side, true, 0, now,
			).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
