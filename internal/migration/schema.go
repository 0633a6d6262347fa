package migration

import (
	"fmt"

	auditdomain "github.com/smallbiznis/fieldbill/internal/audit/domain"
	customerdomain "github.com/smallbiznis/fieldbill/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/fieldbill/internal/invoice/domain"
	jobdomain "github.com/smallbiznis/fieldbill/internal/job/domain"
	receiptdomain "github.com/smallbiznis/fieldbill/internal/receipt/domain"
	"github.com/smallbiznis/fieldbill/internal/sequence"
	"gorm.io/gorm"
)

// Models lists every table the engine owns, parents first.
func Models() []any {
	return []any{
		&customerdomain.Customer{},
		&jobdomain.Job{},
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&receiptdomain.Receipt{},
		&receiptdomain.Allocation{},
		&sequence.DocumentSequence{},
		&auditdomain.AuditLog{},
	}
}

// Unique constraints over live rows only, so soft-deleted rows neither block
// reuse of an email nor keep a job or invoice claimed.
const (
	IndexActiveLineItemJob   = "ux_invoice_line_items_active_job"
	IndexActiveCustomerEmail = "ux_customers_active_email"
	IndexActiveAllocation    = "ux_receipt_invoices_active"
)

type liveUnique struct {
	index  string
	table  string
	column string
	// MySQL has no partial indexes; it gets a stored generated column that is
	// NULL once the row is soft-deleted, and a unique index over that.
	liveColumn string
	liveType   string
}

var liveUniques = []liveUnique{
	{IndexActiveLineItemJob, "invoice_line_items", "job_id", "live_job_id", "BIGINT"},
	{IndexActiveCustomerEmail, "customers", "email", "live_email", "VARCHAR(320)"},
	{IndexActiveAllocation, "receipt_invoices", "invoice_id", "live_invoice_id", "BIGINT"},
}

// AutoMigrate builds the schema from the gorm models. It backs SQLite and
// MySQL deployments and the test suites; PostgreSQL uses the versioned migrations.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	for _, u := range liveUniques {
		if err := createLiveUnique(db, u); err != nil {
			return fmt.Errorf("create %s: %w", u.index, err)
		}
	}
	return nil
}

func createLiveUnique(db *gorm.DB, u liveUnique) error {
	if db.Dialector.Name() != "mysql" {
		return db.Exec(fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s) WHERE deleted_at IS NULL",
			u.index, u.table, u.column,
		)).Error
	}

	m := db.Migrator()
	if !m.HasColumn(u.table, u.liveColumn) {
		err := db.Exec(fmt.Sprintf(
			"ALTER TABLE %s ADD COLUMN %s %s AS (IF(deleted_at IS NULL, %s, NULL)) STORED",
			u.table, u.liveColumn, u.liveType, u.column,
		)).Error
		if err != nil {
			return err
		}
	}
	if m.HasIndex(u.table, u.index) {
		return nil
	}
	return db.Exec(fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", u.index, u.table, u.liveColumn)).Error
}
