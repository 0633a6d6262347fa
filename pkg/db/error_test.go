package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestDuplicateKey(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		ok      bool
		index   string
		columns []string
	}{
		{
			name:  "postgres",
			err:   fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_invoices_number"}),
			ok:    true,
			index: "ux_invoices_number",
		},
		{
			name: "postgres other code",
			err:  &pgconn.PgError{Code: "40001"},
		},
		{
			name:  "mysql",
			err:   &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7' for key 'receipt_invoices.ux_receipt_invoices_active'"},
			ok:    true,
			index: "ux_receipt_invoices_active",
		},
		{
			name:    "sqlite",
			err:     errors.New("constraint failed: UNIQUE constraint failed: receipt_invoices.invoice_id (2067)"),
			ok:      true,
			columns: []string{"receipt_invoices.invoice_id"},
		},
		{
			name:    "sqlite composite",
			err:     errors.New("UNIQUE constraint failed: document_sequences.kind, document_sequences.year"),
			ok:      true,
			columns: []string{"document_sequences.kind", "document_sequences.year"},
		},
		{
			name:  "postgres text",
			err:   errors.New(`ERROR: duplicate key value violates unique constraint "ux_customers_active_email" (SQLSTATE 23505)`),
			ok:    true,
			index: "ux_customers_active_email",
		},
		{
			name: "translated",
			err:  gorm.ErrDuplicatedKey,
			ok:   true,
		},
		{
			name: "other",
			err:  errors.New("connection reset"),
		},
		{
			name: "nil",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := DuplicateKey(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ok, IsDuplicateKeyErr(tt.err))
			assert.Equal(t, tt.index, v.Index)
			assert.Equal(t, tt.columns, v.Columns)
		})
	}
}

func TestViolationMatches(t *testing.T) {
	named := Violation{Index: "ux_receipts_number"}
	assert.True(t, named.Matches("ux_receipts_number", "receipts.receipt_number"))
	assert.False(t, named.Matches("ux_receipt_invoices_active"))

	cols := Violation{Columns: []string{"receipts.receipt_number"}}
	assert.True(t, cols.Matches("ux_receipts_number", "receipts.receipt_number"))
	assert.False(t, cols.Matches("ux_receipts_number"))
}
