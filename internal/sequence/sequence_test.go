package sequence

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/fieldbill/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestFormatNumber(t *testing.T) {
	got, err := Format(KindInvoice, 2026, 1)
	require.NoError(t, err)
	assert.Equal(t, "INV-2026-0001", got)

	got, err = Format(KindReceipt, 2026, 12345)
	require.NoError(t, err)
	assert.Equal(t, "REC-2026-12345", got)

	_, err = Format(KindInvoice, 2026, 0)
	assert.Error(t, err)

	_, err = FormatNumber("{PREFIX}-{UNKNOWN}-{SEQ4}", "INV", 2026, 1)
	assert.Error(t, err)
}

func TestParseSequence(t *testing.T) {
	tests := []struct {
		number string
		seq    int64
		ok     bool
	}{
		{"INV-2026-0007", 7, true},
		{"INV-2026-12000", 12000, true},
		{"INV-2025-0007", 0, false},
		{"REC-2026-0007", 0, false},
		{"INV-2026-", 0, false},
		{"INV-2026-00a1", 0, false},
	}
	for _, tt := range tests {
		seq, ok := ParseSequence(KindInvoice, 2026, tt.number)
		assert.Equal(t, tt.ok, ok, tt.number)
		assert.Equal(t, tt.seq, seq, tt.number)
	}
}

type numberedRow struct {
	ID            int64  `gorm:"primaryKey"`
	InvoiceNumber string `gorm:"uniqueIndex"`
	DeletedAt     gorm.DeletedAt
}

func (numberedRow) TableName() string { return "invoices" }

func setup(t *testing.T) *gorm.DB {
	return dbtest.Open(t, func(db *gorm.DB) error {
		return db.AutoMigrate(&DocumentSequence{}, &numberedRow{})
	})
}

func next(t *testing.T, db *gorm.DB, kind Kind, at time.Time) string {
	t.Helper()
	var number string
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		number, err = NewAllocator().Next(context.Background(), tx, kind, at)
		return err
	})
	require.NoError(t, err)
	return number
}

func TestAllocatorIssuesConsecutiveNumbersPerYear(t *testing.T) {
	db := setup(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "INV-2026-0001", next(t, db, KindInvoice, at))
	assert.Equal(t, "INV-2026-0002", next(t, db, KindInvoice, at))

	// A new year starts over at one.
	assert.Equal(t, "INV-2027-0001", next(t, db, KindInvoice, at.AddDate(1, 0, 0)))
	assert.Equal(t, "INV-2026-0003", next(t, db, KindInvoice, at))
}

func TestAllocatorStampsCounterWithIssueTime(t *testing.T) {
	db := setup(t)
	at := time.Date(2026, 12, 31, 23, 30, 0, 0, time.FixedZone("CET", 3600))

	assert.Equal(t, "INV-2026-0001", next(t, db, KindInvoice, at))

	var counter DocumentSequence
	require.NoError(t, db.Where("kind = ? AND year = ?", KindInvoice.Name, 2026).First(&counter).Error)
	assert.Equal(t, int64(1), counter.LastValue)
	assert.True(t, counter.UpdatedAt.Equal(at))
}

func TestAllocatorSkipsNumbersHeldBySoftDeletedRows(t *testing.T) {
	db := setup(t)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	row := numberedRow{ID: 1, InvoiceNumber: "INV-2026-0005"}
	require.NoError(t, db.Create(&row).Error)
	require.NoError(t, db.Delete(&row).Error)

	assert.Equal(t, "INV-2026-0006", next(t, db, KindInvoice, at))
}

func TestAllocatorRollbackReleasesNumber(t *testing.T) {
	db := setup(t)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	err := db.Transaction(func(tx *gorm.DB) error {
		number, err := NewAllocator().Next(context.Background(), tx, KindInvoice, at)
		require.NoError(t, err)
		assert.Equal(t, "INV-2026-0001", number)
		return gorm.ErrInvalidTransaction
	})
	require.Error(t, err)

	assert.Equal(t, "INV-2026-0001", next(t, db, KindInvoice, at))
}
