// Package sequence issues year-scoped document numbers for invoices and
// receipts.
package sequence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("sequence",
	fx.Provide(NewAllocator),
)

// Kind describes one numbered document type and where its numbers live.
type Kind struct {
	Name   string
	Prefix string
	Table  string
	Column string
}

var (
	KindInvoice = Kind{Name: "invoice", Prefix: "INV", Table: "invoices", Column: "invoice_number"}
	KindReceipt = Kind{Name: "receipt", Prefix: "REC", Table: "receipts", Column: "receipt_number"}
)

// DocumentSequence is the per-(kind, year) counter row.
type DocumentSequence struct {
	Kind      string    `gorm:"primaryKey;type:varchar(32)"`
	Year      int       `gorm:"primaryKey;autoIncrement:false"`
	LastValue int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (DocumentSequence) TableName() string { return "document_sequences" }

// Allocator hands out the next number for a document kind.
type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// Next reserves the next number for kind in the year of at, which is also
// stamped on the counter row. It must run inside the transaction that persists
// the document: the counter row stays locked until that transaction ends, and
// a rollback releases the number again.
//
// Existing numbers are scanned including soft-deleted rows so a number is
// never reissued, even if the counter row was lost or seeded late.
func (a *Allocator) Next(ctx context.Context, tx *gorm.DB, kind Kind, at time.Time) (string, error) {
	at = at.UTC()
	year := at.Year()

	seed := DocumentSequence{Kind: kind.Name, Year: year, UpdatedAt: at}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return "", fmt.Errorf("seed %s sequence: %w", kind.Name, err)
	}

	var counter DocumentSequence
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("kind = ? AND year = ?", kind.Name, year).
		First(&counter).Error; err != nil {
		return "", fmt.Errorf("lock %s sequence: %w", kind.Name, err)
	}

	highest, err := a.highestIssued(ctx, tx, kind, year)
	if err != nil {
		return "", err
	}

	next := counter.LastValue
	if highest > next {
		next = highest
	}
	next++

	if err := tx.WithContext(ctx).
		Model(&DocumentSequence{}).
		Where("kind = ? AND year = ?", kind.Name, year).
		Updates(map[string]any{"last_value": next, "updated_at": at}).Error; err != nil {
		return "", fmt.Errorf("advance %s sequence: %w", kind.Name, err)
	}

	return Format(kind, year, next)
}

func (a *Allocator) highestIssued(ctx context.Context, tx *gorm.DB, kind Kind, year int) (int64, error) {
	prefix := YearPrefix(kind, year)

	// Table() without a model bypasses the soft-delete scope on purpose.
	var numbers []string
	err := tx.WithContext(ctx).
		Table(kind.Table).
		Where(kind.Column+" LIKE ?", prefix+"%").
		Order(fmt.Sprintf("LENGTH(%s) DESC, %s DESC", kind.Column, kind.Column)).
		Limit(1).
		Pluck(kind.Column, &numbers).Error
	if err != nil {
		return 0, fmt.Errorf("scan %s numbers: %w", kind.Name, err)
	}

	var highest int64
	for _, number := range numbers {
		if seq, ok := ParseSequence(kind, year, number); ok && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}
