package guard

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/fieldbill/internal/clock"
	invoicedomain "github.com/smallbiznis/fieldbill/internal/invoice/domain"
	jobdomain "github.com/smallbiznis/fieldbill/internal/job/domain"
	receiptdomain "github.com/smallbiznis/fieldbill/internal/receipt/domain"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
)

// JobEligibleForInvoicing requires a completed, unlinked job of customerID.
func JobEligibleForInvoicing(job jobdomain.Job, customerID snowflake.ID) error {
	switch {
	case job.CustomerID != customerID:
		return jobdomain.ErrNotEligible.WithEntities(job.ID.String()).
			WithReason("job belongs to another customer")
	case job.IsInvoiced():
		return jobdomain.ErrNotEligible.WithEntities(job.ID.String()).
			WithReason("job is already invoiced")
	case job.Status != jobdomain.StatusCompleted:
		return jobdomain.ErrNotEligible.WithEntities(job.ID.String()).
			WithReason("job is %s, not COMPLETED", job.Status)
	}
	return nil
}

// JobsEligibleForInvoicing checks a whole requested batch and names every
// offending job, including ids that were not found, in a single error.
func JobsEligibleForInvoicing(requested []snowflake.ID, loaded []jobdomain.Job, customerID snowflake.ID) error {
	return checkBatch(requested, loaded, func(job jobdomain.Job) error {
		return JobEligibleForInvoicing(job, customerID)
	})
}

// JobsLinkable is JobsEligibleForInvoicing without the customer check.
func JobsLinkable(requested []snowflake.ID, loaded []jobdomain.Job) error {
	return checkBatch(requested, loaded, func(job jobdomain.Job) error {
		return JobEligibleForInvoicing(job, job.CustomerID)
	})
}

func checkBatch(requested []snowflake.ID, loaded []jobdomain.Job, check func(jobdomain.Job) error) error {
	byID := make(map[snowflake.ID]jobdomain.Job, len(loaded))
	for _, job := range loaded {
		byID[job.ID] = job
	}

	var offending, reasons []string
	for _, id := range requested {
		job, ok := byID[id]
		if !ok {
			offending = append(offending, id.String())
			reasons = append(reasons, id.String()+": not found")
			continue
		}
		if err := check(job); err != nil {
			offending = append(offending, id.String())
			reasons = append(reasons, id.String()+": "+reasonOf(err))
		}
	}
	if len(offending) == 0 {
		return nil
	}
	return jobdomain.ErrNotEligible.
		WithEntities(offending...).
		WithReason("%s", strings.Join(reasons, "; "))
}

func reasonOf(err error) string {
	if appErr, ok := apperr.As(err); ok && appErr.Reason != "" {
		return appErr.Reason
	}
	return err.Error()
}

// InvoiceMutable allows job set, VAT, terms and notes edits only in DRAFT.
func InvoiceMutable(inv invoicedomain.Invoice) error {
	if inv.Status != invoicedomain.StatusDraft {
		return invoicedomain.ErrInvoiceNotDraft.WithEntities(inv.ID.String()).
			WithReason("invoice is %s; only drafts can be edited", inv.Status)
	}
	return nil
}

func InvoiceDeletable(inv invoicedomain.Invoice) error {
	if inv.Status != invoicedomain.StatusDraft {
		return invoicedomain.ErrInvoiceNotDraft.WithEntities(inv.ID.String()).
			WithReason("invoice is %s; only drafts can be deleted", inv.Status)
	}
	return nil
}

func InvoiceSendable(inv invoicedomain.Invoice) error {
	if inv.Status != invoicedomain.StatusDraft {
		return invoicedomain.ErrInvoiceNotDraft.WithEntities(inv.ID.String()).
			WithReason("invoice is %s; only drafts can be sent", inv.Status)
	}
	return nil
}

// InvoiceDeliverable allows confirming delivery of a sent invoice.
func InvoiceDeliverable(inv invoicedomain.Invoice) error {
	if inv.Status != invoicedomain.StatusSent {
		return invoicedomain.ErrInvoiceNotSent.WithEntities(inv.ID.String()).
			WithReason("invoice is %s", inv.Status)
	}
	return nil
}

// InvoicePayable requires an invoice awaiting payment (SENT, OVERDUE or
// DELIVERED) and a payment date on or after the sent date. Dates are compared
// as UTC calendar days.
func InvoicePayable(inv invoicedomain.Invoice, paymentDate, now time.Time) error {
	switch inv.EffectiveStatus(now) {
	case invoicedomain.StatusSent, invoicedomain.StatusOverdue, invoicedomain.StatusDelivered:
	default:
		return invoicedomain.ErrInvoiceNotPayable.WithEntities(inv.ID.String()).
			WithReason("invoice is %s", inv.Status)
	}
	if inv.SentDate != nil && clock.Today(paymentDate).Before(clock.Today(*inv.SentDate)) {
		return invoicedomain.ErrPaymentBeforeSent.WithEntities(inv.ID.String())
	}
	return nil
}

func InvoiceCancellable(inv invoicedomain.Invoice) error {
	if inv.Status == invoicedomain.StatusPaid {
		return invoicedomain.ErrInvoiceIsPaid.WithEntities(inv.ID.String())
	}
	return nil
}

// InvoiceEditableIfInvoicedJob rejects changes to billable fields of a job
// that is linked to an invoice. changed names the billable fields that differ.
func InvoiceEditableIfInvoicedJob(job jobdomain.Job, changed []string) error {
	if !job.IsInvoiced() || len(changed) == 0 {
		return nil
	}
	return jobdomain.ErrLockedByInvoice.WithEntities(job.ID.String()).
		WithReason("cannot change %s of an invoiced job", strings.Join(changed, ", "))
}

// ReceiptEligibleInvoice requires a PAID invoice of customerID whose total is
// not already covered by live allocations.
func ReceiptEligibleInvoice(inv invoicedomain.Invoice, customerID snowflake.ID, allocated decimal.Decimal) error {
	if inv.CustomerID != customerID {
		return receiptdomain.ErrInvoiceNotPaid.WithEntities(inv.ID.String()).
			WithReason("invoice belongs to another customer")
	}
	if inv.Status != invoicedomain.StatusPaid {
		return receiptdomain.ErrInvoiceNotPaid.WithEntities(inv.ID.String()).
			WithReason("invoice is %s, not PAID", inv.Status)
	}
	if allocated.Add(inv.Total).GreaterThan(inv.Total) {
		return receiptdomain.ErrOverAllocated.WithEntities(inv.ID.String()).
			WithReason("%s of %s already allocated", allocated.StringFixed(2), inv.Total.StringFixed(2))
	}
	return nil
}
