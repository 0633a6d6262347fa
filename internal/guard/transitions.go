// Package guard holds the cross-entity predicates evaluated before any job,
// invoice or receipt mutation commits. Every function is pure: it looks only
// at the state it is given and returns nil or a typed engine error.
package guard

import (
	invoicedomain "github.com/smallbiznis/fieldbill/internal/invoice/domain"
	jobdomain "github.com/smallbiznis/fieldbill/internal/job/domain"
)

// JobTransitions is the single table of permitted job status edges.
var JobTransitions = map[jobdomain.Status][]jobdomain.Status{
	jobdomain.StatusNew:       {jobdomain.StatusActive, jobdomain.StatusCancelled},
	jobdomain.StatusActive:    {jobdomain.StatusCompleted, jobdomain.StatusCancelled},
	jobdomain.StatusCompleted: {jobdomain.StatusActive, jobdomain.StatusCancelled},
	jobdomain.StatusCancelled: {jobdomain.StatusNew},
}

// InvoiceTransitions is the single table of permitted invoice status edges
// between stored statuses.
var InvoiceTransitions = map[invoicedomain.Status][]invoicedomain.Status{
	invoicedomain.StatusDraft:     {invoicedomain.StatusSent, invoicedomain.StatusCancelled},
	invoicedomain.StatusSent:      {invoicedomain.StatusDelivered, invoicedomain.StatusPaid, invoicedomain.StatusCancelled},
	invoicedomain.StatusDelivered: {invoicedomain.StatusPaid, invoicedomain.StatusCancelled},
	invoicedomain.StatusPaid:      {},
	invoicedomain.StatusCancelled: {},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobTransition validates a job status change. Staying in the same status is
// not a transition and always passes.
func JobTransition(from, to jobdomain.Status) error {
	if !to.Valid() {
		return jobdomain.ErrInvalidStatus.WithReason("unknown job status %q", to)
	}
	if from == to || allowed(JobTransitions, from, to) {
		return nil
	}
	return jobdomain.ErrInvalidTransition.WithReason("job cannot move from %s to %s", from, to)
}

// InvoiceTransition validates an invoice status change between stored
// statuses.
func InvoiceTransition(from, to invoicedomain.Status) error {
	if allowed(InvoiceTransitions, from, to) {
		return nil
	}
	return invoicedomain.ErrInvalidTransition.WithReason("invoice cannot move from %s to %s", from, to)
}
