package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSample = Validation("job_not_eligible", "job is not eligible for invoicing")

func TestDetailedCopyMatchesSentinel(t *testing.T) {
	err := errSample.WithEntities("42", "43").WithReason("job %s already invoiced", "42")

	assert.True(t, errors.Is(err, errSample))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, []string{"42", "43"}, err.EntityIDs)
	assert.Empty(t, errSample.EntityIDs)
	assert.Contains(t, err.Error(), "job 42 already invoiced")
}

func TestWrappedErrorsKeepKind(t *testing.T) {
	wrapped := fmt.Errorf("create invoice: %w", errSample.WithField("job_ids"))

	assert.Equal(t, KindValidation, KindOf(wrapped))
	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "job_ids", appErr.Field)
}

func TestEnsureWrapsForeignErrors(t *testing.T) {
	raw := errors.New("connection reset")

	err := Ensure(raw)
	assert.Equal(t, KindUnexpected, KindOf(err))
	assert.True(t, errors.Is(err, raw))
	assert.Nil(t, Ensure(nil))

	same := Ensure(errSample)
	assert.Same(t, errSample, same)
}

func TestDifferentCodesDoNotMatch(t *testing.T) {
	other := Validation("payment_before_sent", "payment date before sent date")
	assert.False(t, errors.Is(other, errSample))
}
