package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/fieldbill/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type providerMock struct {
	mock.Mock
}

func (m *providerMock) Send(ctx context.Context, msg Message) (Result, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(Result), args.Error(1)
}

func TestRetryingProviderRetriesUntilSuccess(t *testing.T) {
	next := new(providerMock)
	next.On("Send", mock.Anything, mock.Anything).Return(Result{}, errors.New("421 try later")).Twice()
	next.On("Send", mock.Anything, mock.Anything).Return(Result{Success: true, MessageID: "<id@host>"}, nil).Once()

	p := NewRetryingProvider(next, zap.NewNop(), 3, time.Millisecond)
	res, err := p.Send(context.Background(), Message{To: "a@b.test"})
	require.NoError(t, err)
	assert.Equal(t, "<id@host>", res.MessageID)
	next.AssertNumberOfCalls(t, "Send", 3)
}

func TestRetryingProviderGivesUpAfterMaxAttempts(t *testing.T) {
	next := new(providerMock)
	next.On("Send", mock.Anything, mock.Anything).Return(Result{}, errors.New("connection refused"))

	p := NewRetryingProvider(next, zap.NewNop(), 3, time.Millisecond)
	_, err := p.Send(context.Background(), Message{To: "a@b.test"})
	require.Error(t, err)
	next.AssertNumberOfCalls(t, "Send", 3)
}

func TestRetryingProviderTreatsUnconfirmedAsFailure(t *testing.T) {
	next := new(providerMock)
	next.On("Send", mock.Anything, mock.Anything).Return(Result{Success: false}, nil)

	p := NewRetryingProvider(next, zap.NewNop(), 2, time.Millisecond)
	_, err := p.Send(context.Background(), Message{To: "a@b.test"})
	assert.ErrorIs(t, err, ErrNotConfirmed)
	next.AssertNumberOfCalls(t, "Send", 2)
}

func TestNoOpProviderConfirms(t *testing.T) {
	res, err := (&NoOpProvider{}).Send(context.Background(), Message{To: "a@b.test"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, strings.HasSuffix(res.MessageID, "@localhost>"))
}

func TestUnconfiguredSenderRefusesDelivery(t *testing.T) {
	holder := config.NewStaticBillingConfig(config.DefaultBillingConfig())
	p := NewFromConfig(config.Config{}, holder, zap.NewNop())

	res, err := p.Send(context.Background(), Message{To: "a@b.test"})
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, res.Success)
	assert.Empty(t, res.MessageID)
}

func TestRetryingProviderStopsWhenNotConfigured(t *testing.T) {
	next := new(providerMock)
	next.On("Send", mock.Anything, mock.Anything).Return(Result{}, ErrNotConfigured)

	p := NewRetryingProvider(next, zap.NewNop(), 3, time.Millisecond)
	_, err := p.Send(context.Background(), Message{To: "a@b.test"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	next.AssertNumberOfCalls(t, "Send", 1)
}

func TestComposeBuildsMultipartMessage(t *testing.T) {
	p := NewSMTP(Config{Host: "mail.test", Port: 25, From: "billing@fieldbill.test", FromName: "Billing"})
	p.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }

	raw, err := p.compose(Message{
		To:       "office@acme.test",
		ToName:   "Acme",
		Subject:  "Invoice INV-2026-0001",
		HTMLBody: "<p>Hello</p>",
		Attachments: []Attachment{{
			Filename:    "INV-2026-0001.pdf",
			ContentType: "application/pdf",
			Content:     []byte("%PDF-1.3"),
		}},
	}, "<abc@mail.test>")
	require.NoError(t, err)

	body := string(raw)
	assert.Contains(t, body, `To: "Acme" <office@acme.test>`)
	assert.Contains(t, body, "Message-ID: <abc@mail.test>")
	assert.Contains(t, body, "Content-Type: multipart/mixed; boundary=")
	assert.Contains(t, body, `filename="inv-2026-0001.pdf"`)
	assert.Contains(t, body, "Date: Tue, 10 Mar 2026 09:00:00 +0000")
}

func TestAttachmentName(t *testing.T) {
	assert.Equal(t, "rec-2026-0002.pdf", AttachmentName("REC-2026-0002.pdf"))
	assert.Equal(t, "document.pdf", AttachmentName("   .pdf"))
}
