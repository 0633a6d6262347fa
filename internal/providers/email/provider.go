// Package email delivers billing documents to customers.
package email

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Attachment is a file carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Message struct {
	To          string
	ToName      string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Result reports a confirmed hand-off to the mail relay.
type Result struct {
	Success   bool
	MessageID string
}

type Provider interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// ErrNotConfigured is returned by the sender used when no SMTP relay is set.
var ErrNotConfigured = errors.New("email: no smtp relay configured")

// UnconfiguredProvider refuses every message so that nothing is recorded as
// sent without a relay.
type UnconfiguredProvider struct{}

func (p *UnconfiguredProvider) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{}, ErrNotConfigured
}

// NoOpProvider accepts every message without delivering it. Test double only.
type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Success: true, MessageID: newMessageID("localhost")}, nil
}

func newMessageID(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "localhost"
	}
	return "<" + strings.ToLower(ulid.Make().String()) + "@" + host + ">"
}
