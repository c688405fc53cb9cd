// Package notify delivers completion emails.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Sender is one email transport.
type Sender interface {
	Name() string
	Send(ctx context.Context, to, subject, body string) error
}

// Chain tries each sender in order and stops at the first success.
type Chain struct {
	Senders []Sender
	Log     *slog.Logger
}

func NewChain(log *slog.Logger, senders ...Sender) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{Senders: senders, Log: log}
}

func (c *Chain) Send(ctx context.Context, to, subject, body string) error {
	var errs []error
	for _, s := range c.Senders {
		err := s.Send(ctx, to, subject, body)
		if err == nil {
			c.Log.Info("email sent", "provider", s.Name(), "to", to)
			return nil
		}
		c.Log.Warn("email send failed", "provider", s.Name(), "to", to, "err", err)
		errs = append(errs, err)
	}
	c.Log.Info("email_not_configured", "to", to, "subject", subject)
	return errors.Join(errs...)
}
