package money

import "context"

// PaymentNotification carries what the mail/notification system needs about a
// settled charge. OutstandingCents is only meaningful for instalments.
type PaymentNotification struct {
	UserID           UserID
	ChargeID         ChargeID
	AmountCents      AmountCents
	Currency         CurrencyCode
	Description      string
	OutstandingCents AmountCents
}

// Notifier enqueues fire-and-forget payment notifications. Enqueue happens
// after the financial transaction commits; a failing notifier never rolls
// back charge or reservation state.
type Notifier interface {
	PaymentPaid(ctx context.Context, notification PaymentNotification) error
	PaymentInstalment(ctx context.Context, notification PaymentNotification) error
	SitePaid(ctx context.Context, notification PaymentNotification) error
}

type nopNotifier struct{}

func (nopNotifier) PaymentPaid(context.Context, PaymentNotification) error       { return nil }
func (nopNotifier) PaymentInstalment(context.Context, PaymentNotification) error { return nil }
func (nopNotifier) SitePaid(context.Context, PaymentNotification) error          { return nil }
