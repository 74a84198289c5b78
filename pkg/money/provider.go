package money

import "context"

// CheckoutSessionStatus mirrors the provider's hosted session lifecycle.
type CheckoutSessionStatus string

const (
	CheckoutSessionOpen     CheckoutSessionStatus = "open"
	CheckoutSessionComplete CheckoutSessionStatus = "complete"
	CheckoutSessionExpired  CheckoutSessionStatus = "expired"
)

// ProviderCharge is the provider's verdict on a direct charge submission.
type ProviderCharge struct {
	ID          string
	Paid        bool
	AmountCents AmountCents
	Description string
	Raw         string
}

// ProviderChargeRequest describes a direct charge submission.
type ProviderChargeRequest struct {
	CustomerID  string
	SourceID    string
	AmountCents AmountCents
	Currency    CurrencyCode
	Description string
}

// CheckoutSessionRequest describes a hosted checkout session to create.
type CheckoutSessionRequest struct {
	CustomerID  string
	AmountCents AmountCents
	Currency    CurrencyCode
	ItemName    string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the provider's hosted session object. Raw carries the
// provider payload verbatim for audit storage.
type CheckoutSession struct {
	ID     string
	URL    string
	Status CheckoutSessionStatus
	Raw    string
}

// PaymentProvider is the outbound payment gateway contract. All calls block
// on the network; failures surface as *ProviderError so callers can capture
// the raw response onto the Charge.
type PaymentProvider interface {
	CreateCustomer(ctx context.Context, email string) (customerID string, err error)
	AttachCardSource(ctx context.Context, customerID string, token PaymentToken) (sourceID string, err error)
	CreateCharge(ctx context.Context, request ProviderChargeRequest) (ProviderCharge, error)
	CreateCheckoutSession(ctx context.Context, request CheckoutSessionRequest) (CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)
}
