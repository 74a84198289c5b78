package money

import "context"

// Store is the persistence contract used by Service. Implementations must
// give WithTx real transaction semantics: every write issued through the
// closure's Store commits or rolls back as a whole, and reads of buyable rows
// inside the closure observe committed concurrent writers.
// (gormstore implements this already.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetUser(ctx context.Context, userID UserID) (User, error)
	SetUserCustomerID(ctx context.Context, userID UserID, customerID string) error

	GetReservation(ctx context.Context, reservationID string) (Reservation, error)
	UpdateReservationState(ctx context.Context, reservationID string, state ReservationState) error

	GetCart(ctx context.Context, cartID string) (Cart, error)
	// MarkCartPaid closes the cart and transitions its item reservations to
	// paid in the same statement scope.
	MarkCartPaid(ctx context.Context, cartID string, paidAtUnixUTC int64) error

	CreateCharge(ctx context.Context, charge Charge) (Charge, error)
	// SettleCharge writes the terminal state of a pending charge. It fails
	// with ErrChargeSettled when the charge is no longer pending, which is
	// what serializes webhook retries against the reconciliation sweep.
	SettleCharge(ctx context.Context, charge Charge) error
	GetChargeByProviderRef(ctx context.Context, providerRef string) (Charge, error)
	// SumSuccessfulCharges totals settled non-site charges for a buyable.
	SumSuccessfulCharges(ctx context.Context, buyable BuyableRef) (AmountCents, error)
	ListPendingCheckoutCharges(ctx context.Context, createdBeforeUnixUTC int64) ([]Charge, error)

	// ClaimSiteSelectionToken attaches the pre-generated token whose voter id
	// matches the reservation's membership number, failing with
	// ErrNoSiteSelectionToken when no unclaimed token exists for that voter.
	ClaimSiteSelectionToken(ctx context.Context, voterID string, reservationID string) (SiteSelectionToken, error)

	// MarkWebhookEventProcessed records a provider event id, failing with
	// ErrWebhookEventProcessed on redelivery.
	MarkWebhookEventProcessed(ctx context.Context, eventID string) error
}
