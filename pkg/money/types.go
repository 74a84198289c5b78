package money

import (
	"fmt"
	"strings"
)

// AmountCents is an integer currency amount in minor units. Balances computed
// by subtraction may go negative (overpayment on record); charge amounts are
// validated through NewPositiveAmountCents.
type AmountCents int64

// Int64 returns the raw amount.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewPositiveAmountCents validates an amount and ensures it is strictly positive.
func NewPositiveAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// CurrencyCode is an ISO 4217 currency code, normalized to lower case for the
// provider API and upper-cased for display.
type CurrencyCode struct {
	value string
}

// NewCurrencyCode validates and normalizes a currency code.
func NewCurrencyCode(raw string) (CurrencyCode, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if len(normalized) != 3 {
		return CurrencyCode{}, fmt.Errorf("%w: must be a three letter code", ErrInvalidCurrencyCode)
	}
	return CurrencyCode{value: normalized}, nil
}

// String returns the normalized lower-case code.
func (code CurrencyCode) String() string {
	return code.value
}

// Display returns the upper-case code used in charge descriptions.
func (code CurrencyCode) Display() string {
	return strings.ToUpper(code.value)
}

// UserID identifies the paying user.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// ChargeID identifies a charge record.
type ChargeID struct {
	value string
}

// NewChargeID validates and normalizes a charge id.
func NewChargeID(raw string) (ChargeID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ChargeID{}, fmt.Errorf("%w: empty value", ErrInvalidChargeID)
	}
	return ChargeID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ChargeID) String() string {
	return id.value
}

// PaymentToken is a single-use payment method token handed over by the
// payment form.
type PaymentToken struct {
	value string
}

// NewPaymentToken validates and normalizes a payment token.
func NewPaymentToken(raw string) (PaymentToken, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PaymentToken{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentToken)
	}
	return PaymentToken{value: trimmed}, nil
}

// String returns the normalized token.
func (token PaymentToken) String() string {
	return token.value
}

// BuyableKind distinguishes the two entities money can be owed against.
type BuyableKind string

const (
	BuyableReservation BuyableKind = "reservation"
	BuyableCart        BuyableKind = "cart"
)

// ParseBuyableKind validates a stored buyable kind.
func ParseBuyableKind(raw string) (BuyableKind, error) {
	switch BuyableKind(raw) {
	case BuyableReservation, BuyableCart:
		return BuyableKind(raw), nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidBuyableRef, raw)
}

// String returns the stored form.
func (kind BuyableKind) String() string {
	return string(kind)
}

// BuyableRef is the polymorphic reference a Charge carries to the entity it
// pays for.
type BuyableRef struct {
	Kind BuyableKind
	ID   string
}

// NewBuyableRef validates a buyable reference.
func NewBuyableRef(kind BuyableKind, id string) (BuyableRef, error) {
	if _, err := ParseBuyableKind(kind.String()); err != nil {
		return BuyableRef{}, err
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return BuyableRef{}, fmt.Errorf("%w: empty id", ErrInvalidBuyableRef)
	}
	return BuyableRef{Kind: kind, ID: trimmed}, nil
}

// Buyable is anything money can be owed against: a Reservation or a Cart.
type Buyable interface {
	Ref() BuyableRef
	Price() AmountCents
	Owner() UserID
	Description() string
}

// ChargeState defines the charge lifecycle.
type ChargeState string

const (
	ChargeStatePending    ChargeState = "pending"
	ChargeStateSuccessful ChargeState = "successful"
	ChargeStateFailed     ChargeState = "failed"
)

// ParseChargeState validates a stored charge state.
func ParseChargeState(raw string) (ChargeState, error) {
	switch ChargeState(raw) {
	case ChargeStatePending, ChargeStateSuccessful, ChargeStateFailed:
		return ChargeState(raw), nil
	}
	return "", fmt.Errorf("%w: unknown state %q", ErrInvalidChargeState, raw)
}

// String returns the stored form.
func (state ChargeState) String() string {
	return string(state)
}

// ChargeOrigin records which payment path created a charge.
type ChargeOrigin string

const (
	ChargeOriginCash           ChargeOrigin = "cash"
	ChargeOriginStripe         ChargeOrigin = "stripe"
	ChargeOriginStripeCheckout ChargeOrigin = "stripe_checkout"
)

// ParseChargeOrigin validates a stored charge origin.
func ParseChargeOrigin(raw string) (ChargeOrigin, error) {
	switch ChargeOrigin(raw) {
	case ChargeOriginCash, ChargeOriginStripe, ChargeOriginStripeCheckout:
		return ChargeOrigin(raw), nil
	}
	return "", fmt.Errorf("%w: unknown origin %q", ErrInvalidChargeOrigin, raw)
}

// String returns the stored form.
func (origin ChargeOrigin) String() string {
	return string(origin)
}

// Charge is one attempted or completed payment against a Buyable. Once a
// charge reaches a terminal state its amount and provider reference do not
// change again.
type Charge struct {
	ChargeID         ChargeID
	UserID           UserID
	Buyable          BuyableRef
	State            ChargeState
	Origin           ChargeOrigin
	AmountCents      AmountCents
	Currency         CurrencyCode
	ProviderRef      string
	ProviderResponse string
	Comment          string
	Site             bool
	CreatedUnixUTC   int64
}

// Successful reports whether the charge settled as paid.
func (charge Charge) Successful() bool {
	return charge.State == ChargeStateSuccessful
}

// Pending reports whether the charge still awaits a provider verdict.
func (charge Charge) Pending() bool {
	return charge.State == ChargeStatePending
}

// ReservationState defines the reservation payment lifecycle. Disabled is a
// staff action independent of the charge set.
type ReservationState string

const (
	ReservationStateInstalment ReservationState = "instalment"
	ReservationStatePaid       ReservationState = "paid"
	ReservationStateDisabled   ReservationState = "disabled"
)

// ParseReservationState validates a stored reservation state.
func ParseReservationState(raw string) (ReservationState, error) {
	switch ReservationState(raw) {
	case ReservationStateInstalment, ReservationStatePaid, ReservationStateDisabled:
		return ReservationState(raw), nil
	}
	return "", fmt.Errorf("%w: unknown state %q", ErrInvalidReservationState, raw)
}

// String returns the stored form.
func (state ReservationState) String() string {
	return string(state)
}

// Reservation is a single membership holding.
type Reservation struct {
	ReservationID    string
	UserID           UserID
	MembershipName   string
	MembershipNumber int64
	PriceCents       AmountCents
	State            ReservationState
}

// Ref returns the polymorphic charge reference for the reservation.
func (reservation Reservation) Ref() BuyableRef {
	return BuyableRef{Kind: BuyableReservation, ID: reservation.ReservationID}
}

// Price returns the membership price in cents.
func (reservation Reservation) Price() AmountCents {
	return reservation.PriceCents
}

// Owner returns the holding user.
func (reservation Reservation) Owner() UserID {
	return reservation.UserID
}

// Description is displayed like "Adult member 42".
func (reservation Reservation) Description() string {
	return fmt.Sprintf("%s member %d", reservation.MembershipName, reservation.MembershipNumber)
}

// CartStatus defines the cart lifecycle.
type CartStatus string

const (
	CartStatusForNow         CartStatus = "for_now"
	CartStatusForLater       CartStatus = "for_later"
	CartStatusAwaitingCheque CartStatus = "awaiting_cheque"
	CartStatusPaid           CartStatus = "paid"
)

// ParseCartStatus validates a stored cart status.
func ParseCartStatus(raw string) (CartStatus, error) {
	switch CartStatus(raw) {
	case CartStatusForNow, CartStatusForLater, CartStatusAwaitingCheque, CartStatusPaid:
		return CartStatus(raw), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidCartStatus, raw)
}

// String returns the stored form.
func (status CartStatus) String() string {
	return string(status)
}

// CartItem is one purchasable line in a cart. A membership item references the
// reservation it pays for.
type CartItem struct {
	ItemID        string
	Name          string
	PriceCents    AmountCents
	ReservationID string
}

// Cart is a collection of purchasable items for a single user, paid
// atomically.
type Cart struct {
	CartID string
	UserID UserID
	Status CartStatus
	Items  []CartItem
}

// Ref returns the polymorphic charge reference for the cart.
func (cart Cart) Ref() BuyableRef {
	return BuyableRef{Kind: BuyableCart, ID: cart.CartID}
}

// Price sums the item prices.
func (cart Cart) Price() AmountCents {
	var total AmountCents
	for _, item := range cart.Items {
		total += item.PriceCents
	}
	return total
}

// Owner returns the cart's user.
func (cart Cart) Owner() UserID {
	return cart.UserID
}

// Description joins the item names, truncated to the comment limit.
func (cart Cart) Description() string {
	names := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		names = append(names, item.Name)
	}
	return truncateComment(strings.Join(names, ", "))
}

// User is the slice of the user record the payment flows need: who pays and
// the provider-side customer identity, once one exists.
type User struct {
	UserID     UserID
	Email      string
	CustomerID string
}

// SiteSelectionToken is a pre-generated voting token claimed when a site
// selection charge settles.
type SiteSelectionToken struct {
	TokenID  string
	Election string
	VoterID  string
	Token    string
}
