package money

import (
	"context"
	"fmt"
	"testing"
)

// stubStore is an in-memory Store for exercising the commands without a
// database. WithTx runs the closure against the same state; transactional
// isolation is covered by the gormstore tests.
type stubStore struct {
	users           map[UserID]*User
	reservations    map[string]*Reservation
	carts           map[string]*Cart
	charges         []*Charge
	tokens          []*SiteSelectionToken
	claimedTokens   map[string]string
	processedEvents map[string]bool
	cartPaidAt      map[string]int64
	nextChargeID    int
}

func newStubStore() *stubStore {
	return &stubStore{
		users:           map[UserID]*User{},
		reservations:    map[string]*Reservation{},
		carts:           map[string]*Cart{},
		claimedTokens:   map[string]string{},
		processedEvents: map[string]bool{},
		cartPaidAt:      map[string]int64{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetUser(_ context.Context, userID UserID) (User, error) {
	user, ok := store.users[userID]
	if !ok {
		return User{}, ErrUnknownUser
	}
	return *user, nil
}

func (store *stubStore) SetUserCustomerID(_ context.Context, userID UserID, customerID string) error {
	user, ok := store.users[userID]
	if !ok {
		return ErrUnknownUser
	}
	user.CustomerID = customerID
	return nil
}

func (store *stubStore) GetReservation(_ context.Context, reservationID string) (Reservation, error) {
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return Reservation{}, ErrUnknownReservation
	}
	return *reservation, nil
}

func (store *stubStore) UpdateReservationState(_ context.Context, reservationID string, state ReservationState) error {
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return ErrUnknownReservation
	}
	reservation.State = state
	return nil
}

func (store *stubStore) GetCart(_ context.Context, cartID string) (Cart, error) {
	cart, ok := store.carts[cartID]
	if !ok {
		return Cart{}, ErrUnknownCart
	}
	return *cart, nil
}

func (store *stubStore) MarkCartPaid(_ context.Context, cartID string, paidAtUnixUTC int64) error {
	cart, ok := store.carts[cartID]
	if !ok {
		return ErrUnknownCart
	}
	cart.Status = CartStatusPaid
	store.cartPaidAt[cartID] = paidAtUnixUTC
	for _, item := range cart.Items {
		if item.ReservationID == "" {
			continue
		}
		if reservation, ok := store.reservations[item.ReservationID]; ok {
			reservation.State = ReservationStatePaid
		}
	}
	return nil
}

func (store *stubStore) CreateCharge(_ context.Context, charge Charge) (Charge, error) {
	store.nextChargeID++
	chargeID, err := NewChargeID(fmt.Sprintf("charge-%d", store.nextChargeID))
	if err != nil {
		return Charge{}, err
	}
	charge.ChargeID = chargeID
	stored := charge
	store.charges = append(store.charges, &stored)
	return charge, nil
}

func (store *stubStore) SettleCharge(_ context.Context, charge Charge) error {
	for _, stored := range store.charges {
		if stored.ChargeID != charge.ChargeID {
			continue
		}
		if stored.State != ChargeStatePending {
			return ErrChargeSettled
		}
		*stored = charge
		return nil
	}
	return ErrUnknownCharge
}

func (store *stubStore) GetChargeByProviderRef(_ context.Context, providerRef string) (Charge, error) {
	for _, stored := range store.charges {
		if stored.ProviderRef == providerRef {
			return *stored, nil
		}
	}
	return Charge{}, ErrUnknownCharge
}

func (store *stubStore) SumSuccessfulCharges(_ context.Context, buyable BuyableRef) (AmountCents, error) {
	var total AmountCents
	for _, stored := range store.charges {
		if stored.Buyable == buyable && stored.State == ChargeStateSuccessful && !stored.Site {
			total += stored.AmountCents
		}
	}
	return total, nil
}

func (store *stubStore) ListPendingCheckoutCharges(_ context.Context, createdBeforeUnixUTC int64) ([]Charge, error) {
	var pending []Charge
	for _, stored := range store.charges {
		if stored.State == ChargeStatePending && stored.Origin == ChargeOriginStripeCheckout && stored.CreatedUnixUTC <= createdBeforeUnixUTC {
			pending = append(pending, *stored)
		}
	}
	return pending, nil
}

func (store *stubStore) ClaimSiteSelectionToken(_ context.Context, voterID string, reservationID string) (SiteSelectionToken, error) {
	for _, token := range store.tokens {
		if token.VoterID != voterID {
			continue
		}
		if _, claimed := store.claimedTokens[voterID]; claimed {
			continue
		}
		store.claimedTokens[voterID] = reservationID
		return *token, nil
	}
	return SiteSelectionToken{}, ErrNoSiteSelectionToken
}

func (store *stubStore) MarkWebhookEventProcessed(_ context.Context, eventID string) error {
	if store.processedEvents[eventID] {
		return ErrWebhookEventProcessed
	}
	store.processedEvents[eventID] = true
	return nil
}

func (store *stubStore) mustCharge(test *testing.T, chargeID ChargeID) Charge {
	test.Helper()
	for _, stored := range store.charges {
		if stored.ChargeID == chargeID {
			return *stored
		}
	}
	test.Fatalf("charge %s not found", chargeID)
	return Charge{}
}

// stubProvider scripts the payment gateway.
type stubProvider struct {
	customerID          string
	createCustomerCalls int
	createCustomerErr   error
	attachCalls         int
	attachErr           error
	chargeResult        ProviderCharge
	chargeErr           error
	chargeRequests      []ProviderChargeRequest
	session             CheckoutSession
	sessionErr          error
	sessionRequests     []CheckoutSessionRequest
	sessionsByID        map[string]CheckoutSession
}

func (provider *stubProvider) CreateCustomer(context.Context, string) (string, error) {
	provider.createCustomerCalls++
	if provider.createCustomerErr != nil {
		return "", provider.createCustomerErr
	}
	return provider.customerID, nil
}

func (provider *stubProvider) AttachCardSource(_ context.Context, _ string, token PaymentToken) (string, error) {
	provider.attachCalls++
	if provider.attachErr != nil {
		return "", provider.attachErr
	}
	return "card_" + token.String(), nil
}

func (provider *stubProvider) CreateCharge(_ context.Context, request ProviderChargeRequest) (ProviderCharge, error) {
	provider.chargeRequests = append(provider.chargeRequests, request)
	if provider.chargeErr != nil {
		return ProviderCharge{}, provider.chargeErr
	}
	return provider.chargeResult, nil
}

func (provider *stubProvider) CreateCheckoutSession(_ context.Context, request CheckoutSessionRequest) (CheckoutSession, error) {
	provider.sessionRequests = append(provider.sessionRequests, request)
	if provider.sessionErr != nil {
		return CheckoutSession{}, provider.sessionErr
	}
	return provider.session, nil
}

func (provider *stubProvider) GetCheckoutSession(_ context.Context, sessionID string) (CheckoutSession, error) {
	session, ok := provider.sessionsByID[sessionID]
	if !ok {
		return CheckoutSession{}, &ProviderError{Code: "resource_missing", Message: "no such session"}
	}
	return session, nil
}

// recorderNotifier captures dispatched notifications.
type recorderNotifier struct {
	paid        []PaymentNotification
	instalments []PaymentNotification
	sitePaid    []PaymentNotification
	err         error
}

func (notifier *recorderNotifier) PaymentPaid(_ context.Context, notification PaymentNotification) error {
	notifier.paid = append(notifier.paid, notification)
	return notifier.err
}

func (notifier *recorderNotifier) PaymentInstalment(_ context.Context, notification PaymentNotification) error {
	notifier.instalments = append(notifier.instalments, notification)
	return notifier.err
}

func (notifier *recorderNotifier) SitePaid(_ context.Context, notification PaymentNotification) error {
	notifier.sitePaid = append(notifier.sitePaid, notification)
	return notifier.err
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustToken(test *testing.T, raw string) PaymentToken {
	test.Helper()
	token, err := NewPaymentToken(raw)
	if err != nil {
		test.Fatalf("payment token: %v", err)
	}
	return token
}

func mustCurrency(test *testing.T, raw string) CurrencyCode {
	test.Helper()
	currency, err := NewCurrencyCode(raw)
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return currency
}

func mustPositiveAmount(test *testing.T, raw int64) AmountCents {
	test.Helper()
	amount, err := NewPositiveAmountCents(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustNewService(test *testing.T, store Store, provider PaymentProvider, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, provider, mustCurrency(test, "usd"), func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func seedUser(store *stubStore, userID UserID, email string, customerID string) {
	store.users[userID] = &User{UserID: userID, Email: email, CustomerID: customerID}
}

func seedReservation(store *stubStore, reservation Reservation) {
	stored := reservation
	store.reservations[reservation.ReservationID] = &stored
}

func seedCart(store *stubStore, cart Cart) {
	stored := cart
	store.carts[cart.CartID] = &stored
}
