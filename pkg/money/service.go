package money

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the payment domain logic over a Store, a PaymentProvider
// and a Notifier. The currency is injected at construction; there is no
// process-wide currency state.
type Service struct {
	store    Store
	provider PaymentProvider
	notifier Notifier
	currency CurrencyCode
	nowFn    func() int64
	logger   OperationLogger
}

// NewService wires a Service.
func NewService(store Store, provider PaymentProvider, currency CurrencyCode, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: provider dependency is nil", ErrInvalidServiceConfig)
	}
	if currency == (CurrencyCode{}) {
		return nil, fmt.Errorf("%w: currency is not set", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, provider: provider, notifier: nopNotifier{}, currency: currency, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// checkChargeAmount collects the user-facing validation messages for a charge
// attempt. Messages, not errors: the caller records them on the failed charge
// and shows them inline.
func checkChargeAmount(chargeAmount AmountCents, amountOwed AmountCents, kind BuyableKind) []string {
	var messages []string
	if chargeAmount == 0 {
		messages = append(messages, messageAmountMissing)
	}
	if chargeAmount <= 0 {
		messages = append(messages, messageAmountNotPositive)
	}
	if chargeAmount > amountOwed {
		messages = append(messages, messageRefusingToOverpay+kind.String())
	}
	return messages
}

// ensureCustomer returns the user with a provider-side customer identity,
// creating one on first use. Reuses the stored customer id so repeated charge
// attempts never create a second provider customer.
func (service *Service) ensureCustomer(ctx context.Context, userID UserID) (User, error) {
	user, err := service.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.CustomerID != "" {
		return user, nil
	}
	customerID, err := service.provider.CreateCustomer(ctx, user.Email)
	if err != nil {
		return User{}, err
	}
	if err := service.store.SetUserCustomerID(ctx, userID, customerID); err != nil {
		return User{}, err
	}
	user.CustomerID = customerID
	return user, nil
}

// resolveBuyable loads the entity a charge reference points at.
func resolveBuyable(ctx context.Context, store Store, ref BuyableRef) (Buyable, error) {
	switch ref.Kind {
	case BuyableReservation:
		return store.GetReservation(ctx, ref.ID)
	case BuyableCart:
		return store.GetCart(ctx, ref.ID)
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidBuyableRef, ref.Kind)
}

// applyPaidState transitions the buyable after a successful charge. State is
// a function of the successful charge sum, never an increment.
func applyPaidState(ctx context.Context, store Store, buyable Buyable, fullyPaid bool, paidAtUnixUTC int64) error {
	switch ref := buyable.Ref(); ref.Kind {
	case BuyableReservation:
		state := ReservationStateInstalment
		if fullyPaid {
			state = ReservationStatePaid
		}
		return store.UpdateReservationState(ctx, ref.ID, state)
	case BuyableCart:
		// Carts have no instalment status; a partial payment leaves the cart
		// where it was.
		if !fullyPaid {
			return nil
		}
		return store.MarkCartPaid(ctx, ref.ID, paidAtUnixUTC)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidBuyableRef, ref.Kind)
	}
}

// describeCharge assembles a ChargeDescription from the buyable's current
// contents. paidSoFar must already include the charge being described when it
// has settled.
func describeCharge(charge Charge, buyable Buyable, paidSoFar AmountCents) ChargeDescription {
	target := buyable.Description()
	if charge.Site {
		target = siteSelectionItemName + " for " + target
	}
	return ChargeDescription{
		AmountCents: charge.AmountCents,
		Currency:    charge.Currency,
		Instalment:  !charge.Site && paidSoFar < buyable.Price(),
		Target:      target,
	}
}

// providerRaw extracts the raw response body when the error came from the
// payment provider.
func providerRaw(err error) string {
	var providerError *ProviderError
	if errors.As(err, &providerError) {
		return providerError.Raw
	}
	return ""
}

func joinMessages(messages []string) string {
	joined := ""
	for index, message := range messages {
		if index > 0 {
			joined += ", "
		}
		joined += message
	}
	return joined
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

// notify dispatches a payment notification after the financial transaction
// has committed. Failures are logged and dropped.
func (service *Service) notify(ctx context.Context, operation string, send func(context.Context) error) {
	if send == nil {
		return
	}
	if err := send(ctx); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operation,
			Status:    operationStatusError,
			Error:     fmt.Errorf("notification dispatch: %w", err),
		})
	}
}
