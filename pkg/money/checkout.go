package money

import "context"

// StartCheckoutInput describes a hosted checkout to initiate for a
// reservation. SitePayment marks a site selection purchase rather than a
// membership payment. ChargeAmountCents of zero means the full amount owed.
type StartCheckoutInput struct {
	Reservation       Reservation
	UserID            UserID
	AmountOwedCents   AmountCents
	ChargeAmountCents AmountCents
	SuccessURL        string
	CancelURL         string
	SitePayment       bool
}

// StartCheckoutResult reports whether the payer can be redirected to the
// provider. Succeeded means a usable checkout URL was obtained.
type StartCheckoutResult struct {
	Charge      Charge
	CheckoutURL string
	Succeeded   bool
	Errors      []string
}

// StartCheckout creates a hosted checkout session and records a pending
// charge keyed by the session id; the webhook outcome handlers find the
// charge through that reference later. Unlike ChargeCustomer the charge row
// is written once at the end, after the provider calls: an attempt that dies
// before session creation leaves no audit row.
func (service *Service) StartCheckout(ctx context.Context, input StartCheckoutInput) (StartCheckoutResult, error) {
	chargeAmount := input.ChargeAmountCents
	if chargeAmount == 0 {
		chargeAmount = input.AmountOwedCents
	}

	var messages []string
	var rawResponse string
	user, err := service.ensureCustomer(ctx, input.UserID)
	if err != nil {
		messages = append(messages, err.Error())
		rawResponse = providerRaw(err)
	}

	if len(messages) == 0 {
		messages = checkChargeAmount(chargeAmount, input.AmountOwedCents, BuyableReservation)
	}

	var session CheckoutSession
	if len(messages) == 0 {
		itemName := input.Reservation.MembershipName
		if input.SitePayment {
			itemName = siteSelectionItemName
		}
		session, err = service.provider.CreateCheckoutSession(ctx, CheckoutSessionRequest{
			CustomerID:  user.CustomerID,
			AmountCents: chargeAmount,
			Currency:    service.currency,
			ItemName:    itemName,
			SuccessURL:  input.SuccessURL,
			CancelURL:   input.CancelURL,
		})
		if err != nil {
			messages = append(messages, err.Error())
			rawResponse = providerRaw(err)
		}
	}

	charge := Charge{
		UserID:           input.UserID,
		Buyable:          input.Reservation.Ref(),
		State:            ChargeStatePending,
		Origin:           ChargeOriginStripeCheckout,
		AmountCents:      chargeAmount,
		Currency:         service.currency,
		ProviderRef:      session.ID,
		ProviderResponse: rawResponse,
		Comment:          commentPendingPayment,
		Site:             input.SitePayment,
		CreatedUnixUTC:   service.nowFn(),
	}
	if len(messages) > 0 {
		charge.State = ChargeStateFailed
		charge.Comment = truncateComment(joinMessages(messages))
	}
	charge, err = service.store.CreateCharge(ctx, charge)
	if err != nil {
		wrapped := WrapError(operationStartCheckout, "charge", "create", err)
		service.logStartCheckout(ctx, input, charge, wrapped)
		return StartCheckoutResult{}, wrapped
	}

	service.logStartCheckout(ctx, input, charge, nil)
	return StartCheckoutResult{
		Charge:      charge,
		CheckoutURL: session.URL,
		Succeeded:   session.URL != "",
		Errors:      messages,
	}, nil
}

func (service *Service) logStartCheckout(ctx context.Context, input StartCheckoutInput, charge Charge, err error) {
	service.logOperation(ctx, OperationLog{
		Operation:   operationStartCheckout,
		UserID:      input.UserID,
		Buyable:     input.Reservation.Ref(),
		ChargeID:    charge.ChargeID,
		Amount:      charge.AmountCents,
		ChargeState: charge.State,
		Error:       err,
	})
}
