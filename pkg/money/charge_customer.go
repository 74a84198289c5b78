package money

import "context"

// DirectChargeInput describes an immediate card charge against a buyable.
// ChargeAmountCents of zero means "charge the full amount owed".
type DirectChargeInput struct {
	Buyable           Buyable
	UserID            UserID
	Token             PaymentToken
	AmountOwedCents   AmountCents
	ChargeAmountCents AmountCents
}

// ChargeResult is the outcome contract shared by the charge commands.
// Succeeded mirrors the charge state; Errors carries the user-facing messages
// for expected failure modes. Callers branch on Succeeded, never on the error
// return, which is reserved for store failures and data corruption.
type ChargeResult struct {
	Charge    Charge
	Succeeded bool
	Errors    []string
}

// ChargeCustomer charges a customer synchronously and records the attempt.
// A Charge row is persisted in pending state before the provider is
// contacted, so every attempt leaves an audit trail even when later steps
// fail. Amount validation, provider customer setup and the charge submission
// each append to Errors instead of aborting; the charge settles failed with
// the collected messages as its comment.
func (service *Service) ChargeCustomer(ctx context.Context, input DirectChargeInput) (ChargeResult, error) {
	chargeAmount := input.ChargeAmountCents
	if chargeAmount == 0 {
		chargeAmount = input.AmountOwedCents
	}

	charge := Charge{
		UserID:         input.UserID,
		Buyable:        input.Buyable.Ref(),
		State:          ChargeStatePending,
		Origin:         ChargeOriginStripe,
		AmountCents:    chargeAmount,
		Currency:       service.currency,
		ProviderRef:    input.Token.String(),
		Comment:        commentPendingPayment,
		CreatedUnixUTC: service.nowFn(),
	}
	charge, err := service.store.CreateCharge(ctx, charge)
	if err != nil {
		wrapped := WrapError(operationDirectCharge, "charge", "create", err)
		service.logDirectCharge(ctx, input, charge, wrapped)
		return ChargeResult{}, wrapped
	}

	messages := checkChargeAmount(chargeAmount, input.AmountOwedCents, input.Buyable.Ref().Kind)

	var user User
	var sourceID string
	if len(messages) == 0 {
		user, err = service.ensureCustomer(ctx, input.UserID)
		if err != nil {
			messages = append(messages, err.Error())
			charge.ProviderResponse = providerRaw(err)
			charge.Comment = truncateComment("Failed to setup customer - " + err.Error())
		}
	}
	if len(messages) == 0 {
		sourceID, err = service.provider.AttachCardSource(ctx, user.CustomerID, input.Token)
		if err != nil {
			messages = append(messages, err.Error())
			charge.ProviderResponse = providerRaw(err)
			charge.Comment = truncateComment("Failed to setup customer - " + err.Error())
		}
	}

	var providerCharge ProviderCharge
	var submitted bool
	if len(messages) == 0 {
		paidSoFar, sumErr := service.store.SumSuccessfulCharges(ctx, input.Buyable.Ref())
		if sumErr != nil {
			wrapped := WrapError(operationDirectCharge, "charge", "sum_charges", sumErr)
			service.logDirectCharge(ctx, input, charge, wrapped)
			return ChargeResult{}, wrapped
		}
		accountsDescription := describeCharge(charge, input.Buyable, paidSoFar+chargeAmount).ForAccounts()
		providerCharge, err = service.provider.CreateCharge(ctx, ProviderChargeRequest{
			CustomerID:  user.CustomerID,
			SourceID:    sourceID,
			AmountCents: chargeAmount,
			Currency:    service.currency,
			Description: accountsDescription,
		})
		if err != nil {
			messages = append(messages, err.Error())
			charge.ProviderResponse = providerRaw(err)
			charge.Comment = truncateComment("failed to create provider charge - " + err.Error())
		} else {
			submitted = true
		}
	}

	switch {
	case len(messages) > 0:
		charge.State = ChargeStateFailed
		charge.Comment = truncateComment(joinMessages(messages))
	case !providerCharge.Paid:
		charge.State = ChargeStateFailed
	default:
		charge.State = ChargeStateSuccessful
	}
	if submitted {
		// Keep the provider's reference, exact settled amount and raw
		// response regardless of the verdict, for audit.
		charge.ProviderRef = providerCharge.ID
		if providerCharge.AmountCents > 0 {
			charge.AmountCents = providerCharge.AmountCents
		}
		if providerCharge.Description != "" {
			charge.Comment = truncateComment(providerCharge.Description)
		}
		charge.ProviderResponse = providerCharge.Raw
	}

	transactionError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		paidSoFar, err := txStore.SumSuccessfulCharges(ctx, input.Buyable.Ref())
		if err != nil {
			return err
		}
		paidWithThis := paidSoFar
		if charge.Successful() {
			paidWithThis += charge.AmountCents
			charge.Comment = describeCharge(charge, input.Buyable, paidWithThis).ForUsers()
		}
		if err := txStore.SettleCharge(ctx, charge); err != nil {
			return err
		}
		if !charge.Successful() {
			// Nothing was paid; the buyable keeps its prior state.
			return nil
		}
		fullyPaid := FullyPaid(input.Buyable.Price(), paidWithThis)
		return applyPaidState(ctx, txStore, input.Buyable, fullyPaid, service.nowFn())
	})
	if transactionError != nil {
		wrapped := WrapError(operationDirectCharge, "charge", "settle", transactionError)
		service.logDirectCharge(ctx, input, charge, wrapped)
		return ChargeResult{}, wrapped
	}

	service.logDirectCharge(ctx, input, charge, nil)
	return ChargeResult{
		Charge:    charge,
		Succeeded: charge.Successful(),
		Errors:    messages,
	}, nil
}

func (service *Service) logDirectCharge(ctx context.Context, input DirectChargeInput, charge Charge, err error) {
	service.logOperation(ctx, OperationLog{
		Operation:   operationDirectCharge,
		UserID:      input.UserID,
		Buyable:     input.Buyable.Ref(),
		ChargeID:    charge.ChargeID,
		Amount:      charge.AmountCents,
		ChargeState: charge.State,
		Error:       err,
	})
}
