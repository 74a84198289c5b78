package money

import (
	"context"
	"strconv"
)

// CheckoutSucceeded reconciles a pending checkout charge with the provider's
// completed session, delivered by webhook. Inside one transaction the charge
// settles successful with the session payload attached, and the reservation
// advances: membership payments recompute paid/instalment from the successful
// charge sum; site selection payments claim the reservation's voting token.
// A missing token is a data-integrity failure and aborts the transaction.
// Notifications are dispatched only after the transaction commits.
//
// eventID, when set, dedupes webhook redeliveries: a replayed event fails
// with ErrWebhookEventProcessed before any state changes.
func (service *Service) CheckoutSucceeded(ctx context.Context, charge Charge, session CheckoutSession, eventID string) (Charge, error) {
	var send func(context.Context) error
	transactionError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if eventID != "" {
			if err := txStore.MarkWebhookEventProcessed(ctx, eventID); err != nil {
				return err
			}
		}
		reservation, err := txStore.GetReservation(ctx, charge.Buyable.ID)
		if err != nil {
			return err
		}
		paidSoFar, err := txStore.SumSuccessfulCharges(ctx, charge.Buyable)
		if err != nil {
			return err
		}
		paidWithThis := paidSoFar
		if !charge.Site {
			paidWithThis += charge.AmountCents
		}

		// Recomputed here so the description reflects the settled state, not
		// the pending-time guess.
		charge.State = ChargeStateSuccessful
		charge.ProviderResponse = session.Raw
		charge.Comment = describeCharge(charge, reservation, paidWithThis).ForUsers()
		if err := txStore.SettleCharge(ctx, charge); err != nil {
			return err
		}

		if charge.Site {
			voterID := strconv.FormatInt(reservation.MembershipNumber, 10)
			if _, err := txStore.ClaimSiteSelectionToken(ctx, voterID, reservation.ReservationID); err != nil {
				return err
			}
			notification := service.buildNotification(charge, reservation, paidWithThis)
			send = func(ctx context.Context) error { return service.notifier.SitePaid(ctx, notification) }
			return nil
		}

		fullyPaid := FullyPaid(reservation.PriceCents, paidWithThis)
		if err := applyPaidState(ctx, txStore, reservation, fullyPaid, service.nowFn()); err != nil {
			return err
		}
		notification := service.buildNotification(charge, reservation, paidWithThis)
		if fullyPaid {
			send = func(ctx context.Context) error { return service.notifier.PaymentPaid(ctx, notification) }
		} else {
			send = func(ctx context.Context) error { return service.notifier.PaymentInstalment(ctx, notification) }
		}
		return nil
	})
	if transactionError != nil {
		wrapped := WrapError(operationCheckoutSucceeded, "charge", "settle", transactionError)
		service.logCheckoutOutcome(ctx, operationCheckoutSucceeded, charge, wrapped)
		return Charge{}, wrapped
	}

	service.notify(ctx, operationCheckoutSucceeded, send)
	service.logCheckoutOutcome(ctx, operationCheckoutSucceeded, charge, nil)
	return charge, nil
}

// CheckoutFailed settles a pending checkout charge as failed, keeping the
// provider payload for audit. The reservation keeps its prior state: no money
// changed hands.
func (service *Service) CheckoutFailed(ctx context.Context, charge Charge, session CheckoutSession, eventID string) (Charge, error) {
	transactionError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if eventID != "" {
			if err := txStore.MarkWebhookEventProcessed(ctx, eventID); err != nil {
				return err
			}
		}
		charge.State = ChargeStateFailed
		charge.ProviderResponse = session.Raw
		charge.Comment = commentCheckoutFailed
		return txStore.SettleCharge(ctx, charge)
	})
	if transactionError != nil {
		wrapped := WrapError(operationCheckoutFailed, "charge", "settle", transactionError)
		service.logCheckoutOutcome(ctx, operationCheckoutFailed, charge, wrapped)
		return Charge{}, wrapped
	}

	service.logCheckoutOutcome(ctx, operationCheckoutFailed, charge, nil)
	return charge, nil
}

func (service *Service) buildNotification(charge Charge, reservation Reservation, paidWithThis AmountCents) PaymentNotification {
	return PaymentNotification{
		UserID:           charge.UserID,
		ChargeID:         charge.ChargeID,
		AmountCents:      charge.AmountCents,
		Currency:         charge.Currency,
		Description:      charge.Comment,
		OutstandingCents: OutstandingCents(reservation.PriceCents, paidWithThis),
	}
}

func (service *Service) logCheckoutOutcome(ctx context.Context, operation string, charge Charge, err error) {
	service.logOperation(ctx, OperationLog{
		Operation:   operation,
		UserID:      charge.UserID,
		Buyable:     charge.Buyable,
		ChargeID:    charge.ChargeID,
		Amount:      charge.AmountCents,
		ChargeState: charge.State,
		Error:       err,
	})
}
