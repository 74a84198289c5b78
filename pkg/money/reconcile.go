package money

import (
	"context"
	"errors"
	"time"
)

// ReconcileReport summarizes one reconciliation sweep.
type ReconcileReport struct {
	Examined  int
	Succeeded int
	Failed    int
	StillOpen int
}

// ReconcilePendingCheckouts resolves checkout charges that have sat pending
// longer than maxAge by asking the provider for the session's verdict. A
// webhook that lands mid-sweep is harmless: settlement is guarded by the
// pending-only transition, so whichever side loses simply observes
// ErrChargeSettled and moves on.
func (service *Service) ReconcilePendingCheckouts(ctx context.Context, maxAge time.Duration) (ReconcileReport, error) {
	cutoff := service.nowFn() - int64(maxAge/time.Second)
	pending, err := service.store.ListPendingCheckoutCharges(ctx, cutoff)
	if err != nil {
		return ReconcileReport{}, WrapError(operationReconcile, "charge", "list_pending", err)
	}

	report := ReconcileReport{Examined: len(pending)}
	for _, charge := range pending {
		if charge.ProviderRef == "" {
			// A failed checkout start never got a session; nothing to ask
			// the provider about.
			report.StillOpen++
			continue
		}
		session, err := service.provider.GetCheckoutSession(ctx, charge.ProviderRef)
		if err != nil {
			service.logOperation(ctx, OperationLog{
				Operation: operationReconcile,
				ChargeID:  charge.ChargeID,
				Error:     err,
			})
			report.StillOpen++
			continue
		}
		switch session.Status {
		case CheckoutSessionComplete:
			if _, err := service.CheckoutSucceeded(ctx, charge, session, ""); err != nil {
				if settledElsewhere(err) {
					continue
				}
				return report, err
			}
			report.Succeeded++
		case CheckoutSessionExpired:
			if _, err := service.CheckoutFailed(ctx, charge, session, ""); err != nil {
				if settledElsewhere(err) {
					continue
				}
				return report, err
			}
			report.Failed++
		default:
			report.StillOpen++
		}
	}
	return report, nil
}

func settledElsewhere(err error) bool {
	return errors.Is(err, ErrChargeSettled)
}
