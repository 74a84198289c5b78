package money

import "context"

// OutstandingCents computes the balance still owed: price minus the sum of
// successful non-site charges. The result may be negative when an overpayment
// is already on record; callers treat anything <= 0 as fully paid and never
// as a balance to charge.
func OutstandingCents(price AmountCents, paidSoFar AmountCents) AmountCents {
	return price - paidSoFar
}

// FullyPaid reports whether the successful charge sum covers the price.
func FullyPaid(price AmountCents, paidSoFar AmountCents) bool {
	return OutstandingCents(price, paidSoFar) <= 0
}

// AmountOwed returns the outstanding balance for a buyable. Read-only.
func (service *Service) AmountOwed(ctx context.Context, buyable Buyable) (AmountCents, error) {
	paidSoFar, err := service.store.SumSuccessfulCharges(ctx, buyable.Ref())
	if err != nil {
		return 0, WrapError(operationAmountOwed, buyable.Ref().Kind.String(), "sum_charges", err)
	}
	return OutstandingCents(buyable.Price(), paidSoFar), nil
}
