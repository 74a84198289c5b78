package money

import (
	"errors"
	"testing"
)

func TestNewPositiveAmountCentsRejectsNonPositive(test *testing.T) {
	test.Parallel()
	for _, raw := range []int64{0, -1, -500} {
		if _, err := NewPositiveAmountCents(raw); !errors.Is(err, ErrInvalidAmountCents) {
			test.Fatalf("expected ErrInvalidAmountCents for %d, got %v", raw, err)
		}
	}
	amount, err := NewPositiveAmountCents(100)
	if err != nil || amount != 100 {
		test.Fatalf("expected 100, got %d (%v)", amount, err)
	}
}

func TestNewCurrencyCodeNormalizes(test *testing.T) {
	test.Parallel()
	currency, err := NewCurrencyCode(" NZD ")
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	if currency.String() != "nzd" || currency.Display() != "NZD" {
		test.Fatalf("unexpected normalization: %q / %q", currency.String(), currency.Display())
	}
	if _, err := NewCurrencyCode("dollars"); !errors.Is(err, ErrInvalidCurrencyCode) {
		test.Fatalf("expected ErrInvalidCurrencyCode, got %v", err)
	}
}

func TestParseChargeState(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"pending", "successful", "failed"} {
		if _, err := ParseChargeState(raw); err != nil {
			test.Fatalf("parse %q: %v", raw, err)
		}
	}
	if _, err := ParseChargeState("refunded"); !errors.Is(err, ErrInvalidChargeState) {
		test.Fatalf("expected ErrInvalidChargeState, got %v", err)
	}
}

func TestNewBuyableRefValidation(test *testing.T) {
	test.Parallel()
	ref, err := NewBuyableRef(BuyableCart, "cart-9")
	if err != nil {
		test.Fatalf("buyable ref: %v", err)
	}
	if ref.Kind != BuyableCart || ref.ID != "cart-9" {
		test.Fatalf("unexpected ref: %+v", ref)
	}
	if _, err := NewBuyableRef("invoice", "x"); !errors.Is(err, ErrInvalidBuyableRef) {
		test.Fatalf("expected ErrInvalidBuyableRef, got %v", err)
	}
	if _, err := NewBuyableRef(BuyableReservation, "  "); !errors.Is(err, ErrInvalidBuyableRef) {
		test.Fatalf("expected ErrInvalidBuyableRef for empty id, got %v", err)
	}
}

func TestCartPriceSumsItems(test *testing.T) {
	test.Parallel()
	cart := Cart{Items: []CartItem{{PriceCents: 30000}, {PriceCents: 5000}}}
	if cart.Price() != 35000 {
		test.Fatalf("expected 35000, got %d", cart.Price())
	}
}

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("direct_charge", "charge", "settle", ErrChargeSettled)
	if wrapped.Error() != "direct_charge.charge.settle: charge already settled" {
		test.Fatalf("unexpected message: %q", wrapped.Error())
	}
	if !errors.Is(wrapped, ErrChargeSettled) {
		test.Fatal("expected wrapped sentinel to survive errors.Is")
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) || operationError.Code() != "settle" {
		test.Fatalf("unexpected operation error: %+v", operationError)
	}
}
