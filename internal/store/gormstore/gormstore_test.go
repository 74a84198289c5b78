package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/solsticecon/memberd/pkg/money"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db), db
}

func mustUserID(t *testing.T, raw string) money.UserID {
	t.Helper()
	userID, err := money.NewUserID(raw)
	if err != nil {
		t.Fatalf("new user id: %v", err)
	}
	return userID
}

func mustCurrency(t *testing.T) money.CurrencyCode {
	t.Helper()
	currency, err := money.NewCurrencyCode("usd")
	if err != nil {
		t.Fatalf("new currency: %v", err)
	}
	return currency
}

func seedUser(t *testing.T, db *gorm.DB, email string) string {
	t.Helper()
	row := User{Email: email}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return row.UserID
}

func seedReservation(t *testing.T, db *gorm.DB, userID string, membershipNumber int64, priceCents int64) string {
	t.Helper()
	row := Reservation{
		UserID:           userID,
		MembershipName:   "Adult",
		MembershipNumber: membershipNumber,
		PriceCents:       priceCents,
		State:            money.ReservationStateInstalment.String(),
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed reservation: %v", err)
	}
	return row.ReservationID
}

func newPendingCharge(t *testing.T, userID string, buyable money.BuyableRef, amountCents int64, origin money.ChargeOrigin) money.Charge {
	t.Helper()
	return money.Charge{
		UserID:         mustUserID(t, userID),
		Buyable:        buyable,
		State:          money.ChargeStatePending,
		Origin:         origin,
		AmountCents:    money.AmountCents(amountCents),
		Currency:       mustCurrency(t),
		Comment:        "Pending stripe payment",
		CreatedUnixUTC: time.Now().UTC().Unix(),
	}
}

func reservationRef(t *testing.T, reservationID string) money.BuyableRef {
	t.Helper()
	ref, err := money.NewBuyableRef(money.BuyableReservation, reservationID)
	if err != nil {
		t.Fatalf("new buyable ref: %v", err)
	}
	return ref
}

func TestStoreGetUserUnknown(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	_, err := store.GetUser(context.Background(), mustUserID(t, "00000000-0000-0000-0000-000000000001"))
	if !errors.Is(err, money.ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestStoreSetUserCustomerID(t *testing.T) {
	t.Parallel()
	store, db := newTestStore(t)
	userID := seedUser(t, db, "member@example.test")

	if err := store.SetUserCustomerID(context.Background(), mustUserID(t, userID), "cus_42"); err != nil {
		t.Fatalf("set customer id: %v", err)
	}
	user, err := store.GetUser(context.Background(), mustUserID(t, userID))
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.CustomerID != "cus_42" {
		t.Fatalf("expected customer id cus_42, got %q", user.CustomerID)
	}
}

func TestStoreSettleChargeOnlyOnce(t *testing.T) {
	t.Parallel()
	store, db := newTestStore(t)
	userID := seedUser(t, db, "member@example.test")
	reservationID := seedReservation(t, db, userID, 42, 30000)

	created, err := store.CreateCharge(context.Background(), newPendingCharge(t, userID, reservationRef(t, reservationID), 30000, money.ChargeOriginStripe))
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	settled := created
	settled.State = money.ChargeStateSuccessful
	settled.ProviderRef = "ch_1"
	settled.ProviderResponse = `{"id":"ch_1"}`
	settled.Comment = "$300.00 USD Paid for Adult member 42"
	if err := store.SettleCharge(context.Background(), settled); err != nil {
		t.Fatalf("settle charge: %v", err)
	}
	if err := store.SettleCharge(context.Background(), settled); !errors.Is(err, money.ErrChargeSettled) {
		t.Fatalf("expected ErrChargeSettled, got %v", err)
	}

	reloaded, err := store.GetChargeByProviderRef(context.Background(), "ch_1")
	if err != nil {
		t.Fatalf("get charge by provider ref: %v", err)
	}
	if reloaded.State != money.ChargeStateSuccessful {
		t.Fatalf("expected successful state, got %s", reloaded.State)
	}
	if reloaded.ProviderResponse != `{"id":"ch_1"}` {
		t.Fatalf("expected stored provider response, got %q", reloaded.ProviderResponse)
	}
}

func TestStoreSettleChargeUnknown(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	chargeID, err := money.NewChargeID("00000000-0000-0000-0000-0000000000ff")
	if err != nil {
		t.Fatalf("new charge id: %v", err)
	}
	charge := money.Charge{
		ChargeID: chargeID,
		UserID:   mustUserID(t, "someone"),
		State:    money.ChargeStateFailed,
		Currency: mustCurrency(t),
	}
	if err := store.SettleCharge(context.Background(), charge); !errors.Is(err, money.ErrUnknownCharge) {
		t.Fatalf("expected ErrUnknownCharge, got %v", err)
	}
}

func TestStoreSumSuccessfulChargesExcludesSiteAndFailed(t *testing.T) {
	t.Parallel()
	store, db := newTestStore(t)
	userID := seedUser(t, db, "member@example.test")
	reservationID := seedReservation(t, db, userID, 42, 30000)
	ref := reservationRef(t, reservationID)

	successful := newPendingCharge(t, userID, ref, 12500, money.ChargeOriginStripe)
	successful.State = money.ChargeStateSuccessful
	if _, err := store.CreateCharge(context.Background(), successful); err != nil {
		t.Fatalf("create successful charge: %v", err)
	}
	failed := newPendingCharge(t, userID, ref, 17500, money.ChargeOriginStripe)
	failed.State = money.ChargeStateFailed
	if _, err := store.CreateCharge(context.Background(), failed); err != nil {
		t.Fatalf("create failed charge: %v", err)
	}
	site := newPendingCharge(t, userID, ref, 5000, money.ChargeOriginStripeCheckout)
	site.State = money.ChargeStateSuccessful
	site.Site = true
	if _, err := store.CreateCharge(context.Background(), site); err != nil {
		t.Fatalf("create site charge: %v", err)
	}

	total, err := store.SumSuccessfulCharges(context.Background(), ref)
	if err != nil {
		t.Fatalf("sum charges: %v", err)
	}
	if total.Int64() != 12500 {
		t.Fatalf("expected 12500, got %d", total.Int64())
	}
}

func TestStoreListPendingCheckoutChargesHonorsCutoff(t *testing.T) {
	t.Parallel()
	store, db := newTestStore(t)
	userID := seedUser(t, db, "member@example.test")
	reservationID := seedReservation(t, db, userID, 42, 30000)
	ref := reservationRef(t, reservationID)

	now := time.Now().UTC().Unix()
	old := newPendingCharge(t, userID, ref, 30000, money.ChargeOriginStripeCheckout)
	old.ProviderRef = "cs_old"
	old.CreatedUnixUTC = now - 7200
	if _, err := store.CreateCharge(context.Background(), old); err != nil {
		t.Fatalf("create old charge: %v", err)
	}
	recent := newPendingCharge(t, userID, ref, 30000, money.ChargeOriginStripeCheckout)
	recent.ProviderRef = "cs_recent"
	recent.CreatedUnixUTC = now
	if _, err := store.CreateCharge(context.Background(), recent); err != nil {
		t.Fatalf("create recent charge: %v", err)
	}
	direct := newPendingCharge(t, userID, ref, 30000, money.ChargeOriginStripe)
	direct.CreatedUnixUTC = now - 7200
	if _, err := store.CreateCharge(context.Background(), direct); err != nil {
		t.Fatalf("create direct charge: %v", err)
	}

	charges, err := store.ListPendingCheckoutCharges(context.Background(), now-3600)
	if err != nil {
		t.Fatalf("list pending checkout charges: %v", err)
	}
	if len(charges) != 1 {
		t.Fatalf("expected one charge, got %d", len(charges))
	}
	if charges[0].ProviderRef != "cs_old" {
		t.Fatalf("expected cs_old, got %q", charges[0].ProviderRef)
	}
}

func TestStoreMarkCartPaidPaysItemReservations(t *testing.T) {
	t.Parallel()
	store, db := newTestStore(t)
	userID := seedUser(t, db, "member@example.test")
	reservationID := seedReservation(t, db, userID, 42, 30000)

	cart := Cart{UserID: userID, Status: money.CartStatusForNow.String()}
	if err := db.Create(&cart).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	membershipItem := CartItem{CartID: cart.CartID, Name: "Adult membership", PriceCents: 30000, ReservationID: &reservationID}
	if err := db.Create(&membershipItem).Error; err != nil {
		t.Fatalf("seed membership item: %v", err)
	}
	tShirtItem := CartItem{CartID: cart.CartID, Name: "T-shirt", PriceCents: 2500}
	if err := db.Create(&tShirtItem).Error; err != nil {
		t.Fatalf("seed t-shirt item: %v", err)
	}

	paidAt := time.Now().UTC().Unix()
	if err := store.MarkCartPaid(context.Background(), cart.CartID, paidAt); err != nil {
		t.Fatalf("mark cart paid: %v", err)
	}

	reloadedCart, err := store.GetCart(context.Background(), cart.CartID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if reloadedCart.Status != money.CartStatusPaid {
		t.Fatalf("expected paid cart, got %s", reloadedCart.Status)
	}
	if len(reloadedCart.Items) != 2 {
		t.Fatalf("expected two items, got %d", len(reloadedCart.Items))
	}
	reservation, err := store.GetReservation(context.Background(), reservationID)
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	if reservation.State != money.ReservationStatePaid {
		t.Fatalf("expected paid reservation, got %s", reservation.State)
	}
}

func TestStoreClaimSiteSelectionTokenOnce(t *testing.T) {
	t.Parallel()
	store, db := newTestStore(t)
	userID := seedUser(t, db, "member@example.test")
	reservationID := seedReservation(t, db, userID, 42, 30000)

	row := SiteSelectionToken{Election: "2027", VoterID: "42", Token: "secret-token"}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed token: %v", err)
	}

	claimed, err := store.ClaimSiteSelectionToken(context.Background(), "42", reservationID)
	if err != nil {
		t.Fatalf("claim token: %v", err)
	}
	if claimed.Token != "secret-token" {
		t.Fatalf("expected secret-token, got %q", claimed.Token)
	}
	if _, err := store.ClaimSiteSelectionToken(context.Background(), "42", reservationID); !errors.Is(err, money.ErrNoSiteSelectionToken) {
		t.Fatalf("expected ErrNoSiteSelectionToken, got %v", err)
	}
}

func TestStoreMarkWebhookEventProcessedRejectsRedelivery(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	if err := store.MarkWebhookEventProcessed(context.Background(), "evt_1"); err != nil {
		t.Fatalf("mark event: %v", err)
	}
	if err := store.MarkWebhookEventProcessed(context.Background(), "evt_1"); !errors.Is(err, money.ErrWebhookEventProcessed) {
		t.Fatalf("expected ErrWebhookEventProcessed, got %v", err)
	}
}

func TestStoreWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	store, db := newTestStore(t)
	userID := seedUser(t, db, "member@example.test")
	reservationID := seedReservation(t, db, userID, 42, 30000)

	failure := errors.New("claim failed")
	err := store.WithTx(context.Background(), func(ctx context.Context, txStore money.Store) error {
		if _, err := txStore.CreateCharge(ctx, newPendingCharge(t, userID, reservationRef(t, reservationID), 30000, money.ChargeOriginStripeCheckout)); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected tx error, got %v", err)
	}

	var count int64
	if err := db.Model(&Charge{}).Count(&count).Error; err != nil {
		t.Fatalf("count charges: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback, found %d charges", count)
	}
}
