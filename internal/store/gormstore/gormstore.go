package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/solsticecon/memberd/pkg/money"
)

const (
	dialectPostgres         = "postgres"
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectUser        = "user"
	errorSubjectCharge      = "charge"
	errorSubjectCart        = "cart"
	errorSubjectReservation = "reservation"
	errorSubjectSiteToken   = "site_token"
	errorSubjectWebhook     = "webhook_event"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeSettle         = "settle"
	errorCodeSum            = "sum"
	errorCodeClaim          = "claim"
	errorCodeUpdate         = "update"
)

// Store implements money.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore money.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetUser(ctx context.Context, userID money.UserID) (money.User, error) {
	var row User
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return money.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, money.ErrUnknownUser)
		}
		return money.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	user, err := mapUser(row)
	if err != nil {
		return money.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return user, nil
}

func (store *Store) SetUserCustomerID(ctx context.Context, userID money.UserID, customerID string) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ?", userID.String()).
		Update("stripe_customer_id", customerID)
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, money.ErrUnknownUser)
	}
	return nil
}

func (store *Store) GetReservation(ctx context.Context, reservationID string) (money.Reservation, error) {
	var row Reservation
	err := store.db.WithContext(ctx).
		Clauses(store.rowLock()...).
		Where("reservation_id = ?", reservationID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return money.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, money.ErrUnknownReservation)
		}
		return money.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	reservation, err := mapReservation(row)
	if err != nil {
		return money.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func (store *Store) UpdateReservationState(ctx context.Context, reservationID string, state money.ReservationState) error {
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("reservation_id = ?", reservationID).
		Update("state", state.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, money.ErrUnknownReservation)
	}
	return nil
}

func (store *Store) GetCart(ctx context.Context, cartID string) (money.Cart, error) {
	var row Cart
	err := store.db.WithContext(ctx).
		Clauses(store.rowLock()...).
		Preload("Items").
		Where("cart_id = ?", cartID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return money.Cart{}, wrapStoreError(errorSubjectCart, errorCodeGet, money.ErrUnknownCart)
		}
		return money.Cart{}, wrapStoreError(errorSubjectCart, errorCodeGet, err)
	}
	cart, err := mapCart(row)
	if err != nil {
		return money.Cart{}, wrapStoreError(errorSubjectCart, errorCodeInvalid, err)
	}
	return cart, nil
}

func (store *Store) MarkCartPaid(ctx context.Context, cartID string, paidAtUnixUTC int64) error {
	paidAt := time.Unix(paidAtUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Cart{}).
		Where("cart_id = ?", cartID).
		Updates(map[string]interface{}{
			"status":    money.CartStatusPaid.String(),
			"active_to": paidAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCart, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCart, errorCodeUpdate, money.ErrUnknownCart)
	}
	err := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("reservation_id IN (?)", store.db.
			Model(&CartItem{}).
			Select("reservation_id").
			Where("cart_id = ? AND reservation_id IS NOT NULL", cartID)).
		Update("state", money.ReservationStatePaid.String()).Error
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) CreateCharge(ctx context.Context, charge money.Charge) (money.Charge, error) {
	row := Charge{
		ChargeID:         charge.ChargeID.String(),
		UserID:           charge.UserID.String(),
		BuyableKind:      charge.Buyable.Kind.String(),
		BuyableID:        charge.Buyable.ID,
		State:            charge.State.String(),
		Origin:           charge.Origin.String(),
		AmountCents:      charge.AmountCents.Int64(),
		Currency:         charge.Currency.String(),
		ProviderRef:      charge.ProviderRef,
		ProviderResponse: datatypesJSON(charge.ProviderResponse),
		Comment:          charge.Comment,
		Site:             charge.Site,
		CreatedAt:        time.Unix(charge.CreatedUnixUTC, 0).UTC(),
	}
	if charge.CreatedUnixUTC == 0 {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		return money.Charge{}, wrapStoreError(errorSubjectCharge, errorCodeCreate, err)
	}
	created, err := mapCharge(row)
	if err != nil {
		return money.Charge{}, wrapStoreError(errorSubjectCharge, errorCodeInvalid, err)
	}
	return created, nil
}

// SettleCharge conditions the update on the pending state so a charge settles
// exactly once; concurrent settlers lose the race and get ErrChargeSettled.
func (store *Store) SettleCharge(ctx context.Context, charge money.Charge) error {
	result := store.db.WithContext(ctx).
		Model(&Charge{}).
		Where("charge_id = ? AND state = ?", charge.ChargeID.String(), money.ChargeStatePending.String()).
		Updates(map[string]interface{}{
			"state":             charge.State.String(),
			"amount_cents":      charge.AmountCents.Int64(),
			"provider_ref":      charge.ProviderRef,
			"provider_response": datatypesJSON(charge.ProviderResponse),
			"comment":           charge.Comment,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCharge, errorCodeSettle, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := store.db.WithContext(ctx).
			Model(&Charge{}).
			Where("charge_id = ?", charge.ChargeID.String()).
			Count(&count).Error; err != nil {
			return wrapStoreError(errorSubjectCharge, errorCodeSettle, err)
		}
		if count == 0 {
			return wrapStoreError(errorSubjectCharge, errorCodeSettle, money.ErrUnknownCharge)
		}
		return wrapStoreError(errorSubjectCharge, errorCodeSettle, money.ErrChargeSettled)
	}
	return nil
}

func (store *Store) GetChargeByProviderRef(ctx context.Context, providerRef string) (money.Charge, error) {
	var row Charge
	err := store.db.WithContext(ctx).
		Where("provider_ref = ?", providerRef).
		Order("created_at DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return money.Charge{}, wrapStoreError(errorSubjectCharge, errorCodeGet, money.ErrUnknownCharge)
		}
		return money.Charge{}, wrapStoreError(errorSubjectCharge, errorCodeGet, err)
	}
	charge, err := mapCharge(row)
	if err != nil {
		return money.Charge{}, wrapStoreError(errorSubjectCharge, errorCodeInvalid, err)
	}
	return charge, nil
}

func (store *Store) SumSuccessfulCharges(ctx context.Context, buyable money.BuyableRef) (money.AmountCents, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&Charge{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("buyable_kind = ? AND buyable_id = ?", buyable.Kind.String(), buyable.ID).
		Where("state = ?", money.ChargeStateSuccessful.String()).
		Where("site = ?", false).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectCharge, errorCodeSum, err)
	}
	return money.AmountCents(sum.Total), nil
}

func (store *Store) ListPendingCheckoutCharges(ctx context.Context, createdBeforeUnixUTC int64) ([]money.Charge, error) {
	before := time.Unix(createdBeforeUnixUTC, 0).UTC()
	var rows []Charge
	err := store.db.WithContext(ctx).
		Where("state = ? AND origin = ?", money.ChargeStatePending.String(), money.ChargeOriginStripeCheckout.String()).
		Where("created_at <= ?", before).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCharge, errorCodeList, err)
	}
	charges := make([]money.Charge, 0, len(rows))
	for _, row := range rows {
		charge, err := mapCharge(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCharge, errorCodeInvalid, err)
		}
		charges = append(charges, charge)
	}
	return charges, nil
}

func (store *Store) ClaimSiteSelectionToken(ctx context.Context, voterID string, reservationID string) (money.SiteSelectionToken, error) {
	var row SiteSelectionToken
	err := store.db.WithContext(ctx).
		Clauses(store.rowLock()...).
		Where("voter_id = ? AND claimed_by_reservation_id IS NULL", voterID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return money.SiteSelectionToken{}, wrapStoreError(errorSubjectSiteToken, errorCodeClaim, money.ErrNoSiteSelectionToken)
		}
		return money.SiteSelectionToken{}, wrapStoreError(errorSubjectSiteToken, errorCodeClaim, err)
	}
	err = store.db.WithContext(ctx).
		Model(&SiteSelectionToken{}).
		Where("token_id = ?", row.TokenID).
		Update("claimed_by_reservation_id", reservationID).Error
	if err != nil {
		return money.SiteSelectionToken{}, wrapStoreError(errorSubjectSiteToken, errorCodeClaim, err)
	}
	return money.SiteSelectionToken{
		TokenID:  row.TokenID,
		Election: row.Election,
		VoterID:  row.VoterID,
		Token:    row.Token,
	}, nil
}

func (store *Store) MarkWebhookEventProcessed(ctx context.Context, eventID string) error {
	row := ProcessedWebhookEvent{
		EventID:   eventID,
		CreatedAt: time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectWebhook, errorCodeDuplicate, money.ErrWebhookEventProcessed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectWebhook, errorCodeCreate, err)
	}
	return nil
}

// rowLock returns a FOR UPDATE clause on dialects that support one. SQLite
// serializes writers at the database level, so the clause is omitted there.
func (store *Store) rowLock() []clause.Expression {
	if store.db.Dialector.Name() == dialectPostgres {
		return []clause.Expression{clause.Locking{Strength: "UPDATE"}}
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return money.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapUser(row User) (money.User, error) {
	userID, err := money.NewUserID(row.UserID)
	if err != nil {
		return money.User{}, err
	}
	return money.User{
		UserID:     userID,
		Email:      row.Email,
		CustomerID: row.StripeCustomerID,
	}, nil
}

func mapReservation(row Reservation) (money.Reservation, error) {
	userID, err := money.NewUserID(row.UserID)
	if err != nil {
		return money.Reservation{}, err
	}
	state, err := money.ParseReservationState(row.State)
	if err != nil {
		return money.Reservation{}, err
	}
	return money.Reservation{
		ReservationID:    row.ReservationID,
		UserID:           userID,
		MembershipName:   row.MembershipName,
		MembershipNumber: row.MembershipNumber,
		PriceCents:       money.AmountCents(row.PriceCents),
		State:            state,
	}, nil
}

func mapCart(row Cart) (money.Cart, error) {
	userID, err := money.NewUserID(row.UserID)
	if err != nil {
		return money.Cart{}, err
	}
	status, err := money.ParseCartStatus(row.Status)
	if err != nil {
		return money.Cart{}, err
	}
	items := make([]money.CartItem, 0, len(row.Items))
	for _, item := range row.Items {
		reservationID := ""
		if item.ReservationID != nil {
			reservationID = *item.ReservationID
		}
		items = append(items, money.CartItem{
			ItemID:        item.ItemID,
			Name:          item.Name,
			PriceCents:    money.AmountCents(item.PriceCents),
			ReservationID: reservationID,
		})
	}
	return money.Cart{
		CartID: row.CartID,
		UserID: userID,
		Status: status,
		Items:  items,
	}, nil
}

func mapCharge(row Charge) (money.Charge, error) {
	chargeID, err := money.NewChargeID(row.ChargeID)
	if err != nil {
		return money.Charge{}, err
	}
	userID, err := money.NewUserID(row.UserID)
	if err != nil {
		return money.Charge{}, err
	}
	kind, err := money.ParseBuyableKind(row.BuyableKind)
	if err != nil {
		return money.Charge{}, err
	}
	buyable, err := money.NewBuyableRef(kind, row.BuyableID)
	if err != nil {
		return money.Charge{}, err
	}
	state, err := money.ParseChargeState(row.State)
	if err != nil {
		return money.Charge{}, err
	}
	origin, err := money.ParseChargeOrigin(row.Origin)
	if err != nil {
		return money.Charge{}, err
	}
	currency, err := money.NewCurrencyCode(row.Currency)
	if err != nil {
		return money.Charge{}, err
	}
	return money.Charge{
		ChargeID:         chargeID,
		UserID:           userID,
		Buyable:          buyable,
		State:            state,
		Origin:           origin,
		AmountCents:      money.AmountCents(row.AmountCents),
		Currency:         currency,
		ProviderRef:      row.ProviderRef,
		ProviderResponse: providerResponseString(row.ProviderResponse),
		Comment:          row.Comment,
		Site:             row.Site,
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}, nil
}

func providerResponseString(raw datatypes.JSON) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return nil
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
