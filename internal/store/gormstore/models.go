package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User represents the users table. Only the columns the payment flows
// touch are modelled.
type User struct {
	UserID           string    `gorm:"type:uuid;primaryKey"`
	Email            string    `gorm:"not null;uniqueIndex"`
	StripeCustomerID string    `gorm:""`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

func (user *User) BeforeCreate(tx *gorm.DB) error {
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	return nil
}

// Reservation mirrors the reservations table.
type Reservation struct {
	ReservationID    string    `gorm:"type:uuid;primaryKey"`
	UserID           string    `gorm:"type:uuid;not null;index"`
	MembershipName   string    `gorm:"not null"`
	MembershipNumber int64     `gorm:"not null;uniqueIndex"`
	PriceCents       int64     `gorm:"not null"`
	State            string    `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }

func (reservation *Reservation) BeforeCreate(tx *gorm.DB) error {
	if reservation.ReservationID == "" {
		reservation.ReservationID = uuid.NewString()
	}
	return nil
}

// Cart mirrors the carts table. ActiveTo closes the cart once paid.
type Cart struct {
	CartID    string     `gorm:"type:uuid;primaryKey"`
	UserID    string     `gorm:"type:uuid;not null;index"`
	Status    string     `gorm:"not null"`
	ActiveTo  *time.Time `gorm:""`
	CreatedAt time.Time  `gorm:"not null"`
	UpdatedAt time.Time  `gorm:"not null"`
	Items     []CartItem `gorm:"foreignKey:CartID"`
}

func (Cart) TableName() string { return "carts" }

func (cart *Cart) BeforeCreate(tx *gorm.DB) error {
	if cart.CartID == "" {
		cart.CartID = uuid.NewString()
	}
	return nil
}

// CartItem mirrors the cart_items table. Membership items carry the id of
// the reservation they pay for.
type CartItem struct {
	ItemID        string    `gorm:"type:uuid;primaryKey"`
	CartID        string    `gorm:"type:uuid;not null;index"`
	Name          string    `gorm:"not null"`
	PriceCents    int64     `gorm:"not null"`
	ReservationID *string   `gorm:"type:uuid"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (CartItem) TableName() string { return "cart_items" }

func (item *CartItem) BeforeCreate(tx *gorm.DB) error {
	if item.ItemID == "" {
		item.ItemID = uuid.NewString()
	}
	return nil
}

// Charge mirrors the charges table.
type Charge struct {
	ChargeID         string         `gorm:"type:uuid;primaryKey"`
	UserID           string         `gorm:"type:uuid;not null;index"`
	BuyableKind      string         `gorm:"not null;index:idx_charges_buyable,priority:1"`
	BuyableID        string         `gorm:"not null;index:idx_charges_buyable,priority:2"`
	State            string         `gorm:"not null"`
	Origin           string         `gorm:"not null"`
	AmountCents      int64          `gorm:"not null"`
	Currency         string         `gorm:"not null"`
	ProviderRef      string         `gorm:"index"`
	ProviderResponse datatypes.JSON `gorm:""`
	Comment          string         `gorm:"not null"`
	Site             bool           `gorm:"not null;default:false"`
	CreatedAt        time.Time      `gorm:"not null;index"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

func (Charge) TableName() string { return "charges" }

func (charge *Charge) BeforeCreate(tx *gorm.DB) error {
	if charge.ChargeID == "" {
		charge.ChargeID = uuid.NewString()
	}
	return nil
}

// SiteSelectionToken mirrors the site_selection_tokens table. Voter ids
// are unique per election; a claimed token points at its reservation.
type SiteSelectionToken struct {
	TokenID                string    `gorm:"type:uuid;primaryKey"`
	Election               string    `gorm:"not null;index:uniq_site_tokens_voter,unique,priority:1"`
	VoterID                string    `gorm:"not null;index:uniq_site_tokens_voter,unique,priority:2"`
	Token                  string    `gorm:"not null"`
	ClaimedByReservationID *string   `gorm:"type:uuid"`
	CreatedAt              time.Time `gorm:"not null"`
	UpdatedAt              time.Time `gorm:"not null"`
}

func (SiteSelectionToken) TableName() string { return "site_selection_tokens" }

func (token *SiteSelectionToken) BeforeCreate(tx *gorm.DB) error {
	if token.TokenID == "" {
		token.TokenID = uuid.NewString()
	}
	return nil
}

// ProcessedWebhookEvent records handled provider event ids so webhook
// redeliveries are rejected before any state is touched again.
type ProcessedWebhookEvent struct {
	EventID   string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ProcessedWebhookEvent) TableName() string { return "processed_webhook_events" }

// Models lists every table for schema migration.
func Models() []interface{} {
	return []interface{}{
		&User{},
		&Reservation{},
		&Cart{},
		&CartItem{},
		&Charge{},
		&SiteSelectionToken{},
		&ProcessedWebhookEvent{},
	}
}
