package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Location represents the locations table.
type Location struct {
	LocationID         string    `gorm:"type:uuid;primaryKey"`
	Name               string    `gorm:"not null"`
	PickupStartMinutes int       `gorm:"not null"`
	PickupEndMinutes   int       `gorm:"not null"`
	Timezone           string    `gorm:"not null"`
	CreatedAt          time.Time `gorm:"not null"`
}

func (Location) TableName() string { return "locations" }

func (location *Location) BeforeCreate(tx *gorm.DB) error {
	if location.LocationID == "" {
		location.LocationID = uuid.NewString()
	}
	return nil
}

// Drop mirrors the drops table. PickupDeadline is null until activation
// freezes it.
type Drop struct {
	DropID         string     `gorm:"type:uuid;primaryKey"`
	LocationID     string     `gorm:"type:uuid;not null;index"`
	DropDate       time.Time  `gorm:"not null;index"`
	Status         string     `gorm:"not null;index"`
	PickupDeadline *time.Time `gorm:""`
	Notes          string     `gorm:""`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

func (Drop) TableName() string { return "drops" }

func (drop *Drop) BeforeCreate(tx *gorm.DB) error {
	if drop.DropID == "" {
		drop.DropID = uuid.NewString()
	}
	return nil
}

// DropProduct mirrors the drop_products table. available_quantity is always
// derived as stock_quantity - reserved_quantity, never stored.
type DropProduct struct {
	DropProductID     string    `gorm:"type:uuid;primaryKey"`
	DropID            string    `gorm:"type:uuid;not null;index:idx_drop_products_drop_product,unique,priority:1"`
	ProductID         string    `gorm:"not null;index:idx_drop_products_drop_product,unique,priority:2"`
	StockQuantity     int64     `gorm:"not null;check:stock_quantity >= reserved_quantity"`
	ReservedQuantity  int64     `gorm:"not null;default:0;check:reserved_quantity >= 0"`
	SellingPriceCents int64     `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (DropProduct) TableName() string { return "drop_products" }

func (dropProduct *DropProduct) BeforeCreate(tx *gorm.DB) error {
	if dropProduct.DropProductID == "" {
		dropProduct.DropProductID = uuid.NewString()
	}
	return nil
}

// StockReservation mirrors the stock_reservations table.
type StockReservation struct {
	IntentID      string    `gorm:"primaryKey"`
	DropProductID string    `gorm:"type:uuid;primaryKey"`
	Quantity      int64     `gorm:"not null"`
	Status        string    `gorm:"not null;index"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (StockReservation) TableName() string { return "stock_reservations" }

// Client represents the clients table.
type Client struct {
	ClientID  string    `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null"`
	Email     string    `gorm:"not null;uniqueIndex"`
	Phone     string    `gorm:""`
	CreatedAt time.Time `gorm:"not null"`
}

func (Client) TableName() string { return "clients" }

func (client *Client) BeforeCreate(tx *gorm.DB) error {
	if client.ClientID == "" {
		client.ClientID = uuid.NewString()
	}
	return nil
}

// Order mirrors the orders table; intent_id carries the one-to-one link to a
// successful payment intent.
type Order struct {
	OrderID    string         `gorm:"type:uuid;primaryKey"`
	IntentID   string         `gorm:"not null;uniqueIndex:uniq_orders_intent"`
	DropID     string         `gorm:"type:uuid;not null;index"`
	ClientID   string         `gorm:"type:uuid;not null;index"`
	Status     string         `gorm:"not null"`
	TotalCents int64          `gorm:"not null"`
	PickupAt   time.Time      `gorm:"not null"`
	Snapshot   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// OrderProduct mirrors the order_products table; rows are immutable.
type OrderProduct struct {
	OrderID        string `gorm:"type:uuid;primaryKey"`
	DropProductID  string `gorm:"type:uuid;primaryKey"`
	Quantity       int64  `gorm:"not null"`
	UnitPriceCents int64  `gorm:"not null"`
}

func (OrderProduct) TableName() string { return "order_products" }
