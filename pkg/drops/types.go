package drops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// PriceCents is an integer currency in cents.
type PriceCents int64

// Quantity is a strictly positive unit count.
type Quantity int64

// DropID identifies a sale event.
type DropID struct {
	value string
}

// DropProductID identifies one product line stocked for a drop.
type DropProductID struct {
	value string
}

// ProductID identifies a catalog product.
type ProductID struct {
	value string
}

// LocationID identifies a pickup location.
type LocationID struct {
	value string
}

// IntentID identifies a payment intent at the processor.
type IntentID struct {
	value string
}

// OrderID identifies a materialized order.
type OrderID struct {
	value string
}

// ClientID identifies a client record.
type ClientID struct {
	value string
}

// DropStatus defines the drop lifecycle.
type DropStatus string

const (
	DropStatusUpcoming  DropStatus = "upcoming"
	DropStatusActive    DropStatus = "active"
	DropStatusCompleted DropStatus = "completed"
	DropStatusCancelled DropStatus = "cancelled"
)

// OrderStatus defines the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ReservationStatus defines the stock-hold lifecycle.
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusCommitted ReservationStatus = "committed"
	ReservationStatusReleased  ReservationStatus = "released"
)

// IntentStatus mirrors the payment processor's intent state.
type IntentStatus string

const (
	IntentStatusAwaitingPayment IntentStatus = "awaiting_payment"
	IntentStatusProcessing      IntentStatus = "processing"
	IntentStatusSucceeded       IntentStatus = "succeeded"
	IntentStatusCancelled       IntentStatus = "cancelled"
	IntentStatusFailed          IntentStatus = "failed"
)

// Location describes a pickup site. Pickup hours are minutes after local midnight.
type Location struct {
	LocationID         LocationID
	Name               string
	PickupStartMinutes int
	PickupEndMinutes   int
	Timezone           string
}

// Drop is a single time-boxed sale event.
//
// PickupDeadline stays nil while the drop is upcoming (it is recomputed live
// from the location's pickup hours) and is frozen permanently at activation.
type Drop struct {
	DropID         DropID
	LocationID     LocationID
	Date           time.Time
	Status         DropStatus
	PickupDeadline *time.Time
	Notes          string
}

// DropProduct is one stocked product line inside a drop. SellingPriceCents is a
// snapshot taken at creation time and never follows later catalog price edits.
type DropProduct struct {
	DropProductID     DropProductID
	DropID            DropID
	ProductID         ProductID
	StockQuantity     int64
	ReservedQuantity  int64
	SellingPriceCents PriceCents
}

// Available returns stock minus reserved.
func (dropProduct DropProduct) Available() int64 {
	return dropProduct.StockQuantity - dropProduct.ReservedQuantity
}

// StockReservation is one in-flight hold tying a payment intent to stock.
type StockReservation struct {
	IntentID       IntentID
	DropProductID  DropProductID
	Quantity       Quantity
	Status         ReservationStatus
	CreatedUnixUTC int64
}

// CustomerInfo is the customer portion of an intent request.
type CustomerInfo struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone,omitempty"`
	PickupAt time.Time `json:"pickup_at"`
}

// LineItem is one requested product line.
type LineItem struct {
	DropProductID  DropProductID `json:"-"`
	RawProductID   string        `json:"drop_product_id"`
	Quantity       Quantity      `json:"quantity"`
	UnitPriceCents PriceCents    `json:"unit_price_cents"`
}

// Order is a persisted, paid order. SnapshotJSON retains the intent snapshot
// the order was materialized from, for audit.
type Order struct {
	OrderID        OrderID
	IntentID       IntentID
	DropID         DropID
	ClientID       ClientID
	Status         OrderStatus
	TotalCents     PriceCents
	PickupAt       time.Time
	SnapshotJSON   string
	CreatedUnixUTC int64
}

// OrderProduct is one immutable order line.
type OrderProduct struct {
	OrderID        OrderID
	DropProductID  DropProductID
	Quantity       Quantity
	UnitPriceCents PriceCents
}

// PaymentIntent is the processor's view of an intent.
type PaymentIntent struct {
	IntentID     IntentID
	ClientSecret string
	Status       IntentStatus
	MetadataJSON string
}

// OrderConfirmation is the payload handed to the notifier after materialization.
type OrderConfirmation struct {
	OrderID    string    `json:"order_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	TotalCents int64     `json:"total_cents"`
	PickupAt   time.Time `json:"pickup_at"`
}

// NewDropID validates and normalizes a drop id.
func NewDropID(raw string) (DropID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DropID{}, fmt.Errorf("%w: empty value", ErrInvalidDropID)
	}
	return DropID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id DropID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id DropID) IsZero() bool {
	return id.value == ""
}

// NewDropProductID validates and normalizes a drop product id.
func NewDropProductID(raw string) (DropProductID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DropProductID{}, fmt.Errorf("%w: empty value", ErrInvalidDropProductID)
	}
	return DropProductID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id DropProductID) String() string {
	return id.value
}

// NewProductID validates and normalizes a product id.
func NewProductID(raw string) (ProductID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ProductID{}, fmt.Errorf("%w: empty value", ErrInvalidProductID)
	}
	return ProductID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ProductID) String() string {
	return id.value
}

// NewLocationID validates and normalizes a location id.
func NewLocationID(raw string) (LocationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return LocationID{}, fmt.Errorf("%w: empty value", ErrInvalidLocationID)
	}
	return LocationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id LocationID) String() string {
	return id.value
}

// NewIntentID validates and normalizes a payment intent id.
func NewIntentID(raw string) (IntentID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IntentID{}, fmt.Errorf("%w: empty value", ErrInvalidIntentID)
	}
	return IntentID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id IntentID) String() string {
	return id.value
}

// NewOrderID validates and normalizes an order id.
func NewOrderID(raw string) (OrderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OrderID{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	return OrderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OrderID) String() string {
	return id.value
}

// NewClientID validates and normalizes a client id.
func NewClientID(raw string) (ClientID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ClientID{}, fmt.Errorf("%w: empty value", ErrInvalidClientID)
	}
	return ClientID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ClientID) String() string {
	return id.value
}

// NewQuantity validates a strictly positive quantity.
func NewQuantity(raw int64) (Quantity, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidQuantity)
	}
	return Quantity(raw), nil
}

// Int64 returns the raw count.
func (quantity Quantity) Int64() int64 {
	return int64(quantity)
}

// NewPriceCents validates a strictly positive price.
func NewPriceCents(raw int64) (PriceCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPriceCents)
	}
	return PriceCents(raw), nil
}

// Int64 returns the raw amount.
func (price PriceCents) Int64() int64 {
	return int64(price)
}

// ParseDropStatus validates a raw drop status.
func ParseDropStatus(raw string) (DropStatus, error) {
	switch DropStatus(raw) {
	case DropStatusUpcoming, DropStatusActive, DropStatusCompleted, DropStatusCancelled:
		return DropStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDropStatus, raw)
}

// String returns the raw status.
func (status DropStatus) String() string {
	return string(status)
}

// Terminal reports whether no further transitions are allowed.
func (status DropStatus) Terminal() bool {
	return status == DropStatusCompleted || status == DropStatusCancelled
}

// ParseOrderStatus validates a raw order status.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch OrderStatus(raw) {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return OrderStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOrderStatus, raw)
}

// String returns the raw status.
func (status OrderStatus) String() string {
	return string(status)
}

// ParseReservationStatus validates a raw reservation status.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	switch ReservationStatus(raw) {
	case ReservationStatusActive, ReservationStatusCommitted, ReservationStatusReleased:
		return ReservationStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReservationStatus, raw)
}

// String returns the raw status.
func (status ReservationStatus) String() string {
	return string(status)
}

// String returns the raw status.
func (status IntentStatus) String() string {
	return string(status)
}

// Reusable reports whether a client may keep using an intent it already holds.
// Only an intent still awaiting payment qualifies.
func (status IntentStatus) Reusable() bool {
	return status == IntentStatusAwaitingPayment
}

// NewCustomerInfo validates customer input for an intent request.
func NewCustomerInfo(name string, email string, phone string, pickupAt time.Time) (CustomerInfo, error) {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return CustomerInfo{}, fmt.Errorf("%w: name is required", ErrInvalidCustomerInfo)
	}
	trimmedEmail := strings.TrimSpace(email)
	if trimmedEmail == "" {
		return CustomerInfo{}, fmt.Errorf("%w: email is required", ErrInvalidCustomerInfo)
	}
	parsedAddress, err := mail.ParseAddress(trimmedEmail)
	if err != nil {
		return CustomerInfo{}, fmt.Errorf("%w: malformed email %q", ErrInvalidCustomerInfo, trimmedEmail)
	}
	if pickupAt.IsZero() {
		return CustomerInfo{}, fmt.Errorf("%w: pickup time is required", ErrInvalidCustomerInfo)
	}
	return CustomerInfo{
		Name:     trimmedName,
		Email:    parsedAddress.Address,
		Phone:    strings.TrimSpace(phone),
		PickupAt: pickupAt,
	}, nil
}

// NewLineItem validates one requested line.
func NewLineItem(dropProductID DropProductID, quantity Quantity, unitPrice PriceCents) LineItem {
	return LineItem{
		DropProductID:  dropProductID,
		RawProductID:   dropProductID.String(),
		Quantity:       quantity,
		UnitPriceCents: unitPrice,
	}
}

// IntentSnapshot is the strongly-typed payload serialized once into the
// processor intent's metadata and deserialized once at materialization.
type IntentSnapshot struct {
	Customer CustomerInfo `json:"customer"`
	Items    []LineItem   `json:"items"`
	DropID   string       `json:"drop_id"`
}

// TotalCents sums the snapshot's line amounts.
func (snapshot IntentSnapshot) TotalCents() int64 {
	var total int64
	for _, item := range snapshot.Items {
		total += item.Quantity.Int64() * item.UnitPriceCents.Int64()
	}
	return total
}

// Encode serializes the snapshot for the processor metadata field.
func (snapshot IntentSnapshot) Encode() (string, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return string(raw), nil
}

// DecodeSnapshot parses a snapshot out of processor metadata and restores the
// typed line identifiers.
func DecodeSnapshot(raw string) (IntentSnapshot, error) {
	var snapshot IntentSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return IntentSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if len(snapshot.Items) == 0 {
		return IntentSnapshot{}, fmt.Errorf("%w: no line items", ErrInvalidSnapshot)
	}
	for index := range snapshot.Items {
		dropProductID, err := NewDropProductID(snapshot.Items[index].RawProductID)
		if err != nil {
			return IntentSnapshot{}, fmt.Errorf("%w: item %d: %v", ErrInvalidSnapshot, index, err)
		}
		snapshot.Items[index].DropProductID = dropProductID
		if snapshot.Items[index].Quantity <= 0 {
			return IntentSnapshot{}, fmt.Errorf("%w: item %d: non-positive quantity", ErrInvalidSnapshot, index)
		}
		if snapshot.Items[index].UnitPriceCents <= 0 {
			return IntentSnapshot{}, fmt.Errorf("%w: item %d: non-positive price", ErrInvalidSnapshot, index)
		}
	}
	return snapshot, nil
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetLocation(ctx context.Context, locationID LocationID) (Location, error)

	CreateDrop(ctx context.Context, drop Drop) error
	GetDrop(ctx context.Context, dropID DropID) (Drop, error)
	ListDrops(ctx context.Context, limit int) ([]Drop, error)
	ListDropsByStatus(ctx context.Context, status DropStatus) ([]Drop, error)
	// UpdateDropStatus transitions from -> to as a single conditional update;
	// zero rows affected means the drop was not in the expected state.
	// frozenDeadline, when non-nil, is written in the same statement.
	UpdateDropStatus(ctx context.Context, dropID DropID, from DropStatus, to DropStatus, frozenDeadline *time.Time) error
	DeleteDrop(ctx context.Context, dropID DropID) error

	CreateDropProduct(ctx context.Context, dropProduct DropProduct) error
	GetDropProduct(ctx context.Context, dropProductID DropProductID) (DropProduct, error)
	ListDropProducts(ctx context.Context, dropID DropID) ([]DropProduct, error)
	// SetStockQuantity refuses to shrink stock below the reserved quantity.
	SetStockQuantity(ctx context.Context, dropProductID DropProductID, stock int64) error

	// ReserveStock increments reserved_quantity by quantity as a single
	// conditional update that only succeeds while stock - reserved >= quantity.
	ReserveStock(ctx context.Context, dropProductID DropProductID, quantity Quantity) error
	// ReleaseStock decrements reserved_quantity, failing on underflow.
	ReleaseStock(ctx context.Context, dropProductID DropProductID, quantity Quantity) error
	// CommitStock decrements stock_quantity and reserved_quantity together,
	// leaving availability unchanged.
	CommitStock(ctx context.Context, dropProductID DropProductID, quantity Quantity) error

	CreateStockReservation(ctx context.Context, reservation StockReservation) error
	ListReservationsByIntent(ctx context.Context, intentID IntentID) ([]StockReservation, error)
	ListActiveReservationsByDrop(ctx context.Context, dropID DropID) ([]StockReservation, error)
	ListStaleActiveReservations(ctx context.Context, beforeUnixUTC int64) ([]StockReservation, error)
	UpdateReservationStatus(ctx context.Context, intentID IntentID, dropProductID DropProductID, from ReservationStatus, to ReservationStatus) error
	RebindReservationIntent(ctx context.Context, from IntentID, to IntentID) error

	GetOrCreateClientID(ctx context.Context, customer CustomerInfo) (ClientID, error)

	CreateOrder(ctx context.Context, order Order, lines []OrderProduct) error
	FindOrderByIntent(ctx context.Context, intentID IntentID) (Order, error)
	CountOrdersByDrop(ctx context.Context, dropID DropID) (int64, error)
}

// PaymentProcessor is the external payment collaborator.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadataJSON string) (PaymentIntent, error)
	RetrieveIntent(ctx context.Context, intentID IntentID) (PaymentIntent, error)
}

// Notifier delivers order confirmations, fire-and-forget.
type Notifier interface {
	Send(ctx context.Context, confirmation OrderConfirmation) error
}
