package drops

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// stubStore is an in-memory Store used across the package tests. All methods
// hold one mutex so concurrent reservation tests exercise the same
// check-then-update atomicity the SQL store provides.
type stubStore struct {
	mu               sync.Mutex
	locations        map[string]Location
	drops            map[string]Drop
	products         map[string]DropProduct
	reservations     map[string]StockReservation
	reservationOrder []string
	clients          map[string]ClientID
	orders           map[string]Order
	orderLines       map[string][]OrderProduct

	reserveErr error
	releaseErr error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		locations:    make(map[string]Location),
		drops:        make(map[string]Drop),
		products:     make(map[string]DropProduct),
		reservations: make(map[string]StockReservation),
		clients:      make(map[string]ClientID),
		orders:       make(map[string]Order),
		orderLines:   make(map[string][]OrderProduct),
	}
}

func reservationKey(intentID IntentID, dropProductID DropProductID) string {
	return intentID.String() + "|" + dropProductID.String()
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetLocation(ctx context.Context, locationID LocationID) (Location, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	location, found := store.locations[locationID.String()]
	if !found {
		return Location{}, ErrUnknownLocation
	}
	return location, nil
}

func (store *stubStore) CreateDrop(ctx context.Context, drop Drop) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.drops[drop.DropID.String()] = drop
	return nil
}

func (store *stubStore) GetDrop(ctx context.Context, dropID DropID) (Drop, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	drop, found := store.drops[dropID.String()]
	if !found {
		return Drop{}, ErrUnknownDrop
	}
	return drop, nil
}

func (store *stubStore) ListDrops(ctx context.Context, limit int) ([]Drop, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listed := make([]Drop, 0, len(store.drops))
	for _, drop := range store.drops {
		listed = append(listed, drop)
	}
	if limit > 0 && len(listed) > limit {
		listed = listed[:limit]
	}
	return listed, nil
}

func (store *stubStore) ListDropsByStatus(ctx context.Context, status DropStatus) ([]Drop, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listed := make([]Drop, 0)
	for _, drop := range store.drops {
		if drop.Status == status {
			listed = append(listed, drop)
		}
	}
	return listed, nil
}

func (store *stubStore) UpdateDropStatus(ctx context.Context, dropID DropID, from DropStatus, to DropStatus, frozenDeadline *time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	drop, found := store.drops[dropID.String()]
	if !found {
		return ErrUnknownDrop
	}
	if drop.Status != from {
		return ErrInvalidTransition
	}
	drop.Status = to
	if frozenDeadline != nil {
		frozen := *frozenDeadline
		drop.PickupDeadline = &frozen
	}
	store.drops[dropID.String()] = drop
	return nil
}

func (store *stubStore) DeleteDrop(ctx context.Context, dropID DropID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, found := store.drops[dropID.String()]; !found {
		return ErrUnknownDrop
	}
	delete(store.drops, dropID.String())
	for key, product := range store.products {
		if product.DropID == dropID {
			delete(store.products, key)
		}
	}
	return nil
}

func (store *stubStore) CreateDropProduct(ctx context.Context, dropProduct DropProduct) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.products[dropProduct.DropProductID.String()] = dropProduct
	return nil
}

func (store *stubStore) GetDropProduct(ctx context.Context, dropProductID DropProductID) (DropProduct, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	product, found := store.products[dropProductID.String()]
	if !found {
		return DropProduct{}, ErrUnknownDropProduct
	}
	return product, nil
}

func (store *stubStore) ListDropProducts(ctx context.Context, dropID DropID) ([]DropProduct, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listed := make([]DropProduct, 0)
	for _, product := range store.products {
		if product.DropID == dropID {
			listed = append(listed, product)
		}
	}
	return listed, nil
}

func (store *stubStore) SetStockQuantity(ctx context.Context, dropProductID DropProductID, stock int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	product, found := store.products[dropProductID.String()]
	if !found {
		return ErrUnknownDropProduct
	}
	if product.ReservedQuantity > stock {
		return ErrStockBelowReserved
	}
	product.StockQuantity = stock
	store.products[dropProductID.String()] = product
	return nil
}

func (store *stubStore) ReserveStock(ctx context.Context, dropProductID DropProductID, quantity Quantity) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.reserveErr != nil {
		return store.reserveErr
	}
	product, found := store.products[dropProductID.String()]
	if !found {
		return ErrUnknownDropProduct
	}
	if product.Available() < quantity.Int64() {
		return ErrInsufficientStock
	}
	product.ReservedQuantity += quantity.Int64()
	store.products[dropProductID.String()] = product
	return nil
}

func (store *stubStore) ReleaseStock(ctx context.Context, dropProductID DropProductID, quantity Quantity) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.releaseErr != nil {
		return store.releaseErr
	}
	product, found := store.products[dropProductID.String()]
	if !found {
		return ErrStockInconsistent
	}
	if product.ReservedQuantity < quantity.Int64() {
		return ErrStockInconsistent
	}
	product.ReservedQuantity -= quantity.Int64()
	store.products[dropProductID.String()] = product
	return nil
}

func (store *stubStore) CommitStock(ctx context.Context, dropProductID DropProductID, quantity Quantity) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	product, found := store.products[dropProductID.String()]
	if !found {
		return ErrStockInconsistent
	}
	if product.ReservedQuantity < quantity.Int64() {
		return ErrStockInconsistent
	}
	product.ReservedQuantity -= quantity.Int64()
	product.StockQuantity -= quantity.Int64()
	store.products[dropProductID.String()] = product
	return nil
}

func (store *stubStore) CreateStockReservation(ctx context.Context, reservation StockReservation) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	key := reservationKey(reservation.IntentID, reservation.DropProductID)
	if _, exists := store.reservations[key]; exists {
		return ErrReservationExists
	}
	store.reservations[key] = reservation
	store.reservationOrder = append(store.reservationOrder, key)
	return nil
}

func (store *stubStore) ListReservationsByIntent(ctx context.Context, intentID IntentID) ([]StockReservation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listed := make([]StockReservation, 0)
	for _, key := range store.reservationOrder {
		reservation, found := store.reservations[key]
		if found && reservation.IntentID == intentID {
			listed = append(listed, reservation)
		}
	}
	return listed, nil
}

func (store *stubStore) ListActiveReservationsByDrop(ctx context.Context, dropID DropID) ([]StockReservation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listed := make([]StockReservation, 0)
	for _, key := range store.reservationOrder {
		reservation, found := store.reservations[key]
		if !found || reservation.Status != ReservationStatusActive {
			continue
		}
		product, productFound := store.products[reservation.DropProductID.String()]
		if productFound && product.DropID == dropID {
			listed = append(listed, reservation)
		}
	}
	return listed, nil
}

func (store *stubStore) ListStaleActiveReservations(ctx context.Context, beforeUnixUTC int64) ([]StockReservation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listed := make([]StockReservation, 0)
	for _, key := range store.reservationOrder {
		reservation, found := store.reservations[key]
		if found && reservation.Status == ReservationStatusActive && reservation.CreatedUnixUTC < beforeUnixUTC {
			listed = append(listed, reservation)
		}
	}
	return listed, nil
}

func (store *stubStore) UpdateReservationStatus(ctx context.Context, intentID IntentID, dropProductID DropProductID, from ReservationStatus, to ReservationStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	key := reservationKey(intentID, dropProductID)
	reservation, found := store.reservations[key]
	if !found || reservation.Status != from {
		return ErrReservationClosed
	}
	reservation.Status = to
	store.reservations[key] = reservation
	return nil
}

func (store *stubStore) RebindReservationIntent(ctx context.Context, from IntentID, to IntentID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	moved := 0
	for index, key := range store.reservationOrder {
		reservation, found := store.reservations[key]
		if !found || reservation.IntentID != from {
			continue
		}
		delete(store.reservations, key)
		reservation.IntentID = to
		newKey := reservationKey(to, reservation.DropProductID)
		store.reservations[newKey] = reservation
		store.reservationOrder[index] = newKey
		moved++
	}
	if moved == 0 {
		return ErrUnknownIntent
	}
	return nil
}

func (store *stubStore) GetOrCreateClientID(ctx context.Context, customer CustomerInfo) (ClientID, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if clientID, found := store.clients[customer.Email]; found {
		return clientID, nil
	}
	clientID, err := NewClientID(fmt.Sprintf("client-%d", len(store.clients)+1))
	if err != nil {
		return ClientID{}, err
	}
	store.clients[customer.Email] = clientID
	return clientID, nil
}

func (store *stubStore) CreateOrder(ctx context.Context, order Order, lines []OrderProduct) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.orders[order.IntentID.String()]; exists {
		return ErrOrderExists
	}
	store.orders[order.IntentID.String()] = order
	store.orderLines[order.OrderID.String()] = lines
	return nil
}

func (store *stubStore) FindOrderByIntent(ctx context.Context, intentID IntentID) (Order, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	order, found := store.orders[intentID.String()]
	if !found {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (store *stubStore) CountOrdersByDrop(ctx context.Context, dropID DropID) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var count int64
	for _, order := range store.orders {
		if order.DropID == dropID {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) mustProduct(test *testing.T, dropProductID DropProductID) DropProduct {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	product, found := store.products[dropProductID.String()]
	if !found {
		test.Fatalf("missing drop product %s", dropProductID.String())
	}
	return product
}

func (store *stubStore) mustReservation(test *testing.T, intentID IntentID, dropProductID DropProductID) StockReservation {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	reservation, found := store.reservations[reservationKey(intentID, dropProductID)]
	if !found {
		test.Fatalf("missing reservation %s/%s", intentID.String(), dropProductID.String())
	}
	return reservation
}

// stubProcessor is an in-memory PaymentProcessor.
type stubProcessor struct {
	mu        sync.Mutex
	createErr error
	intents   map[string]PaymentIntent
	counter   int
}

func newStubProcessor() *stubProcessor {
	return &stubProcessor{intents: make(map[string]PaymentIntent)}
}

func (processor *stubProcessor) CreateIntent(ctx context.Context, amountCents int64, currency string, metadataJSON string) (PaymentIntent, error) {
	processor.mu.Lock()
	defer processor.mu.Unlock()
	if processor.createErr != nil {
		return PaymentIntent{}, processor.createErr
	}
	processor.counter++
	intentID, err := NewIntentID(fmt.Sprintf("pi-%d", processor.counter))
	if err != nil {
		return PaymentIntent{}, err
	}
	intent := PaymentIntent{
		IntentID:     intentID,
		ClientSecret: fmt.Sprintf("secret-%d", processor.counter),
		Status:       IntentStatusAwaitingPayment,
		MetadataJSON: metadataJSON,
	}
	processor.intents[intentID.String()] = intent
	return intent, nil
}

func (processor *stubProcessor) RetrieveIntent(ctx context.Context, intentID IntentID) (PaymentIntent, error) {
	processor.mu.Lock()
	defer processor.mu.Unlock()
	intent, found := processor.intents[intentID.String()]
	if !found {
		return PaymentIntent{}, fmt.Errorf("intent %s not found", intentID.String())
	}
	return intent, nil
}

func (processor *stubProcessor) setStatus(test *testing.T, intentID IntentID, status IntentStatus) {
	test.Helper()
	processor.mu.Lock()
	defer processor.mu.Unlock()
	intent, found := processor.intents[intentID.String()]
	if !found {
		test.Fatalf("missing processor intent %s", intentID.String())
	}
	intent.Status = status
	processor.intents[intentID.String()] = intent
}

// stubNotifier records confirmations and can be forced to fail.
type stubNotifier struct {
	mu      sync.Mutex
	sendErr error
	sent    []OrderConfirmation
}

func (notifier *stubNotifier) Send(ctx context.Context, confirmation OrderConfirmation) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.sendErr != nil {
		return notifier.sendErr
	}
	notifier.sent = append(notifier.sent, confirmation)
	return nil
}

func mustNewService(test *testing.T, store Store, now func() time.Time, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustDropID(test *testing.T, raw string) DropID {
	test.Helper()
	value, err := NewDropID(raw)
	if err != nil {
		test.Fatalf("drop id: %v", err)
	}
	return value
}

func mustDropProductID(test *testing.T, raw string) DropProductID {
	test.Helper()
	value, err := NewDropProductID(raw)
	if err != nil {
		test.Fatalf("drop product id: %v", err)
	}
	return value
}

func mustProductID(test *testing.T, raw string) ProductID {
	test.Helper()
	value, err := NewProductID(raw)
	if err != nil {
		test.Fatalf("product id: %v", err)
	}
	return value
}

func mustLocationID(test *testing.T, raw string) LocationID {
	test.Helper()
	value, err := NewLocationID(raw)
	if err != nil {
		test.Fatalf("location id: %v", err)
	}
	return value
}

func mustIntentID(test *testing.T, raw string) IntentID {
	test.Helper()
	value, err := NewIntentID(raw)
	if err != nil {
		test.Fatalf("intent id: %v", err)
	}
	return value
}

func mustQuantity(test *testing.T, raw int64) Quantity {
	test.Helper()
	value, err := NewQuantity(raw)
	if err != nil {
		test.Fatalf("quantity: %v", err)
	}
	return value
}

func mustPriceCents(test *testing.T, raw int64) PriceCents {
	test.Helper()
	value, err := NewPriceCents(raw)
	if err != nil {
		test.Fatalf("price cents: %v", err)
	}
	return value
}
