package drops

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var testDeadline = time.Date(2025, time.June, 7, 14, 0, 0, 0, time.UTC)

func testNow() time.Time {
	return testDeadline.Add(-2 * time.Hour)
}

func seedLocation(test *testing.T, store *stubStore) LocationID {
	test.Helper()
	locationID := mustLocationID(test, "loc-1")
	store.locations[locationID.String()] = Location{
		LocationID:         locationID,
		Name:               "Northside Market",
		PickupStartMinutes: 12 * 60,
		PickupEndMinutes:   14 * 60,
		Timezone:           "UTC",
	}
	return locationID
}

func seedActiveDrop(test *testing.T, store *stubStore) DropID {
	test.Helper()
	locationID := seedLocation(test, store)
	dropID := mustDropID(test, "drop-1")
	frozen := testDeadline
	store.drops[dropID.String()] = Drop{
		DropID:         dropID,
		LocationID:     locationID,
		Date:           testDeadline.Truncate(24 * time.Hour),
		Status:         DropStatusActive,
		PickupDeadline: &frozen,
	}
	return dropID
}

func seedProduct(test *testing.T, store *stubStore, dropID DropID, raw string, stock int64, priceCents int64) DropProductID {
	test.Helper()
	dropProductID := mustDropProductID(test, raw)
	store.products[dropProductID.String()] = DropProduct{
		DropProductID:     dropProductID,
		DropID:            dropID,
		ProductID:         mustProductID(test, "prod-"+raw),
		StockQuantity:     stock,
		SellingPriceCents: mustPriceCents(test, priceCents),
	}
	return dropProductID
}

func TestReserveLastUnitUnderContention(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dropID := seedActiveDrop(test, store)
	dropProductID := seedProduct(test, store, dropID, "dp-1", 1, 1500)
	service := mustNewService(test, store, testNow)

	const attempts = 8
	var wait sync.WaitGroup
	results := make(chan error, attempts)
	for index := 0; index < attempts; index++ {
		wait.Add(1)
		go func() {
			defer wait.Done()
			results <- service.Reserve(context.Background(), dropProductID, mustQuantity(test, 1))
		}()
	}
	wait.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, ErrInsufficientStock) {
			test.Fatalf("unexpected reserve error: %v", err)
		}
	}
	if successes != 1 {
		test.Fatalf("expected exactly 1 successful reservation, got %d", successes)
	}
	product := store.mustProduct(test, dropProductID)
	if product.ReservedQuantity != 1 {
		test.Fatalf("expected reserved 1, got %d", product.ReservedQuantity)
	}
}

func TestReserveRefusesExpiredDrop(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dropID := seedActiveDrop(test, store)
	dropProductID := seedProduct(test, store, dropID, "dp-1", 5, 1500)
	expiredNow := func() time.Time { return testDeadline.Add(time.Hour) }
	service := mustNewService(test, store, expiredNow)

	err := service.Reserve(context.Background(), dropProductID, mustQuantity(test, 1))
	if !errors.Is(err, ErrNotOrderable) {
		test.Fatalf("expected ErrNotOrderable, got %v", err)
	}
	product := store.mustProduct(test, dropProductID)
	if product.ReservedQuantity != 0 {
		test.Fatalf("expected no reservation, got %d", product.ReservedQuantity)
	}
}

func TestReserveLinesAllOrNothing(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dropID := seedActiveDrop(test, store)
	plentiful := seedProduct(test, store, dropID, "dp-a", 5, 1000)
	scarce := seedProduct(test, store, dropID, "dp-b", 1, 2000)
	service := mustNewService(test, store, testNow)
	intentID := mustIntentID(test, "hold-1")

	lines := []LineItem{
		NewLineItem(plentiful, mustQuantity(test, 2), mustPriceCents(test, 1000)),
		NewLineItem(scarce, mustQuantity(test, 3), mustPriceCents(test, 2000)),
	}
	err := service.ReserveLines(context.Background(), intentID, lines)

	var insufficientError *InsufficientStockError
	if !errors.As(err, &insufficientError) {
		test.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(insufficientError.Unavailable) != 1 {
		test.Fatalf("expected 1 unavailable line, got %d", len(insufficientError.Unavailable))
	}
	shortfall := insufficientError.Unavailable[0]
	if shortfall.DropProductID != scarce {
		test.Fatalf("expected shortfall on %s, got %s", scarce.String(), shortfall.DropProductID.String())
	}
	if shortfall.Requested != 3 || shortfall.Available != 1 {
		test.Fatalf("expected requested=3 available=1, got requested=%d available=%d", shortfall.Requested, shortfall.Available)
	}
	// The successfully reserved line must have been rolled back.
	if reserved := store.mustProduct(test, plentiful).ReservedQuantity; reserved != 0 {
		test.Fatalf("expected rollback to 0 reserved, got %d", reserved)
	}
	if reserved := store.mustProduct(test, scarce).ReservedQuantity; reserved != 0 {
		test.Fatalf("expected untouched scarce line, got reserved %d", reserved)
	}
}

func TestReserveLinesReportsEveryShortfall(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dropID := seedActiveDrop(test, store)
	first := seedProduct(test, store, dropID, "dp-a", 1, 1000)
	second := seedProduct(test, store, dropID, "dp-b", 2, 2000)
	service := mustNewService(test, store, testNow)

	lines := []LineItem{
		NewLineItem(first, mustQuantity(test, 4), mustPriceCents(test, 1000)),
		NewLineItem(second, mustQuantity(test, 5), mustPriceCents(test, 2000)),
	}
	err := service.ReserveLines(context.Background(), mustIntentID(test, "hold-2"), lines)

	var insufficientError *InsufficientStockError
	if !errors.As(err, &insufficientError) {
		test.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(insufficientError.Unavailable) != 2 {
		test.Fatalf("expected both lines reported, got %d", len(insufficientError.Unavailable))
	}
}

func TestReserveLinesPropagatesStorageFailure(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dropID := seedActiveDrop(test, store)
	dropProductID := seedProduct(test, store, dropID, "dp-1", 5, 1500)
	storageError := errors.New("connection reset")
	store.reserveErr = storageError
	service := mustNewService(test, store, testNow)

	lines := []LineItem{NewLineItem(dropProductID, mustQuantity(test, 1), mustPriceCents(test, 1500))}
	err := service.ReserveLines(context.Background(), mustIntentID(test, "hold-9"), lines)
	if !errors.Is(err, storageError) {
		test.Fatalf("expected storage error to propagate, got %v", err)
	}
	var insufficientError *InsufficientStockError
	if errors.As(err, &insufficientError) {
		test.Fatalf("storage failure must not read as a shortfall: %v", err)
	}
}

func TestReserveLinesSurfacesFailedRollback(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dropID := seedActiveDrop(test, store)
	stocked := seedProduct(test, store, dropID, "dp-a", 5, 1000)
	depleted := seedProduct(test, store, dropID, "dp-b", 0, 2000)
	store.releaseErr = errors.New("connection reset")
	service := mustNewService(test, store, testNow)

	lines := []LineItem{
		NewLineItem(stocked, mustQuantity(test, 1), mustPriceCents(test, 1000)),
		NewLineItem(depleted, mustQuantity(test, 1), mustPriceCents(test, 2000)),
	}
	err := service.ReserveLines(context.Background(), mustIntentID(test, "hold-10"), lines)
	if !errors.Is(err, ErrReservationReleaseFailed) {
		test.Fatalf("expected ErrReservationReleaseFailed, got %v", err)
	}
}

func TestReleaseIntentRestoresAvailability(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dropID := seedActiveDrop(test, store)
	dropProductID := seedProduct(test, store, dropID, "dp-1", 5, 1500)
	service := mustNewService(test, store, testNow)
	intentID := mustIntentID(test, "hold-3")

	lines := []LineItem{NewLineItem(dropProductID, mustQuantity(test, 2), mustPriceCents(test, 1500))}
	if err := service.ReserveLines(context.Background(), intentID, lines); err != nil {
		test.Fatalf("reserve lines: %v", err)
	}
	if available := store.mustProduct(test, dropProductID).Available(); available != 3 {
		test.Fatalf("expected availability 3 after hold, got %d", available)
	}

	if err := service.ReleaseIntent(context.Background(), intentID); err != nil {
		test.Fatalf("release intent: %v", err)
	}
	if available := store.mustProduct(test, dropProductID).Available(); available != 5 {
		test.Fatalf("expected availability 5 after release, got %d", available)
	}
	reservation := store.mustReservation(test, intentID, dropProductID)
	if reservation.Status != ReservationStatusReleased {
		test.Fatalf("expected released reservation, got %s", reservation.Status)
	}
}

func TestReleaseIntentIsIdempotentForClosedHolds(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dropID := seedActiveDrop(test, store)
	dropProductID := seedProduct(test, store, dropID, "dp-1", 5, 1500)
	service := mustNewService(test, store, testNow)
	intentID := mustIntentID(test, "hold-4")

	lines := []LineItem{NewLineItem(dropProductID, mustQuantity(test, 2), mustPriceCents(test, 1500))}
	if err := service.ReserveLines(context.Background(), intentID, lines); err != nil {
		test.Fatalf("reserve lines: %v", err)
	}
	if err := service.ReleaseIntent(context.Background(), intentID); err != nil {
		test.Fatalf("first release: %v", err)
	}
	if err := service.ReleaseIntent(context.Background(), intentID); err != nil {
		test.Fatalf("second release: %v", err)
	}
	if available := store.mustProduct(test, dropProductID).Available(); available != 5 {
		test.Fatalf("double release corrupted availability: %d", available)
	}
}

func TestCommitIntentConsumesStock(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dropID := seedActiveDrop(test, store)
	dropProductID := seedProduct(test, store, dropID, "dp-1", 5, 1500)
	service := mustNewService(test, store, testNow)
	intentID := mustIntentID(test, "hold-5")

	lines := []LineItem{NewLineItem(dropProductID, mustQuantity(test, 2), mustPriceCents(test, 1500))}
	if err := service.ReserveLines(context.Background(), intentID, lines); err != nil {
		test.Fatalf("reserve lines: %v", err)
	}
	availableBefore := store.mustProduct(test, dropProductID).Available()

	if err := service.CommitIntent(context.Background(), intentID); err != nil {
		test.Fatalf("commit intent: %v", err)
	}
	product := store.mustProduct(test, dropProductID)
	if product.StockQuantity != 3 || product.ReservedQuantity != 0 {
		test.Fatalf("expected stock=3 reserved=0, got stock=%d reserved=%d", product.StockQuantity, product.ReservedQuantity)
	}
	// Commit converts a hold into consumed stock; availability must not move.
	if product.Available() != availableBefore {
		test.Fatalf("commit changed availability from %d to %d", availableBefore, product.Available())
	}
	reservation := store.mustReservation(test, intentID, dropProductID)
	if reservation.Status != ReservationStatusCommitted {
		test.Fatalf("expected committed reservation, got %s", reservation.Status)
	}
}

func TestCommitIntentUnknownIntent(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, testNow)

	err := service.CommitIntent(context.Background(), mustIntentID(test, "missing"))
	if !errors.Is(err, ErrUnknownIntent) {
		test.Fatalf("expected ErrUnknownIntent, got %v", err)
	}
}

func TestCommitIntentRefusesReleasedHolds(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dropID := seedActiveDrop(test, store)
	dropProductID := seedProduct(test, store, dropID, "dp-1", 5, 1500)
	service := mustNewService(test, store, testNow)
	intentID := mustIntentID(test, "hold-12")

	lines := []LineItem{NewLineItem(dropProductID, mustQuantity(test, 2), mustPriceCents(test, 1500))}
	if err := service.ReserveLines(context.Background(), intentID, lines); err != nil {
		test.Fatalf("reserve lines: %v", err)
	}
	if err := service.ReleaseIntent(context.Background(), intentID); err != nil {
		test.Fatalf("release intent: %v", err)
	}

	if err := service.CommitIntent(context.Background(), intentID); !errors.Is(err, ErrReservationClosed) {
		test.Fatalf("expected ErrReservationClosed, got %v", err)
	}
	product := store.mustProduct(test, dropProductID)
	if product.StockQuantity != 5 || product.ReservedQuantity != 0 {
		test.Fatalf("released holds must not be consumed, got stock=%d reserved=%d", product.StockQuantity, product.ReservedQuantity)
	}
}

func TestReserveLinesRefusesClosedDrop(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dropID := seedActiveDrop(test, store)
	dropProductID := seedProduct(test, store, dropID, "dp-1", 5, 1500)
	service := mustNewService(test, store, testNow)

	if err := service.ChangeStatus(context.Background(), dropID, DropStatusCompleted, "admin@example.com"); err != nil {
		test.Fatalf("complete: %v", err)
	}
	lines := []LineItem{NewLineItem(dropProductID, mustQuantity(test, 1), mustPriceCents(test, 1500))}
	err := service.ReserveLines(context.Background(), mustIntentID(test, "hold-11"), lines)
	if !errors.Is(err, ErrNotOrderable) {
		test.Fatalf("expected ErrNotOrderable, got %v", err)
	}
	if reserved := store.mustProduct(test, dropProductID).ReservedQuantity; reserved != 0 {
		test.Fatalf("no hold may exist on a completed drop, got reserved %d", reserved)
	}
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, testNow); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for nil clock, got %v", err)
	}
}
