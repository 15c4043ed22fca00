package drops

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service contains the domain logic over a Store.
type Service struct {
	store     Store
	processor PaymentProcessor
	notifier  Notifier
	nowFn     func() time.Time
	grace     time.Duration
	logger    OperationLogger
}

// NewService wires a Service. The payment processor and notifier are optional
// collaborators supplied through options; operations that need them fail with
// ErrInvalidServiceConfig when they are absent.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, grace: DefaultGracePeriod}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Availability returns stock minus reserved for one drop product.
func (service *Service) Availability(ctx context.Context, dropProductID DropProductID) (int64, error) {
	dropProduct, err := service.store.GetDropProduct(ctx, dropProductID)
	if err != nil {
		return 0, err
	}
	return dropProduct.Available(), nil
}

// Reserve places a hold on a single drop product. The stock decrement is one
// conditional update at the storage layer; two concurrent calls for the last
// unit cannot both succeed.
func (service *Service) Reserve(ctx context.Context, dropProductID DropProductID, quantity Quantity) error {
	operationError := service.reserveOne(ctx, service.store, dropProductID, quantity)
	service.logOperation(ctx, OperationLog{
		Operation: operationReserve,
		Quantity:  quantity.Int64(),
		Error:     operationError,
	})
	return operationError
}

func (service *Service) reserveOne(ctx context.Context, store Store, dropProductID DropProductID, quantity Quantity) error {
	dropProduct, err := store.GetDropProduct(ctx, dropProductID)
	if err != nil {
		return err
	}
	drop, err := store.GetDrop(ctx, dropProduct.DropID)
	if err != nil {
		return err
	}
	verdict, err := service.orderability(ctx, store, drop)
	if err != nil {
		return err
	}
	if !verdict.Orderable {
		return fmt.Errorf("%w: %s", ErrNotOrderable, verdict.Reason)
	}
	return store.ReserveStock(ctx, dropProductID, quantity)
}

// ReserveLines reserves every line as one logical unit, tied to intentID.
// On any shortfall the lines already reserved in this call are released before
// returning and the error names every unavailable line. The lines do not run
// inside one cross-row transaction; each hold is its own atomic conditional
// update with explicit compensation on failure.
func (service *Service) ReserveLines(ctx context.Context, intentID IntentID, lines []LineItem) error {
	operationError := service.reserveLines(ctx, intentID, lines)
	service.logOperation(ctx, OperationLog{
		Operation: operationReserve,
		IntentID:  intentID,
		Quantity:  sumQuantities(lines),
		Error:     operationError,
	})
	return operationError
}

func (service *Service) reserveLines(ctx context.Context, intentID IntentID, lines []LineItem) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: empty reservation", ErrInvalidLineItems)
	}
	if err := service.ensureLinesOrderable(ctx, lines); err != nil {
		return err
	}
	reserved := make([]LineItem, 0, len(lines))
	var unavailable []UnavailableLine
	for _, line := range lines {
		if len(unavailable) > 0 {
			// A prior line already failed; only report this line's availability.
			if shortfall, checkErr := service.checkShortfall(ctx, line); checkErr == nil && shortfall != nil {
				unavailable = append(unavailable, *shortfall)
			}
			continue
		}
		err := service.store.ReserveStock(ctx, line.DropProductID, line.Quantity)
		if errors.Is(err, ErrInsufficientStock) {
			shortfall, checkErr := service.checkShortfall(ctx, line)
			if checkErr != nil {
				unavailable = append(unavailable, UnavailableLine{DropProductID: line.DropProductID, Requested: line.Quantity.Int64()})
			} else if shortfall != nil {
				unavailable = append(unavailable, *shortfall)
			} else {
				unavailable = append(unavailable, UnavailableLine{DropProductID: line.DropProductID, Requested: line.Quantity.Int64()})
			}
			continue
		}
		if err != nil {
			if releaseErr := service.releaseReservedLines(ctx, intentID, reserved); releaseErr != nil {
				return releaseErr
			}
			return err
		}
		reservation := StockReservation{
			IntentID:       intentID,
			DropProductID:  line.DropProductID,
			Quantity:       line.Quantity,
			Status:         ReservationStatusActive,
			CreatedUnixUTC: service.nowFn().UTC().Unix(),
		}
		if err := service.store.CreateStockReservation(ctx, reservation); err != nil {
			if releaseErr := service.store.ReleaseStock(ctx, line.DropProductID, line.Quantity); releaseErr != nil {
				return fmt.Errorf("%w: %v", ErrReservationReleaseFailed, releaseErr)
			}
			if releaseErr := service.releaseReservedLines(ctx, intentID, reserved); releaseErr != nil {
				return releaseErr
			}
			return err
		}
		reserved = append(reserved, line)
	}
	if len(unavailable) > 0 {
		if releaseErr := service.releaseReservedLines(ctx, intentID, reserved); releaseErr != nil {
			return releaseErr
		}
		return &InsufficientStockError{Unavailable: unavailable}
	}
	return nil
}

// ensureLinesOrderable verifies every line's drop still accepts orders before
// any hold is placed. Checked once per distinct drop.
func (service *Service) ensureLinesOrderable(ctx context.Context, lines []LineItem) error {
	checked := make(map[DropID]struct{})
	for _, line := range lines {
		dropProduct, err := service.store.GetDropProduct(ctx, line.DropProductID)
		if err != nil {
			return err
		}
		if _, seen := checked[dropProduct.DropID]; seen {
			continue
		}
		drop, err := service.store.GetDrop(ctx, dropProduct.DropID)
		if err != nil {
			return err
		}
		verdict, err := service.orderability(ctx, service.store, drop)
		if err != nil {
			return err
		}
		if !verdict.Orderable {
			return fmt.Errorf("%w: %s", ErrNotOrderable, verdict.Reason)
		}
		checked[dropProduct.DropID] = struct{}{}
	}
	return nil
}

func (service *Service) checkShortfall(ctx context.Context, line LineItem) (*UnavailableLine, error) {
	dropProduct, err := service.store.GetDropProduct(ctx, line.DropProductID)
	if err != nil {
		return nil, err
	}
	if dropProduct.Available() >= line.Quantity.Int64() {
		return nil, nil
	}
	return &UnavailableLine{
		DropProductID: line.DropProductID,
		Requested:     line.Quantity.Int64(),
		Available:     dropProduct.Available(),
	}, nil
}

func (service *Service) releaseReservedLines(ctx context.Context, intentID IntentID, reserved []LineItem) error {
	for _, line := range reserved {
		if err := service.store.ReleaseStock(ctx, line.DropProductID, line.Quantity); err != nil {
			return fmt.Errorf("%w: line %s: %v", ErrReservationReleaseFailed, line.DropProductID.String(), err)
		}
		if err := service.store.UpdateReservationStatus(ctx, intentID, line.DropProductID, ReservationStatusActive, ReservationStatusReleased); err != nil {
			return fmt.Errorf("%w: line %s: %v", ErrReservationReleaseFailed, line.DropProductID.String(), err)
		}
	}
	return nil
}

// ReleaseIntent returns every still-active hold of an intent to availability.
// A storage failure here signals inconsistency and always propagates.
func (service *Service) ReleaseIntent(ctx context.Context, intentID IntentID) error {
	operationError := service.releaseIntent(ctx, service.store, intentID)
	service.logOperation(ctx, OperationLog{
		Operation: operationRelease,
		IntentID:  intentID,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) releaseIntent(ctx context.Context, store Store, intentID IntentID) error {
	reservations, err := store.ListReservationsByIntent(ctx, intentID)
	if err != nil {
		return err
	}
	for _, reservation := range reservations {
		if reservation.Status != ReservationStatusActive {
			continue
		}
		if err := store.ReleaseStock(ctx, reservation.DropProductID, reservation.Quantity); err != nil {
			return fmt.Errorf("%w: line %s: %v", ErrReservationReleaseFailed, reservation.DropProductID.String(), err)
		}
		if err := store.UpdateReservationStatus(ctx, intentID, reservation.DropProductID, ReservationStatusActive, ReservationStatusReleased); err != nil {
			return fmt.Errorf("%w: line %s: %v", ErrReservationReleaseFailed, reservation.DropProductID.String(), err)
		}
	}
	return nil
}

// CommitIntent converts every active hold of an intent into permanently
// consumed stock: stock and reserved both decrease, availability is unchanged.
// An intent whose holds were already released, by cancellation or the
// abandonment sweep, fails with ErrReservationClosed: the stock went back to
// availability and may have been resold, so nothing is safe to consume.
func (service *Service) CommitIntent(ctx context.Context, intentID IntentID) error {
	operationError := service.commitIntent(ctx, service.store, intentID)
	service.logOperation(ctx, OperationLog{
		Operation: operationCommit,
		IntentID:  intentID,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) commitIntent(ctx context.Context, store Store, intentID IntentID) error {
	reservations, err := store.ListReservationsByIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if len(reservations) == 0 {
		return fmt.Errorf("%w: intent %s", ErrUnknownIntent, intentID.String())
	}
	committed := 0
	for _, reservation := range reservations {
		if reservation.Status != ReservationStatusActive {
			continue
		}
		if err := store.CommitStock(ctx, reservation.DropProductID, reservation.Quantity); err != nil {
			return fmt.Errorf("%w: line %s: %v", ErrStockInconsistent, reservation.DropProductID.String(), err)
		}
		if err := store.UpdateReservationStatus(ctx, intentID, reservation.DropProductID, ReservationStatusActive, ReservationStatusCommitted); err != nil {
			return fmt.Errorf("%w: line %s: %v", ErrStockInconsistent, reservation.DropProductID.String(), err)
		}
		committed++
	}
	if committed == 0 {
		return fmt.Errorf("%w: intent %s has no active holds", ErrReservationClosed, intentID.String())
	}
	return nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func sumQuantities(lines []LineItem) int64 {
	var total int64
	for _, line := range lines {
		total += line.Quantity.Int64()
	}
	return total
}
