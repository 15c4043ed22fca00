package drops

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusChangeOption tweaks a ChangeStatus call.
type StatusChangeOption func(*statusChangeOptions)

type statusChangeOptions struct {
	allowEmptyStock bool
}

// AllowEmptyStock lets an admin activate a drop with no stocked products.
func AllowEmptyStock() StatusChangeOption {
	return func(options *statusChangeOptions) {
		options.allowEmptyStock = true
	}
}

// CreateDrop registers an upcoming drop against an existing location.
func (service *Service) CreateDrop(ctx context.Context, locationID LocationID, date time.Time, notes string) (Drop, error) {
	if _, err := service.store.GetLocation(ctx, locationID); err != nil {
		return Drop{}, err
	}
	dropID, err := NewDropID(uuid.NewString())
	if err != nil {
		return Drop{}, err
	}
	drop := Drop{
		DropID:     dropID,
		LocationID: locationID,
		Date:       date.UTC(),
		Status:     DropStatusUpcoming,
		Notes:      notes,
	}
	if err := service.store.CreateDrop(ctx, drop); err != nil {
		return Drop{}, err
	}
	return drop, nil
}

// AddDropProduct stocks a product line for a drop, snapshotting the selling
// price at creation time.
func (service *Service) AddDropProduct(ctx context.Context, dropID DropID, productID ProductID, stock int64, sellingPrice PriceCents) (DropProduct, error) {
	if stock < 0 {
		return DropProduct{}, fmt.Errorf("%w: negative stock", ErrInvalidQuantity)
	}
	if _, err := service.store.GetDrop(ctx, dropID); err != nil {
		return DropProduct{}, err
	}
	dropProductID, err := NewDropProductID(uuid.NewString())
	if err != nil {
		return DropProduct{}, err
	}
	dropProduct := DropProduct{
		DropProductID:     dropProductID,
		DropID:            dropID,
		ProductID:         productID,
		StockQuantity:     stock,
		SellingPriceCents: sellingPrice,
	}
	if err := service.store.CreateDropProduct(ctx, dropProduct); err != nil {
		return DropProduct{}, err
	}
	return dropProduct, nil
}

// SetStock adjusts a line's stock; shrinking below the reserved quantity is
// refused by the storage layer.
func (service *Service) SetStock(ctx context.Context, dropProductID DropProductID, stock int64) error {
	if stock < 0 {
		return fmt.Errorf("%w: negative stock", ErrInvalidQuantity)
	}
	return service.store.SetStockQuantity(ctx, dropProductID, stock)
}

// Inventory lists the stocked lines of a drop.
func (service *Service) Inventory(ctx context.Context, dropID DropID) ([]DropProduct, error) {
	if _, err := service.store.GetDrop(ctx, dropID); err != nil {
		return nil, err
	}
	return service.store.ListDropProducts(ctx, dropID)
}

// ListDrops lists recent drops.
func (service *Service) ListDrops(ctx context.Context, limit int) ([]Drop, error) {
	return service.store.ListDrops(ctx, limit)
}

// ChangeStatus drives the drop state machine:
// upcoming -> active -> completed, with cancellation allowed from upcoming and
// active. completed and cancelled are terminal. Activation freezes the pickup
// deadline; cancellation releases every outstanding hold while already
// committed orders are retained.
func (service *Service) ChangeStatus(ctx context.Context, dropID DropID, target DropStatus, actor string, options ...StatusChangeOption) error {
	settings := statusChangeOptions{}
	for _, option := range options {
		if option != nil {
			option(&settings)
		}
	}
	operationError := service.changeStatus(ctx, dropID, target, settings)
	service.logOperation(ctx, OperationLog{
		Operation: operationForTarget(target),
		DropID:    dropID,
		Actor:     actor,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) changeStatus(ctx context.Context, dropID DropID, target DropStatus, settings statusChangeOptions) error {
	drop, err := service.store.GetDrop(ctx, dropID)
	if err != nil {
		return err
	}
	switch {
	case drop.Status == DropStatusUpcoming && target == DropStatusActive:
		return service.activate(ctx, drop, settings)
	case drop.Status == DropStatusActive && target == DropStatusCompleted:
		return service.store.UpdateDropStatus(ctx, drop.DropID, DropStatusActive, DropStatusCompleted, nil)
	case (drop.Status == DropStatusUpcoming || drop.Status == DropStatusActive) && target == DropStatusCancelled:
		return service.cancel(ctx, drop)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, drop.Status, target)
}

func (service *Service) activate(ctx context.Context, drop Drop, settings statusChangeOptions) error {
	if !settings.allowEmptyStock {
		products, err := service.store.ListDropProducts(ctx, drop.DropID)
		if err != nil {
			return err
		}
		stocked := false
		for _, product := range products {
			if product.StockQuantity > 0 {
				stocked = true
				break
			}
		}
		if !stocked {
			return ErrEmptyDropStock
		}
	}
	location, err := service.store.GetLocation(ctx, drop.LocationID)
	if err != nil {
		return err
	}
	deadline, err := PickupDeadline(drop.Date, location)
	if err != nil {
		return err
	}
	// The deadline freezes here, in the same conditional update as the status
	// flip, so a concurrent activation cannot freeze it twice.
	return service.store.UpdateDropStatus(ctx, drop.DropID, DropStatusUpcoming, DropStatusActive, &deadline)
}

func (service *Service) cancel(ctx context.Context, drop Drop) error {
	if err := service.store.UpdateDropStatus(ctx, drop.DropID, drop.Status, DropStatusCancelled, nil); err != nil {
		return err
	}
	reservations, err := service.store.ListActiveReservationsByDrop(ctx, drop.DropID)
	if err != nil {
		return err
	}
	for _, reservation := range reservations {
		if err := service.store.ReleaseStock(ctx, reservation.DropProductID, reservation.Quantity); err != nil {
			return fmt.Errorf("%w: line %s: %v", ErrReservationReleaseFailed, reservation.DropProductID.String(), err)
		}
		if err := service.store.UpdateReservationStatus(ctx, reservation.IntentID, reservation.DropProductID, ReservationStatusActive, ReservationStatusReleased); err != nil {
			return fmt.Errorf("%w: line %s: %v", ErrReservationReleaseFailed, reservation.DropProductID.String(), err)
		}
	}
	return nil
}

// DeleteDrop removes a drop outright. It is refused while any order exists;
// soft cancellation is the path that keeps orders queryable. Even with zero
// orders the caller must pass force explicitly.
func (service *Service) DeleteDrop(ctx context.Context, dropID DropID, force bool) error {
	operationError := service.deleteDrop(ctx, dropID, force)
	service.logOperation(ctx, OperationLog{
		Operation: operationDelete,
		DropID:    dropID,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) deleteDrop(ctx context.Context, dropID DropID, force bool) error {
	orderCount, err := service.store.CountOrdersByDrop(ctx, dropID)
	if err != nil {
		return err
	}
	if orderCount > 0 {
		return fmt.Errorf("%w: %d orders exist", ErrDropHasOrders, orderCount)
	}
	if !force {
		return ErrDeleteRequiresForce
	}
	return service.store.DeleteDrop(ctx, dropID)
}

// Orderable answers the orderability query for one drop.
func (service *Service) Orderable(ctx context.Context, dropID DropID) (Verdict, error) {
	drop, err := service.store.GetDrop(ctx, dropID)
	if err != nil {
		return Verdict{}, err
	}
	return service.orderability(ctx, service.store, drop)
}

// CurrentDrop resolves the currently orderable active drop: status active,
// frozen deadline (plus grace) not passed, soonest deadline first. This is an
// explicit query recomputed on demand, never cached singleton state.
func (service *Service) CurrentDrop(ctx context.Context) (Drop, error) {
	activeDrops, err := service.store.ListDropsByStatus(ctx, DropStatusActive)
	if err != nil {
		return Drop{}, err
	}
	now := service.nowFn()
	var best *Drop
	for index := range activeDrops {
		drop := activeDrops[index]
		deadline, err := service.dropDeadline(ctx, drop)
		if err != nil {
			return Drop{}, err
		}
		if !OrderabilityAt(now, deadline, service.grace).Orderable {
			continue
		}
		if best == nil {
			best = &activeDrops[index]
			continue
		}
		bestDeadline, err := service.dropDeadline(ctx, *best)
		if err != nil {
			return Drop{}, err
		}
		if deadline.Before(bestDeadline) {
			best = &activeDrops[index]
		}
	}
	if best == nil {
		return Drop{}, ErrNoActiveDrop
	}
	return *best, nil
}

func (service *Service) orderability(ctx context.Context, store Store, drop Drop) (Verdict, error) {
	if drop.Status != DropStatusActive {
		return Verdict{Orderable: false, Reason: reasonNotActive}, nil
	}
	deadline, err := service.dropDeadlineFromStore(ctx, store, drop)
	if err != nil {
		return Verdict{}, err
	}
	return OrderabilityAt(service.nowFn(), deadline, service.grace), nil
}

// dropDeadline prefers the frozen deadline; only drops that never went through
// activation recompute live from the location's pickup hours.
func (service *Service) dropDeadline(ctx context.Context, drop Drop) (time.Time, error) {
	return service.dropDeadlineFromStore(ctx, service.store, drop)
}

func (service *Service) dropDeadlineFromStore(ctx context.Context, store Store, drop Drop) (time.Time, error) {
	if drop.PickupDeadline != nil {
		return *drop.PickupDeadline, nil
	}
	location, err := store.GetLocation(ctx, drop.LocationID)
	if err != nil {
		return time.Time{}, err
	}
	return PickupDeadline(drop.Date, location)
}

func operationForTarget(target DropStatus) string {
	switch target {
	case DropStatusActive:
		return operationActivate
	case DropStatusCompleted:
		return operationComplete
	case DropStatusCancelled:
		return operationCancel
	}
	return string(target)
}
