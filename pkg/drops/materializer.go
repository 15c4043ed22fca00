package drops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Materialize converts a confirmed-payment notification into a persisted
// order. It is idempotent against duplicate delivery: an order already
// materialized for the intent is returned unchanged. metadataJSON is the
// snapshot the coordinator embedded into the intent at creation time.
func (service *Service) Materialize(ctx context.Context, intentID IntentID, metadataJSON string) (Order, error) {
	order, operationError := service.materialize(ctx, intentID, metadataJSON)
	service.logOperation(ctx, OperationLog{
		Operation: operationMaterialize,
		DropID:    order.DropID,
		IntentID:  intentID,
		OrderID:   order.OrderID,
		Amount:    order.TotalCents.Int64(),
		Error:     operationError,
	})
	if operationError != nil {
		return Order{}, operationError
	}
	service.sendConfirmation(ctx, order, metadataJSON)
	return order, nil
}

func (service *Service) materialize(ctx context.Context, intentID IntentID, metadataJSON string) (Order, error) {
	existing, err := service.store.FindOrderByIntent(ctx, intentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrOrderNotFound) {
		return Order{}, err
	}

	snapshot, err := DecodeSnapshot(metadataJSON)
	if err != nil {
		return Order{}, err
	}
	dropID, err := NewDropID(snapshot.DropID)
	if err != nil {
		return Order{}, err
	}
	orderID, err := NewOrderID(uuid.NewString())
	if err != nil {
		return Order{}, err
	}

	var order Order
	transactionError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		clientID, err := transactionStore.GetOrCreateClientID(ctx, snapshot.Customer)
		if err != nil {
			return err
		}
		if err := service.commitIntent(ctx, transactionStore, intentID); err != nil {
			return err
		}
		totalCents, err := NewPriceCents(snapshot.TotalCents())
		if err != nil {
			return err
		}
		order = Order{
			OrderID:        orderID,
			IntentID:       intentID,
			DropID:         dropID,
			ClientID:       clientID,
			Status:         OrderStatusConfirmed,
			TotalCents:     totalCents,
			PickupAt:       snapshot.Customer.PickupAt,
			SnapshotJSON:   metadataJSON,
			CreatedUnixUTC: service.nowFn().UTC().Unix(),
		}
		lines := make([]OrderProduct, 0, len(snapshot.Items))
		for _, item := range snapshot.Items {
			lines = append(lines, OrderProduct{
				OrderID:        orderID,
				DropProductID:  item.DropProductID,
				Quantity:       item.Quantity,
				UnitPriceCents: item.UnitPriceCents,
			})
		}
		return transactionStore.CreateOrder(ctx, order, lines)
	})
	if errors.Is(transactionError, ErrOrderExists) {
		// A concurrent delivery of the same notification won the race.
		return service.store.FindOrderByIntent(ctx, intentID)
	}
	if transactionError != nil {
		return Order{}, transactionError
	}
	return order, nil
}

// sendConfirmation asks the notifier for a confirmation email. Failures are
// logged and swallowed; order creation never blocks on email delivery.
func (service *Service) sendConfirmation(ctx context.Context, order Order, metadataJSON string) {
	if service.notifier == nil {
		return
	}
	snapshot, err := DecodeSnapshot(metadataJSON)
	if err != nil {
		return
	}
	confirmation := OrderConfirmation{
		OrderID:    order.OrderID.String(),
		Name:       snapshot.Customer.Name,
		Email:      snapshot.Customer.Email,
		TotalCents: order.TotalCents.Int64(),
		PickupAt:   order.PickupAt,
	}
	if err := service.notifier.Send(ctx, confirmation); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationNotify,
			OrderID:   order.OrderID,
			IntentID:  order.IntentID,
			Error:     err,
		})
	}
}

// OrderByIntent looks up the order materialized for an intent, if any.
func (service *Service) OrderByIntent(ctx context.Context, intentID IntentID) (Order, error) {
	return service.store.FindOrderByIntent(ctx, intentID)
}

// PollForOrder repeatedly asks whether an order exists for the intent, at a
// fixed interval, up to maxAttempts. Exhaustion yields
// ErrMaterializationTimeout: payment may well have succeeded while
// materialization is merely delayed, so the caller should surface "wait"
// rather than a hard failure. The loop is cancellable through ctx.
func (service *Service) PollForOrder(ctx context.Context, intentID IntentID, maxAttempts int, interval time.Duration) (Order, error) {
	if maxAttempts <= 0 {
		return Order{}, fmt.Errorf("%w: poll attempts must be positive", ErrInvalidServiceConfig)
	}
	if interval <= 0 {
		return Order{}, fmt.Errorf("%w: poll interval must be positive", ErrInvalidServiceConfig)
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		order, err := service.store.FindOrderByIntent(ctx, intentID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return Order{}, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Order{}, ctx.Err()
		case <-time.After(interval):
		}
	}
	return Order{}, fmt.Errorf("%w: intent %s after %d attempts", ErrMaterializationTimeout, intentID.String(), maxAttempts)
}
