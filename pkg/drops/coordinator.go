package drops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IntentLine is one requested product line of an intent request. The selling
// price is resolved from the stored snapshot, never trusted from the client.
type IntentLine struct {
	DropProductID DropProductID
	Quantity      Quantity
}

// IntentRequest carries everything needed to open a payment intent.
type IntentRequest struct {
	Customer CustomerInfo
	Items    []IntentLine
}

// IntentHandle is what the caller keeps after CreateIntent.
type IntentHandle struct {
	IntentID     IntentID
	ClientSecret string
	Status       IntentStatus
	TotalCents   int64
}

// IntentValidation is the answer to a reuse check on an existing intent.
type IntentValidation struct {
	Status   IntentStatus
	Reusable bool
}

// CreateIntent reserves stock for every requested line and opens a payment
// intent with the processor, embedding a typed snapshot of the request as
// opaque metadata. The holds stay in-flight, tied to the returned intent,
// until payment confirmation commits them or release returns them.
func (service *Service) CreateIntent(ctx context.Context, request IntentRequest) (IntentHandle, error) {
	handle, operationError := service.createIntent(ctx, request)
	service.logOperation(ctx, OperationLog{
		Operation: operationIntent,
		IntentID:  handle.IntentID,
		Amount:    handle.TotalCents,
		Error:     operationError,
	})
	return handle, operationError
}

func (service *Service) createIntent(ctx context.Context, request IntentRequest) (IntentHandle, error) {
	if service.processor == nil {
		return IntentHandle{}, fmt.Errorf("%w: payment processor is not configured", ErrInvalidServiceConfig)
	}
	customer, err := NewCustomerInfo(request.Customer.Name, request.Customer.Email, request.Customer.Phone, request.Customer.PickupAt)
	if err != nil {
		return IntentHandle{}, err
	}
	if len(request.Items) == 0 {
		return IntentHandle{}, fmt.Errorf("%w: at least one item is required", ErrInvalidLineItems)
	}

	drop, err := service.CurrentDrop(ctx)
	if err != nil {
		return IntentHandle{}, err
	}

	lines := make([]LineItem, 0, len(request.Items))
	for _, item := range request.Items {
		if item.Quantity <= 0 {
			return IntentHandle{}, fmt.Errorf("%w: non-positive quantity for %s", ErrInvalidLineItems, item.DropProductID.String())
		}
		dropProduct, err := service.store.GetDropProduct(ctx, item.DropProductID)
		if err != nil {
			return IntentHandle{}, err
		}
		if dropProduct.DropID != drop.DropID {
			return IntentHandle{}, fmt.Errorf("%w: %s is not part of the current drop", ErrInvalidLineItems, item.DropProductID.String())
		}
		price, err := NewPriceCents(dropProduct.SellingPriceCents.Int64())
		if err != nil {
			return IntentHandle{}, err
		}
		lines = append(lines, NewLineItem(item.DropProductID, item.Quantity, price))
	}

	// Reserve under a provisional hold id; the processor assigns the real
	// intent id only after the reservation already exists.
	holdID, err := NewIntentID("hold-" + uuid.NewString())
	if err != nil {
		return IntentHandle{}, err
	}
	if err := service.reserveLines(ctx, holdID, lines); err != nil {
		return IntentHandle{}, err
	}

	snapshot := IntentSnapshot{Customer: customer, Items: lines, DropID: drop.DropID.String()}
	metadata, err := snapshot.Encode()
	if err != nil {
		return IntentHandle{}, service.compensate(ctx, holdID, err)
	}
	intent, err := service.processor.CreateIntent(ctx, snapshot.TotalCents(), DefaultCurrency, metadata)
	if err != nil {
		return IntentHandle{}, service.compensate(ctx, holdID, fmt.Errorf("%w: create intent: %v", ErrExternalService, err))
	}
	if err := service.store.RebindReservationIntent(ctx, holdID, intent.IntentID); err != nil {
		return IntentHandle{}, service.compensate(ctx, holdID, err)
	}
	return IntentHandle{
		IntentID:     intent.IntentID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		TotalCents:   snapshot.TotalCents(),
	}, nil
}

// compensate releases the holds made earlier in a failed createIntent call.
// A release failure outranks the original error: it means stock is stranded.
func (service *Service) compensate(ctx context.Context, holdID IntentID, cause error) error {
	if releaseErr := service.releaseIntent(ctx, service.store, holdID); releaseErr != nil {
		return releaseErr
	}
	return cause
}

// ValidateIntent re-fetches the intent from the processor. Only an intent
// still awaiting payment may be reused by the client; any other state forces a
// fresh CreateIntent call and therefore a fresh reservation cycle.
func (service *Service) ValidateIntent(ctx context.Context, intentID IntentID) (IntentValidation, error) {
	if service.processor == nil {
		return IntentValidation{}, fmt.Errorf("%w: payment processor is not configured", ErrInvalidServiceConfig)
	}
	intent, err := service.processor.RetrieveIntent(ctx, intentID)
	if err != nil {
		return IntentValidation{}, fmt.Errorf("%w: retrieve intent: %v", ErrExternalService, err)
	}
	validation := IntentValidation{
		Status:   intent.Status,
		Reusable: intent.Status.Reusable(),
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationValidate,
		IntentID:  intentID,
		Status:    intent.Status.String(),
	})
	return validation, nil
}

// SweepAbandoned releases every active hold older than the window whose intent
// never materialized into an order. It returns how many intents were released.
// Run it periodically; an intent abandoned mid-checkout otherwise starves
// stock forever.
func (service *Service) SweepAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	released, operationError := service.sweepAbandoned(ctx, olderThan)
	service.logOperation(ctx, OperationLog{
		Operation: operationSweep,
		Quantity:  int64(released),
		Error:     operationError,
	})
	return released, operationError
}

func (service *Service) sweepAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := service.nowFn().UTC().Add(-olderThan).Unix()
	stale, err := service.store.ListStaleActiveReservations(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	intents := make(map[IntentID]struct{})
	ordered := make([]IntentID, 0, len(stale))
	for _, reservation := range stale {
		if _, seen := intents[reservation.IntentID]; seen {
			continue
		}
		intents[reservation.IntentID] = struct{}{}
		ordered = append(ordered, reservation.IntentID)
	}
	released := 0
	for _, intentID := range ordered {
		_, err := service.store.FindOrderByIntent(ctx, intentID)
		if err == nil {
			// Confirmed while the sweep was scanning; leave it alone.
			continue
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return released, err
		}
		if err := service.releaseIntent(ctx, service.store, intentID); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}
