package drops

import (
	"errors"
	"fmt"
	"strings"
)

// Domain-level error values returned by the drops service.
var (
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrNotOrderable             = errors.New("not orderable")
	ErrNoActiveDrop             = errors.New("no active drop")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrDropHasOrders            = errors.New("drop has orders")
	ErrDeleteRequiresForce      = errors.New("delete requires force")
	ErrEmptyDropStock           = errors.New("drop has no stocked products")
	ErrStockBelowReserved       = errors.New("stock below reserved quantity")
	ErrUnknownDrop              = errors.New("unknown drop")
	ErrUnknownDropProduct       = errors.New("unknown drop product")
	ErrUnknownLocation          = errors.New("unknown location")
	ErrUnknownIntent            = errors.New("unknown intent")
	ErrOrderNotFound            = errors.New("order not found")
	ErrOrderExists              = errors.New("order already exists")
	ErrReservationExists        = errors.New("reservation already exists")
	ErrReservationClosed        = errors.New("reservation closed")
	ErrReservationReleaseFailed = errors.New("reservation release failed")
	ErrStockInconsistent        = errors.New("stock inconsistency")
	ErrMaterializationTimeout   = errors.New("materialization timeout")
	ErrExternalService          = errors.New("external service failure")
	ErrInvalidDropID            = errors.New("invalid drop id")
	ErrInvalidDropProductID     = errors.New("invalid drop product id")
	ErrInvalidProductID         = errors.New("invalid product id")
	ErrInvalidLocationID        = errors.New("invalid location id")
	ErrInvalidIntentID          = errors.New("invalid intent id")
	ErrInvalidOrderID           = errors.New("invalid order id")
	ErrInvalidClientID          = errors.New("invalid client id")
	ErrInvalidQuantity          = errors.New("invalid quantity")
	ErrInvalidPriceCents        = errors.New("invalid price cents")
	ErrInvalidCustomerInfo      = errors.New("invalid customer info")
	ErrInvalidLineItems         = errors.New("invalid line items")
	ErrInvalidDropStatus        = errors.New("invalid drop status")
	ErrInvalidOrderStatus       = errors.New("invalid order status")
	ErrInvalidReservationStatus = errors.New("invalid reservation status")
	ErrInvalidSnapshot          = errors.New("invalid intent snapshot")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// UnavailableLine names one line a multi-line reservation could not fill.
type UnavailableLine struct {
	DropProductID DropProductID
	Requested     int64
	Available     int64
}

// InsufficientStockError reports every shortfall line of an all-or-nothing
// reservation whose successfully reserved lines have already been rolled back.
type InsufficientStockError struct {
	Unavailable []UnavailableLine
}

// Error returns the formatted error message.
func (insufficientError *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(insufficientError.Unavailable))
	for _, line := range insufficientError.Unavailable {
		parts = append(parts, fmt.Sprintf("%s requested=%d available=%d", line.DropProductID.String(), line.Requested, line.Available))
	}
	return fmt.Sprintf("%v: %s", ErrInsufficientStock, strings.Join(parts, "; "))
}

// Unwrap ties the detailed error to the ErrInsufficientStock sentinel.
func (insufficientError *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
