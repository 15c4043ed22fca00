package drops

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing drops operation.
type OperationLog struct {
	Operation string
	DropID    DropID
	IntentID  IntentID
	OrderID   OrderID
	Actor     string
	Quantity  int64
	Amount    int64
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithGracePeriod overrides the default post-deadline grace window.
func WithGracePeriod(grace time.Duration) ServiceOption {
	return func(service *Service) {
		if grace >= 0 {
			service.grace = grace
		}
	}
}

// WithPaymentProcessor wires the external payment collaborator.
func WithPaymentProcessor(processor PaymentProcessor) ServiceOption {
	return func(service *Service) {
		service.processor = processor
	}
}

// WithNotifier wires the confirmation-email collaborator.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}
