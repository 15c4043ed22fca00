package main

import (
	"context"

	"github.com/MarkoPoloResearchLab/drops/pkg/drops"
	"go.uber.org/zap"
)

// zapOperationLogger forwards domain operation callbacks to zap.
type zapOperationLogger struct {
	logger *zap.Logger
}

func newZapOperationLogger(logger *zap.Logger) *zapOperationLogger {
	return &zapOperationLogger{logger: logger.Named("drops")}
}

func (operationLogger *zapOperationLogger) LogOperation(ctx context.Context, entry drops.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.DropID.IsZero() {
		fields = append(fields, zap.String("drop_id", entry.DropID.String()))
	}
	if entry.IntentID.String() != "" {
		fields = append(fields, zap.String("intent_id", entry.IntentID.String()))
	}
	if entry.OrderID.String() != "" {
		fields = append(fields, zap.String("order_id", entry.OrderID.String()))
	}
	if entry.Actor != "" {
		fields = append(fields, zap.String("actor", entry.Actor))
	}
	if entry.Quantity != 0 {
		fields = append(fields, zap.Int64("quantity", entry.Quantity))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("operation failed", fields...)
		return
	}
	operationLogger.logger.Info("operation", fields...)
}
