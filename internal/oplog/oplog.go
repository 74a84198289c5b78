// Package oplog bridges money.OperationLogger onto zap.
package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/solsticecon/memberd/pkg/money"
)

// ZapLogger writes one structured log line per money operation.
type ZapLogger struct {
	logger *zap.Logger
}

// New returns a ZapLogger over the given zap logger.
func New(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

func (zapLogger *ZapLogger) LogOperation(ctx context.Context, entry money.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("buyable_kind", entry.Buyable.Kind.String()),
		zap.String("buyable_id", entry.Buyable.ID),
		zap.String("charge_id", entry.ChargeID.String()),
		zap.Int64("amount_cents", entry.Amount.Int64()),
		zap.String("charge_state", entry.ChargeState.String()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Warn("money operation", fields...)
		return
	}
	zapLogger.logger.Info("money operation", fields...)
}
