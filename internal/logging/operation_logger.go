package logging

import (
	"context"

	"github.com/MarkoPoloResearchLab/parkwise/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapOperationLogger adapts ledger.OperationLogger to zap.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger returns an adapter writing to logger; nil discards.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation writes successful operations at info, domain rejections at warn
// and store or internal failures at error.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	class := ledger.ClassOf(entry.Error)
	level := zapcore.InfoLevel
	switch class {
	case ledger.ErrorClassNone:
	case ledger.ErrorClassStore, ledger.ErrorClassInternal:
		level = zapcore.ErrorLevel
	default:
		level = zapcore.WarnLevel
	}
	checked := operationLogger.logger.Check(level, "ledger operation")
	if checked == nil {
		return
	}
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if value := entry.CustomerID.String(); value != "" {
		fields = append(fields, zap.String("customer_id", value))
	}
	if value := entry.ReservationID.String(); value != "" {
		fields = append(fields, zap.String("reservation_id", value))
	}
	if value := entry.SpotID.String(); value != "" {
		fields = append(fields, zap.String("spot_id", value))
	}
	if !entry.Window.Start.IsZero() {
		fields = append(fields, zap.Stringer("window", entry.Window))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.String("error_class", string(class)), zap.Error(entry.Error))
	}
	checked.Write(fields...)
}
