package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryLoggingInterceptor logs method, status code and latency for every call.
// Internal and Unavailable outcomes are logged at error level.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		startedAt := time.Now()
		response, err := handler(ctx, request)
		code := status.Code(err)
		level := zapcore.InfoLevel
		switch code {
		case codes.OK:
		case codes.Internal, codes.Unavailable, codes.Unknown:
			level = zapcore.ErrorLevel
		default:
			level = zapcore.WarnLevel
		}
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(startedAt)),
		}
		if err != nil {
			fields = append(fields, zap.String("error_code", ErrorName(err)))
		}
		if entry := logger.Check(level, "grpc call"); entry != nil {
			entry.Write(fields...)
		}
		return response, err
	}
}
