package grpcx

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

var errInternal = status.Error(codes.Internal, "internal server error")

// UnaryServerInterceptor recovers panics, logs every call and bounds calls
// that arrive without a deadline by timeout.
func UnaryServerInterceptor(log *slog.Logger, timeout time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		if _, has := ctx.Deadline(); !has && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		defer observe(ctx, log, "unary", info.FullMethod, time.Now(), &err)

		resp, err = handler(ctx, req)
		return resp, ToStatus(err)
	}
}

func StreamServerInterceptor(log *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer observe(ss.Context(), log, "stream", info.FullMethod, time.Now(), &err)
		return ToStatus(handler(srv, ss))
	}
}

// observe вызывается через defer: ловит панику и пишет итог вызова.
func observe(ctx context.Context, log *slog.Logger, kind, method string, start time.Time, errp *error) {
	if r := recover(); r != nil {
		log.ErrorContext(ctx, "grpc panic", "kind", kind, "method", method, "panic", r, "stack", string(debug.Stack()))
		*errp = errInternal
	}
	code := status.Code(*errp)
	level := slog.LevelDebug
	if code == codes.Internal {
		level = slog.LevelWarn
	}
	log.Log(ctx, level, "grpc call",
		"kind", kind,
		"method", method,
		"dur_ms", time.Since(start).Milliseconds(),
		"code", code.String())
}

var statusCodes = []struct {
	target error
	code   codes.Code
}{
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{context.Canceled, codes.Canceled},
	{domain.ErrUnauthorized, codes.Unauthenticated},
	{domain.ErrValidation, codes.InvalidArgument},
	{domain.ErrNotFound, codes.NotFound},
	{domain.ErrConflict, codes.AlreadyExists},
	{domain.ErrAlreadyRegistered, codes.AlreadyExists},
}

// ToStatus переводит доменные ошибки в gRPC status; готовые status не трогает.
// Неизвестные ошибки отдаются как Internal без текста.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, m := range statusCodes {
		if errors.Is(err, m.target) {
			return status.Error(m.code, err.Error())
		}
	}
	return errInternal
}
