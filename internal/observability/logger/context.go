package logger

import (
	"context"

	"go.uber.org/zap"
)

type scopeKey struct{}

// From retorna el logger de la pasada o request en curso, o el global.
func From(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(scopeKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return L()
}

// Scope deriva un logger con fields a partir del que ya lleva ctx y lo deja
// en el contexto devuelto. Todo lo que corre debajo (fases, adapters,
// notificaciones) loguea con esos campos sin recibirlos explícitamente.
//
//	ctx, log := logger.Scope(ctx, logger.Component("reconcile"), logger.PassID(id))
func Scope(ctx context.Context, fields ...zap.Field) (context.Context, *zap.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	l := From(ctx).With(fields...)
	return context.WithValue(ctx, scopeKey{}, l), l
}
