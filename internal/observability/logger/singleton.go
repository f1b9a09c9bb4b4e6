package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var current atomic.Pointer[zap.Logger]

// Init construye el logger global a partir de cfg y lo instala.
// Puede llamarse más de una vez; la última configuración gana.
func Init(cfg Config) {
	Replace(build(cfg))
}

// L retorna el logger global. Sin Init previo instala uno dev/info.
func L() *zap.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	current.CompareAndSwap(nil, build(Config{Env: "dev", Level: "info"}))
	return current.Load()
}

// Replace instala l como logger global (--quiet usa zap.NewNop, los tests un
// observer). nil equivale a zap.NewNop().
func Replace(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

// Sync flushea el logger global si existe.
func Sync() error {
	if l := current.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
