// Package cache provee un cache clave/valor con dos backends:
//   - memory: in-process sobre go-cache (CLI, tests, una sola réplica)
//   - redis: compartido entre réplicas del servicio
//
// Lo usan el snapshot de auditoría del servidor HTTP, el decorador de lectura
// de identidades y el lock de pasada (SetNX/DeleteIfValue).
package cache

import (
	"context"
	"errors"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o expiró.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor. ttl 0 = no expira.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX guarda el valor sólo si la key no existe. Retorna si lo guardó.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete elimina una key.
	Delete(ctx context.Context, key string) error

	// DeleteIfValue elimina la key sólo si su valor actual es value.
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
	Stats(ctx context.Context) (Stats, error)
}

// Stats contiene estadísticas del cache.
type Stats struct {
	Driver     string `json:"driver"`
	Keys       int64  `json:"keys"`
	UsedMemory string `json:"used_memory,omitempty"`
	Hits       int64  `json:"hits"`
	Misses     int64  `json:"misses"`
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver     string // "memory" | "redis"
	Host       string
	Port       int
	Password   string
	DB         int
	Prefix     string // prefijo para todas las keys
	DefaultTTL time.Duration
}

// ErrNotFound indica que la key no existe.
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// New crea un cliente de cache según la configuración.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		c, err := NewRedis(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "memory", "":
		return NewMemory(cfg.Prefix, cfg.DefaultTTL), nil
	default:
		return nil, errors.New("cache: unknown driver " + cfg.Driver)
	}
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
