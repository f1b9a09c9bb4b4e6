// Package lock evita que dos pasadas de reconciliación corran a la vez sobre
// el mismo store. El lock vive en el cache (redis para varias réplicas, memory
// para un único proceso) y se libera sólo con el token de quien lo tomó.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/rebano/internal/cache"
)

// ErrHeld indica que otra pasada tiene el lock.
var ErrHeld = errors.New("lock: held by another pass")

// DefaultKey es la key del lock de pasada.
const DefaultKey = "reconcile:pass"

// Lock es un lock tomado. Release es idempotente.
type Lock struct {
	c     cache.Client
	key   string
	token string
}

// Acquire intenta tomar el lock una sola vez, sin esperar. El ttl acota el
// tiempo que queda tomado si el proceso muere sin liberar.
func Acquire(ctx context.Context, c cache.Client, key string, ttl time.Duration) (*Lock, error) {
	if key == "" {
		key = DefaultKey
	}
	token := uuid.NewString()
	ok, err := c.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lock{c: c, key: key, token: token}, nil
}

// Token identifica al holder.
func (l *Lock) Token() string { return l.token }

// Release libera el lock si todavía es nuestro.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.token == "" {
		return nil
	}
	_, err := l.c.DeleteIfValue(ctx, l.key, l.token)
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", l.key, err)
	}
	l.token = ""
	return nil
}
