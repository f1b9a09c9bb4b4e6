// Package cached decora repositorios con un cache de lectura. Sólo se cachean
// las búsquedas puntuales; los listados de auditoría siempre van al store.
package cached

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dropDatabas3/rebano/internal/cache"
	"github.com/dropDatabas3/rebano/internal/domain/repository"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
)

// Identities es un IdentityRepository con read-through sobre cache.Client.
// Las identidades no se escriben desde este servicio, así que no hay
// invalidación: las entradas viven ttl.
type Identities struct {
	next repository.IdentityRepository
	c    cache.Client
	ttl  time.Duration
}

var _ repository.IdentityRepository = (*Identities)(nil)

// NewIdentities envuelve next.
func NewIdentities(next repository.IdentityRepository, c cache.Client, ttl time.Duration) *Identities {
	return &Identities{next: next, c: c, ttl: ttl}
}

func (r *Identities) GetByID(ctx context.Context, id string) (*repository.Identity, error) {
	return r.through(ctx, "identity:id:"+id, func() (*repository.Identity, error) {
		return r.next.GetByID(ctx, id)
	})
}

func (r *Identities) GetByEmail(ctx context.Context, email string) (*repository.Identity, error) {
	return r.through(ctx, "identity:email:"+repository.NormalizeEmail(email), func() (*repository.Identity, error) {
		return r.next.GetByEmail(ctx, email)
	})
}

func (r *Identities) List(ctx context.Context, q repository.Query) ([]repository.Identity, error) {
	return r.next.List(ctx, q)
}

// through resuelve key desde el cache o con load. Un cache caído no es un
// error de lectura: se loguea y se va al store.
func (r *Identities) through(ctx context.Context, key string, load func() (*repository.Identity, error)) (*repository.Identity, error) {
	log := logger.From(ctx)
	raw, err := r.c.Get(ctx, key)
	switch {
	case err == nil:
		var i repository.Identity
		if jerr := json.Unmarshal([]byte(raw), &i); jerr == nil {
			return &i, nil
		}
		log.Warn("discarding undecodable cache entry", logger.Key(key))
	case !cache.IsNotFound(err):
		log.Warn("identity cache read failed", logger.Key(key), logger.Err(err))
	}

	i, err := load()
	if err != nil {
		return nil, err
	}
	if b, jerr := json.Marshal(i); jerr == nil {
		if serr := r.c.Set(ctx, key, string(b), r.ttl); serr != nil {
			log.Warn("identity cache write failed", logger.Key(key), logger.Err(serr))
		}
	}
	return i, nil
}
