package store

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

// Stores agrupa los tres repositorios. Se construye una vez (en main o en el
// test) y se pasa explícitamente a cada componente.
type Stores struct {
	Identities repository.IdentityRepository
	Profiles   repository.ProfileRepository
	Members    repository.MemberRepository
}

// FromConnection arma el bundle a partir de una conexión abierta.
func FromConnection(conn AdapterConnection) Stores {
	return Stores{
		Identities: conn.Identities(),
		Profiles:   conn.Profiles(),
		Members:    conn.Members(),
	}
}

// Validate verifica que los tres repositorios estén presentes.
func (s Stores) Validate() error {
	if s.Identities == nil || s.Profiles == nil || s.Members == nil {
		return fmt.Errorf("store: %w: identities, profiles and members are required", repository.ErrNoDatabase)
	}
	return nil
}

// Lister es la forma común de List en los tres repositorios.
type Lister[T any] func(ctx context.Context, q repository.Query) ([]T, error)

// PageOptions controla cómo ListAll recorre las páginas.
type PageOptions struct {
	// PageSize tamaño de cada página. 0 = una sola llamada sin límite.
	PageSize int
	// MaxPages corta el recorrido después de N páginas. 0 = sin corte.
	MaxPages int
}

// ListAll pide páginas explícitamente hasta agotar el store. Retorna partial=true
// si se alcanzó MaxPages y la última página vino llena (puede haber más).
func ListAll[T any](ctx context.Context, list Lister[T], where repository.Predicate, opts PageOptions) (items []T, partial bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if opts.PageSize <= 0 {
		items, err = list(ctx, repository.Query{Where: where})
		return items, false, err
	}
	for page := 0; ; page++ {
		if opts.MaxPages > 0 && page >= opts.MaxPages {
			return items, true, nil
		}
		if err := ctx.Err(); err != nil {
			return items, false, err
		}
		batch, err := list(ctx, repository.Query{Where: where, Limit: opts.PageSize, Offset: page * opts.PageSize})
		if err != nil {
			return items, false, err
		}
		items = append(items, batch...)
		if len(batch) < opts.PageSize {
			return items, false, nil
		}
	}
}
