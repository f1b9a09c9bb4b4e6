// Package audit implementa el auditor de consistencia: lee Identity, Profile y
// Member, y calcula qué registros faltan, sobran, están duplicados o difieren.
// No escribe nada.
package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
	"github.com/dropDatabas3/rebano/internal/metrics"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
	store "github.com/dropDatabas3/rebano/internal/store"
)

// Options del auditor.
type Options struct {
	// Page controla la paginación de los listados. MaxPages > 0 permite
	// auditorías parciales (el reporte sale con Partial=true).
	Page store.PageOptions
	// Now reloj para GeneratedAt. Default time.Now.
	Now func() time.Time
}

// Auditor lee los stores y produce reportes.
type Auditor struct {
	stores store.Stores
	opts   Options
}

// New crea un auditor sobre los stores dados.
func New(stores store.Stores, opts Options) *Auditor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Auditor{stores: stores, opts: opts}
}

// Load lee los tres stores en paralelo. Son lecturas independientes.
func (a *Auditor) Load(ctx context.Context) (*Snapshot, error) {
	if err := a.stores.Validate(); err != nil {
		return nil, err
	}
	var (
		snap       Snapshot
		pI, pP, pM bool
	)
	g, gctx := errgroup.WithContext(ctx)
	identities, profiles, members := a.stores.Identities, a.stores.Profiles, a.stores.Members
	g.Go(func() (err error) {
		snap.Identities, pI, err = store.ListAll(gctx, identities.List, nil, a.opts.Page)
		if err != nil {
			return fmt.Errorf("audit: list identities: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		snap.Profiles, pP, err = store.ListAll(gctx, profiles.List, nil, a.opts.Page)
		if err != nil {
			return fmt.Errorf("audit: list profiles: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		snap.Members, pM, err = store.ListAll(gctx, members.List, nil, a.opts.Page)
		if err != nil {
			return fmt.Errorf("audit: list members: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	snap.Partial = pI || pP || pM
	snap.LoadedAt = a.opts.Now().UTC()
	return &snap, nil
}

// Run carga un snapshot y lo analiza.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	rep, _, err := a.RunWithSnapshot(ctx)
	return rep, err
}

// RunWithSnapshot es Run pero también retorna el snapshot leído.
func (a *Auditor) RunWithSnapshot(ctx context.Context) (*Report, *Snapshot, error) {
	log := logger.From(ctx).With(logger.Component("audit"))
	start := time.Now()
	log.Debug("audit started")

	snap, err := a.Load(ctx)
	if err != nil {
		metrics.ObserveAudit(time.Since(start), false, err, nil)
		log.Error("audit failed", logger.Err(err))
		return nil, nil, err
	}
	rep := Analyze(snap)
	rep.GeneratedAt = snap.LoadedAt

	counts := make(map[string]int, len(Categories))
	fields := []zap.Field{
		logger.Token(rep.Token),
		logger.Bool("partial", rep.Partial),
		logger.Int("identities", rep.Totals.Identities),
		logger.Int("profiles", rep.Totals.Profiles),
		logger.Int("members", rep.Totals.Members),
		logger.Duration(time.Since(start)),
	}
	for _, c := range Categories {
		n := rep.Count(c)
		counts[string(c)] = n
		if n > 0 {
			fields = append(fields, logger.Int(string(c), n))
		}
	}
	metrics.ObserveAudit(time.Since(start), rep.Partial, nil, counts)
	if rep.Partial {
		log.Warn("audit finished on a partial snapshot", fields...)
	} else {
		log.Info("audit finished", append(fields, logger.Count(rep.Total()))...)
	}
	return rep, snap, nil
}

// Person son las tres vistas de una persona, para inspección.
type Person struct {
	Identity *repository.Identity `json:"identity,omitempty"`
	Profile  *repository.Profile  `json:"profile,omitempty"`
	Members  []repository.Member  `json:"members"`
}

// Inspect busca una persona por email en los tres stores.
func (a *Auditor) Inspect(ctx context.Context, email string) (*Person, error) {
	if repository.NormalizeEmail(email) == "" {
		return nil, fmt.Errorf("audit: inspect: %w: email required", repository.ErrInvalidInput)
	}
	out := &Person{Members: []repository.Member{}}

	ident, err := a.stores.Identities.GetByEmail(ctx, email)
	switch {
	case err == nil:
		out.Identity = ident
	case !repository.IsNotFound(err):
		return nil, fmt.Errorf("audit: inspect identity: %w", err)
	}

	if ident != nil {
		out.Profile, err = a.stores.Profiles.GetByID(ctx, ident.ID)
	} else {
		out.Profile, err = a.stores.Profiles.GetByEmail(ctx, email)
	}
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("audit: inspect profile: %w", err)
	}

	// members por email (incluye duplicados) + los vinculados a la identidad
	byEmail, _, err := store.ListAll(ctx, a.stores.Members.List,
		repository.Where(repository.ILike(repository.FieldEmail, repository.EscapeLike(email))), a.opts.Page)
	if err != nil {
		return nil, fmt.Errorf("audit: inspect members: %w", err)
	}
	seen := map[string]bool{}
	for _, m := range byEmail {
		seen[m.ID] = true
		out.Members = append(out.Members, m)
	}
	if ident != nil {
		linked, _, err := store.ListAll(ctx, a.stores.Members.List,
			repository.Where(repository.Eq(repository.FieldLinkedIdentityID, ident.ID)), a.opts.Page)
		if err != nil {
			return nil, fmt.Errorf("audit: inspect linked members: %w", err)
		}
		for _, m := range linked {
			if !seen[m.ID] {
				out.Members = append(out.Members, m)
			}
		}
	}
	if out.Identity == nil && out.Profile == nil && len(out.Members) == 0 {
		return nil, repository.ErrNotFound
	}
	return out, nil
}
