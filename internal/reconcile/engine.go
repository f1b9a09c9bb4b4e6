// Package reconcile aplica correcciones a partir de un reporte de auditoría
// y una Policy. Cada pasada:
//
//  1. rechaza reportes sin token o parciales si la policy es destructiva
//  2. relee el snapshot y exige que su token coincida con el del reporte
//  3. corre las fases habilitadas en orden fijo, recalculando el análisis sobre
//     el estado resultante de la fase anterior
//
// Un registro fallido no corta el batch: cada acción termina en un Outcome.
// La cancelación se respeta entre registros, nunca en medio de una escritura.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/cache"
	"github.com/dropDatabas3/rebano/internal/domain/repository"
	"github.com/dropDatabas3/rebano/internal/domain/result"
	"github.com/dropDatabas3/rebano/internal/lock"
	"github.com/dropDatabas3/rebano/internal/metrics"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
	"github.com/dropDatabas3/rebano/internal/retry"
	store "github.com/dropDatabas3/rebano/internal/store"
)

// Options del engine. Los valores cero toman defaults.
type Options struct {
	DefaultCategory string        // categoría de members creados. Default "Members".
	Concurrency     int           // escrituras en paralelo dentro de una fase. Default 4.
	WriteTimeout    time.Duration // timeout por escritura individual. Default 10s.
	Retry           retry.Policy  // Default retry.Default.
	SampleSize      int           // fallas de muestra por categoría. Default 5.

	// SkipTokenCheck desactiva la comparación de token con el snapshot releído.
	// Las acciones se derivan igual del snapshot releído.
	SkipTokenCheck bool

	// Locks, si no es nil, serializa pasadas con un lock en el cache.
	Locks   cache.Client
	LockKey string
	LockTTL time.Duration

	NewID func() string // ids de members nuevos. Default uuid.NewString.
	Now   func() time.Time
}

func (o *Options) defaults() {
	if o.DefaultCategory == "" {
		o.DefaultCategory = repository.CategoryMembers
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.Default
	}
	if o.SampleSize <= 0 {
		o.SampleSize = 5
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 10 * time.Minute
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// maxRounds acota las vueltas sobre las fases. Una corrección puede generar
// hallazgos nuevos para una fase anterior (un email corregido que forma un
// grupo de duplicados); se repite mientras haya avance y hallazgos.
const maxRounds = 4

// Engine aplica policies sobre los stores.
type Engine struct {
	stores  store.Stores
	auditor *audit.Auditor
	opts    Options
}

// New crea un engine. auditor se usa para releer el snapshot antes de escribir.
func New(stores store.Stores, auditor *audit.Auditor, opts Options) *Engine {
	opts.defaults()
	return &Engine{stores: stores, auditor: auditor, opts: opts}
}

func inconsistent(format string, args ...any) error {
	return fmt.Errorf("reconcile: %w: "+format, append([]any{repository.ErrInconsistentInput}, args...)...)
}

// Reconcile aplica la policy al estado auditado en rep. Retorna
// ErrInconsistentInput sin escribir si el reporte no es verificable, está
// desactualizado o es parcial y la policy es destructiva. Si ctx se cancela a
// mitad de la pasada retorna el resumen parcial junto con el error del ctx.
func (e *Engine) Reconcile(ctx context.Context, rep *audit.Report, p Policy) (*Summary, error) {
	if rep == nil || rep.Token == "" {
		return nil, inconsistent("report has no snapshot token")
	}
	if rep.Partial && p.Destructive() {
		return nil, inconsistent("destructive policy on a partial audit")
	}
	if err := e.stores.Validate(); err != nil {
		return nil, err
	}

	sum := &Summary{
		PassID:     uuid.NewString(),
		Token:      rep.Token,
		Policy:     p,
		DryRun:     p.DryRun,
		StartedAt:  e.opts.Now().UTC(),
		Categories: map[audit.Category]*CategorySummary{},
		Outcomes:   []Outcome{},
	}
	ctx, log := logger.Scope(ctx, logger.Component("reconcile"), logger.PassID(sum.PassID))

	if e.opts.Locks != nil && !p.DryRun {
		l, err := lock.Acquire(ctx, e.opts.Locks, e.opts.LockKey, e.opts.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("reconcile: %w", err)
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("lock release failed", logger.Err(err))
			}
		}()
	}

	snap, err := e.auditor.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: reload snapshot: %w", err)
	}
	if snap.Partial && p.Destructive() {
		return nil, inconsistent("destructive policy on a partial snapshot")
	}
	if !e.opts.SkipTokenCheck {
		if cur := snap.Token(); cur != rep.Token {
			log.Warn("stale report rejected", logger.Token(rep.Token), logger.String("current", cur[:12]))
			return nil, inconsistent("report token does not match current snapshot")
		}
	}

	log.Info("reconcile started", logger.String("policy", p.String()), logger.Token(rep.Token))
	ps := &pass{
		engine:  e,
		policy:  p,
		summary: sum,
		working: snap.Clone(),
		partial: snap.Partial,
		log:     log,
		settled: map[string]bool{},
	}
	for round := 1; round <= maxRounds && ctx.Err() == nil; round++ {
		if round > 1 {
			log.Debug("reconcile round", logger.Int("round", round))
		}
		progress := ps.progress
		for _, ph := range phases {
			if !ph.enabled(p) {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			ph.run(ps, ctx)
		}
		if ps.progress == progress || !ps.pending() {
			break
		}
	}

	sum.FinishedAt = e.opts.Now().UTC()
	sum.projected = ps.working
	fields := []zap.Field{
		logger.Int("writes", sum.Writes),
		logger.Int("failed", sum.Failed()),
		logger.Bool("dry_run", p.DryRun),
		logger.Duration(sum.FinishedAt.Sub(sum.StartedAt)),
	}
	if err := ctx.Err(); err != nil {
		sum.Canceled = true
		log.Warn("reconcile canceled", append(fields, logger.Err(err))...)
		return sum, fmt.Errorf("reconcile: %w", err)
	}
	log.Info("reconcile finished", fields...)
	return sum, nil
}

// pass es el estado de una pasada en curso.
type pass struct {
	engine  *Engine
	policy  Policy
	summary *Summary
	partial bool
	log     *zap.Logger

	// progress cuenta acciones aplicadas o planeadas; settled guarda las
	// acciones que fallaron o se saltearon para no repetirlas en otra vuelta.
	progress int
	settled  map[string]bool

	mu      sync.Mutex
	working *audit.Snapshot
}

// pending indica si alguna categoría de la policy sigue con hallazgos.
func (ps *pass) pending() bool {
	rep := ps.analyze()
	for _, c := range ps.policy.Categories() {
		if rep.Count(c) > 0 {
			return true
		}
	}
	return false
}

// analyze recalcula el reporte sobre el estado actual de la pasada.
func (ps *pass) analyze() *audit.Report {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return audit.Analyze(ps.working)
}

func (ps *pass) identityExists(id string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, i := range ps.working.Identities {
		if i.ID == id {
			return true
		}
	}
	return false
}

// errSkip marca una acción que no corresponde aplicar (el registro ya existe,
// o una dependencia falló). No es una falla.
type errSkip struct{ reason string }

func (e errSkip) Error() string { return e.reason }

// task es una acción sobre un registro.
type task struct {
	category audit.Category
	action   Action
	recordID string
	// key identifica la acción entre vueltas. Vacío = action/recordID.
	key string
	// write escribe en el store y refleja el resultado en el snapshot de la pasada.
	write func(ctx context.Context) error
	// project refleja la acción sin escribir (dry run).
	project func()
}

func (t task) settleKey() string {
	if t.key != "" {
		return t.key
	}
	return string(t.action) + "/" + t.recordID
}

// record suma el outcome al resumen. Fallas y salteos quedan settled.
func (ps *pass) record(t task, o Outcome) {
	switch o.Status {
	case StatusApplied, StatusPlanned:
		ps.progress++
	default:
		ps.settled[t.settleKey()] = true
	}
	ps.summary.add(o, ps.engine.opts.SampleSize)
	metrics.ObserveOutcome(string(o.Category), string(o.Action), string(o.Status))
}

// runTasks ejecuta las tareas con paralelismo acotado y retorna los outcomes
// en el mismo orden que las tareas. Las tareas settled en una vuelta anterior
// no se ejecutan ni se cuentan de nuevo; su outcome vuelve como skipped.
func (ps *pass) runTasks(ctx context.Context, tasks []task) []Outcome {
	out := make([]Outcome, len(tasks))
	var g errgroup.Group
	g.SetLimit(ps.engine.opts.Concurrency)
	for i, t := range tasks {
		if ps.settled[t.settleKey()] {
			out[i] = newOutcome(t, result.Ok(t.recordID), StatusSkipped, 0)
			continue
		}
		g.Go(func() error {
			out[i] = ps.exec(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	for i, t := range tasks {
		if ps.settled[t.settleKey()] {
			continue
		}
		ps.record(t, out[i])
	}
	return out
}

func (ps *pass) exec(ctx context.Context, t task) Outcome {
	if err := ctx.Err(); err != nil {
		return newOutcome(t, result.Of(t.recordID, err), StatusSkipped, 0)
	}
	if ps.policy.DryRun {
		ps.mu.Lock()
		t.project()
		ps.mu.Unlock()
		return newOutcome(t, result.Ok(t.recordID), StatusPlanned, 0)
	}

	opts := ps.engine.opts
	log := ps.log.With(logger.Category(string(t.category)), logger.Action(string(t.action)), logger.String("record_id", t.recordID))
	attempts, err := retry.Do(ctx, opts.Retry, func(context.Context) error {
		// la escritura en curso no se corta por cancelación del pase
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.WriteTimeout)
		defer cancel()
		return t.write(wctx)
	}, func(attempt int, delay time.Duration, err error) {
		metrics.ObserveRetry(string(t.action))
		log.Debug("write retry", logger.Attempt(attempt), logger.Duration(delay), logger.Err(err))
	})

	var skip errSkip
	switch {
	case err == nil:
		return newOutcome(t, result.Ok(t.recordID), StatusApplied, attempts)
	case errors.As(err, &skip):
		o := newOutcome(t, result.Ok(t.recordID), StatusSkipped, attempts)
		o.Detail = skip.reason
		return o
	default:
		res := result.Of(t.recordID, err)
		log.Warn("write failed", logger.Kind(string(res.Kind())), logger.Attempt(attempts), logger.Err(err))
		return newOutcome(t, res, StatusFailed, attempts)
	}
}

// ─── reflejo local de escrituras ───

func (ps *pass) mirrorProfile(patch repository.ProfilePatch, got *repository.Profile) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.projectProfile(patch, got)
}

// projectProfile asume ps.mu tomado.
func (ps *pass) projectProfile(patch repository.ProfilePatch, got *repository.Profile) {
	if got != nil {
		ps.working.PutProfile(*got)
		return
	}
	base, _ := ps.working.Profile(patch.ID)
	p := patch.Apply(base)
	p.UpdatedAt = ps.engine.opts.Now().UTC()
	ps.working.PutProfile(p)
}

func (ps *pass) mirrorMember(patch repository.MemberPatch, got *repository.Member) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.projectMember(patch, got)
}

// projectMember asume ps.mu tomado.
func (ps *pass) projectMember(patch repository.MemberPatch, got *repository.Member) {
	if got != nil {
		ps.working.PutMember(*got)
		return
	}
	now := ps.engine.opts.Now().UTC()
	base, ok := ps.working.Member(patch.ID)
	if !ok {
		base = repository.Member{IsActive: true, CreatedAt: now}
	}
	m := patch.Apply(base)
	m.UpdatedAt = now
	ps.working.PutMember(m)
}

func (ps *pass) mirrorRemoveProfile(id string) {
	ps.mu.Lock()
	ps.working.RemoveProfile(id)
	ps.mu.Unlock()
}

func (ps *pass) mirrorRemoveMember(id string) {
	ps.mu.Lock()
	ps.working.RemoveMember(id)
	ps.mu.Unlock()
}
