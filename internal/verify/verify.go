// Package verify implementa el harness de verificación: audita, reconcilia
// con una Policy, vuelve a auditar y compara. El reporte es JSON y es lo que
// la CLI imprime, el servidor expone y notify envía.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/metrics"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
	"github.com/dropDatabas3/rebano/internal/reconcile"
)

// Options del harness.
type Options struct {
	// ExpectedReductions exige, para categorías que la policy no corrige, que
	// el conteo baje al menos en N. Las categorías corregidas tienen que
	// quedar en cero.
	ExpectedReductions map[audit.Category]int
	Now                func() time.Time
}

// CategoryResult es el antes/después de una categoría.
type CategoryResult struct {
	Category          audit.Category      `json:"category"`
	Before            int                 `json:"before"`
	After             int                 `json:"after"`
	Acted             bool                `json:"acted"`
	ExpectedReduction *int                `json:"expectedReduction,omitempty"`
	Pass              bool                `json:"pass"`
	Failed            int                 `json:"failed,omitempty"`
	Failures          []reconcile.Outcome `json:"failures,omitempty"`
}

// Report es el resultado de una verificación.
type Report struct {
	Timestamp           time.Time        `json:"timestamp"`
	PassID              string           `json:"passId"`
	Policy              reconcile.Policy `json:"policy"`
	DryRun              bool             `json:"dryRun"`
	Partial             bool             `json:"partial"`
	Canceled            bool             `json:"canceled,omitempty"`
	TotalFindingsBefore int              `json:"totalFindingsBefore"`
	TotalFindingsAfter  int              `json:"totalFindingsAfter"`
	Categories          []CategoryResult `json:"categories"`
	Failures            int              `json:"failures"`
	Writes              int              `json:"writes"`
	FullyReconciled     bool             `json:"fullyReconciled"`
}

// Failing retorna las categorías que no pasaron.
func (r *Report) Failing() []CategoryResult {
	var out []CategoryResult
	for _, c := range r.Categories {
		if !c.Pass {
			out = append(out, c)
		}
	}
	return out
}

// JSON serializa el reporte indentado.
func (r *Report) JSON() ([]byte, error) { return json.MarshalIndent(r, "", "  ") }

// Harness encadena auditor y engine.
type Harness struct {
	auditor *audit.Auditor
	engine  *reconcile.Engine
	opts    Options
}

// New crea un harness. auditor y engine tienen que compartir los stores.
func New(auditor *audit.Auditor, engine *reconcile.Engine, opts Options) *Harness {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Harness{auditor: auditor, engine: engine, opts: opts}
}

// Run verifica una pasada con la policy p. Un error de auditoría o un reporte
// rechazado por el engine cortan sin reporte. Si ctx se cancela durante la
// reconciliación retorna el reporte de lo aplicado junto con el error.
func (h *Harness) Run(ctx context.Context, p reconcile.Policy) (*Report, error) {
	log := logger.From(ctx).With(logger.Component("verify"))

	before, err := h.auditor.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify: audit before: %w", err)
	}
	sum, rerr := h.engine.Reconcile(ctx, before, p)
	if sum == nil {
		return nil, fmt.Errorf("verify: %w", rerr)
	}

	var after *audit.Report
	switch {
	case p.DryRun, sum.Canceled:
		// lo que la pasada dejó (o dejaría) según sus escrituras reflejadas
		after = audit.Analyze(sum.Projected())
	default:
		if after, err = h.auditor.Run(ctx); err != nil {
			return nil, fmt.Errorf("verify: audit after: %w", err)
		}
	}

	rep := h.compare(before, after, sum)
	metrics.ObserveVerify(rep.Timestamp, rep.FullyReconciled)
	log.Info("verification finished",
		logger.PassID(rep.PassID),
		logger.Int("findings_before", rep.TotalFindingsBefore),
		logger.Int("findings_after", rep.TotalFindingsAfter),
		logger.Int("failures", rep.Failures),
		logger.Bool("fully_reconciled", rep.FullyReconciled),
	)
	if rerr != nil {
		return rep, fmt.Errorf("verify: %w", rerr)
	}
	return rep, nil
}

func (h *Harness) compare(before, after *audit.Report, sum *reconcile.Summary) *Report {
	rep := &Report{
		Timestamp:           h.opts.Now().UTC(),
		PassID:              sum.PassID,
		Policy:              sum.Policy,
		DryRun:              sum.DryRun,
		Partial:             before.Partial,
		Canceled:            sum.Canceled,
		TotalFindingsBefore: before.Total(),
		TotalFindingsAfter:  after.Total(),
		Categories:          make([]CategoryResult, 0, len(audit.Categories)),
		Failures:            sum.Failed(),
		Writes:              sum.Writes,
	}
	fully := !sum.Canceled && rep.Failures == 0
	for _, c := range audit.Categories {
		cr := CategoryResult{
			Category: c,
			Before:   before.Count(c),
			After:    after.Count(c),
			Acted:    sum.Policy.Acts(c),
			Pass:     true,
		}
		if n, ok := h.opts.ExpectedReductions[c]; ok && !cr.Acted {
			cr.ExpectedReduction = &n
			cr.Pass = cr.Before-cr.After >= n
		}
		if cr.Acted {
			cr.Pass = cr.After == 0
		}
		if cs := sum.Categories[c]; cs != nil {
			cr.Failed = cs.Failed
			cr.Failures = cs.Failures
			if cs.Failed > 0 {
				cr.Pass = false
			}
		}
		fully = fully && cr.Pass
		rep.Categories = append(rep.Categories, cr)
	}
	rep.FullyReconciled = fully
	return rep
}

// ParseExpectations valida las reducciones esperadas leídas de config o flags.
func ParseExpectations(pairs map[string]int) (map[audit.Category]int, error) {
	out := make(map[audit.Category]int, len(pairs))
	var errs []error
	for k, n := range pairs {
		c := audit.Category(k)
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("unknown category %q", k))
			continue
		}
		if n < 0 {
			errs = append(errs, fmt.Errorf("negative reduction for %s", k))
			continue
		}
		out[c] = n
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	return out, nil
}
