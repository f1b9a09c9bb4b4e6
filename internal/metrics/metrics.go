// Package metrics define los collectors Prometheus de auditoría y reconciliación.
// Vive aparte de internal/http para que audit/reconcile/verify los actualicen sin
// depender del servidor. Los collectors existen siempre; Register sólo los expone.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuditsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rebano_audits_total",
		Help: "Auditorías ejecutadas por resultado",
	}, []string{"result"}) // ok|partial|error

	AuditDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rebano_audit_duration_seconds",
		Help:    "Duración de carga de snapshot + análisis",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	Findings = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rebano_findings",
		Help: "Hallazgos de la última auditoría por categoría",
	}, []string{"category"})

	Outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rebano_reconcile_outcomes_total",
		Help: "Resultados por registro de la reconciliación",
	}, []string{"category", "action", "status"}) // status: applied|planned|failed|skipped

	Retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rebano_write_retries_total",
		Help: "Reintentos de escrituras por acción",
	}, []string{"action"})

	FullyReconciled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rebano_verify_fully_reconciled",
		Help: "1 si la última verificación terminó reconciliada, 0 si no",
	})

	LastPass = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rebano_last_pass_timestamp_seconds",
		Help: "Unix timestamp de la última pasada de verificación",
	})
)

// Register registra los collectors en reg (o en el default si es nil).
// Registros duplicados se ignoran.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{AuditsTotal, AuditDuration, Findings, Outcomes, Retries, FullyReconciled, LastPass} {
		if err := RegisterCollector(reg, c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterCollector registra un collector ignorando AlreadyRegisteredError.
func RegisterCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// ObserveAudit registra una auditoría terminada. counts puede ser nil si falló.
func ObserveAudit(d time.Duration, partial bool, err error, counts map[string]int) {
	AuditDuration.Observe(d.Seconds())
	switch {
	case err != nil:
		AuditsTotal.WithLabelValues("error").Inc()
		return
	case partial:
		AuditsTotal.WithLabelValues("partial").Inc()
	default:
		AuditsTotal.WithLabelValues("ok").Inc()
	}
	for cat, n := range counts {
		Findings.WithLabelValues(cat).Set(float64(n))
	}
}

// ObserveOutcome cuenta el resultado de una acción sobre un registro.
func ObserveOutcome(category, action, status string) {
	Outcomes.WithLabelValues(category, action, status).Inc()
}

// ObserveRetry cuenta un reintento.
func ObserveRetry(action string) { Retries.WithLabelValues(action).Inc() }

// ObserveVerify registra el resultado de una verificación.
func ObserveVerify(at time.Time, fully bool) {
	v := 0.0
	if fully {
		v = 1
	}
	FullyReconciled.Set(v)
	LastPass.Set(float64(at.Unix()))
}
