package verify

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/rebano/internal/lock"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
	"github.com/dropDatabas3/rebano/internal/reconcile"
)

// Every corre una verificación con p cada interval hasta que ctx termine.
// Las corridas no se solapan: si una tarda más que interval, el próximo tick
// se descarta. onReport recibe cada reporte obtenido (también los
// interrumpidos); puede ser nil.
func (h *Harness) Every(ctx context.Context, interval time.Duration, p reconcile.Policy, onReport func(context.Context, *Report)) {
	log := logger.From(ctx).With(logger.Component("scheduler"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("scheduled verification started",
		logger.String("policy", p.String()),
		logger.String("interval", interval.String()),
	)
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduled verification stopped")
			return
		case <-ticker.C:
			h.runScheduled(ctx, p, onReport)
		}
	}
}

func (h *Harness) runScheduled(ctx context.Context, p reconcile.Policy, onReport func(context.Context, *Report)) {
	log := logger.From(ctx).With(logger.Component("scheduler"))
	rep, err := h.Run(ctx, p)
	switch {
	case errors.Is(err, lock.ErrHeld):
		log.Info("pass skipped, another one is running")
	case err != nil && rep == nil:
		log.Error("scheduled verification failed", logger.Err(err))
	case err != nil:
		log.Warn("scheduled verification interrupted", logger.Err(err))
	}
	if rep != nil && onReport != nil {
		onReport(ctx, rep)
	}
}
