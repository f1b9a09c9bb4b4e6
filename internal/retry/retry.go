// Package retry reintenta operaciones con backoff exponencial y jitter sobre
// cenkalti/backoff. Sólo se reintentan errores transitorios
// (result.KindTransient); el resto corta como backoff.Permanent.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dropDatabas3/rebano/internal/domain/result"
)

// Policy parámetros de reintento.
type Policy struct {
	MaxAttempts int           // intentos totales, incluido el primero
	BaseDelay   time.Duration // delay antes del segundo intento
	MaxDelay    time.Duration
	Jitter      float64 // fracción aleatoria +/- sobre el delay, 0..1
}

// Default: 3 intentos, 500ms, tope 5s, jitter 20%.
var Default = Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Jitter: 0.2}

// OnRetry se invoca antes de cada espera, con el intento fallido (1-based).
type OnRetry func(attempt int, delay time.Duration, err error)

// backOff arma el ExponentialBackOff de la policy. Sin límite de tiempo
// total: el tope es MaxAttempts.
func (p Policy) backOff(jitter float64) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: jitter,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.Reset()
	return b
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay calcula la espera después del intento n (1-based) sin jitter.
func (p Policy) Delay(n int) time.Duration {
	b := p.backOff(0)
	d := b.NextBackOff()
	for i := 1; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do ejecuta fn hasta que tenga éxito, falle con un error no transitorio o se
// agoten los intentos. Retorna el último error de fn y la cantidad de
// intentos. Si ctx termina durante una espera también retorna el último
// error de fn, no el del contexto.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, onRetry OnRetry) (int, error) {
	n := 0
	var last error
	op := func() error {
		n++
		last = fn(ctx)
		if last != nil && !result.Classify(last).Retryable() {
			return backoff.Permanent(last)
		}
		return last
	}
	notify := func(err error, d time.Duration) {
		if onRetry != nil {
			onRetry(n, d, err)
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(p.backOff(p.Jitter), uint64(p.attempts()-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, b, notify)
	if err != nil && last != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return n, last
	}
	return n, err
}
