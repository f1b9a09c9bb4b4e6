// Package result define el resultado etiquetado que usan el adapter, el auditor
// y el engine para reportar cada operación: Ok(valor) o Fail(kind, detalle).
package result

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

// Kind clasifica un error según cómo debe tratarlo el caller.
type Kind string

const (
	// KindTransient: timeout, 5xx, conexión reseteada. Se reintenta.
	KindTransient Kind = "transient"
	// KindRejected: constraint violation, registro mal formado, 4xx. Terminal.
	KindRejected Kind = "rejected"
	// KindNotFound: el registro no existe.
	KindNotFound Kind = "not_found"
	// KindInconsistentInput: el reporte no puede verificarse como actual.
	KindInconsistentInput Kind = "inconsistent_input"
	// KindCanceled: el pase fue cancelado antes de la operación.
	KindCanceled Kind = "canceled"
	// KindInternal: cualquier otro error.
	KindInternal Kind = "internal"
)

// Retryable indica si un error de este kind merece reintento.
func (k Kind) Retryable() bool { return k == KindTransient }

// Classify mapea un error a su Kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, repository.ErrUnavailable):
		return KindTransient
	case errors.Is(err, repository.ErrInconsistentInput):
		return KindInconsistentInput
	case errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrInvalidInput):
		return KindRejected
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	return KindInternal
}

// Error es un error con kind y detalle legible.
type Error struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
	Err    error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil && e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap envuelve err clasificándolo. Retorna nil si err es nil.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: Classify(err), Detail: err.Error(), Err: err}
}

// Result es Ok(valor) o Fail(kind, detalle).
type Result[T any] struct {
	value T
	err   *Error
}

// Ok construye un resultado exitoso.
func Ok[T any](v T) Result[T] { return Result[T]{value: v} }

// Fail construye un resultado fallido.
func Fail[T any](kind Kind, detail string) Result[T] {
	return Result[T]{err: &Error{Kind: kind, Detail: detail}}
}

// FromErr construye un resultado fallido a partir de un error.
func FromErr[T any](err error) Result[T] {
	return Result[T]{err: Wrap(err)}
}

// Of combina el par idiomático (v, err) en un Result.
func Of[T any](v T, err error) Result[T] {
	if err != nil {
		return FromErr[T](err)
	}
	return Ok(v)
}

// IsOk indica si el resultado es exitoso.
func (r Result[T]) IsOk() bool { return r.err == nil }

// Value retorna el valor (zero value si falló).
func (r Result[T]) Value() T { return r.value }

// Err retorna el error o nil.
func (r Result[T]) Err() *Error { return r.err }

// Kind retorna el kind del error o "" si es Ok.
func (r Result[T]) Kind() Kind {
	if r.err == nil {
		return ""
	}
	return r.err.Kind
}

// Unwrap retorna el par idiomático (v, err).
func (r Result[T]) Unwrap() (T, error) {
	if r.err != nil {
		return r.value, r.err
	}
	return r.value, nil
}
