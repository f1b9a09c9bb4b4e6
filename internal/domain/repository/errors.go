package repository

import "errors"

var (
	// ErrNotFound indica que el registro solicitado no existe.
	ErrNotFound = errors.New("not found")

	// ErrConflict indica un conflicto (ej: duplicado, constraint violation).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoDatabase indica que no hay store configurado.
	ErrNoDatabase = errors.New("no database configured")

	// ErrUnavailable indica un fallo transitorio del store remoto
	// (timeout, 5xx, conexión reseteada). Es el único error que se reintenta.
	ErrUnavailable = errors.New("store unavailable")

	// ErrInconsistentInput indica que un reporte no puede verificarse como actual
	// (token de snapshot distinto, auditoría parcial con categorías destructivas).
	ErrInconsistentInput = errors.New("inconsistent input")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
