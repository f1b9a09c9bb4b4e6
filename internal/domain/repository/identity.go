package repository

import (
	"context"
	"strings"
	"time"
)

// Identity representa un principal autenticado. La gestiona el proveedor de
// identidad externo; la reconciliación nunca la modifica.
type Identity struct {
	ID             string            `json:"id"`
	Email          string            `json:"email"`
	EmailConfirmed bool              `json:"email_confirmed"`
	CreatedAt      time.Time         `json:"created_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// MetadataNameKeys son las claves de metadata donde puede venir el nombre
// completo, en orden de preferencia.
var MetadataNameKeys = []string{"full_name", "fullName", "name"}

// FullName retorna el nombre completo declarado en metadata, o "" si no hay.
func (i Identity) FullName() string {
	for _, k := range MetadataNameKeys {
		if v := strings.TrimSpace(i.Metadata[k]); v != "" {
			return v
		}
	}
	return ""
}

// IdentityRepository es la vista de solo lectura del store de identidades.
type IdentityRepository interface {
	// GetByID busca una identidad por ID.
	// Retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*Identity, error)

	// GetByEmail busca una identidad por email (case-insensitive).
	// Retorna ErrNotFound si no existe.
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// List retorna una página de identidades ordenadas por id.
	List(ctx context.Context, q Query) ([]Identity, error)
}

// NormalizeEmail es la forma canónica de un email para joins y agrupamientos.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
