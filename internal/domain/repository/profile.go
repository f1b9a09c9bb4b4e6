package repository

import (
	"context"
	"time"
)

// Role es el rol de autorización de un Profile.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleSuperuser Role = "superuser"
)

// Valid indica si el rol es conocido. Vacío cuenta como válido ("user").
func (r Role) Valid() bool {
	switch r {
	case "", RoleUser, RoleAdmin, RoleSuperuser:
		return true
	}
	return false
}

// Profile es el registro liviano de autorización/display.
// Su ID es el mismo que el de la Identity dueña.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	Role      Role      `json:"role,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveRole retorna el rol, con "user" cuando no está seteado.
func (p Profile) EffectiveRole() Role {
	if p.Role == "" {
		return RoleUser
	}
	return p.Role
}

// ProfilePatch es la entrada de un merge upsert: sólo se escriben los campos no nil.
type ProfilePatch struct {
	ID       string
	Email    *string
	FullName *string
	Role     *Role
}

// Empty indica si el patch no toca ningún campo.
func (p ProfilePatch) Empty() bool {
	return p.Email == nil && p.FullName == nil && p.Role == nil
}

// Apply aplica el patch sobre base y retorna el resultado.
func (p ProfilePatch) Apply(base Profile) Profile {
	out := base
	out.ID = p.ID
	if p.Email != nil {
		out.Email = *p.Email
	}
	if p.FullName != nil {
		out.FullName = *p.FullName
	}
	if p.Role != nil {
		out.Role = *p.Role
	}
	return out
}

// ProfileRepository define operaciones sobre profiles.
type ProfileRepository interface {
	// GetByID retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*Profile, error)

	// GetByEmail busca por email case-insensitive. Retorna ErrNotFound si no existe.
	GetByEmail(ctx context.Context, email string) (*Profile, error)

	// List retorna una página de profiles ordenados por id.
	List(ctx context.Context, q Query) ([]Profile, error)

	// Upsert inserta si no existe (por ID) o actualiza sólo los campos presentes.
	Upsert(ctx context.Context, patch ProfilePatch) (*Profile, error)

	// DeleteWhere borra los profiles que cumplen el predicado y retorna cuántos.
	// Un predicado vacío retorna ErrInvalidInput.
	DeleteWhere(ctx context.Context, where Predicate) (int, error)
}
