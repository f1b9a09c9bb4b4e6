package repository

import (
	"context"
	"time"
)

// Categorías de miembro más comunes.
const (
	CategoryMembers = "Members"
	CategoryPastors = "Pastors"
	CategoryOthers  = "Others"
)

// Member es el registro rico de la congregación. Puede existir sin Identity
// (persona sin login).
type Member struct {
	ID                 string    `json:"id"`
	LinkedIdentityID   *string   `json:"linked_identity_id,omitempty"`
	Email              string    `json:"email,omitempty"`
	FullName           string    `json:"full_name,omitempty"`
	Category           string    `json:"category,omitempty"`
	IsActive           bool      `json:"is_active"`
	AssignedToMemberID *string   `json:"assigned_to_member_id,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	Address            string    `json:"address,omitempty"`
	City               string    `json:"city,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// LinkedID retorna el linked_identity_id o "" si es nulo.
func (m Member) LinkedID() string {
	if m.LinkedIdentityID == nil {
		return ""
	}
	return *m.LinkedIdentityID
}

// AssignedID retorna el assigned_to_member_id o "" si es nulo.
func (m Member) AssignedID() string {
	if m.AssignedToMemberID == nil {
		return ""
	}
	return *m.AssignedToMemberID
}

// CreatedBefore define el orden de "keeper": primero el más antiguo,
// con desempate por id menor.
func (m Member) CreatedBefore(o Member) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// MemberPatch es la entrada de un merge upsert: sólo se escriben los campos no nil.
type MemberPatch struct {
	ID                 string
	LinkedIdentityID   *string
	Email              *string
	FullName           *string
	Category           *string
	IsActive           *bool
	AssignedToMemberID *string
	Phone              *string
	Address            *string
	City               *string
}

// Empty indica si el patch no toca ningún campo.
func (p MemberPatch) Empty() bool {
	return p.LinkedIdentityID == nil && p.Email == nil && p.FullName == nil &&
		p.Category == nil && p.IsActive == nil && p.AssignedToMemberID == nil &&
		p.Phone == nil && p.Address == nil && p.City == nil
}

// Apply aplica el patch sobre base y retorna el resultado. Un puntero a ""
// en las referencias (linked/assigned) las deja en nulo.
func (p MemberPatch) Apply(base Member) Member {
	m := base
	m.ID = p.ID
	if p.LinkedIdentityID != nil {
		m.LinkedIdentityID = nullableRef(*p.LinkedIdentityID)
	}
	if p.Email != nil {
		m.Email = *p.Email
	}
	if p.FullName != nil {
		m.FullName = *p.FullName
	}
	if p.Category != nil {
		m.Category = *p.Category
	}
	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}
	if p.AssignedToMemberID != nil {
		m.AssignedToMemberID = nullableRef(*p.AssignedToMemberID)
	}
	if p.Phone != nil {
		m.Phone = *p.Phone
	}
	if p.Address != nil {
		m.Address = *p.Address
	}
	if p.City != nil {
		m.City = *p.City
	}
	return m
}

func nullableRef(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MemberRepository define operaciones sobre members.
type MemberRepository interface {
	// GetByID retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*Member, error)

	// GetByEmail busca por email case-insensitive. Si hay duplicados retorna
	// el más antiguo. Retorna ErrNotFound si no existe.
	GetByEmail(ctx context.Context, email string) (*Member, error)

	// List retorna una página de members ordenados por id.
	List(ctx context.Context, q Query) ([]Member, error)

	// Upsert inserta si no existe (por ID) o actualiza sólo los campos presentes.
	Upsert(ctx context.Context, patch MemberPatch) (*Member, error)

	// DeleteWhere borra los members que cumplen el predicado y retorna cuántos.
	// Un predicado vacío retorna ErrInvalidInput.
	DeleteWhere(ctx context.Context, where Predicate) (int, error)
}
