package audit

import (
	"time"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

// Category es una categoría de hallazgo del reporte.
type Category string

const (
	IdentitiesWithoutProfile Category = "identitiesWithoutProfile"
	IdentitiesWithoutMember  Category = "identitiesWithoutMember"
	ProfilesOrphaned         Category = "profilesOrphaned"
	MembersUnlinked          Category = "membersUnlinked"
	MembersOrphaned          Category = "membersOrphaned"
	MembersLinkable          Category = "membersLinkable"
	MembersDuplicateEmail    Category = "membersDuplicateEmail"
	FieldMismatches          Category = "fieldMismatches"
	InvalidAssignments       Category = "invalidAssignments"
)

// Categories en orden de presentación.
var Categories = []Category{
	IdentitiesWithoutProfile,
	IdentitiesWithoutMember,
	ProfilesOrphaned,
	MembersUnlinked,
	MembersOrphaned,
	MembersLinkable,
	MembersDuplicateEmail,
	FieldMismatches,
	InvalidAssignments,
}

// Valid indica si c es una categoría conocida.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// MissingRecord es una identidad sin profile o sin member. Name es el nombre
// canónico con el que se crearía el registro.
type MissingRecord struct {
	Identity repository.Identity `json:"identity"`
	Name     string              `json:"expectedFullName,omitempty"`
}

// Link es un member sin vínculo válido cuyo email coincide con una identidad
// que todavía no tiene member vinculado.
type Link struct {
	MemberID   string `json:"memberId"`
	IdentityID string `json:"identityId"`
	Email      string `json:"email"`
}

// DuplicateGroup agrupa members con el mismo email (case-insensitive).
// Keeper es el más antiguo; el resto son Duplicates, también por antigüedad.
type DuplicateGroup struct {
	Email      string              `json:"email"`
	Keeper     repository.Member   `json:"keeper"`
	Duplicates []repository.Member `json:"duplicates"`
}

// Mismatch es una diferencia de un campo entre la identidad (fuente de verdad)
// y su profile y/o member. Los *Stale indican qué registro hay que corregir.
type Mismatch struct {
	IdentityID   string `json:"identityId"`
	Field        string `json:"field"` // email | full_name
	Expected     string `json:"expected"`
	ProfileID    string `json:"profileId,omitempty"`
	ProfileValue string `json:"profileValue,omitempty"`
	ProfileStale bool   `json:"profileStale"`
	MemberID     string `json:"memberId,omitempty"`
	MemberValue  string `json:"memberValue,omitempty"`
	MemberStale  bool   `json:"memberStale"`
}

// Motivos de asignación inválida.
const (
	ReasonMissing = "missing"
	ReasonSelf    = "self"
	ReasonCycle   = "cycle"
)

// InvalidAssignment es un assigned_to_member_id roto. Para ciclos, MemberID es
// el menor id del ciclo y Cycle el recorrido completo desde él.
type InvalidAssignment struct {
	MemberID   string   `json:"memberId"`
	AssignedTo string   `json:"assignedTo"`
	Reason     string   `json:"reason"`
	Cycle      []string `json:"cycle,omitempty"`
}

// Totals son los tamaños de los stores auditados.
type Totals struct {
	Identities int `json:"identities"`
	Profiles   int `json:"profiles"`
	Members    int `json:"members"`
}

// Report es el resultado de una auditoría. Todas las secuencias vienen
// ordenadas por id para que el mismo snapshot dé el mismo reporte.
type Report struct {
	Token       string    `json:"token"`
	Partial     bool      `json:"partial"`
	GeneratedAt time.Time `json:"generatedAt"`
	Totals      Totals    `json:"totals"`

	IdentitiesWithoutProfile []MissingRecord      `json:"identitiesWithoutProfile"`
	IdentitiesWithoutMember  []MissingRecord      `json:"identitiesWithoutMember"`
	ProfilesOrphaned         []repository.Profile `json:"profilesOrphaned"`
	MembersUnlinked          []repository.Member  `json:"membersUnlinked"`
	MembersOrphaned          []repository.Member  `json:"membersOrphaned"`
	MembersLinkable          []Link               `json:"membersLinkable"`
	MembersDuplicateEmail    []DuplicateGroup     `json:"membersDuplicateEmail"`
	FieldMismatches          []Mismatch           `json:"fieldMismatches"`
	InvalidAssignments       []InvalidAssignment  `json:"invalidAssignments"`
}

// Count retorna la cantidad de hallazgos de una categoría. Para duplicados
// cuenta grupos.
func (r *Report) Count(c Category) int {
	switch c {
	case IdentitiesWithoutProfile:
		return len(r.IdentitiesWithoutProfile)
	case IdentitiesWithoutMember:
		return len(r.IdentitiesWithoutMember)
	case ProfilesOrphaned:
		return len(r.ProfilesOrphaned)
	case MembersUnlinked:
		return len(r.MembersUnlinked)
	case MembersOrphaned:
		return len(r.MembersOrphaned)
	case MembersLinkable:
		return len(r.MembersLinkable)
	case MembersDuplicateEmail:
		return len(r.MembersDuplicateEmail)
	case FieldMismatches:
		return len(r.FieldMismatches)
	case InvalidAssignments:
		return len(r.InvalidAssignments)
	}
	return 0
}

// IDs retorna el id principal de cada hallazgo de la categoría, en el orden
// del reporte: identidad para los faltantes, keeper para duplicados.
func (r *Report) IDs(c Category) []string {
	var out []string
	switch c {
	case IdentitiesWithoutProfile:
		for _, m := range r.IdentitiesWithoutProfile {
			out = append(out, m.Identity.ID)
		}
	case IdentitiesWithoutMember:
		for _, m := range r.IdentitiesWithoutMember {
			out = append(out, m.Identity.ID)
		}
	case ProfilesOrphaned:
		for _, p := range r.ProfilesOrphaned {
			out = append(out, p.ID)
		}
	case MembersUnlinked:
		for _, m := range r.MembersUnlinked {
			out = append(out, m.ID)
		}
	case MembersOrphaned:
		for _, m := range r.MembersOrphaned {
			out = append(out, m.ID)
		}
	case MembersLinkable:
		for _, l := range r.MembersLinkable {
			out = append(out, l.MemberID)
		}
	case MembersDuplicateEmail:
		for _, g := range r.MembersDuplicateEmail {
			out = append(out, g.Keeper.ID)
		}
	case FieldMismatches:
		for _, m := range r.FieldMismatches {
			out = append(out, m.IdentityID+"/"+m.Field)
		}
	case InvalidAssignments:
		for _, a := range r.InvalidAssignments {
			out = append(out, a.MemberID)
		}
	}
	return out
}

// Counts retorna los conteos de todas las categorías.
func (r *Report) Counts() map[Category]int {
	out := make(map[Category]int, len(Categories))
	for _, c := range Categories {
		out[c] = r.Count(c)
	}
	return out
}

// Total suma los hallazgos de todas las categorías.
func (r *Report) Total() int {
	n := 0
	for _, c := range Categories {
		n += r.Count(c)
	}
	return n
}

// Empty indica si no hay hallazgos.
func (r *Report) Empty() bool { return r.Total() == 0 }
