package reconcile

import (
	"strings"

	"github.com/dropDatabas3/rebano/internal/audit"
)

// Policy enumera las categorías sobre las que la reconciliación puede actuar.
// El zero value no hace nada. DeleteOrphanedProfiles nunca se activa por defecto.
type Policy struct {
	CreateMissingProfile   bool `json:"createMissingProfile" yaml:"create_missing_profile"`
	CreateMissingMember    bool `json:"createMissingMember" yaml:"create_missing_member"`
	LinkMembersByEmail     bool `json:"linkMembersByEmail" yaml:"link_members_by_email"`
	UpdateMismatchedFields bool `json:"updateMismatchedFields" yaml:"update_mismatched_fields"`
	DeduplicateMembers     bool `json:"deduplicateMembers" yaml:"deduplicate_members"`
	DeleteOrphanedProfiles bool `json:"deleteOrphanedProfiles" yaml:"delete_orphaned_profiles"`

	// DryRun planifica todas las acciones sin escribir.
	DryRun bool `json:"dryRun" yaml:"dry_run"`
}

// Categories retorna las categorías de hallazgo que la policy corrige, en el
// orden en que se aplican.
func (p Policy) Categories() []audit.Category {
	var out []audit.Category
	for _, ph := range phases {
		if ph.enabled(p) {
			out = append(out, ph.category)
		}
	}
	return out
}

// Acts indica si la policy corrige la categoría c.
func (p Policy) Acts(c audit.Category) bool {
	for _, k := range p.Categories() {
		if k == c {
			return true
		}
	}
	return false
}

// Destructive indica si la policy borra registros. Una policy destructiva no
// puede correr sobre una auditoría parcial.
func (p Policy) Destructive() bool {
	return p.DeleteOrphanedProfiles || p.DeduplicateMembers
}

// Empty indica que la policy no actúa sobre ninguna categoría.
func (p Policy) Empty() bool { return len(p.Categories()) == 0 }

func (p Policy) String() string {
	var parts []string
	for _, c := range p.Categories() {
		parts = append(parts, string(c))
	}
	s := strings.Join(parts, ",")
	if s == "" {
		s = "none"
	}
	if p.DryRun {
		s += " (dry run)"
	}
	return s
}
