package audit

import (
	"slices"
	"strings"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

// index son los mapas de join de una pasada de análisis.
type index struct {
	identities      map[string]repository.Identity
	identityByEmail map[string]repository.Identity
	profiles        map[string]repository.Profile
	members         map[string]repository.Member
	linked          map[string][]repository.Member // identity id -> members vinculados, por antigüedad
	byEmail         map[string][]repository.Member // email normalizado -> members, por antigüedad
}

func buildIndex(s *Snapshot) *index {
	ix := &index{
		identities:      make(map[string]repository.Identity, len(s.Identities)),
		identityByEmail: make(map[string]repository.Identity, len(s.Identities)),
		profiles:        make(map[string]repository.Profile, len(s.Profiles)),
		members:         make(map[string]repository.Member, len(s.Members)),
		linked:          make(map[string][]repository.Member),
		byEmail:         make(map[string][]repository.Member),
	}
	for _, i := range s.Identities {
		ix.identities[i.ID] = i
		// si dos identidades comparten email gana la de menor id
		if e := repository.NormalizeEmail(i.Email); e != "" {
			if _, dup := ix.identityByEmail[e]; !dup {
				ix.identityByEmail[e] = i
			}
		}
	}
	for _, p := range s.Profiles {
		ix.profiles[p.ID] = p
	}
	for _, m := range s.Members {
		ix.members[m.ID] = m
		if lid := m.LinkedID(); lid != "" {
			if _, ok := ix.identities[lid]; ok {
				ix.linked[lid] = append(ix.linked[lid], m)
			}
		}
		if e := repository.NormalizeEmail(m.Email); e != "" {
			ix.byEmail[e] = append(ix.byEmail[e], m)
		}
	}
	byAge := func(a, b repository.Member) int {
		if a.CreatedBefore(b) {
			return -1
		}
		if b.CreatedBefore(a) {
			return 1
		}
		return 0
	}
	for _, ms := range ix.linked {
		slices.SortFunc(ms, byAge)
	}
	for _, ms := range ix.byEmail {
		slices.SortFunc(ms, byAge)
	}
	return ix
}

// linkedToExisting indica si el member está vinculado a una identidad existente.
func (ix *index) linkedToExisting(m repository.Member) bool {
	_, ok := ix.identities[m.LinkedID()]
	return ok
}

// memberFor resuelve el member de una identidad: el vinculado más antiguo o,
// si no hay, el más antiguo con el mismo email que no esté vinculado a otra
// identidad existente.
func (ix *index) memberFor(i repository.Identity) (repository.Member, bool) {
	if ms := ix.linked[i.ID]; len(ms) > 0 {
		return ms[0], true
	}
	for _, m := range ix.byEmail[repository.NormalizeEmail(i.Email)] {
		if !ix.linkedToExisting(m) {
			return m, true
		}
	}
	return repository.Member{}, false
}

// CanonicalName es el nombre esperado para la persona: el de la metadata de
// la identidad o, si no hay, el del profile.
func CanonicalName(i repository.Identity, p *repository.Profile) string {
	if n := i.FullName(); n != "" {
		return n
	}
	if p != nil {
		return strings.TrimSpace(p.FullName)
	}
	return ""
}

// Analyze calcula el reporte de un snapshot. Es puro y determinista: no lee
// stores ni relojes; GeneratedAt lo completa el Auditor.
func Analyze(s *Snapshot) *Report {
	snap := s.Clone()
	snap.Sort()
	ix := buildIndex(snap)

	r := &Report{
		Token:   s.Token(),
		Partial: s.Partial,
		Totals:  Totals{Identities: len(snap.Identities), Profiles: len(snap.Profiles), Members: len(snap.Members)},
	}

	for _, i := range snap.Identities {
		var prof *repository.Profile
		if p, ok := ix.profiles[i.ID]; ok {
			prof = &p
		}
		name := CanonicalName(i, prof)
		if prof == nil {
			r.IdentitiesWithoutProfile = append(r.IdentitiesWithoutProfile, MissingRecord{Identity: i, Name: name})
		}
		m, hasMember := ix.memberFor(i)
		if !hasMember {
			r.IdentitiesWithoutMember = append(r.IdentitiesWithoutMember, MissingRecord{Identity: i, Name: name})
		}
		var mem *repository.Member
		if hasMember {
			mem = &m
		}
		r.FieldMismatches = append(r.FieldMismatches, mismatches(i, name, prof, mem)...)
	}

	for _, p := range snap.Profiles {
		if _, ok := ix.identities[p.ID]; !ok {
			r.ProfilesOrphaned = append(r.ProfilesOrphaned, p)
		}
	}

	for _, m := range snap.Members {
		switch lid := m.LinkedID(); {
		case lid == "":
			if _, ok := ix.identityByEmail[repository.NormalizeEmail(m.Email)]; !ok {
				r.MembersUnlinked = append(r.MembersUnlinked, m)
			}
		case !ix.linkedToExisting(m):
			r.MembersOrphaned = append(r.MembersOrphaned, m)
		}
	}

	r.MembersLinkable = linkable(ix)
	r.MembersDuplicateEmail = duplicates(ix)
	r.InvalidAssignments = invalidAssignments(snap.Members, ix)

	r.normalize()
	return r
}

func mismatches(i repository.Identity, name string, p *repository.Profile, m *repository.Member) []Mismatch {
	var out []Mismatch
	base := Mismatch{IdentityID: i.ID}
	if p != nil {
		base.ProfileID = p.ID
	}
	if m != nil {
		base.MemberID = m.ID
	}

	if want := repository.NormalizeEmail(i.Email); want != "" {
		mm := base
		mm.Field, mm.Expected = repository.FieldEmail, i.Email
		if p != nil {
			mm.ProfileValue = p.Email
			mm.ProfileStale = repository.NormalizeEmail(p.Email) != want
		}
		if m != nil {
			mm.MemberValue = m.Email
			mm.MemberStale = repository.NormalizeEmail(m.Email) != want
		}
		if mm.ProfileStale || mm.MemberStale {
			out = append(out, mm)
		}
	}

	if name != "" {
		mm := base
		mm.Field, mm.Expected = repository.FieldFullName, name
		if p != nil {
			mm.ProfileValue = p.FullName
			mm.ProfileStale = strings.TrimSpace(p.FullName) != name
		}
		if m != nil {
			mm.MemberValue = m.FullName
			mm.MemberStale = strings.TrimSpace(m.FullName) != name
		}
		if mm.ProfileStale || mm.MemberStale {
			out = append(out, mm)
		}
	}
	return out
}

// linkable: por cada identidad sin member vinculado, el member más antiguo con
// su email que no esté vinculado a una identidad existente.
func linkable(ix *index) []Link {
	var out []Link
	for email, i := range ix.identityByEmail {
		if len(ix.linked[i.ID]) > 0 {
			continue
		}
		for _, m := range ix.byEmail[email] {
			if !ix.linkedToExisting(m) {
				out = append(out, Link{MemberID: m.ID, IdentityID: i.ID, Email: i.Email})
				break
			}
		}
	}
	slices.SortFunc(out, func(a, b Link) int { return strings.Compare(a.MemberID, b.MemberID) })
	return out
}

func duplicates(ix *index) []DuplicateGroup {
	var out []DuplicateGroup
	for email, ms := range ix.byEmail {
		if len(ms) < 2 {
			continue
		}
		out = append(out, DuplicateGroup{Email: email, Keeper: ms[0], Duplicates: slices.Clone(ms[1:])})
	}
	slices.SortFunc(out, func(a, b DuplicateGroup) int { return strings.Compare(a.Keeper.ID, b.Keeper.ID) })
	return out
}

// invalidAssignments detecta referencias inexistentes, auto-asignaciones y
// ciclos de cualquier largo (recorrido con conjunto de visitados).
func invalidAssignments(members []repository.Member, ix *index) []InvalidAssignment {
	var out []InvalidAssignment
	for _, m := range members {
		a := m.AssignedID()
		switch {
		case a == "":
		case a == m.ID:
			out = append(out, InvalidAssignment{MemberID: m.ID, AssignedTo: a, Reason: ReasonSelf})
		default:
			if _, ok := ix.members[a]; !ok {
				out = append(out, InvalidAssignment{MemberID: m.ID, AssignedTo: a, Reason: ReasonMissing})
			}
		}
	}

	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[string]int, len(members))
	for _, start := range members {
		if state[start.ID] != unvisited {
			continue
		}
		var path []string
		pos := map[string]int{}
		for cur := start.ID; cur != ""; {
			if state[cur] == done {
				break
			}
			if state[cur] == onPath {
				if cyc := path[pos[cur]:]; len(cyc) > 1 {
					out = append(out, cycleEntry(cyc))
				}
				break
			}
			state[cur] = onPath
			pos[cur] = len(path)
			path = append(path, cur)
			next, ok := ix.members[cur]
			if !ok {
				break
			}
			cur = next.AssignedID()
			if _, exists := ix.members[cur]; !exists {
				break
			}
		}
		for _, id := range path {
			state[id] = done
		}
	}

	slices.SortFunc(out, func(a, b InvalidAssignment) int {
		if c := strings.Compare(a.MemberID, b.MemberID); c != 0 {
			return c
		}
		return strings.Compare(a.Reason, b.Reason)
	})
	return out
}

// cycleEntry rota el ciclo para que empiece por el menor id.
func cycleEntry(cyc []string) InvalidAssignment {
	lo := 0
	for i, id := range cyc {
		if id < cyc[lo] {
			lo = i
		}
	}
	rot := append(slices.Clone(cyc[lo:]), cyc[:lo]...)
	return InvalidAssignment{MemberID: rot[0], AssignedTo: rot[1], Reason: ReasonCycle, Cycle: rot}
}

// normalize reemplaza slices nil por vacíos para que el JSON muestre [].
func (r *Report) normalize() {
	if r.IdentitiesWithoutProfile == nil {
		r.IdentitiesWithoutProfile = []MissingRecord{}
	}
	if r.IdentitiesWithoutMember == nil {
		r.IdentitiesWithoutMember = []MissingRecord{}
	}
	if r.ProfilesOrphaned == nil {
		r.ProfilesOrphaned = []repository.Profile{}
	}
	if r.MembersUnlinked == nil {
		r.MembersUnlinked = []repository.Member{}
	}
	if r.MembersOrphaned == nil {
		r.MembersOrphaned = []repository.Member{}
	}
	if r.MembersLinkable == nil {
		r.MembersLinkable = []Link{}
	}
	if r.MembersDuplicateEmail == nil {
		r.MembersDuplicateEmail = []DuplicateGroup{}
	}
	if r.FieldMismatches == nil {
		r.FieldMismatches = []Mismatch{}
	}
	if r.InvalidAssignments == nil {
		r.InvalidAssignments = []InvalidAssignment{}
	}
}
