package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

// Snapshot es el estado de los tres stores leído en una auditoría.
// Partial indica que algún listado cortó antes de agotar el store.
type Snapshot struct {
	Identities []repository.Identity `json:"identities"`
	Profiles   []repository.Profile  `json:"profiles"`
	Members    []repository.Member   `json:"members"`
	Partial    bool                  `json:"partial"`
	LoadedAt   time.Time             `json:"-"`
}

// Sort ordena los tres listados por id.
func (s *Snapshot) Sort() {
	slices.SortFunc(s.Identities, func(a, b repository.Identity) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Profiles, func(a, b repository.Profile) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Members, func(a, b repository.Member) int { return strings.Compare(a.ID, b.ID) })
}

// Token es el hash del contenido del snapshot. Dos lecturas del mismo estado
// producen el mismo token sin importar el orden en que los stores devuelven
// los registros.
func (s *Snapshot) Token() string {
	c := s.Clone()
	c.Sort()
	b, err := json.Marshal(c)
	if err != nil {
		// los tipos del snapshot siempre serializan
		panic("audit: snapshot token: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Clone copia profunda.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{Partial: s.Partial, LoadedAt: s.LoadedAt}
	out.Identities = make([]repository.Identity, len(s.Identities))
	for i, id := range s.Identities {
		if id.Metadata != nil {
			md := make(map[string]string, len(id.Metadata))
			for k, v := range id.Metadata {
				md[k] = v
			}
			id.Metadata = md
		}
		out.Identities[i] = id
	}
	out.Profiles = slices.Clone(s.Profiles)
	out.Members = make([]repository.Member, len(s.Members))
	for i, m := range s.Members {
		m.LinkedIdentityID = cloneRef(m.LinkedIdentityID)
		m.AssignedToMemberID = cloneRef(m.AssignedToMemberID)
		out.Members[i] = m
	}
	return out
}

func cloneRef(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// PutProfile reemplaza o agrega un profile (reflejo local de un upsert).
func (s *Snapshot) PutProfile(p repository.Profile) {
	if i := slices.IndexFunc(s.Profiles, func(x repository.Profile) bool { return x.ID == p.ID }); i >= 0 {
		s.Profiles[i] = p
		return
	}
	s.Profiles = append(s.Profiles, p)
}

// PutMember reemplaza o agrega un member.
func (s *Snapshot) PutMember(m repository.Member) {
	if i := slices.IndexFunc(s.Members, func(x repository.Member) bool { return x.ID == m.ID }); i >= 0 {
		s.Members[i] = m
		return
	}
	s.Members = append(s.Members, m)
}

// RemoveProfile quita un profile por id.
func (s *Snapshot) RemoveProfile(id string) {
	s.Profiles = slices.DeleteFunc(s.Profiles, func(x repository.Profile) bool { return x.ID == id })
}

// RemoveMember quita un member por id.
func (s *Snapshot) RemoveMember(id string) {
	s.Members = slices.DeleteFunc(s.Members, func(x repository.Member) bool { return x.ID == id })
}

// Profile busca un profile por id.
func (s *Snapshot) Profile(id string) (repository.Profile, bool) {
	i := slices.IndexFunc(s.Profiles, func(x repository.Profile) bool { return x.ID == id })
	if i < 0 {
		return repository.Profile{}, false
	}
	return s.Profiles[i], true
}

// Member busca un member por id.
func (s *Snapshot) Member(id string) (repository.Member, bool) {
	i := slices.IndexFunc(s.Members, func(x repository.Member) bool { return x.ID == id })
	if i < 0 {
		return repository.Member{}, false
	}
	return s.Members[i], true
}
