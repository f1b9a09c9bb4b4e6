package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

// ─── IdentityRepository ───

type identityRepo struct{ db *DB }

func (r *identityRepo) GetByID(ctx context.Context, id string) (*repository.Identity, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	i, ok := r.db.identities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	i = cloneIdentity(i)
	return &i, nil
}

func (r *identityRepo) GetByEmail(ctx context.Context, email string) (*repository.Identity, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var found *repository.Identity
	for _, i := range r.db.identities {
		if sameEmail(i.Email, email) && (found == nil || i.ID < found.ID) {
			c := cloneIdentity(i)
			found = &c
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *identityRepo) List(ctx context.Context, q repository.Query) ([]repository.Identity, error) {
	if err := q.Where.Validate(repository.IdentityFields); err != nil {
		return nil, err
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []repository.Identity
	for _, i := range r.db.identities {
		if q.Where.Match(identityField(i)) {
			out = append(out, cloneIdentity(i))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return page(out, q), nil
}

func identityField(i repository.Identity) func(string) (string, bool) {
	return func(f string) (string, bool) {
		switch f {
		case repository.FieldID:
			return i.ID, true
		case repository.FieldEmail:
			return i.Email, i.Email != ""
		}
		return "", false
	}
}

// ─── ProfileRepository ───

type profileRepo struct{ db *DB }

func (r *profileRepo) GetByID(ctx context.Context, id string) (*repository.Profile, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *profileRepo) GetByEmail(ctx context.Context, email string) (*repository.Profile, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var found *repository.Profile
	for _, p := range r.db.profiles {
		if sameEmail(p.Email, email) && (found == nil || p.ID < found.ID) {
			c := p
			found = &c
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *profileRepo) List(ctx context.Context, q repository.Query) ([]repository.Profile, error) {
	if err := q.Where.Validate(repository.ProfileFields); err != nil {
		return nil, err
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []repository.Profile
	for _, p := range r.db.profiles {
		if q.Where.Match(profileField(p)) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return page(out, q), nil
}

func (r *profileRepo) Upsert(ctx context.Context, patch repository.ProfilePatch) (*repository.Profile, error) {
	if patch.ID == "" {
		return nil, fmt.Errorf("memory: upsert profile: %w: id required", repository.ErrInvalidInput)
	}
	if patch.Role != nil && !patch.Role.Valid() {
		return nil, fmt.Errorf("memory: upsert profile: %w: role %q", repository.ErrInvalidInput, *patch.Role)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	p := patch.Apply(r.db.profiles[patch.ID])
	p.UpdatedAt = r.db.now()
	r.db.profiles[p.ID] = p
	r.db.writes++
	return &p, nil
}

func (r *profileRepo) DeleteWhere(ctx context.Context, where repository.Predicate) (int, error) {
	if len(where) == 0 {
		return 0, fmt.Errorf("memory: delete profiles: %w: empty predicate", repository.ErrInvalidInput)
	}
	if err := where.Validate(repository.ProfileFields); err != nil {
		return 0, err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for id, p := range r.db.profiles {
		if where.Match(profileField(p)) {
			delete(r.db.profiles, id)
			n++
		}
	}
	if n > 0 {
		r.db.writes++
	}
	return n, nil
}

func profileField(p repository.Profile) func(string) (string, bool) {
	return func(f string) (string, bool) {
		switch f {
		case repository.FieldID:
			return p.ID, true
		case repository.FieldEmail:
			return p.Email, p.Email != ""
		case repository.FieldFullName:
			return p.FullName, p.FullName != ""
		case repository.FieldRole:
			return string(p.Role), p.Role != ""
		}
		return "", false
	}
}

// ─── MemberRepository ───

type memberRepo struct{ db *DB }

func (r *memberRepo) GetByID(ctx context.Context, id string) (*repository.Member, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	m, ok := r.db.members[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	m = cloneMember(m)
	return &m, nil
}

func (r *memberRepo) GetByEmail(ctx context.Context, email string) (*repository.Member, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var found *repository.Member
	for _, m := range r.db.members {
		if sameEmail(m.Email, email) && (found == nil || m.CreatedBefore(*found)) {
			c := cloneMember(m)
			found = &c
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func sameEmail(a, b string) bool {
	a = repository.NormalizeEmail(a)
	return a != "" && a == repository.NormalizeEmail(b)
}

func (r *memberRepo) List(ctx context.Context, q repository.Query) ([]repository.Member, error) {
	if err := q.Where.Validate(repository.MemberFields); err != nil {
		return nil, err
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []repository.Member
	for _, m := range r.db.members {
		if q.Where.Match(memberField(m)) {
			out = append(out, cloneMember(m))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return page(out, q), nil
}

func (r *memberRepo) Upsert(ctx context.Context, patch repository.MemberPatch) (*repository.Member, error) {
	if patch.ID == "" {
		return nil, fmt.Errorf("memory: upsert member: %w: id required", repository.ErrInvalidInput)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	now := r.db.now()
	base, exists := r.db.members[patch.ID]
	if !exists {
		base = repository.Member{IsActive: true, CreatedAt: now}
	}
	m := patch.Apply(base)
	m.UpdatedAt = now
	r.db.members[m.ID] = m
	r.db.writes++
	out := cloneMember(m)
	return &out, nil
}

func (r *memberRepo) DeleteWhere(ctx context.Context, where repository.Predicate) (int, error) {
	if len(where) == 0 {
		return 0, fmt.Errorf("memory: delete members: %w: empty predicate", repository.ErrInvalidInput)
	}
	if err := where.Validate(repository.MemberFields); err != nil {
		return 0, err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for id, m := range r.db.members {
		if where.Match(memberField(m)) {
			delete(r.db.members, id)
			n++
		}
	}
	if n > 0 {
		r.db.writes++
	}
	return n, nil
}

func memberField(m repository.Member) func(string) (string, bool) {
	return func(f string) (string, bool) {
		switch f {
		case repository.FieldID:
			return m.ID, true
		case repository.FieldEmail:
			return m.Email, m.Email != ""
		case repository.FieldFullName:
			return m.FullName, m.FullName != ""
		case repository.FieldLinkedIdentityID:
			return ptrVal(m.LinkedIdentityID)
		case repository.FieldCategory:
			return m.Category, m.Category != ""
		case repository.FieldIsActive:
			return strconv.FormatBool(m.IsActive), true
		case repository.FieldAssignedToMemberID:
			return ptrVal(m.AssignedToMemberID)
		case repository.FieldPhone:
			return m.Phone, m.Phone != ""
		case repository.FieldAddress:
			return m.Address, m.Address != ""
		case repository.FieldCity:
			return m.City, m.City != ""
		}
		return "", false
	}
}
