package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

// ─── IdentityRepository ───

type identityRepo struct {
	pool  *pgxpool.Pool
	table string
}

func (r *identityRepo) selectSQL() string {
	return fmt.Sprintf(`SELECT id::text, COALESCE(email, ''), email_confirmed_at IS NOT NULL, created_at,
		COALESCE(raw_user_meta_data, '{}'::jsonb) FROM %s`, r.table)
}

func scanIdentity(row pgx.Row) (repository.Identity, error) {
	var i repository.Identity
	var meta map[string]any
	if err := row.Scan(&i.ID, &i.Email, &i.EmailConfirmed, &i.CreatedAt, &meta); err != nil {
		return i, err
	}
	if len(meta) > 0 {
		i.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				i.Metadata[k] = s
			} else {
				i.Metadata[k] = fmt.Sprint(v)
			}
		}
	}
	return i, nil
}

func (r *identityRepo) GetByID(ctx context.Context, id string) (*repository.Identity, error) {
	i, err := scanIdentity(r.pool.QueryRow(ctx, r.selectSQL()+" WHERE id::text = $1", id))
	if err != nil {
		return nil, fmt.Errorf("pg: get identity: %w", mapErr(err))
	}
	return &i, nil
}

func (r *identityRepo) GetByEmail(ctx context.Context, email string) (*repository.Identity, error) {
	i, err := scanIdentity(r.pool.QueryRow(ctx, r.selectSQL()+" WHERE LOWER(email) = LOWER($1) ORDER BY id LIMIT 1", email))
	if err != nil {
		return nil, fmt.Errorf("pg: get identity by email: %w", mapErr(err))
	}
	return &i, nil
}

func (r *identityRepo) List(ctx context.Context, q repository.Query) ([]repository.Identity, error) {
	where, args, err := whereClause(q.Where, repository.IdentityFields, nil)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, r.selectSQL()+where+pageClause(q), args...)
	if err != nil {
		return nil, fmt.Errorf("pg: list identities: %w", mapErr(err))
	}
	defer rows.Close()

	var out []repository.Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan identity: %w", err)
		}
		out = append(out, i)
	}
	return out, mapErr(rows.Err())
}

// ─── ProfileRepository ───

type profileRepo struct{ pool *pgxpool.Pool }

const profileCols = `id::text, COALESCE(email, ''), COALESCE(full_name, ''), COALESCE(role, ''), updated_at`

func scanProfile(row pgx.Row) (repository.Profile, error) {
	var p repository.Profile
	var role string
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &role, &p.UpdatedAt)
	p.Role = repository.Role(role)
	return p, err
}

func (r *profileRepo) GetByID(ctx context.Context, id string) (*repository.Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, "SELECT "+profileCols+" FROM public.profiles WHERE id::text = $1", id))
	if err != nil {
		return nil, fmt.Errorf("pg: get profile: %w", mapErr(err))
	}
	return &p, nil
}

func (r *profileRepo) GetByEmail(ctx context.Context, email string) (*repository.Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx,
		"SELECT "+profileCols+" FROM public.profiles WHERE LOWER(email) = LOWER($1) ORDER BY id LIMIT 1", email))
	if err != nil {
		return nil, fmt.Errorf("pg: get profile by email: %w", mapErr(err))
	}
	return &p, nil
}

func (r *profileRepo) List(ctx context.Context, q repository.Query) ([]repository.Profile, error) {
	where, args, err := whereClause(q.Where, repository.ProfileFields, nil)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, "SELECT "+profileCols+" FROM public.profiles"+where+pageClause(q), args...)
	if err != nil {
		return nil, fmt.Errorf("pg: list profiles: %w", mapErr(err))
	}
	defer rows.Close()

	var out []repository.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}

func (r *profileRepo) Upsert(ctx context.Context, patch repository.ProfilePatch) (*repository.Profile, error) {
	if patch.ID == "" {
		return nil, fmt.Errorf("pg: upsert profile: %w: id required", repository.ErrInvalidInput)
	}
	cols, args := profilePatchColumns(patch)
	p, err := scanProfile(r.pool.QueryRow(ctx, upsertSQL("public.profiles", cols, profileCols), args...))
	if err != nil {
		return nil, fmt.Errorf("pg: upsert profile: %w", mapErr(err))
	}
	return &p, nil
}

func profilePatchColumns(patch repository.ProfilePatch) ([]string, []any) {
	var cols []string
	args := []any{patch.ID}
	if patch.Email != nil {
		cols = append(cols, "email")
		args = append(args, *patch.Email)
	}
	if patch.FullName != nil {
		cols = append(cols, "full_name")
		args = append(args, *patch.FullName)
	}
	if patch.Role != nil {
		cols = append(cols, "role")
		args = append(args, nullIfEmpty(string(*patch.Role)))
	}
	return cols, args
}

func (r *profileRepo) DeleteWhere(ctx context.Context, where repository.Predicate) (int, error) {
	return deleteWhere(ctx, r.pool, "public.profiles", repository.ProfileFields, where)
}

// ─── MemberRepository ───

type memberRepo struct{ pool *pgxpool.Pool }

const memberCols = `id::text, linked_identity_id::text, COALESCE(email, ''), COALESCE(full_name, ''),
	COALESCE(category, ''), is_active, assigned_to_member_id::text, COALESCE(phone, ''),
	COALESCE(address, ''), COALESCE(city, ''), created_at, updated_at`

func scanMember(row pgx.Row) (repository.Member, error) {
	var m repository.Member
	err := row.Scan(&m.ID, &m.LinkedIdentityID, &m.Email, &m.FullName, &m.Category, &m.IsActive,
		&m.AssignedToMemberID, &m.Phone, &m.Address, &m.City, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (r *memberRepo) GetByID(ctx context.Context, id string) (*repository.Member, error) {
	m, err := scanMember(r.pool.QueryRow(ctx, "SELECT "+memberCols+" FROM public.members WHERE id::text = $1", id))
	if err != nil {
		return nil, fmt.Errorf("pg: get member: %w", mapErr(err))
	}
	return &m, nil
}

func (r *memberRepo) GetByEmail(ctx context.Context, email string) (*repository.Member, error) {
	m, err := scanMember(r.pool.QueryRow(ctx,
		"SELECT "+memberCols+" FROM public.members WHERE LOWER(email) = LOWER($1) ORDER BY created_at, id LIMIT 1", email))
	if err != nil {
		return nil, fmt.Errorf("pg: get member by email: %w", mapErr(err))
	}
	return &m, nil
}

func (r *memberRepo) List(ctx context.Context, q repository.Query) ([]repository.Member, error) {
	where, args, err := whereClause(q.Where, repository.MemberFields, nil)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, "SELECT "+memberCols+" FROM public.members"+where+pageClause(q), args...)
	if err != nil {
		return nil, fmt.Errorf("pg: list members: %w", mapErr(err))
	}
	defer rows.Close()

	var out []repository.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, mapErr(rows.Err())
}

func (r *memberRepo) Upsert(ctx context.Context, patch repository.MemberPatch) (*repository.Member, error) {
	if patch.ID == "" {
		return nil, fmt.Errorf("pg: upsert member: %w: id required", repository.ErrInvalidInput)
	}
	cols, args := memberPatchColumns(patch)
	m, err := scanMember(r.pool.QueryRow(ctx, upsertSQL("public.members", cols, memberCols), args...))
	if err != nil {
		return nil, fmt.Errorf("pg: upsert member: %w", mapErr(err))
	}
	return &m, nil
}

func memberPatchColumns(patch repository.MemberPatch) ([]string, []any) {
	var cols []string
	args := []any{patch.ID}
	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
	}
	if patch.LinkedIdentityID != nil {
		add("linked_identity_id", nullIfEmpty(*patch.LinkedIdentityID))
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.FullName != nil {
		add("full_name", *patch.FullName)
	}
	if patch.Category != nil {
		add("category", *patch.Category)
	}
	if patch.IsActive != nil {
		add("is_active", *patch.IsActive)
	}
	if patch.AssignedToMemberID != nil {
		add("assigned_to_member_id", nullIfEmpty(*patch.AssignedToMemberID))
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.Address != nil {
		add("address", *patch.Address)
	}
	if patch.City != nil {
		add("city", *patch.City)
	}
	return cols, args
}

func (r *memberRepo) DeleteWhere(ctx context.Context, where repository.Predicate) (int, error) {
	return deleteWhere(ctx, r.pool, "public.members", repository.MemberFields, where)
}

// ─── helpers ───

func deleteWhere(ctx context.Context, pool *pgxpool.Pool, table string, allowed map[string]bool, where repository.Predicate) (int, error) {
	if len(where) == 0 {
		return 0, fmt.Errorf("pg: delete %s: %w: empty predicate", table, repository.ErrInvalidInput)
	}
	clause, args, err := whereClause(where, allowed, nil)
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, "DELETE FROM "+table+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("pg: delete %s: %w", table, mapErr(err))
	}
	return int(tag.RowsAffected()), nil
}

// nullIfEmpty retorna nil si el string está vacío (columna NULL).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
