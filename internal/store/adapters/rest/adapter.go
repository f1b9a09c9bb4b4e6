// Package rest implementa el adapter contra la plataforma hosteada: tablas vía
// PostgREST y usuarios vía el admin API de auth. Es el adapter de producción.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
	store "github.com/dropDatabas3/rebano/internal/store"
)

func init() {
	store.RegisterAdapter(&restAdapter{})
}

type restAdapter struct{}

func (a *restAdapter) Name() string { return "rest" }

func (a *restAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest: %w: base URL required", repository.ErrInvalidInput)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("rest: %w: base URL: %v", repository.ErrInvalidInput, err)
	}
	if cfg.ServiceKey == "" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("rest: %w: service key or JWT secret required", repository.ErrInvalidInput)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &restConnection{c: &client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		tokens: &tokenSource{
			static: cfg.ServiceKey,
			secret: []byte(cfg.JWTSecret),
			ttl:    time.Hour,
			now:    time.Now,
		},
	}}, nil
}

type restConnection struct{ c *client }

func (c *restConnection) Name() string { return "rest" }

func (c *restConnection) Ping(ctx context.Context) error {
	_, err := c.c.do(ctx, http.MethodGet, "/auth/v1/admin/users", url.Values{"page": {"1"}, "per_page": {"1"}}, nil, nil, nil)
	return err
}

func (c *restConnection) Close() error {
	c.c.http.CloseIdleConnections()
	return nil
}

func (c *restConnection) Identities() repository.IdentityRepository { return &identityRepo{c: c.c} }
func (c *restConnection) Profiles() repository.ProfileRepository    { return &profileRepo{c: c.c} }
func (c *restConnection) Members() repository.MemberRepository      { return &memberRepo{c: c.c} }

// ─── IdentityRepository (admin users API) ───

type identityRepo struct{ c *client }

type authUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

func (u authUser) identity() repository.Identity {
	i := repository.Identity{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != nil,
		CreatedAt:      u.CreatedAt,
	}
	if len(u.UserMetadata) > 0 {
		i.Metadata = make(map[string]string, len(u.UserMetadata))
		for k, v := range u.UserMetadata {
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
	return i
}

func (r *identityRepo) GetByID(ctx context.Context, id string) (*repository.Identity, error) {
	var u authUser
	if _, err := r.c.do(ctx, http.MethodGet, "/auth/v1/admin/users/"+url.PathEscape(id), nil, nil, nil, &u); err != nil {
		return nil, err
	}
	i := u.identity()
	return &i, nil
}

func (r *identityRepo) GetByEmail(ctx context.Context, email string) (*repository.Identity, error) {
	all, err := r.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	want := repository.NormalizeEmail(email)
	for _, i := range all {
		if want != "" && repository.NormalizeEmail(i.Email) == want {
			return &i, nil
		}
	}
	return nil, repository.ErrNotFound
}

// List: el admin API pagina por page/per_page y no filtra. Con un predicado se
// recorre todo y se filtra localmente antes de aplicar offset/limit.
func (r *identityRepo) List(ctx context.Context, q repository.Query) ([]repository.Identity, error) {
	if err := q.Where.Validate(repository.IdentityFields); err != nil {
		return nil, err
	}
	if len(q.Where) == 0 && q.Limit > 0 && q.Offset%q.Limit == 0 {
		return r.fetchPage(ctx, q.Offset/q.Limit+1, q.Limit)
	}
	all, err := r.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []repository.Identity
	for _, i := range all {
		if q.Where.Match(func(f string) (string, bool) {
			switch f {
			case repository.FieldID:
				return i.ID, true
			case repository.FieldEmail:
				return i.Email, i.Email != ""
			}
			return "", false
		}) {
			out = append(out, i)
		}
	}
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

const adminPageSize = 1000

// fetchAll recorre todas las páginas del admin API.
func (r *identityRepo) fetchAll(ctx context.Context) ([]repository.Identity, error) {
	var all []repository.Identity
	for page := 1; ; page++ {
		batch, err := r.fetchPage(ctx, page, adminPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < adminPageSize {
			return all, nil
		}
	}
}

func (r *identityRepo) fetchPage(ctx context.Context, page, perPage int) ([]repository.Identity, error) {
	var body struct {
		Users []authUser `json:"users"`
	}
	q := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(perPage)}}
	if _, err := r.c.do(ctx, http.MethodGet, "/auth/v1/admin/users", q, nil, nil, &body); err != nil {
		return nil, err
	}
	out := make([]repository.Identity, 0, len(body.Users))
	for _, u := range body.Users {
		out = append(out, u.identity())
	}
	return out, nil
}

// ─── tablas (PostgREST) ───

const tablePrefix = "/rest/v1/"

func listTable[T any](ctx context.Context, c *client, table string, allowed map[string]bool, q repository.Query) ([]T, error) {
	params, err := filters(q.Where, allowed)
	if err != nil {
		return nil, err
	}
	params.Set("select", "*")
	params.Set("order", "id.asc")
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	var out []T
	if _, err := c.do(ctx, http.MethodGet, tablePrefix+table, params, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func getOne[T any](ctx context.Context, c *client, table string, params url.Values) (*T, error) {
	params.Set("select", "*")
	if params.Get("order") == "" {
		params.Set("order", "id.asc")
	}
	params.Set("limit", "1")
	var out []T
	if _, err := c.do(ctx, http.MethodGet, tablePrefix+table, params, nil, nil, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, repository.ErrNotFound
	}
	return &out[0], nil
}

// upsertRow hace un merge upsert: sólo viajan las columnas presentes y
// PostgREST actualiza esas columnas ante conflicto por id.
func upsertRow[T any](ctx context.Context, c *client, table string, row map[string]any) (*T, error) {
	var out []T
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=representation"}
	params := url.Values{"on_conflict": {"id"}}
	if _, err := c.do(ctx, http.MethodPost, tablePrefix+table, params, row, headers, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rest: upsert %s: empty representation", table)
	}
	return &out[0], nil
}

func deleteRows(ctx context.Context, c *client, table string, allowed map[string]bool, where repository.Predicate) (int, error) {
	if len(where) == 0 {
		return 0, fmt.Errorf("rest: delete %s: %w: empty predicate", table, repository.ErrInvalidInput)
	}
	params, err := filters(where, allowed)
	if err != nil {
		return 0, err
	}
	params.Set("select", "id")
	var out []struct {
		ID string `json:"id"`
	}
	headers := map[string]string{"Prefer": "return=representation"}
	if _, err := c.do(ctx, http.MethodDelete, tablePrefix+table, params, nil, headers, &out); err != nil {
		return 0, err
	}
	return len(out), nil
}

func byEmail(email string) url.Values {
	return url.Values{repository.FieldEmail: {"ilike." + repository.EscapeLike(email)}}
}

// ─── ProfileRepository ───

type profileRepo struct{ c *client }

func (r *profileRepo) GetByID(ctx context.Context, id string) (*repository.Profile, error) {
	return getOne[repository.Profile](ctx, r.c, "profiles", url.Values{repository.FieldID: {"eq." + id}})
}

func (r *profileRepo) GetByEmail(ctx context.Context, email string) (*repository.Profile, error) {
	return getOne[repository.Profile](ctx, r.c, "profiles", byEmail(email))
}

func (r *profileRepo) List(ctx context.Context, q repository.Query) ([]repository.Profile, error) {
	return listTable[repository.Profile](ctx, r.c, "profiles", repository.ProfileFields, q)
}

func (r *profileRepo) Upsert(ctx context.Context, patch repository.ProfilePatch) (*repository.Profile, error) {
	if patch.ID == "" {
		return nil, fmt.Errorf("rest: upsert profile: %w: id required", repository.ErrInvalidInput)
	}
	row := map[string]any{repository.FieldID: patch.ID, "updated_at": time.Now().UTC()}
	if patch.Email != nil {
		row[repository.FieldEmail] = *patch.Email
	}
	if patch.FullName != nil {
		row[repository.FieldFullName] = *patch.FullName
	}
	if patch.Role != nil {
		row[repository.FieldRole] = nullable(string(*patch.Role))
	}
	return upsertRow[repository.Profile](ctx, r.c, "profiles", row)
}

func (r *profileRepo) DeleteWhere(ctx context.Context, where repository.Predicate) (int, error) {
	return deleteRows(ctx, r.c, "profiles", repository.ProfileFields, where)
}

// ─── MemberRepository ───

type memberRepo struct{ c *client }

func (r *memberRepo) GetByID(ctx context.Context, id string) (*repository.Member, error) {
	return getOne[repository.Member](ctx, r.c, "members", url.Values{repository.FieldID: {"eq." + id}})
}

func (r *memberRepo) GetByEmail(ctx context.Context, email string) (*repository.Member, error) {
	params := byEmail(email)
	params.Set("order", "created_at.asc,id.asc")
	return getOne[repository.Member](ctx, r.c, "members", params)
}

func (r *memberRepo) List(ctx context.Context, q repository.Query) ([]repository.Member, error) {
	return listTable[repository.Member](ctx, r.c, "members", repository.MemberFields, q)
}

func (r *memberRepo) Upsert(ctx context.Context, patch repository.MemberPatch) (*repository.Member, error) {
	if patch.ID == "" {
		return nil, fmt.Errorf("rest: upsert member: %w: id required", repository.ErrInvalidInput)
	}
	row := map[string]any{repository.FieldID: patch.ID, "updated_at": time.Now().UTC()}
	if patch.LinkedIdentityID != nil {
		row[repository.FieldLinkedIdentityID] = nullable(*patch.LinkedIdentityID)
	}
	if patch.Email != nil {
		row[repository.FieldEmail] = *patch.Email
	}
	if patch.FullName != nil {
		row[repository.FieldFullName] = *patch.FullName
	}
	if patch.Category != nil {
		row[repository.FieldCategory] = *patch.Category
	}
	if patch.IsActive != nil {
		row[repository.FieldIsActive] = *patch.IsActive
	}
	if patch.AssignedToMemberID != nil {
		row[repository.FieldAssignedToMemberID] = nullable(*patch.AssignedToMemberID)
	}
	if patch.Phone != nil {
		row[repository.FieldPhone] = *patch.Phone
	}
	if patch.Address != nil {
		row[repository.FieldAddress] = *patch.Address
	}
	if patch.City != nil {
		row[repository.FieldCity] = *patch.City
	}
	return upsertRow[repository.Member](ctx, r.c, "members", row)
}

func (r *memberRepo) DeleteWhere(ctx context.Context, where repository.Predicate) (int, error) {
	return deleteRows(ctx, r.c, "members", repository.MemberFields, where)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
