// Package memory implementa un adapter en memoria con persistencia opcional a
// un snapshot JSON. Sirve para dry runs offline sobre un dump y como doble de
// test de los tres stores.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
	store "github.com/dropDatabas3/rebano/internal/store"
)

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

// memoryAdapter implementa store.Adapter.
type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

func (a *memoryAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	if cfg.SnapshotPath == "" {
		return New(), nil
	}
	db, err := Load(cfg.SnapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		db = New()
	} else if err != nil {
		return nil, err
	}
	db.path = cfg.SnapshotPath
	return db, nil
}

// Snapshot es el formato JSON del archivo de snapshot.
type Snapshot struct {
	Identities []repository.Identity `json:"identities"`
	Profiles   []repository.Profile  `json:"profiles"`
	Members    []repository.Member   `json:"members"`
}

// DB es el store en memoria. Implementa store.AdapterConnection.
type DB struct {
	mu         sync.RWMutex
	identities map[string]repository.Identity
	profiles   map[string]repository.Profile
	members    map[string]repository.Member
	writes     int
	now        func() time.Time
	path       string
}

// New crea un DB vacío.
func New() *DB {
	return &DB{
		identities: make(map[string]repository.Identity),
		profiles:   make(map[string]repository.Profile),
		members:    make(map[string]repository.Member),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Load lee un snapshot JSON.
func Load(path string) (*DB, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("memory: parse snapshot %s: %w", path, err)
	}
	db := New()
	db.Seed(snap)
	return db, nil
}

// Save escribe el snapshot de forma atómica (tmp + rename).
func (db *DB) Save(path string) error {
	b, err := json.MarshalIndent(db.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SetClock reemplaza el reloj usado para created_at/updated_at.
func (db *DB) SetClock(now func() time.Time) {
	db.mu.Lock()
	db.now = now
	db.mu.Unlock()
}

// Seed carga registros sin contarlos como escrituras.
func (db *DB) Seed(snap Snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, i := range snap.Identities {
		db.identities[i.ID] = cloneIdentity(i)
	}
	for _, p := range snap.Profiles {
		db.profiles[p.ID] = p
	}
	for _, m := range snap.Members {
		db.members[m.ID] = cloneMember(m)
	}
}

// Snapshot retorna una copia ordenada por id del contenido actual.
func (db *DB) Snapshot() Snapshot {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var snap Snapshot
	for _, i := range db.identities {
		snap.Identities = append(snap.Identities, cloneIdentity(i))
	}
	for _, p := range db.profiles {
		snap.Profiles = append(snap.Profiles, p)
	}
	for _, m := range db.members {
		snap.Members = append(snap.Members, cloneMember(m))
	}
	sort.Slice(snap.Identities, func(a, b int) bool { return snap.Identities[a].ID < snap.Identities[b].ID })
	sort.Slice(snap.Profiles, func(a, b int) bool { return snap.Profiles[a].ID < snap.Profiles[b].ID })
	sort.Slice(snap.Members, func(a, b int) bool { return snap.Members[a].ID < snap.Members[b].ID })
	return snap
}

// Writes retorna la cantidad de escrituras (upserts y borrados efectivos).
func (db *DB) Writes() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.writes
}

// DeleteIdentity simula un borrado administrativo fuera de banda.
func (db *DB) DeleteIdentity(id string) {
	db.mu.Lock()
	delete(db.identities, id)
	db.mu.Unlock()
}

func (db *DB) Name() string                   { return "memory" }
func (db *DB) Ping(ctx context.Context) error { return nil }

// Close persiste el snapshot si la conexión se abrió con SnapshotPath.
func (db *DB) Close() error {
	if db.path == "" {
		return nil
	}
	return db.Save(db.path)
}

func (db *DB) Identities() repository.IdentityRepository { return &identityRepo{db: db} }
func (db *DB) Profiles() repository.ProfileRepository    { return &profileRepo{db: db} }
func (db *DB) Members() repository.MemberRepository      { return &memberRepo{db: db} }

// Stores arma el bundle listo para inyectar.
func (db *DB) Stores() store.Stores { return store.FromConnection(db) }

// page aplica offset/limit sobre una lista ya ordenada.
func page[T any](items []T, q repository.Query) []T {
	if q.Offset >= len(items) {
		return nil
	}
	items = items[q.Offset:]
	if q.Limit > 0 && q.Limit < len(items) {
		items = items[:q.Limit]
	}
	return items
}

func ptrVal(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	return *p, true
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneIdentity(i repository.Identity) repository.Identity {
	if i.Metadata != nil {
		md := make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			md[k] = v
		}
		i.Metadata = md
	}
	return i
}

func cloneMember(m repository.Member) repository.Member {
	m.LinkedIdentityID = clonePtr(m.LinkedIdentityID)
	m.AssignedToMemberID = clonePtr(m.AssignedToMemberID)
	return m
}
