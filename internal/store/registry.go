// Package store provee el registry de adapters y el bundle de stores que se
// inyecta en auditor, engine y harness.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
)

// Adapter representa un backend capaz de abrir conexiones a los tres stores.
type Adapter interface {
	// Name retorna el nombre del adapter (ej: "postgres", "rest", "memory").
	Name() string

	// Connect establece conexión con el almacenamiento.
	Connect(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error)
}

// AdapterConnection representa una conexión activa.
type AdapterConnection interface {
	// Name retorna el nombre del adapter.
	Name() string

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error

	Identities() repository.IdentityRepository
	Profiles() repository.ProfileRepository
	Members() repository.MemberRepository
}

// MigratableConnection interfaz opcional para conexiones que pueden ejecutar migraciones.
type MigratableConnection interface {
	GetMigrationExecutor() SQLExecutor
}

// PoolStats es el estado del pool de conexiones de un adapter SQL.
type PoolStats struct {
	Acquired int32
	Idle     int32
	Total    int32
}

// PoolReporter interfaz opcional para conexiones con pool (métricas).
type PoolReporter interface {
	PoolStats() PoolStats
}

// AdapterConfig configuración para conectar a un almacenamiento.
type AdapterConfig struct {
	// Name del adapter: "postgres", "rest", "memory"
	Name string

	// DSN connection string (postgres)
	DSN string

	// Pool settings (postgres)
	MaxOpenConns int
	MaxIdleConns int

	// IdentityTable tabla de identidades (postgres). Default "auth.users".
	IdentityTable string

	// BaseURL del proyecto hosteado (rest), ej: https://xyz.supabase.co
	BaseURL string

	// ServiceKey clave service-role ya emitida (rest).
	ServiceKey string

	// JWTSecret secreto HS256 para emitir un token service-role si no hay ServiceKey (rest).
	JWTSecret string

	// Timeout por request HTTP (rest).
	Timeout time.Duration

	// SnapshotPath archivo JSON de snapshot (memory). Vacío = sólo en memoria.
	SnapshotPath string
}

// ─── Registry Global ───

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// RegisterAdapter registra un adapter en el registry global.
// Llamar en init() de cada adapter.
func RegisterAdapter(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := a.Name()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("adapter: %q already registered", name))
	}
	adapters[name] = a
}

// GetAdapter obtiene un adapter por nombre.
func GetAdapter(name string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// ListAdapters retorna los nombres de todos los adapters registrados, ordenados.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenAdapter abre una conexión usando el adapter especificado en la config.
func OpenAdapter(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error) {
	a, ok := GetAdapter(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("adapter: %q not registered", cfg.Name)
	}
	return a.Connect(ctx, cfg)
}
