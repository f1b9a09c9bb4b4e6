// Package pg implementa el adapter PostgreSQL: lee identidades directamente de
// la tabla de auth del proyecto (auth.users) y opera public.profiles y
// public.members con pgxpool.
package pg

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
	store "github.com/dropDatabas3/rebano/internal/store"
)

func init() {
	store.RegisterAdapter(&postgresAdapter{})
}

var validTable = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

// postgresAdapter implementa store.Adapter para PostgreSQL.
type postgresAdapter struct{}

func (a *postgresAdapter) Name() string { return "postgres" }

func (a *postgresAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pg: %w: DSN required", repository.ErrInvalidInput)
	}
	identityTable := cfg.IdentityTable
	if identityTable == "" {
		identityTable = "auth.users"
	}
	if !validTable.MatchString(identityTable) {
		return nil, fmt.Errorf("pg: %w: identity table %q", repository.ErrInvalidInput, identityTable)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}

	// Configurar pool
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	} else {
		poolCfg.MinConns = 1
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}

	// Verificar conexión
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", mapErr(err))
	}

	return &pgConnection{pool: pool, identityTable: identityTable}, nil
}

// pgConnection representa una conexión activa a PostgreSQL.
type pgConnection struct {
	pool          *pgxpool.Pool
	identityTable string
}

func (c *pgConnection) Name() string { return "postgres" }

func (c *pgConnection) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *pgConnection) Close() error {
	c.pool.Close()
	return nil
}

// PoolStats implementa store.PoolReporter.
func (c *pgConnection) PoolStats() store.PoolStats {
	st := c.pool.Stat()
	return store.PoolStats{Acquired: st.AcquiredConns(), Idle: st.IdleConns(), Total: st.TotalConns()}
}

// ─── Repositorios ───

func (c *pgConnection) Identities() repository.IdentityRepository {
	return &identityRepo{pool: c.pool, table: c.identityTable}
}
func (c *pgConnection) Profiles() repository.ProfileRepository { return &profileRepo{pool: c.pool} }
func (c *pgConnection) Members() repository.MemberRepository   { return &memberRepo{pool: c.pool} }

// GetMigrationExecutor implementa store.MigratableConnection.
func (c *pgConnection) GetMigrationExecutor() store.SQLExecutor {
	return &pgxPoolWrapper{pool: c.pool}
}

// pgxPoolWrapper adapta pgxpool.Pool a store.SQLExecutor.
type pgxPoolWrapper struct {
	pool *pgxpool.Pool
}

func (w *pgxPoolWrapper) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := w.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (w *pgxPoolWrapper) QueryVersions(ctx context.Context, sql string) ([]int, error) {
	rows, err := w.pool.Query(ctx, sql)
	if err != nil {
		return nil, mapErr(err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

// mapErr traduce errores de pgx a los sentinels del dominio.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23":
			return fmt.Errorf("%w: %s (%s)", repository.ErrConflict, pgErr.Message, pgErr.Code)
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "22":
			return fmt.Errorf("%w: %s (%s)", repository.ErrInvalidInput, pgErr.Message, pgErr.Code)
		case len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53"),
			pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return fmt.Errorf("%w: %s (%s)", repository.ErrUnavailable, pgErr.Message, pgErr.Code)
		}
		return fmt.Errorf("pg: %s (%s)", pgErr.Message, pgErr.Code)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return err
}
