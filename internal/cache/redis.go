package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisDefaultPort = 6379
	redisDialCheck   = 5 * time.Second
	redisScanBatch   = 500
)

// releaseScript borra la key sólo si conserva el valor esperado. Es el
// release del lock de pasada: nunca borra un lock tomado por otra réplica.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// redisCache implementa Client sobre un Redis compartido entre réplicas.
// Todas las keys viven bajo prefix para que Stats cuente sólo las propias.
type redisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis conecta a Redis y verifica la conexión con un PING.
func NewRedis(cfg Config) (*redisCache, error) {
	port := cfg.Port
	if port == 0 {
		port = redisDefaultPort
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return dialRedis(rdb, cfg.Prefix)
}

func dialRedis(rdb *redis.Client, prefix string) (*redisCache, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisDialCheck)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: redis %s unreachable: %w", rdb.Options().Addr, err)
	}
	return &redisCache{rdb: rdb, prefix: prefix}, nil
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, prefixed(c.prefix, key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("cache: get %s: %w", key, err)
	}
	return v, nil
}

func (c *redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, prefixed(c.prefix, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, prefixed(c.prefix, key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx %s: %w", key, err)
	}
	return ok, nil
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, prefixed(c.prefix, key)).Err(); err != nil {
		return fmt.Errorf("cache: del %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	n, err := releaseScript.Run(ctx, c.rdb, []string{prefixed(c.prefix, key)}, value).Int()
	if err != nil {
		return false, fmt.Errorf("cache: release %s: %w", key, err)
	}
	return n == 1, nil
}

func (c *redisCache) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *redisCache) Close() error { return c.rdb.Close() }

// Stats cuenta las keys bajo el prefijo (SCAN, no DBSIZE: la DB puede ser
// compartida) y toma memoria y hits/misses de INFO en un solo round trip.
func (c *redisCache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Driver: "redis"}

	pipe := c.rdb.Pipeline()
	memCmd := pipe.Info(ctx, "memory")
	statsCmd := pipe.Info(ctx, "stats")
	if _, err := pipe.Exec(ctx); err != nil {
		return st, fmt.Errorf("cache: redis info: %w", err)
	}
	mem := parseInfo(memCmd.Val())
	counters := parseInfo(statsCmd.Val())
	st.UsedMemory = mem["used_memory_human"]
	st.Hits, _ = strconv.ParseInt(counters["keyspace_hits"], 10, 64)
	st.Misses, _ = strconv.ParseInt(counters["keyspace_misses"], 10, 64)

	pattern := "*"
	if c.prefix != "" {
		pattern = c.prefix + ":*"
	}
	iter := c.rdb.Scan(ctx, 0, pattern, redisScanBatch).Iterator()
	for iter.Next(ctx) {
		st.Keys++
	}
	if err := iter.Err(); err != nil {
		return st, fmt.Errorf("cache: redis scan: %w", err)
	}
	return st, nil
}

// parseInfo convierte la salida de INFO ("k:v" por línea, secciones con #)
// en un mapa.
func parseInfo(raw string) map[string]string {
	out := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			out[k] = v
		}
	}
	return out
}
