package config

// Redis backs distributed rate limiting and the admin response cache.  If
// no server answers at startup the constructor returns nil and callers
// degrade by disabling both.

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient instantiates a Redis client.  Resolution order:
//
//	REDIS_URL – full redis:// or rediss:// URL
//	DATABASE_URL – reused when it is itself a redis URL
//	REDIS_ADDR / REDIS_HOST+REDIS_PORT with REDIS_PASSWORD, REDIS_DB, REDIS_TLS
//
// The returned client may be nil if a connection cannot be established.
func NewRedisClient(databaseURL string) *redis.Client {
	opts := redisOptions(databaseURL)
	if opts == nil {
		return nil
	}
	client := redis.NewClient(opts)
	// Ping the server with a short timeout.  Return nil on failure.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

func redisOptions(databaseURL string) *redis.Options {
	for _, raw := range []string{os.Getenv("REDIS_URL"), databaseURL} {
		if strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://") {
			if opts, err := redis.ParseURL(raw); err == nil {
				return opts
			}
		}
	}
	addr := os.Getenv("REDIS_ADDR")
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		return nil
	}
	dbNum := 0
	if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		dbNum = n
	}
	var tlsConf *tls.Config
	if v := os.Getenv("REDIS_TLS"); strings.EqualFold(v, "true") || v == "1" {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &redis.Options{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        dbNum,
		TLSConfig: tlsConf,
	}
}
