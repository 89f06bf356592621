package repository

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/iliyamo/unpacker/internal/database"
	"github.com/redis/go-redis/v9"
)

// OpenDurable dials the backend named by rawURL's scheme and verifies it
// answers within timeout.  redis:// and rediss:// select RedisStore;
// mysql:// selects MySQLStore (tables are created if missing).
func OpenDurable(ctx context.Context, rawURL string, timeout time.Duration) (Durable, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	switch u.Scheme {
	case "redis", "rediss":
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		pctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		return NewRedisStore(rdb, "unpacker"), nil
	case "mysql":
		dsn, err := database.DSNFromURL(rawURL)
		if err != nil {
			return nil, err
		}
		db, err := database.Open(ctx, dsn, timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		store := NewMySQLStore(db)
		mctx, cancel := context.WithTimeout(ctx, 4*timeout)
		defer cancel()
		if err := store.Migrate(mctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme %q", u.Scheme)
	}
}
