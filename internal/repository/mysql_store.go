package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/unpacker/internal/model"
)

// schema is applied by Migrate.  Profiles are stored as JSON documents with
// the admin flags copied into columns for counting.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		is_premium BOOLEAN NOT NULL DEFAULT FALSE,
		is_banned BOOLEAN NOT NULL DEFAULT FALSE,
		doc JSON NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS temp_files (
		path VARCHAR(768) PRIMARY KEY,
		user_id BIGINT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		ttl_min INT NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		INDEX idx_temp_files_expires (expires_at)
	)`,
}

// MySQLStore persists both keyspaces in MySQL.
type MySQLStore struct{ DB *sql.DB }

func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{DB: db} }

func (r *MySQLStore) Name() string { return "mysql" }

func (r *MySQLStore) Close() error { return r.DB.Close() }

// Migrate creates the tables if they do not exist.
func (r *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func dbUnavailable(op string, err error) error {
	return fmt.Errorf("mysql %s: %w: %w", op, ErrBackendUnavailable, err)
}

func (r *MySQLStore) GetUser(ctx context.Context, id int64) (model.UserProfile, error) {
	var raw []byte
	err := r.DB.QueryRowContext(ctx, "SELECT doc FROM users WHERE id=?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserProfile{}, ErrNotFound
	}
	if err != nil {
		return model.UserProfile{}, dbUnavailable("get user", err)
	}
	var p model.UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.UserProfile{}, dbUnavailable("decode user", err)
	}
	return p, nil
}

func (r *MySQLStore) UpsertUser(ctx context.Context, p model.UserProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO users (id, is_premium, is_banned, doc, updated_at) VALUES (?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE is_premium=VALUES(is_premium), is_banned=VALUES(is_banned),
		 doc=VALUES(doc), updated_at=VALUES(updated_at)`,
		p.ID, p.Premium, p.Banned, raw, time.Now().UTC())
	if err != nil {
		return dbUnavailable("upsert user", err)
	}
	return nil
}

func (r *MySQLStore) IncrementUsage(ctx context.Context, id int64, d model.UsageDelta) error {
	return r.modify(ctx, "increment usage", id, func(p *model.UserProfile) { p.Apply(d) })
}

// PatchUser rewrites only the fields named by patch.
func (r *MySQLStore) PatchUser(ctx context.Context, id int64, patch model.UserPatch) error {
	return r.modify(ctx, "patch user", id, func(p *model.UserProfile) { p.ApplyPatch(patch) })
}

// modify locks the row for the read-modify-write.
func (r *MySQLStore) modify(ctx context.Context, op string, id int64, fn func(*model.UserProfile)) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return dbUnavailable(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, "SELECT doc FROM users WHERE id=? FOR UPDATE", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return dbUnavailable(op, err)
	}
	var p model.UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return dbUnavailable("decode user", err)
	}
	fn(&p)
	out, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET is_premium=?, is_banned=?, doc=?, updated_at=? WHERE id=?",
		p.Premium, p.Banned, out, time.Now().UTC(), id); err != nil {
		return dbUnavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return dbUnavailable(op, err)
	}
	return nil
}

func (r *MySQLStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT id FROM users ORDER BY id")
	if err != nil {
		return nil, dbUnavailable("list users", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, dbUnavailable("list users", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dbUnavailable("list users", err)
	}
	return ids, nil
}

func (r *MySQLStore) CountUsers(ctx context.Context) (model.UserCounts, error) {
	var c model.UserCounts
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(is_premium),0), COALESCE(SUM(is_banned),0) FROM users",
	).Scan(&c.Total, &c.Premium, &c.Banned)
	if err != nil {
		return model.UserCounts{}, dbUnavailable("count users", err)
	}
	return c, nil
}

func (r *MySQLStore) PutTempFile(ctx context.Context, rec model.TempFileRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO temp_files (path, user_id, created_at, ttl_min, expires_at) VALUES (?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE user_id=VALUES(user_id), created_at=VALUES(created_at),
		 ttl_min=VALUES(ttl_min), expires_at=VALUES(expires_at)`,
		rec.Path, rec.OwnerID, rec.CreatedAt.UTC(), rec.TTLMinutes, rec.ExpiresAt().UTC())
	if err != nil {
		return dbUnavailable("put temp file", err)
	}
	return nil
}

// ReapExpiredTempFiles selects the expired paths and deletes exactly those
// rows, re-checking the expiry so a concurrent re-registration survives.
func (r *MySQLStore) ReapExpiredTempFiles(ctx context.Context, now time.Time) ([]string, error) {
	now = now.UTC()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, dbUnavailable("reap temp files", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT path FROM temp_files WHERE expires_at <= ? FOR UPDATE", now)
	if err != nil {
		return nil, dbUnavailable("reap temp files", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, dbUnavailable("reap temp files", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Close(); err != nil {
		return nil, dbUnavailable("reap temp files", err)
	}
	if len(paths) == 0 {
		return []string{}, nil
	}

	args := make([]any, 0, len(paths)+1)
	for _, p := range paths {
		args = append(args, p)
	}
	args = append(args, now)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	q := "DELETE FROM temp_files WHERE path IN (" + placeholders + ") AND expires_at <= ?"
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return nil, dbUnavailable("reap temp files", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, dbUnavailable("reap temp files", err)
	}
	return paths, nil
}

func (r *MySQLStore) DeleteTempFile(ctx context.Context, path string) error {
	if _, err := r.DB.ExecContext(ctx, "DELETE FROM temp_files WHERE path=?", path); err != nil {
		return dbUnavailable("delete temp file", err)
	}
	return nil
}
