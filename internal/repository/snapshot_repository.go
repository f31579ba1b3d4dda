package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/gestclasse-api/pkg/errors"
	"github.com/noah-isme/gestclasse-api/pkg/storage"
)

// SnapshotStore reads and writes the serialised grade database. Read returns
// an error matching appErrors.ErrSnapshotNotFound when nothing is stored.
type SnapshotStore interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
}

// MemorySnapshotRepository keeps the snapshot in process memory.
type MemorySnapshotRepository struct {
	mu      sync.RWMutex
	payload []byte
}

// NewMemorySnapshotRepository constructs an empty in-memory store.
func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{}
}

func (r *MemorySnapshotRepository) Read(ctx context.Context) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.payload == nil {
		return nil, appErrors.ErrSnapshotNotFound
	}
	out := make([]byte, len(r.payload))
	copy(out, r.payload)
	return out, nil
}

func (r *MemorySnapshotRepository) Write(ctx context.Context, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.mu.Lock()
	r.payload = cp
	r.mu.Unlock()
	return nil
}

// FileSnapshotRepository stores the snapshot as a single file on disk.
type FileSnapshotRepository struct {
	mu    sync.Mutex
	files *storage.LocalStorage
	name  string
}

// NewFileSnapshotRepository prepares the directory holding path.
func NewFileSnapshotRepository(path string) (*FileSnapshotRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot file path required")
	}
	files, err := storage.NewLocalStorage(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return &FileSnapshotRepository{files: files, name: filepath.Base(path)}, nil
}

func (r *FileSnapshotRepository) Read(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payload, err := r.files.Read(r.name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	if len(payload) == 0 {
		return nil, appErrors.ErrSnapshotNotFound
	}
	return payload, nil
}

// Write replaces the file atomically.
func (r *FileSnapshotRepository) Write(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.files.SaveAtomic(r.name, payload); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}
	return nil
}

// PostgresSnapshotRepository stores named snapshots in gestclasse_snapshots.
type PostgresSnapshotRepository struct {
	db   *sqlx.DB
	name string
}

// NewPostgresSnapshotRepository constructs the repository for one snapshot name.
func NewPostgresSnapshotRepository(db *sqlx.DB, name string) *PostgresSnapshotRepository {
	return &PostgresSnapshotRepository{db: db, name: name}
}

// EnsureSchema creates the snapshot table when missing.
func (r *PostgresSnapshotRepository) EnsureSchema(ctx context.Context) error {
	const query = `CREATE TABLE IF NOT EXISTS gestclasse_snapshots (
    name TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

func (r *PostgresSnapshotRepository) Read(ctx context.Context) ([]byte, error) {
	const query = `SELECT payload FROM gestclasse_snapshots WHERE name = $1`
	var payload string
	if err := r.db.GetContext(ctx, &payload, query, r.name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("read snapshot %s: %w", r.name, err)
	}
	return []byte(payload), nil
}

func (r *PostgresSnapshotRepository) Write(ctx context.Context, payload []byte) error {
	const query = `INSERT INTO gestclasse_snapshots (name, payload, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (name)
DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, r.name, string(payload), time.Now().UTC()); err != nil {
		return fmt.Errorf("write snapshot %s: %w", r.name, err)
	}
	return nil
}

// RedisSnapshotRepository stores the snapshot under a single Redis key.
type RedisSnapshotRepository struct {
	client *redis.Client
	key    string
}

// NewRedisSnapshotRepository constructs the repository.
func NewRedisSnapshotRepository(client *redis.Client, key string) *RedisSnapshotRepository {
	return &RedisSnapshotRepository{client: client, key: key}
}

func (r *RedisSnapshotRepository) Read(ctx context.Context) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	return raw, nil
}

func (r *RedisSnapshotRepository) Write(ctx context.Context, payload []byte) error {
	if err := r.client.Set(ctx, r.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (r *RedisSnapshotRepository) Close() error {
	return r.client.Close()
}
