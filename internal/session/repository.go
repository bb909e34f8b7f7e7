package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/photo-retrieval/internal/database"
)

// Repository stores retrieval records.
type Repository interface {
	Save(ctx context.Context, r Retrieval) error
	Get(ctx context.Context, id string) (Retrieval, error)
}

// #region memory
// MemoryRepository keeps retrievals in process.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]Retrieval
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]Retrieval)}
}

func (m *MemoryRepository) Save(_ context.Context, r Retrieval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[r.ID] = r
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (Retrieval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return Retrieval{}, fmt.Errorf("retrieval %s: %w", id, ErrSessionNotFound)
	}
	return r, nil
}
// #endregion memory

// #region sql
const schema = `
CREATE TABLE IF NOT EXISTS retrievals (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT,
	remark              TEXT,
	library             TEXT NOT NULL,
	distance            TEXT NOT NULL,
	artifact            TEXT NOT NULL DEFAULT '',
	strategy            TEXT NOT NULL,
	max_iteration       INTEGER NOT NULL,
	max_iteration_faces INTEGER NOT NULL,
	status              TEXT NOT NULL,
	target              TEXT,
	iterator_pointer    INTEGER NOT NULL DEFAULT 0,
	seed                INTEGER NOT NULL,
	seed_photo          TEXT,
	reason              TEXT,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	ended_at            TEXT
);
`

// SQLRepository stores retrievals in SQLite.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository creates the retrievals table on db.
func NewSQLRepository(db *sql.DB) (*SQLRepository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate retrievals: %w", err)
	}
	return &SQLRepository{db: db}, nil
}

func (s *SQLRepository) Save(ctx context.Context, r Retrieval) error {
	var ended interface{}
	if !r.EndedAt.IsZero() {
		ended = r.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retrievals (id, user_id, remark, library, distance, artifact, strategy,
		   max_iteration, max_iteration_faces, status, target, iterator_pointer, seed, seed_photo,
		   reason, created_at, updated_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status, target = excluded.target,
		   iterator_pointer = excluded.iterator_pointer, reason = excluded.reason,
		   updated_at = excluded.updated_at, ended_at = excluded.ended_at`,
		r.ID, database.NullIfEmpty(r.UserID), database.NullIfEmpty(r.Remark), r.Library, r.Distance,
		r.Artifact, r.Strategy, r.MaxIteration, r.MaxIterationFaces, string(r.Status), database.NullIfEmpty(r.Target),
		r.IteratorPointer, r.Seed, database.NullIfEmpty(r.SeedPhoto), database.NullIfEmpty(r.Reason),
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.UpdatedAt.UTC().Format(time.RFC3339Nano), ended,
	)
	if err != nil {
		return fmt.Errorf("save retrieval %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLRepository) Get(ctx context.Context, id string) (Retrieval, error) {
	var (
		r                                       = Retrieval{ID: id}
		user, remark, target, seedPhoto, reason sql.NullString
		status, created, updated                string
		ended                                   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, remark, library, distance, artifact, strategy, max_iteration, max_iteration_faces,
		   status, target, iterator_pointer, seed, seed_photo, reason, created_at, updated_at, ended_at
		 FROM retrievals WHERE id = ?`, id,
	).Scan(&user, &remark, &r.Library, &r.Distance, &r.Artifact, &r.Strategy, &r.MaxIteration, &r.MaxIterationFaces,
		&status, &target, &r.IteratorPointer, &r.Seed, &seedPhoto, &reason, &created, &updated, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return Retrieval{}, fmt.Errorf("retrieval %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return Retrieval{}, fmt.Errorf("get retrieval %s: %w", id, err)
	}
	r.UserID, r.Remark, r.Target = user.String, remark.String, target.String
	r.SeedPhoto, r.Reason = seedPhoto.String, reason.String
	r.Status = Status(status)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	if ended.Valid {
		r.EndedAt, _ = time.Parse(time.RFC3339Nano, ended.String)
	}
	return r, nil
}

// List returns retrieval ids, newest first, up to limit (0 for all).
func (s *SQLRepository) List(ctx context.Context, limit int) ([]string, error) {
	q := `SELECT id FROM retrievals ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list retrievals: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan retrieval id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
// #endregion sql
