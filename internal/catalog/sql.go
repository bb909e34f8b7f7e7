package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/photo-retrieval/internal/database"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS libraries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE,
	detail      TEXT NOT NULL DEFAULT '',
	available   INTEGER NOT NULL DEFAULT 1,
	hash        TEXT,
	status      TEXT NOT NULL DEFAULT 'ok',
	photos      TEXT NOT NULL DEFAULT '[]',
	count       INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS features (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE,
	library_id  INTEGER NOT NULL,
	algorithm   TEXT NOT NULL DEFAULT '',
	parameters  TEXT,
	available   INTEGER NOT NULL DEFAULT 1,
	progress    INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	FOREIGN KEY (library_id) REFERENCES libraries(id)
);

CREATE TABLE IF NOT EXISTS distances (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL UNIQUE,
	detail       TEXT NOT NULL DEFAULT '',
	hash         TEXT,
	library_id   INTEGER NOT NULL,
	feature_name TEXT,
	algorithm    TEXT NOT NULL DEFAULT '',
	photos_list  TEXT NOT NULL DEFAULT '[]',
	available    INTEGER NOT NULL DEFAULT 1,
	progress     INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	FOREIGN KEY (library_id) REFERENCES libraries(id)
);
`
// #endregion schema

// #region store-struct
// SQL is the SQLite-backed catalog.
type SQL struct {
	db *sql.DB
}

// NewSQL creates the catalog tables on db.
func NewSQL(db *sql.DB) (*SQL, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return &SQL{db: db}, nil
}
// #endregion store-struct

// #region put-library
// PutLibrary inserts or updates a library by name.
func (s *SQL) PutLibrary(ctx context.Context, lib Library) (Library, error) {
	if err := lib.Validate(); err != nil {
		return Library{}, err
	}
	photos, err := json.Marshal(nonNil(lib.Photos))
	if err != nil {
		return Library{}, fmt.Errorf("marshal photos: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO libraries (name, detail, available, hash, status, photos, count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   detail = excluded.detail, available = excluded.available, hash = excluded.hash,
		   status = excluded.status, photos = excluded.photos, count = excluded.count,
		   updated_at = excluded.updated_at`,
		lib.Name, lib.Detail, boolInt(lib.Available), database.NullIfEmpty(lib.Hash),
		string(lib.Status), string(photos), lib.Count, now, now,
	)
	if err != nil {
		return Library{}, fmt.Errorf("upsert library %s: %w", lib.Name, err)
	}
	return s.Library(ctx, lib.Name)
}
// #endregion put-library

// #region get-library
// Library returns the named library.
func (s *SQL) Library(ctx context.Context, name string) (Library, error) {
	var (
		lib        Library
		hash       sql.NullString
		available  int
		status     string
		photosJSON string
		created    string
		updated    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, detail, available, hash, status, photos, count, created_at, updated_at
		 FROM libraries WHERE name = ?`, name,
	).Scan(&lib.ID, &lib.Name, &lib.Detail, &available, &hash, &status, &photosJSON, &lib.Count, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Library{}, fmt.Errorf("library %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Library{}, fmt.Errorf("get library %s: %w", name, err)
	}
	lib.Available = available != 0
	lib.Hash = hash.String
	lib.Status = Status(status)
	if err := json.Unmarshal([]byte(photosJSON), &lib.Photos); err != nil {
		return Library{}, fmt.Errorf("unmarshal photos: %w", err)
	}
	lib.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	lib.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return lib, nil
}
// #endregion get-library

// #region put-feature
// PutFeature inserts or updates a feature of library.
func (s *SQL) PutFeature(ctx context.Context, library string, f Feature) (Feature, error) {
	if err := f.Validate(); err != nil {
		return Feature{}, err
	}
	lib, err := s.Library(ctx, library)
	if err != nil {
		return Feature{}, err
	}
	var params interface{}
	if f.Parameters != nil {
		b, err := json.Marshal(f.Parameters)
		if err != nil {
			return Feature{}, fmt.Errorf("marshal parameters: %w", err)
		}
		params = string(b)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO features (name, library_id, algorithm, parameters, available, progress, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   library_id = excluded.library_id, algorithm = excluded.algorithm,
		   parameters = excluded.parameters, available = excluded.available,
		   progress = excluded.progress, status = excluded.status, updated_at = excluded.updated_at
		 RETURNING id`,
		f.Name, lib.ID, f.Algorithm, params, boolInt(f.Available), f.Progress, string(f.Status), now, now,
	).Scan(&id)
	if err != nil {
		return Feature{}, fmt.Errorf("upsert feature %s: %w", f.Name, err)
	}
	f.ID = id
	f.LibraryID = lib.ID
	return f, nil
}
// #endregion put-feature

// #region put-distance
// PutDistance inserts or updates a distance artifact of library.
func (s *SQL) PutDistance(ctx context.Context, library string, d Distance) (Distance, error) {
	if err := d.Validate(); err != nil {
		return Distance{}, err
	}
	lib, err := s.Library(ctx, library)
	if err != nil {
		return Distance{}, err
	}
	list, err := json.Marshal(nonNil(d.PhotosList))
	if err != nil {
		return Distance{}, fmt.Errorf("marshal photos_list: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO distances (name, detail, hash, library_id, feature_name, algorithm, photos_list,
		                        available, progress, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   detail = excluded.detail, hash = excluded.hash, library_id = excluded.library_id,
		   feature_name = excluded.feature_name, algorithm = excluded.algorithm,
		   photos_list = excluded.photos_list, available = excluded.available,
		   progress = excluded.progress, status = excluded.status, updated_at = excluded.updated_at`,
		d.Name, d.Detail, database.NullIfEmpty(d.Hash), lib.ID, database.NullIfEmpty(d.FeatureName),
		d.Algorithm, string(list), boolInt(d.Available), d.Progress, string(d.Status), now, now,
	)
	if err != nil {
		return Distance{}, fmt.Errorf("upsert distance %s: %w", d.Name, err)
	}
	return s.Distance(ctx, library, d.Name)
}
// #endregion put-distance

// #region get-distance
// Distance returns the named distance artifact if it belongs to library.
func (s *SQL) Distance(ctx context.Context, library, name string) (Distance, error) {
	var (
		d         Distance
		hash      sql.NullString
		feature   sql.NullString
		listJSON  string
		available int
		status    string
		created   string
		updated   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT d.id, d.name, d.detail, d.hash, d.library_id, d.feature_name, d.algorithm,
		        d.photos_list, d.available, d.progress, d.status, d.created_at, d.updated_at
		 FROM distances d JOIN libraries l ON l.id = d.library_id
		 WHERE l.name = ? AND d.name = ?`, library, name,
	).Scan(&d.ID, &d.Name, &d.Detail, &hash, &d.LibraryID, &feature, &d.Algorithm,
		&listJSON, &available, &d.Progress, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Distance{}, fmt.Errorf("distance %s/%s: %w", library, name, ErrNotFound)
	}
	if err != nil {
		return Distance{}, fmt.Errorf("get distance %s/%s: %w", library, name, err)
	}
	d.Hash = hash.String
	d.FeatureName = feature.String
	d.Available = available != 0
	d.Status = Status(status)
	if err := json.Unmarshal([]byte(listJSON), &d.PhotosList); err != nil {
		return Distance{}, fmt.Errorf("unmarshal photos_list: %w", err)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return d, nil
}
// #endregion get-distance

// #region helpers
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
// #endregion helpers

var (
	_ Reader = (*SQL)(nil)
	_ Writer = (*SQL)(nil)
)
