package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/photo-retrieval/internal/database"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS iterations (
	retrieval_id  TEXT NOT NULL,
	no            INTEGER NOT NULL,
	distribution  TEXT NOT NULL,
	options       TEXT NOT NULL,
	answer        TEXT,
	created_at    TEXT NOT NULL,
	answered_at   TEXT,
	PRIMARY KEY (retrieval_id, no)
);
`
// #endregion schema

// SQL is the SQLite-backed Ledger.
type SQL struct {
	db *sql.DB
}

// NewSQL creates the iterations table on db.
func NewSQL(db *sql.DB) (*SQL, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &SQL{db: db}, nil
}

// #region append
func (s *SQL) Append(ctx context.Context, it Iteration) error {
	if err := it.validate(); err != nil {
		return err
	}
	opts, err := json.Marshal(it.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	dist, err := json.Marshal(it.Distribution)
	if err != nil {
		return fmt.Errorf("marshal distribution: %w", err)
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM iterations WHERE retrieval_id = ?`, it.RetrievalID,
	).Scan(&count); err != nil {
		return fmt.Errorf("count rounds: %w", err)
	}
	switch {
	case it.No < count:
		return fmt.Errorf("append %s/%d: %w", it.RetrievalID, it.No, ErrDuplicateRound)
	case it.No != count:
		return fmt.Errorf("append %s/%d after %d rounds: %w", it.RetrievalID, it.No, count, ErrRoundGap)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO iterations (retrieval_id, no, distribution, options, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		it.RetrievalID, it.No, string(dist), string(opts), it.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return tx.Commit()
}
// #endregion append

// #region answer
func (s *SQL) RecordAnswer(ctx context.Context, retrievalID string, no int, answer string, at time.Time) error {
	if answer == "" {
		return fmt.Errorf("answer %s/%d: empty answer: %w", retrievalID, no, ErrInvalidRound)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE iterations SET answer = ?, answered_at = ?
		 WHERE retrieval_id = ? AND no = ? AND answer IS NULL`,
		database.NullIfEmpty(answer), at.UTC().Format(time.RFC3339Nano), retrievalID, no,
	)
	if err != nil {
		return fmt.Errorf("record answer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM iterations WHERE retrieval_id = ? AND no = ?`, retrievalID, no,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check round: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("answer %s/%d: %w", retrievalID, no, ErrRoundNotFound)
	}
	return fmt.Errorf("answer %s/%d: %w", retrievalID, no, ErrAlreadyAnswered)
}
// #endregion answer

// #region history
func (s *SQL) History(ctx context.Context, retrievalID string) ([]Iteration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT no, distribution, options, answer, created_at, answered_at
		 FROM iterations WHERE retrieval_id = ? ORDER BY no ASC`, retrievalID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []Iteration{}
	for rows.Next() {
		var (
			it       = Iteration{RetrievalID: retrievalID}
			dist     string
			opts     string
			answer   sql.NullString
			created  string
			answered sql.NullString
		)
		if err := rows.Scan(&it.No, &dist, &opts, &answer, &created, &answered); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if err := json.Unmarshal([]byte(dist), &it.Distribution); err != nil {
			return nil, fmt.Errorf("unmarshal distribution: %w", err)
		}
		if err := json.Unmarshal([]byte(opts), &it.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
		it.Answer = answer.String
		it.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if answered.Valid {
			it.AnsweredAt, _ = time.Parse(time.RFC3339Nano, answered.String)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
// #endregion history

var _ Ledger = (*SQL)(nil)
