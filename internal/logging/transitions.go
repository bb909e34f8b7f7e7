package logging

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
CREATE TABLE IF NOT EXISTS session_transitions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	retrieval_id  TEXT NOT NULL,
	event         TEXT NOT NULL,
	from_status   TEXT,
	to_status     TEXT NOT NULL,
	round         INTEGER NOT NULL,
	detail_json   TEXT,
	reason        TEXT,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_retrieval ON session_transitions(retrieval_id, id);
`
// #endregion schema

// #region entry
// Transition is one row of the session_transitions table.
type Transition struct {
	RetrievalID string
	Event       string // "created" | "started" | "round_opened" | "answered" | "converged" | "exhausted" | "aborted"
	From        string
	To          string
	Round       int
	Detail      TransitionDetail
	Reason      string
	CreatedAt   time.Time
}

// TransitionDetail is serialized into detail_json.
type TransitionDetail struct {
	Options      []string  `json:"options,omitempty"`
	Distribution []float64 `json:"distribution,omitempty"`
	Answer       string    `json:"answer,omitempty"`
	Remaining    int       `json:"remaining"`
	Target       string    `json:"target,omitempty"`
}
// #endregion entry

// #region log
// TransitionLog appends session transitions to SQLite.
type TransitionLog struct {
	db *sql.DB
}

// NewTransitionLog creates the session_transitions table on db.
func NewTransitionLog(db *sql.DB) (*TransitionLog, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate transitions: %w", err)
	}
	return &TransitionLog{db: db}, nil
}

// Record writes one transition.
func (l *TransitionLog) Record(ctx context.Context, t Transition) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	detail, err := json.Marshal(t.Detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO session_transitions (retrieval_id, event, from_status, to_status, round, detail_json, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RetrievalID,
		t.Event,
		database.NullIfEmpty(t.From),
		t.To,
		t.Round,
		string(detail),
		database.NullIfEmpty(t.Reason),
		t.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// List returns the transitions of a retrieval in insertion order.
func (l *TransitionLog) List(ctx context.Context, retrievalID string) ([]Transition, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT event, from_status, to_status, round, detail_json, reason, created_at
		 FROM session_transitions WHERE retrieval_id = ? ORDER BY id ASC`, retrievalID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t       = Transition{RetrievalID: retrievalID}
			from    sql.NullString
			detail  sql.NullString
			reason  sql.NullString
			created string
		)
		if err := rows.Scan(&t.Event, &from, &t.To, &t.Round, &detail, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From = from.String
		t.Reason = reason.String
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &t.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal detail: %w", err)
			}
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, t)
	}
	return out, rows.Err()
}
// #endregion log
