package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/apexsales/leadscore/internal/model"
)

// SQLiteStorage implements Storage using modernc.org/sqlite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scored_leads (
	lead_id    INTEGER PRIMARY KEY,
	score      INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	lead       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_scored_leads_score ON scored_leads(score);
`

func (s *SQLiteStorage) migrate() error {
	_, err := s.db.Exec(sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) Load(ctx context.Context) (Set, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lead_id, score, reason, lead FROM scored_leads`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load scores")
	}
	defer rows.Close()

	set := Set{}
	for rows.Next() {
		var id, score int
		var reason, leadJSON string
		if err := rows.Scan(&id, &score, &reason, &leadJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scored lead")
		}
		var lead model.Lead
		if err := json.Unmarshal([]byte(leadJSON), &lead); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal lead %d", id)
		}
		set[id] = model.ScoredLead{Lead: lead, AIScore: score, AIReason: reason}
	}
	return set, eris.Wrap(rows.Err(), "sqlite: load scores iterate")
}

// Save replaces the whole persisted set in one transaction, so a reader
// never observes a half-written checkpoint.
func (s *SQLiteStorage) Save(ctx context.Context, set Set) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scored_leads`); err != nil {
		return eris.Wrap(err, "sqlite: clear before save")
	}

	now := time.Now().UTC()
	for id, sl := range set {
		leadJSON, err := json.Marshal(sl.Lead)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal lead %d", id)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO scored_leads (lead_id, score, reason, lead, updated_at) VALUES (?, ?, ?, ?, ?)`,
			id, sl.AIScore, sl.AIReason, string(leadJSON), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert lead %d", id)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save")
}

func (s *SQLiteStorage) Delete(ctx context.Context, leadID int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scored_leads WHERE lead_id = ?`, leadID,
	)
	return eris.Wrapf(err, "sqlite: delete lead %d", leadID)
}

func (s *SQLiteStorage) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scored_leads`)
	return eris.Wrap(err, "sqlite: clear scores")
}
