package store

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"stayassist/internal/types"
)

// SQLiteTurnStore is the local client's default store.
type SQLiteTurnStore struct {
	db       *sql.DB
	maxTurns int
}

func NewSQLiteTurnStore(dsn string, maxTurns int) (*SQLiteTurnStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite turn store: empty dsn")
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent.
	sqlDB.SetMaxOpenConns(1)
	s := &SQLiteTurnStore{db: sqlDB, maxTurns: maxTurns}
	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTurnStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			attachments_json TEXT NOT NULL DEFAULT '[]',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS turns_by_session ON turns(session_id, id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite turn store: migrate")
		}
	}
	return nil
}

func (s *SQLiteTurnStore) Save(ctx context.Context, sessionID string, turn types.Turn) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	attachments, err := encodeAttachments(turn.Attachments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, sender, text, attachments_json, created_at_ms) VALUES (?, ?, ?, ?, ?)`,
		sessionID, string(turn.Sender), turn.Text, attachments, turn.Timestamp.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "sqlite turn store: insert")
	}
	if s.maxTurns > 0 {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM turns WHERE session_id = ? AND id NOT IN (
				SELECT id FROM turns WHERE session_id = ? ORDER BY id DESC LIMIT ?)`,
			sessionID, sessionID, s.maxTurns)
		if err != nil {
			return errors.Wrap(err, "sqlite turn store: trim")
		}
	}
	return nil
}

func (s *SQLiteTurnStore) GetAll(ctx context.Context, sessionID string) ([]types.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender, text, attachments_json, created_at_ms FROM turns WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite turn store: query")
	}
	defer rows.Close()

	return scanTurns(rows, func(rows *sql.Rows, t *types.Turn, attachments *string) error {
		var ms int64
		if err := rows.Scan(&t.Sender, &t.Text, attachments, &ms); err != nil {
			return err
		}
		t.Timestamp = msToTime(ms)
		return nil
	})
}

func (s *SQLiteTurnStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID)
	return errors.Wrap(err, "sqlite turn store: clear")
}

func (s *SQLiteTurnStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
