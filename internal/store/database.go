package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"stayassist/internal/db"
	"stayassist/internal/types"
)

// DatabaseTurnStore stores gateway transcripts in PostgreSQL. The schema is
// created by the db package migrations.
type DatabaseTurnStore struct {
	db       *db.DB
	maxTurns int
}

func NewDatabaseTurnStore(database *db.DB, maxTurns int) *DatabaseTurnStore {
	return &DatabaseTurnStore{db: database, maxTurns: maxTurns}
}

func (ds *DatabaseTurnStore) Save(ctx context.Context, sessionID string, turn types.Turn) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	attachments, err := encodeAttachments(turn.Attachments)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO turns (session_id, sender, text, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := ds.db.ExecContext(ctx, query, sessionID, string(turn.Sender), turn.Text, attachments, turn.Timestamp); err != nil {
		return errors.Wrap(err, "failed to save turn")
	}

	if ds.maxTurns > 0 {
		trimQuery := `
			DELETE FROM turns
			WHERE session_id = $1 AND id NOT IN (
				SELECT id FROM turns WHERE session_id = $1 ORDER BY id DESC LIMIT $2
			)
		`
		if _, err := ds.db.ExecContext(ctx, trimQuery, sessionID, ds.maxTurns); err != nil {
			return errors.Wrap(err, "failed to trim transcript")
		}
	}
	return nil
}

func (ds *DatabaseTurnStore) GetAll(ctx context.Context, sessionID string) ([]types.Turn, error) {
	query := `
		SELECT sender, text, attachments, created_at
		FROM turns
		WHERE session_id = $1
		ORDER BY id
	`
	rows, err := ds.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load transcript")
	}
	defer rows.Close()

	return scanTurns(rows, func(rows *sql.Rows, t *types.Turn, attachments *string) error {
		return rows.Scan(&t.Sender, &t.Text, attachments, &t.Timestamp)
	})
}

func (ds *DatabaseTurnStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := ds.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = $1`, sessionID); err != nil {
		return errors.Wrap(err, "failed to clear transcript")
	}
	return nil
}

// Close is a no-op: the connection pool belongs to the caller.
func (ds *DatabaseTurnStore) Close() error { return nil }

func encodeAttachments(in []types.WidgetDescriptor) (string, error) {
	if len(in) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", errors.Wrap(err, "encode attachments")
	}
	return string(b), nil
}

// scanTurns drains rows, decoding the attachments column of each row.
func scanTurns(rows *sql.Rows, scan func(*sql.Rows, *types.Turn, *string) error) ([]types.Turn, error) {
	out := []types.Turn{}
	for rows.Next() {
		var (
			t           types.Turn
			attachments string
		)
		if err := scan(rows, &t, &attachments); err != nil {
			return nil, errors.Wrap(err, "scan turn")
		}
		if attachments != "" && attachments != "[]" {
			if err := json.Unmarshal([]byte(attachments), &t.Attachments); err != nil {
				return nil, errors.Wrap(err, "decode attachments")
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func msToTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
