package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "embycord/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer is plenty for an audit log.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("delivery store opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	fillDefaults(&r)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(id, at, path, item_id, user_id, destination, title, ok, kind, status_code, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.At.UnixMilli(), r.Path, nullStr(r.ItemID), nullStr(r.UserID), nullStr(r.Destination),
		nullStr(r.Title), boolInt(r.OK), nullStr(r.Kind), r.StatusCode, nullStr(r.Error), r.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, path, item_id, user_id, destination, title, ok, kind, status_code, err, took_ms
		 FROM deliveries ORDER BY at DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []DeliveryRecord
	for rows.Next() {
		var r DeliveryRecord
		var at int64
		var ok int
		var status sql.NullInt64
		var itemID, userID, dest, title, kind, errText sql.NullString
		if err := rows.Scan(&r.ID, &at, &r.Path, &itemID, &userID, &dest, &title, &ok, &kind, &status, &errText, &r.TookMS); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(at).UTC()
		r.ItemID = itemID.String
		r.UserID = userID.String
		r.Destination = dest.String
		r.Title = title.String
		r.OK = ok != 0
		r.Kind = kind.String
		r.StatusCode = int(status.Int64)
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneBefore(ctx context.Context, t time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE at < ?`, t.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
