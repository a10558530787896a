package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Upsert records a task's outcome, overwriting any prior row for the same
// gid, then trims the table down to maxHistory rows, oldest first. Mirrors
// the update-then-insert-on-no-match pattern: a single gid only ever holds
// one row, so a retry or a later status transition (error -> removed) always
// replaces rather than duplicates. notified is monotonic: the UPDATE never
// clears a 1 back to 0, since a gid can be tracked by more than one
// (chat, message) key and a later finalize() for a different key must not
// undo a notification the reconciler already sent for this gid.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) (int64, error) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = nowFunc()
	}

	filesJSON, err := marshalOrNil(in.Files)
	if err != nil {
		return 0, fmt.Errorf("marshal files: %w", err)
	}
	extraJSON, err := marshalOrNil(in.Extra)
	if err != nil {
		return 0, fmt.Errorf("marshal extra: %w", err)
	}

	var id int64
	err = retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE download_history
			SET name = ?, status = ?, timestamp = ?, size = ?,
			    error_code = ?, error_message = ?, files = ?,
			    notified = CASE WHEN notified = 1 THEN 1 ELSE ? END, extra = ?
			WHERE gid = ?`,
			in.Name, string(in.Status), ts.Unix(), in.Size,
			nullable(in.ErrorCode), nullable(in.ErrorMessage), filesJSON,
			boolToInt(in.Notified), extraJSON,
			in.GID,
		)
		if err != nil {
			return fmt.Errorf("update history row: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows > 0 {
			id, err = res.LastInsertId()
			return err
		}

		res, err = s.db.ExecContext(ctx, `
			INSERT INTO download_history (
				gid, name, status, timestamp, size,
				error_code, error_message, files, notified, extra
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			in.GID, in.Name, string(in.Status), ts.Unix(), in.Size,
			nullable(in.ErrorCode), nullable(in.ErrorMessage), filesJSON,
			boolToInt(in.Notified), extraJSON,
		)
		if err != nil {
			return fmt.Errorf("insert history row: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.HistoryRecords.Add(ctx, 1)
	}

	if err := s.trim(ctx); err != nil {
		return id, err
	}
	return id, nil
}

// trim deletes the oldest rows once the table exceeds maxHistory. A
// maxHistory <= 0 disables trimming entirely.
func (s *Store) trim(ctx context.Context) error {
	if s.maxHistory <= 0 {
		return nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM download_history").Scan(&count); err != nil {
		return fmt.Errorf("count history rows: %w", err)
	}
	if count <= s.maxHistory {
		return nil
	}
	toDelete := count - s.maxHistory
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM download_history
		WHERE id IN (
			SELECT id FROM download_history ORDER BY timestamp ASC LIMIT ?
		)`, toDelete)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

// List returns page (1-indexed) of records, newest first, optionally
// filtered to a single status.
func (s *Store) List(ctx context.Context, page, pageSize int, status Status) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 8
	}
	offset := (page - 1) * pageSize

	countQuery := "SELECT COUNT(*) FROM download_history"
	listQuery := "SELECT " + selectColumns + " FROM download_history"
	args := []any{}
	if status != "" {
		countQuery += " WHERE status = ?"
		listQuery += " WHERE status = ?"
		args = append(args, string(status))
	}
	listQuery += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count history: %w", err)
	}

	listArgs := append(append([]any{}, args...), pageSize, offset)
	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return Page{}, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{Records: records, Total: total}, nil
}

// Search filters on a keyword matched against name or error_message.
func (s *Store) Search(ctx context.Context, keyword string, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 8
	}
	offset := (page - 1) * pageSize
	like := "%" + keyword + "%"

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM download_history WHERE name LIKE ? OR error_message LIKE ?",
		like, like,
	).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count search results: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM download_history WHERE name LIKE ? OR error_message LIKE ? ORDER BY timestamp DESC LIMIT ? OFFSET ?",
		like, like, pageSize, offset,
	)
	if err != nil {
		return Page{}, fmt.Errorf("search history: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{Records: records, Total: total}, nil
}

// GetByGID returns the single record for gid, or sql.ErrNoRows if absent.
func (s *Store) GetByGID(ctx context.Context, gid string) (Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM download_history WHERE gid = ?", gid)
	if err != nil {
		return Record{}, fmt.Errorf("get history by gid: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, sql.ErrNoRows
	}
	return records[0], nil
}

// ListUnnotifiedTerminal returns every completed or errored record the
// notifier has not yet delivered, newest first.
func (s *Store) ListUnnotifiedTerminal(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM download_history WHERE notified = 0 AND status IN (?, ?) ORDER BY timestamp DESC",
		string(StatusCompleted), string(StatusError),
	)
	if err != nil {
		return nil, fmt.Errorf("list unnotified history: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// MarkNotified flips the notified flag. Returns false if gid had no row.
func (s *Store) MarkNotified(ctx context.Context, gid string) (bool, error) {
	var ok bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, "UPDATE download_history SET notified = 1 WHERE gid = ?", gid)
		if err != nil {
			return fmt.Errorf("mark notified: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ok = rows > 0
		return nil
	})
	return ok, err
}

// Clear deletes every record and returns how many rows were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	var n int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM download_history")
		if err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

const selectColumns = "id, gid, name, status, timestamp, size, error_code, error_message, files, notified, extra"

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			r            Record
			statusStr    string
			ts           int64
			size         sql.NullInt64
			errorCode    sql.NullString
			errorMessage sql.NullString
			filesJSON    sql.NullString
			notifiedInt  int
			extraJSON    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.GID, &r.Name, &statusStr, &ts, &size,
			&errorCode, &errorMessage, &filesJSON, &notifiedInt, &extraJSON); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.Status = Status(statusStr)
		r.Timestamp = timeFromUnix(ts)
		r.Size = size.Int64
		r.ErrorCode = errorCode.String
		r.ErrorMessage = errorMessage.String
		r.Notified = notifiedInt != 0

		if filesJSON.Valid && filesJSON.String != "" {
			if err := json.Unmarshal([]byte(filesJSON.String), &r.Files); err != nil {
				return nil, fmt.Errorf("decode files for gid %s: %w", r.GID, err)
			}
		}
		if extraJSON.Valid && extraJSON.String != "" {
			if err := json.Unmarshal([]byte(extraJSON.String), &r.Extra); err != nil {
				return nil, fmt.Errorf("decode extra for gid %s: %w", r.GID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func marshalOrNil(v any) (any, error) {
	switch val := v.(type) {
	case []FileEntry:
		if len(val) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
