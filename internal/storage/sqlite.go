package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/masahif/quetadoru/internal/request"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteBackend implements Backend on a local SQLite database. Single-process
// only, but transactional: a crash mid-crawl loses nothing and the queue is
// resumable from the file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens the database and initializes the schema.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection prevents lock conflicts between concurrent workers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := b.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	if _, err := b.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// orderNo returns the position for a new or reclaimed request. Tail requests
// sort by insertion time; forefront requests use the negated timestamp so the
// most recent one lists first.
func orderNo(forefront bool) int64 {
	now := time.Now().UnixNano()
	if forefront {
		return -now
	}
	return now
}

type requestColumns struct {
	headers       sql.NullString
	userData      sql.NullString
	errorMessages sql.NullString
	payload       []byte
	handledAt     sql.NullTime
}

func encodeJSON(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case []string:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal field: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// InsertIfAbsent implements Backend using INSERT ... ON CONFLICT DO NOTHING,
// so concurrent inserts of the same unique key cannot create duplicates.
func (b *SQLiteBackend) InsertIfAbsent(ctx context.Context, req *request.Request, forefront bool) (*OperationInfo, error) {
	headers, err := encodeJSON(req.Headers)
	if err != nil {
		return nil, err
	}
	userData, err := encodeJSON(req.UserData)
	if err != nil {
		return nil, err
	}
	errorMessages, err := encodeJSON(req.ErrorMessages)
	if err != nil {
		return nil, err
	}

	res, err := b.db.ExecContext(ctx, `
		INSERT INTO requests (unique_key, url, method, payload, headers, user_data, retry_count, error_messages, no_retry, order_no, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unique_key) DO NOTHING
	`, req.UniqueKey, req.URL, req.Method, req.Payload, headers, userData,
		req.RetryCount, errorMessages, req.NoRetry, orderNo(forefront), time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to insert request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read insert result: %w", err)
	}

	// Read back unconditionally: on conflict we need the existing row's id
	// and handled state.
	var id int64
	var handledAt sql.NullTime
	err = b.db.QueryRowContext(ctx,
		"SELECT id, handled_at FROM requests WHERE unique_key = ?",
		req.UniqueKey).Scan(&id, &handledAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read back request: %w", err)
	}

	if affected > 0 {
		if err := b.touch(ctx); err != nil {
			return nil, err
		}
	}

	return &OperationInfo{
		RequestID:         strconv.FormatInt(id, 10),
		WasAlreadyPresent: affected == 0,
		WasAlreadyHandled: affected == 0 && handledAt.Valid,
	}, nil
}

// GetByID implements Backend.
func (b *SQLiteBackend) GetByID(ctx context.Context, id string) (*request.Request, error) {
	numericID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, nil
	}

	req := &request.Request{ID: id}
	var cols requestColumns
	err = b.db.QueryRowContext(ctx, `
		SELECT unique_key, url, method, payload, headers, user_data, retry_count, error_messages, no_retry, handled_at
		FROM requests WHERE id = ?
	`, numericID).Scan(&req.UniqueKey, &req.URL, &req.Method, &cols.payload,
		&cols.headers, &cols.userData, &req.RetryCount, &cols.errorMessages,
		&req.NoRetry, &cols.handledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	req.Payload = cols.payload
	if cols.headers.Valid {
		if err := json.Unmarshal([]byte(cols.headers.String), &req.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode headers: %w", err)
		}
	}
	if cols.userData.Valid {
		if err := json.Unmarshal([]byte(cols.userData.String), &req.UserData); err != nil {
			return nil, fmt.Errorf("failed to decode user data: %w", err)
		}
	}
	if cols.errorMessages.Valid {
		if err := json.Unmarshal([]byte(cols.errorMessages.String), &req.ErrorMessages); err != nil {
			return nil, fmt.Errorf("failed to decode error messages: %w", err)
		}
	}
	if cols.handledAt.Valid {
		t := cols.handledAt.Time
		req.HandledAt = &t
	}
	return req, nil
}

// ListHead implements Backend.
func (b *SQLiteBackend) ListHead(ctx context.Context, limit int) (*Head, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, unique_key FROM requests
		WHERE handled_at IS NULL
		ORDER BY order_no ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue head: %w", err)
	}
	defer func() { _ = rows.Close() }()

	head := &Head{}
	for rows.Next() {
		var id int64
		var uniqueKey string
		if err := rows.Scan(&id, &uniqueKey); err != nil {
			return nil, fmt.Errorf("failed to scan head item: %w", err)
		}
		head.Items = append(head.Items, HeadItem{ID: strconv.FormatInt(id, 10), UniqueKey: uniqueKey})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list queue head: %w", err)
	}

	head.QueueModifiedAt, err = b.modifiedAt(ctx)
	if err != nil {
		return nil, err
	}
	return head, nil
}

// MarkHandled implements Backend.
func (b *SQLiteBackend) MarkHandled(ctx context.Context, req *request.Request) error {
	errorMessages, err := encodeJSON(req.ErrorMessages)
	if err != nil {
		return err
	}
	handledAt := time.Now()
	if req.HandledAt != nil {
		handledAt = *req.HandledAt
	}

	numericID, err := strconv.ParseInt(req.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("markHandled: invalid request id %q", req.ID)
	}

	_, err = b.db.ExecContext(ctx, `
		UPDATE requests SET
			handled_at = ?,
			retry_count = ?,
			error_messages = ?,
			no_retry = ?
		WHERE id = ?
	`, handledAt, req.RetryCount, errorMessages, req.NoRetry, numericID)
	if err != nil {
		return fmt.Errorf("failed to mark request handled: %w", err)
	}
	return b.touch(ctx)
}

// PersistReclaim implements Backend.
func (b *SQLiteBackend) PersistReclaim(ctx context.Context, req *request.Request, forefront bool) error {
	errorMessages, err := encodeJSON(req.ErrorMessages)
	if err != nil {
		return err
	}

	numericID, err := strconv.ParseInt(req.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("persistReclaim: invalid request id %q", req.ID)
	}

	if forefront {
		_, err = b.db.ExecContext(ctx, `
			UPDATE requests SET retry_count = ?, error_messages = ?, no_retry = ?, order_no = ?
			WHERE id = ?
		`, req.RetryCount, errorMessages, req.NoRetry, orderNo(true), numericID)
	} else {
		_, err = b.db.ExecContext(ctx, `
			UPDATE requests SET retry_count = ?, error_messages = ?, no_retry = ?
			WHERE id = ?
		`, req.RetryCount, errorMessages, req.NoRetry, numericID)
	}
	if err != nil {
		return fmt.Errorf("failed to persist reclaim: %w", err)
	}
	return b.touch(ctx)
}

// GetMetadata implements Backend.
func (b *SQLiteBackend) GetMetadata(ctx context.Context) (*Metadata, error) {
	meta := &Metadata{}
	err := b.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN handled_at IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN handled_at IS NULL THEN 1 ELSE 0 END)
		FROM requests
	`).Scan(&meta.TotalRequestCount,
		&nullInt{&meta.HandledRequestCount},
		&nullInt{&meta.PendingRequestCount})
	if err != nil {
		return nil, fmt.Errorf("failed to get queue metadata: %w", err)
	}

	meta.ModifiedAt, err = b.modifiedAt(ctx)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// Drop implements Backend.
func (b *SQLiteBackend) Drop(ctx context.Context) error {
	for _, stmt := range []string{"DELETE FROM requests", "DELETE FROM queue_meta"} {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop queue: %w", err)
		}
	}
	return nil
}

// touch records the queue's last modification time.
func (b *SQLiteBackend) touch(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO queue_meta (key, value) VALUES ('modified_at', ?)",
		time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to update queue metadata: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) modifiedAt(ctx context.Context) (time.Time, error) {
	var value string
	err := b.db.QueryRowContext(ctx,
		"SELECT value FROM queue_meta WHERE key = 'modified_at'").Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read queue metadata: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse modified_at: %w", err)
	}
	return t, nil
}

// nullInt scans a nullable aggregate into an int, treating NULL as zero.
type nullInt struct{ dest *int }

func (n *nullInt) Scan(value any) error {
	if value == nil {
		*n.dest = 0
		return nil
	}
	switch v := value.(type) {
	case int64:
		*n.dest = int(v)
	case float64:
		*n.dest = int(v)
	default:
		return fmt.Errorf("unexpected aggregate type %T", value)
	}
	return nil
}

var _ Backend = (*SQLiteBackend)(nil)
