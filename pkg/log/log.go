// Package log provides the zerolog-based service logger. In daemon
// mode it writes JSON events into an SQLite database so the decision
// audit trail survives restarts and can be queried back through the
// management socket and the admin API; interactive commands use a
// plain console logger instead.
package log

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"tunnelguard/pkg/appdir"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

var (
	mu        sync.RWMutex
	pkgLogger = zerolog.Nop()
	sink      *sqliteSink
	dbHandle  *sql.DB

	// ErrNotInitialized is returned by retrieval functions before Init.
	ErrNotInitialized = errors.New("log: logger not initialized, call log.Init() first")
)

const timeFieldFormat = time.RFC3339Nano

// sqliteSink is an io.Writer feeding zerolog JSON lines into the
// audit_log table.
type sqliteSink struct {
	db   *sql.DB
	stmt *sql.Stmt
	mu   sync.Mutex
}

func newSQLiteSink(dbPath string) (*sqliteSink, *sql.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode=wal&_pragma=busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("log: failed to open %s: %w", dbPath, err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("log: failed to ping %s: %w", dbPath, err)
	}

	const schema = `
    CREATE TABLE IF NOT EXISTS audit_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        inserted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL,
        event TEXT NOT NULL
    );`
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("log: failed to create audit_log table: %w", err)
	}
	// Index on the embedded event time; queries still work without it.
	db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_log_time ON audit_log (json_extract(event, '$.time'));`)

	stmt, err := db.Prepare(`INSERT INTO audit_log (event) VALUES (?)`)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("log: failed to prepare insert: %w", err)
	}
	return &sqliteSink{db: db, stmt: stmt}, db, nil
}

func (w *sqliteSink) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.stmt.Exec(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *sqliteSink) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	if w.stmt != nil {
		firstErr = w.stmt.Close()
		w.stmt = nil
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.db = nil
	}
	return firstErr
}

// SetConsole switches the package logger to human-readable console
// output. Used by interactive subcommands that never touch the DB.
func SetConsole() {
	mu.Lock()
	defer mu.Unlock()
	pkgLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// Init opens (or creates) the SQLite log database under the app dir
// and routes the package logger into it. When console is true, events
// are mirrored to stdout as well.
func Init(dbFile string, console bool) error {
	if dbFile == "" {
		return fmt.Errorf("log: an explicit dbFile is required")
	}

	mu.Lock()
	defer mu.Unlock()
	if sink != nil {
		return fmt.Errorf("log: logger already initialized")
	}

	dbPath := path.Join(appdir.AppDir(), dbFile)
	w, db, err := newSQLiteSink(dbPath)
	if err != nil {
		return err
	}
	sink = w
	dbHandle = db

	zerolog.TimeFieldFormat = timeFieldFormat
	var out zerolog.LevelWriter = zerolog.MultiLevelWriter(w)
	if console {
		out = zerolog.MultiLevelWriter(w, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	pkgLogger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// Close flushes and closes the SQLite sink. The package logger reverts
// to a no-op.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if sink == nil {
		return nil
	}
	w := sink
	sink = nil
	dbHandle = nil
	pkgLogger = zerolog.Nop()
	if err := w.close(); err != nil {
		return fmt.Errorf("log: error closing sqlite sink: %w", err)
	}
	return nil
}

func Debug() *zerolog.Event { return pkgLogger.Debug() }
func Info() *zerolog.Event  { return pkgLogger.Info() }
func Warn() *zerolog.Event  { return pkgLogger.Warn() }
func Error() *zerolog.Event { return pkgLogger.Error() }
func Fatal() *zerolog.Event { return pkgLogger.Fatal() }

// Printf sends an info-level event. Arguments are handled in the
// manner of fmt.Printf.
func Printf(format string, v ...any) {
	pkgLogger.Info().CallerSkipFrame(1).Msgf(format, v...)
}

func Fatalf(format string, v ...any) {
	pkgLogger.Fatal().Msgf(format, v...)
}

// --- Retrieval ---

// Entry is one stored log event.
type Entry struct {
	ID         int64
	InsertedAt time.Time
	Event      string // raw JSON
}

// DefaultLimit bounds retrieval queries when the caller passes none.
const DefaultLimit = 100

func getHandle() (*sql.DB, error) {
	mu.RLock()
	defer mu.RUnlock()
	if dbHandle == nil {
		return nil, ErrNotInitialized
	}
	return dbHandle, nil
}

// parseDBTimestamp tries the timestamp formats SQLite is known to hand
// back for inserted_at.
func parseDBTimestamp(ts string) time.Time {
	formats := []string{
		"2006-01-02 15:04:05",
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}

// LastN retrieves the most recent n entries in chronological order.
func LastN(n int) ([]Entry, error) {
	handle, err := getHandle()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []Entry{}, nil
	}

	rows, err := handle.Query(`SELECT id, inserted_at, event FROM audit_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("log: failed to query last %d entries: %w", n, err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Between retrieves entries whose event time falls within [start, end],
// in chronological order. A limit <= 0 means DefaultLimit.
func Between(start, end time.Time, limit int) ([]Entry, error) {
	handle, err := getHandle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	const query = `
        SELECT id, inserted_at, event
        FROM audit_log
        WHERE json_extract(event, '$.time') >= ? AND json_extract(event, '$.time') <= ?
        ORDER BY json_extract(event, '$.time') ASC, id ASC
        LIMIT ?`
	rows, err := handle.Query(query, start.Format(timeFieldFormat), end.Format(timeFieldFormat), limit)
	if err != nil {
		return nil, fmt.Errorf("log: failed to query entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Since retrieves entries from start up to now.
func Since(start time.Time, limit int) ([]Entry, error) {
	return Between(start, time.Now(), limit)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var insertedAt string
		if err := rows.Scan(&e.ID, &insertedAt, &e.Event); err != nil {
			return nil, fmt.Errorf("log: failed to scan entry: %w", err)
		}
		e.InsertedAt = parseDBTimestamp(insertedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("log: error iterating entries: %w", err)
	}
	return entries, nil
}
