// Package database implements the catalog stores on SQLite.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"kc-go/internal/catalog"
	"kc-go/internal/database/migrations"
	"kc-go/internal/labels"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DedupeStrategy selects how FindNodes keeps one row per content id.
type DedupeStrategy string

const (
	// DedupeAuto picks DedupeWindow when the engine supports window functions.
	DedupeAuto DedupeStrategy = ""
	// DedupeGroupByMin joins against a MIN(id) GROUP BY content_id subquery.
	DedupeGroupByMin DedupeStrategy = "group-by-min"
	// DedupeWindow keeps ROW_NUMBER() = 1 over a content_id partition.
	DedupeWindow DedupeStrategy = "window"
)

// Options configures the collaborators of the stores.
type Options struct {
	Registry *labels.Registry    // defaults to labels.Default()
	Storage  catalog.Storage     // required by the file store for bytes
	Logger   catalog.Logger      // defaults to a NopLogger
	Clock    catalog.Clock       // defaults to RealClock
	IDs      catalog.IDGenerator // defaults to UUIDGenerator
	Dedupe   DedupeStrategy
}

func (o *Options) setDefaults() {
	if o.Registry == nil {
		o.Registry = labels.Default()
	}
	if o.Logger == nil {
		o.Logger = catalog.NewNopLogger()
	}
	if o.Clock == nil {
		o.Clock = catalog.RealClock{}
	}
	if o.IDs == nil {
		o.IDs = catalog.UUIDGenerator{}
	}
}

// SQLiteDatabase implements catalog.Database on one SQLite connection pool.
type SQLiteDatabase struct {
	db   *sql.DB
	path string

	trees    *TreeStore
	files    *FileStore
	requests *RequestLedger
	channels *ChannelStore
	ops      *OperationStore
}

// NewSQLiteDatabase opens the database at path, or a private in-memory
// database for ":memory:".
func NewSQLiteDatabase(path string, opts Options) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	s, err := NewSQLiteDatabaseFromDB(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.path = path
	return s, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB, opts Options) (*SQLiteDatabase, error) {
	opts.setDefaults()

	if opts.Dedupe == DedupeAuto {
		ok, err := supportsWindowFunctions(db)
		if err != nil {
			return nil, err
		}
		opts.Dedupe = DedupeGroupByMin
		if ok {
			opts.Dedupe = DedupeWindow
		}
	}

	q := newQueries(db)
	s := &SQLiteDatabase{db: db}
	s.trees = &TreeStore{db: db, q: q, registry: opts.Registry, ids: opts.IDs, dedupe: opts.Dedupe, locks: newTreeLocks()}
	s.files = &FileStore{db: db, q: q, storage: opts.Storage, logger: opts.Logger}
	s.requests = &RequestLedger{db: db, q: q, ids: opts.IDs, clock: opts.Clock}
	s.channels = &ChannelStore{db: db, q: q, trees: s.trees}
	s.ops = &OperationStore{q: q, clock: opts.Clock}
	return s, nil
}

// OpenConnection opens and configures a SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
//
// Transactions begin IMMEDIATE so a writer takes the database lock up front,
// and competing writers wait out the busy timeout instead of failing.
func OpenConnection(path string) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_foreign_keys", "1")
	params.Set("_busy_timeout", "5000")
	params.Set("_txlock", "immediate")

	var dsn string
	memory := path == ":memory:"
	if memory {
		dsn = "file::memory:?" + params.Encode()
	} else {
		params.Set("_journal_mode", "WAL")
		dsn = "file:" + path + "?" + params.Encode()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Every new connection to :memory: is a new, empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// supportsWindowFunctions reports whether the linked SQLite is 3.25.0 or newer.
func supportsWindowFunctions(db *sql.DB) (bool, error) {
	var version string
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
		return false, fmt.Errorf("reading sqlite version: %w", err)
	}
	return versionAtLeast(version, 3, 25), nil
}

func versionAtLeast(version string, major, minor int) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}
	maj, err1 := strconv.Atoi(parts[0])
	mn, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	return maj > major || (maj == major && mn >= minor)
}

func (s *SQLiteDatabase) Trees() catalog.TreeStore           { return s.trees }
func (s *SQLiteDatabase) Files() catalog.FileStore           { return s.files }
func (s *SQLiteDatabase) Requests() catalog.RequestLedger    { return s.requests }
func (s *SQLiteDatabase) Channels() catalog.ChannelStore     { return s.channels }
func (s *SQLiteDatabase) Operations() catalog.OperationStore { return s.ops }

// DB returns the underlying connection pool.
func (s *SQLiteDatabase) DB() *sql.DB {
	return s.db
}

// DedupeStrategy returns the strategy FindNodes uses.
func (s *SQLiteDatabase) DedupeStrategy() DedupeStrategy {
	return s.trees.dedupe
}

// Path returns the file path the database was opened with.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// MigrationStatus reports the schema version.
func (s *SQLiteDatabase) MigrationStatus() (migrations.Status, error) {
	return migrations.GetStatus(s.db)
}

// CheckMigrations returns an error if the schema is not current.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.ExecContext(context.Background(), "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ catalog.Database = (*SQLiteDatabase)(nil)
