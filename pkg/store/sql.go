package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/hed1ad/procurewatch/pkg/pipeline"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLConfig selects and configures the database.
type SQLConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER" default:"sqlite"`

	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string `yaml:"sqlite_path" envconfig:"SQLITE_PATH" default:"./procurewatch.db"`

	// DSN is the connection string for the postgres driver.
	DSN string `yaml:"dsn" envconfig:"DSN"`

	MaxOpenConns int `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
}

// SQLStore keeps artifacts in the model_artifacts table.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL connects to the configured database and creates the schema.
func OpenSQL(cfg SQLConfig) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case DriverSQLite:
		db, err = openSQLite(cfg.SQLitePath)
	case DriverPostgres:
		db, err = openPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := &SQLStore{db: db, driver: cfg.Driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = "./procurewatch.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = "host=localhost port=5432 dbname=procurewatch sslmode=disable"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return db, nil
}

func (s *SQLStore) migrate() error {
	blob := "BLOB"
	if s.driver == DriverPostgres {
		blob = "BYTEA"
	}
	schema := `CREATE TABLE IF NOT EXISTS model_artifacts (
	id TEXT PRIMARY KEY,
	created_at BIGINT NOT NULL,
	features TEXT NOT NULL,
	records INTEGER NOT NULL,
	artifact ` + blob + ` NOT NULL
)`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_model_artifacts_created ON model_artifacts (created_at)`)
	return err
}

// Put stores m unless its ID is already present.
func (s *SQLStore) Put(ctx context.Context, m *pipeline.Model) error {
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		return err
	}

	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM model_artifacts WHERE id = ?`), m.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check artifact: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrExists, m.ID)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO model_artifacts (id, created_at, features, records, artifact)
		VALUES (?, ?, ?, ?, ?)
	`), m.ID, m.CreatedAt.UnixNano(), strings.Join(m.Features, ","), m.Records, buf.Bytes())
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// Get loads the model with the given ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*pipeline.Model, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT artifact FROM model_artifacts WHERE id = ?`), id)
	return s.load(row, id)
}

// Latest loads the most recently created model.
func (s *SQLStore) Latest(ctx context.Context) (*pipeline.Model, error) {
	row := s.db.QueryRowContext(ctx, `SELECT artifact FROM model_artifacts ORDER BY created_at DESC, id ASC LIMIT 1`)
	return s.load(row, "latest")
}

func (s *SQLStore) load(row *sql.Row, what string) (*pipeline.Model, error) {
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, what)
		}
		return nil, fmt.Errorf("query artifact: %w", err)
	}
	return pipeline.LoadModel(bytes.NewReader(blob))
}

// List returns stored artifacts, newest first.
func (s *SQLStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, features, records FROM model_artifacts ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			created  int64
			features string
		)
		if err := rows.Scan(&e.ID, &created, &features, &e.Records); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		if features != "" {
			e.Features = strings.Split(features, ",")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, ... for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

var _ Store = (*SQLStore)(nil)
