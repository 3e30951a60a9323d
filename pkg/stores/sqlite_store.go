package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/framegraph/framegraph/pkg/scene"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	BusyTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) dsn() string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()),
	}
	if s.cfg.Path != MemoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return "file:" + s.cfg.Path + "?" + strings.Join(pragmas, "&")
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

const projectColumns = `id, name, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	p := &Project{}
	if err := row.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// EnsureProject returns the project called name, creating it if needed.
func (s *SQLiteStore) EnsureProject(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO projects (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), name, now, now); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return s.GetProjectByName(ctx, name)
}

// GetProject retrieves a project by ID
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`

	p, err := scanProject(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// GetProjectByName retrieves a project by name
func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE name = ?`

	p, err := scanProject(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects lists projects, most recently updated first
func (s *SQLiteStore) ListProjects(ctx context.Context, limit, offset int) ([]*Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		ORDER BY updated_at DESC, name
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}

// DeleteProject deletes a project with its revisions and script runs
func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}

	return nil
}

const revisionColumns = `id, project_id, seq, message, nodes, data, created_at`

func scanRevision(row interface{ Scan(...any) error }) (*Revision, error) {
	r := &Revision{}
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Seq, &r.Message, &r.Nodes, &r.Data, &r.CreatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

// SaveRevision stores p as the next revision of projectID.
func (s *SQLiteStore) SaveRevision(ctx context.Context, projectID string, p *scene.Project, message string) (*Revision, error) {
	data, err := scene.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode project: %w", err)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM revisions WHERE project_id = ?`, projectID,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate revision: %w", err)
	}

	rev := &Revision{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Seq:       seq,
		Message:   message,
		Nodes:     p.Len(),
		Data:      string(data),
		CreatedAt: time.Now().UTC(),
	}
	query := `
		INSERT INTO revisions (` + revisionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		rev.ID, rev.ProjectID, rev.Seq, rev.Message, rev.Nodes, rev.Data, rev.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to save revision: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE projects SET updated_at = ? WHERE id = ?`, rev.CreatedAt, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to touch project: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit revision: %w", err)
	}
	return rev, nil
}

// GetRevision retrieves a revision by ID
func (s *SQLiteStore) GetRevision(ctx context.Context, id string) (*Revision, error) {
	query := `SELECT ` + revisionColumns + ` FROM revisions WHERE id = ?`

	r, err := scanRevision(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("revision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get revision: %w", err)
	}
	return r, nil
}

// LatestRevision retrieves the newest revision of a project
func (s *SQLiteStore) LatestRevision(ctx context.Context, projectID string) (*Revision, error) {
	query := `
		SELECT ` + revisionColumns + `
		FROM revisions
		WHERE project_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`

	r, err := scanRevision(s.db.QueryRowContext(ctx, query, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("revisions of %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get revision: %w", err)
	}
	return r, nil
}

// ListRevisions lists a project's revisions, newest first
func (s *SQLiteStore) ListRevisions(ctx context.Context, projectID string, limit, offset int) ([]*Revision, error) {
	query := `
		SELECT ` + revisionColumns + `
		FROM revisions
		WHERE project_id = ?
		ORDER BY seq DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	revisions := []*Revision{}
	for rows.Next() {
		r, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		revisions = append(revisions, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revisions: %w", err)
	}

	return revisions, nil
}

// CreateScriptRun records a script execution
func (s *SQLiteStore) CreateScriptRun(ctx context.Context, run *ScriptRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO script_runs (id, project_id, revision_id, source, status, commands, error, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.ProjectID,
		run.RevisionID,
		run.Source,
		run.Status,
		run.Commands,
		run.Error,
		run.Duration.Milliseconds(),
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create script run: %w", err)
	}

	return nil
}

// ListScriptRuns lists a project's script runs, newest first
func (s *SQLiteStore) ListScriptRuns(ctx context.Context, projectID string, limit, offset int) ([]*ScriptRun, error) {
	query := `
		SELECT id, project_id, revision_id, source, status, commands, error, duration_ms, started_at
		FROM script_runs
		WHERE project_id = ?
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list script runs: %w", err)
	}
	defer rows.Close()

	runs := []*ScriptRun{}
	for rows.Next() {
		run := &ScriptRun{}
		var durationMS int64
		err := rows.Scan(
			&run.ID,
			&run.ProjectID,
			&run.RevisionID,
			&run.Source,
			&run.Status,
			&run.Commands,
			&run.Error,
			&durationMS,
			&run.StartedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan script run: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating script runs: %w", err)
	}

	return runs, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
