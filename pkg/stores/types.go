package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/framegraph/framegraph/pkg/scene"
)

// ErrNotFound is wrapped by every lookup that matches no row.
var ErrNotFound = errors.New("not found")

// RunStatus is the outcome of a script run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Project is a named project with a revision history.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"` // usually the project file path
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Revision is one saved snapshot of a project.
type Revision struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Seq       int       `json:"seq"` // 1-based, per project
	Message   string    `json:"message"`
	Nodes     int       `json:"nodes"`
	Data      string    `json:"-"` // JSON project
	CreatedAt time.Time `json:"created_at"`
}

// Project decodes the stored snapshot.
func (r *Revision) Project() (*scene.Project, error) {
	return scene.Unmarshal([]byte(r.Data))
}

// ScriptRun records one script execution.
type ScriptRun struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"project_id"`
	RevisionID *string       `json:"revision_id,omitempty"` // revision the run produced
	Source     string        `json:"source"`
	Status     RunStatus     `json:"status"`
	Commands   int           `json:"commands"`
	Error      *string       `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Project operations
	EnsureProject(ctx context.Context, name string) (*Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	GetProjectByName(ctx context.Context, name string) (*Project, error)
	ListProjects(ctx context.Context, limit, offset int) ([]*Project, error)
	DeleteProject(ctx context.Context, id string) error

	// Revision operations
	SaveRevision(ctx context.Context, projectID string, p *scene.Project, message string) (*Revision, error)
	GetRevision(ctx context.Context, id string) (*Revision, error)
	LatestRevision(ctx context.Context, projectID string) (*Revision, error)
	ListRevisions(ctx context.Context, projectID string, limit, offset int) ([]*Revision, error)

	// Script run operations
	CreateScriptRun(ctx context.Context, run *ScriptRun) error
	ListScriptRuns(ctx context.Context, projectID string, limit, offset int) ([]*ScriptRun, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
