package transport

import (
	"context"
	"time"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/engine"
)

// RunExecutor executes one submitted source. Progress is reported to obs,
// which may be nil. Block failures are reported in the summary; the error
// is reserved for requests that could not run at all.
type RunExecutor interface {
	Execute(ctx context.Context, req *api.ExecuteRequest, obs engine.Observer) (*engine.Summary, error)
}

// RunExecutorFunc is an adapter that allows using an ordinary function
// as a RunExecutor.
type RunExecutorFunc func(ctx context.Context, req *api.ExecuteRequest, obs engine.Observer) (*engine.Summary, error)

// Execute calls f(ctx, req, obs).
func (f RunExecutorFunc) Execute(ctx context.Context, req *api.ExecuteRequest, obs engine.Observer) (*engine.Summary, error) {
	return f(ctx, req, obs)
}

// Catalog describes what the server can run.
type Catalog interface {
	Languages(ctx context.Context) []api.LanguageInfo
	Status(ctx context.Context) api.SystemStatus
}

// ProjectStore handles persistence of saved projects and share links.
// Implementations scope reads and writes to the owner in the context
// (see storage.SetOwner); public projects are readable by everyone.
type ProjectStore interface {
	// SaveProject persists a new project. Returns storage.ErrConflict if
	// the ID already exists.
	SaveProject(ctx context.Context, p *api.Project) error

	// GetProject retrieves a project by ID. Returns storage.ErrNotFound if
	// it does not exist or is not visible to the caller.
	GetProject(ctx context.Context, id string) (*api.Project, error)

	// ListProjects returns one page of visible projects, newest first.
	ListProjects(ctx context.Context, filter api.ProjectFilter) (*api.ProjectList, error)

	// UpdateProject applies in to the project. A changed source bumps the
	// version and retains the previous source as a ProjectVersion.
	UpdateProject(ctx context.Context, id string, in *api.ProjectInput) (*api.Project, error)

	// DeleteProject removes a project with its versions and share links.
	DeleteProject(ctx context.Context, id string) error

	// ListVersions returns the retained versions of a project, oldest first.
	ListVersions(ctx context.Context, id string) ([]api.ProjectVersion, error)

	// CreateShareLink creates a share link. Zero ttl never expires.
	CreateShareLink(ctx context.Context, projectID string, ttl time.Duration) (*api.ShareLink, error)

	// GetByShareToken resolves a share link and increments its access
	// count. Returns storage.ErrExpired when the link is past its expiry.
	GetByShareToken(ctx context.Context, token string) (*api.Project, *api.ShareLink, error)

	// PopularTags returns the most used tags, most used first.
	PopularTags(ctx context.Context, limit int) ([]api.TagCount, error)

	// Stats summarizes the stored projects.
	Stats(ctx context.Context) (*api.Stats, error)

	// HealthCheck verifies the store connection is functional.
	HealthCheck(ctx context.Context) error

	// Close releases database connections and resources.
	Close() error
}

// EventWriter delivers streaming events to a client. Writing after a
// terminal event returns an error.
type EventWriter interface {
	WriteEvent(ctx context.Context, event api.StreamEvent) error
}
