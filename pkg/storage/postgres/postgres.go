// Package postgres provides a PostgreSQL implementation of
// transport.ProjectStore. It uses pgx/v5 for connection pooling, text
// arrays for tags and JSONB for project metadata.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/storage"
	"github.com/rhuss/polyrun/pkg/transport"
)

// Store is a PostgreSQL-backed ProjectStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

var _ transport.ProjectStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	if poolCfg.ConnConfig.ConnectTimeout == 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, logger: logger, now: time.Now}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

const projectColumns = `id, owner, name, description, author, source, tags, public,
	metadata, languages, language_count, version, created_at, updated_at`

// Visibility predicates; $1 is the caller's owner.
const (
	visibleClause = `($1 = '' OR public OR owner = $1)`
	ownedClause   = `($1 = '' OR owner = $1)`
)

func scanProject(row pgx.Row) (*api.Project, error) {
	var (
		p        api.Project
		metadata []byte
	)
	err := row.Scan(&p.ID, &p.Owner, &p.Name, &p.Description, &p.Author, &p.Source,
		&p.Tags, &p.Public, &metadata, &p.Languages, &p.LanguageCount, &p.Version,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", p.ID, err)
		}
	}
	if len(p.Tags) == 0 {
		p.Tags = nil
	}
	if len(p.Languages) == 0 {
		p.Languages = nil
	}
	return &p, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// SaveProject inserts a new project.
func (s *Store) SaveProject(ctx context.Context, p *api.Project) error {
	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		p.ID, p.Owner, p.Name, p.Description, p.Author, p.Source,
		nonNil(p.Tags), p.Public, metadata, nonNil(p.Languages), p.LanguageCount, p.Version,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

// GetProject retrieves a project visible to the caller.
func (s *Store) GetProject(ctx context.Context, id string) (*api.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE `+visibleClause+` AND id = $2`,
		storage.GetOwner(ctx), id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	return p, nil
}

// ListProjects returns visible projects matching the filter, newest first.
func (s *Store) ListProjects(ctx context.Context, filter api.ProjectFilter) (*api.ProjectList, error) {
	filter = filter.Normalize()

	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE `+visibleClause+`
		  AND ($2 = '' OR $2 = ANY(tags))
		  AND ($3 = '' OR author = $3)
		  AND ($4 = '' OR name ILIKE $4 OR description ILIKE $4
		       OR EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE t ILIKE $4))
		ORDER BY created_at DESC, id DESC
		LIMIT $5 OFFSET $6
	`,
		storage.GetOwner(ctx),
		strings.ToLower(strings.TrimSpace(filter.Tag)),
		filter.Author,
		likePattern(filter.Search),
		filter.Limit+1,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	result := &api.ProjectList{Object: "list", Data: []api.Project{}}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		result.Data = append(result.Data, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	if len(result.Data) > filter.Limit {
		result.Data = result.Data[:filter.Limit]
		result.HasMore = true
	}
	return result, nil
}

// likePattern turns a search term into an ILIKE substring pattern. An
// empty term stays empty.
func likePattern(term string) string {
	if term == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// UpdateProject applies in to an owned project in one transaction. A
// changed source retains the previous revision in project_versions.
func (s *Store) UpdateProject(ctx context.Context, id string, in *api.ProjectInput) (*api.Project, error) {
	var updated *api.Project
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		p, err := scanProject(tx.QueryRow(ctx,
			`SELECT `+projectColumns+` FROM projects WHERE `+ownedClause+` AND id = $2 FOR UPDATE`,
			storage.GetOwner(ctx), id,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("project %s: %w", id, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("querying project: %w", err)
		}

		if prev := p.Apply(in, s.now().UTC()); prev != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO project_versions (project_id, version, source, changes, created_at)
				VALUES ($1, $2, $3, $4, $5)
			`, prev.ProjectID, prev.Version, prev.Source, prev.Changes, prev.CreatedAt); err != nil {
				return fmt.Errorf("inserting version: %w", err)
			}
		}

		metadata, err := encodeMetadata(p.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE projects SET name = $2, description = $3, author = $4, source = $5,
				tags = $6, public = $7, metadata = $8, languages = $9,
				language_count = $10, version = $11, updated_at = $12
			WHERE id = $1
		`,
			p.ID, p.Name, p.Description, p.Author, p.Source,
			nonNil(p.Tags), p.Public, metadata, nonNil(p.Languages),
			p.LanguageCount, p.Version, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("updating project: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProject removes an owned project. Versions and share links are
// removed by cascade.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM projects WHERE `+ownedClause+` AND id = $2`,
		storage.GetOwner(ctx), id,
	)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// ListVersions returns the retained revisions of a visible project,
// oldest first.
func (s *Store) ListVersions(ctx context.Context, id string) ([]api.ProjectVersion, error) {
	if _, err := s.GetProject(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT project_id, version, source, changes, created_at
		FROM project_versions WHERE project_id = $1 ORDER BY version
	`, id)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	versions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.ProjectVersion, error) {
		var v api.ProjectVersion
		err := row.Scan(&v.ProjectID, &v.Version, &v.Source, &v.Changes, &v.CreatedAt)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning versions: %w", err)
	}
	return versions, nil
}

// CreateShareLink creates a share link for an owned project. Zero ttl
// never expires.
func (s *Store) CreateShareLink(ctx context.Context, projectID string, ttl time.Duration) (*api.ShareLink, error) {
	var owned bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM projects WHERE `+ownedClause+` AND id = $2)`,
		storage.GetOwner(ctx), projectID,
	).Scan(&owned); err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	if !owned {
		return nil, fmt.Errorf("project %s: %w", projectID, storage.ErrNotFound)
	}

	now := s.now().UTC()
	link := &api.ShareLink{ProjectID: projectID, CreatedAt: now}
	if ttl > 0 {
		exp := now.Add(ttl)
		link.ExpiresAt = &exp
	}

	// Tokens carry 64 bits; retry once on the unlikely collision.
	for attempt := 0; ; attempt++ {
		link.Token = api.NewShareToken(projectID, now)
		_, err := s.pool.Exec(ctx, `
			INSERT INTO share_links (token, project_id, created_at, expires_at)
			VALUES ($1, $2, $3, $4)
		`, link.Token, link.ProjectID, link.CreatedAt, link.ExpiresAt)
		if err == nil {
			return link, nil
		}
		if !isDuplicateKey(err) || attempt > 0 {
			return nil, fmt.Errorf("inserting share link: %w", err)
		}
	}
}

// GetByShareToken resolves a share link regardless of the caller and
// increments its access count.
func (s *Store) GetByShareToken(ctx context.Context, token string) (*api.Project, *api.ShareLink, error) {
	var (
		p    *api.Project
		link api.ShareLink
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT token, project_id, created_at, expires_at, access_count
			FROM share_links WHERE token = $1 FOR UPDATE
		`, token).Scan(&link.Token, &link.ProjectID, &link.CreatedAt, &link.ExpiresAt, &link.AccessCount)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("share link %s: %w", token, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("querying share link: %w", err)
		}
		if link.Expired(s.now()) {
			return fmt.Errorf("share link %s: %w", token, storage.ErrExpired)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE share_links SET access_count = access_count + 1 WHERE token = $1`, token,
		); err != nil {
			return fmt.Errorf("counting access: %w", err)
		}
		link.AccessCount++

		p, err = scanProject(tx.QueryRow(ctx,
			`SELECT `+projectColumns+` FROM projects WHERE id = $1`, link.ProjectID))
		if err != nil {
			return fmt.Errorf("querying shared project: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return p, &link, nil
}

// PopularTags counts tags across visible projects, most used first.
func (s *Store) PopularTags(ctx context.Context, limit int) ([]api.TagCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tag, count(*) FROM projects, unnest(tags) AS tag
		WHERE `+visibleClause+`
		GROUP BY tag
		ORDER BY count(*) DESC, tag ASC
		LIMIT $2
	`, storage.GetOwner(ctx), limit)
	if err != nil {
		return nil, fmt.Errorf("counting tags: %w", err)
	}
	tags, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.TagCount, error) {
		var tc api.TagCount
		err := row.Scan(&tc.Name, &tc.Count)
		return tc, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning tags: %w", err)
	}
	return tags, nil
}

// Stats summarizes all stored projects.
func (s *Store) Stats(ctx context.Context) (*api.Stats, error) {
	st := &api.Stats{LanguageDistribution: map[int]int{}}

	if err := s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE public) FROM projects
	`).Scan(&st.TotalProjects, &st.PublicProjects); err != nil {
		return nil, fmt.Errorf("counting projects: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM share_links WHERE expires_at IS NULL OR expires_at > $1
	`, s.now()).Scan(&st.ActiveShares); err != nil {
		return nil, fmt.Errorf("counting share links: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT language_count, count(*) FROM projects GROUP BY language_count
	`)
	if err != nil {
		return nil, fmt.Errorf("counting languages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var langs, n int
		if err := rows.Scan(&langs, &n); err != nil {
			return nil, fmt.Errorf("scanning language counts: %w", err)
		}
		st.LanguageDistribution[langs] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting languages: %w", err)
	}
	return st, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isDuplicateKey reports whether err is a PostgreSQL unique violation.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
