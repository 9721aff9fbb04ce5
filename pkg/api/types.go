package api

import (
	"time"

	"github.com/rhuss/polyrun/pkg/value"
)

// ExecuteRequest submits source text for execution.
//
// Code is a polyglot source with #lang: directives. When Language is set,
// Code is treated as plain code in that language and wrapped in a single
// block. Pointer fields override the server defaults when non-nil.
type ExecuteRequest struct {
	Code              string   `json:"code"`
	Language          string   `json:"language,omitempty"`
	Languages         []string `json:"languages,omitempty"`
	Consolidate       *bool    `json:"consolidate,omitempty"`
	Isolation         *bool    `json:"isolation,omitempty"`
	ContinueOnFailure *bool    `json:"continue_on_failure,omitempty"`
	TimeoutSeconds    int      `json:"timeout_seconds,omitempty"`
}

// RunSummary is the result of a run as returned by the façade.
type RunSummary struct {
	RunID              string        `json:"run_id"`
	Success            bool          `json:"success"`
	Output             string        `json:"output"`
	Error              string        `json:"error"`
	ExecutionTime      float64       `json:"execution_time"`
	BlocksExecuted     int           `json:"blocks_executed"`
	BlocksConsolidated int           `json:"blocks_consolidated"`
	Aborted            bool          `json:"aborted,omitempty"`
	Blocks             []BlockResult `json:"blocks"`
	Shared             value.Set     `json:"shared,omitempty"`
}

// BlockResult is the outcome of one executed block.
type BlockResult struct {
	Index           int       `json:"index"`
	Language        string    `json:"language"`
	SourceLine      int       `json:"source_line"`
	Status          string    `json:"status"`
	State           string    `json:"state"`
	Success         bool      `json:"success"`
	Stdout          string    `json:"stdout"`
	Stderr          string    `json:"stderr"`
	ExitCode        int       `json:"exit_code"`
	ExecutionTime   float64   `json:"execution_time"`
	Exported        value.Set `json:"exported,omitempty"`
	MissingImports  []string  `json:"missing_imports,omitempty"`
	SecurityBlocked bool      `json:"security_blocked,omitempty"`
	SecurityReason  string    `json:"security_reason,omitempty"`
	Backend         string    `json:"backend,omitempty"`
	Fallback        string    `json:"fallback,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// LanguageInfo describes one registered runner.
type LanguageInfo struct {
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases,omitempty"`
	Toolchain string   `json:"toolchain"`
	Available bool     `json:"available"`
	Version   string   `json:"version,omitempty"`
	Compiled  bool     `json:"compiled"`
	Plugin    bool     `json:"plugin,omitempty"`
}

// SystemStatus reports server capabilities.
type SystemStatus struct {
	Status             string   `json:"status"`
	Version            string   `json:"version"`
	LanguagesSupported []string `json:"languages_supported"`
	Isolation          string   `json:"isolation"`
	IsolationAvailable bool     `json:"isolation_available"`
	SecurityEnabled    bool     `json:"security_enabled"`
}

// Project is a saved polyglot source file.
type Project struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Author        string            `json:"author,omitempty"`
	Owner         string            `json:"owner,omitempty"`
	Source        string            `json:"source"`
	Tags          []string          `json:"tags,omitempty"`
	Public        bool              `json:"public"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Languages     []string          `json:"languages,omitempty"`
	LanguageCount int               `json:"language_count"`
	Version       int               `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// ProjectVersion is a previous revision of a project's source.
type ProjectVersion struct {
	ProjectID string    `json:"project_id"`
	Version   int       `json:"version"`
	Source    string    `json:"source"`
	Changes   string    `json:"changes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectInput creates or updates a project. On update, nil fields are
// left unchanged.
type ProjectInput struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Author      *string           `json:"author,omitempty"`
	Source      *string           `json:"source,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Public      *bool             `json:"public,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Changes     string            `json:"changes,omitempty"`
}

// ProjectFilter selects projects for listing.
type ProjectFilter struct {
	Tag    string
	Search string
	Author string
	Limit  int
	Offset int
}

// Pagination limits for project listings.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Normalize clamps the filter's pagination fields.
func (f ProjectFilter) Normalize() ProjectFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ProjectList is one page of projects.
type ProjectList struct {
	Object  string    `json:"object"`
	Data    []Project `json:"data"`
	HasMore bool      `json:"has_more"`
}

// ShareLink grants read access to one project.
type ShareLink struct {
	Token       string     `json:"token"`
	ProjectID   string     `json:"project_id"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AccessCount int        `json:"access_count"`
}

// Expired reports whether the link is past its expiry at now.
func (l *ShareLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// ShareRequest creates a share link. Zero TTLSeconds never expires.
type ShareRequest struct {
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// TagCount is a tag with the number of projects using it.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats summarizes the stored projects.
type Stats struct {
	TotalProjects        int         `json:"total_projects"`
	PublicProjects       int         `json:"public_projects"`
	ActiveShares         int         `json:"active_shares"`
	LanguageDistribution map[int]int `json:"language_distribution"`
}
