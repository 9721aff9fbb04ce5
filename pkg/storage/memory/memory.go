// Package memory provides an in-memory implementation of
// transport.ProjectStore for tests and single-node deployments. Projects
// are lost when the process restarts. Optional LRU eviction limits memory
// usage.
package memory

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/debug"
	"github.com/rhuss/polyrun/pkg/storage"
	"github.com/rhuss/polyrun/pkg/transport"
)

// entry holds a stored project and its history.
type entry struct {
	project  *api.Project
	versions []api.ProjectVersion
	lruElem  *list.Element // position in LRU list
}

// Store is an in-memory ProjectStore with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	shares  map[string]*api.ShareLink
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
	now     func() time.Time
}

var _ transport.ProjectStore = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used project is
// evicted when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		shares:  make(map[string]*api.ShareLink),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// SaveProject stores a new project.
func (s *Store) SaveProject(_ context.Context, p *api.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[p.ID]; exists {
		return storage.ErrConflict
	}
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(p.ID)
	s.entries[p.ID] = &entry{project: p.Clone(), lruElem: elem}
	return nil
}

// visible returns the entry for id if the caller may read it. Must be
// called with s.mu held.
func (s *Store) visible(ctx context.Context, id string) (*entry, error) {
	e, ok := s.entries[id]
	if !ok || !e.project.VisibleTo(storage.GetOwner(ctx)) {
		return nil, fmt.Errorf("project %s: %w", id, storage.ErrNotFound)
	}
	return e, nil
}

// owned returns the entry for id if the caller may modify it. Must be
// called with s.mu held.
func (s *Store) owned(ctx context.Context, id string) (*entry, error) {
	e, ok := s.entries[id]
	if !ok || !e.project.OwnedBy(storage.GetOwner(ctx)) {
		return nil, fmt.Errorf("project %s: %w", id, storage.ErrNotFound)
	}
	return e, nil
}

// GetProject retrieves a project visible to the caller.
func (s *Store) GetProject(ctx context.Context, id string) (*api.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.visible(ctx, id)
	if err != nil {
		return nil, err
	}
	s.lruList.MoveToFront(e.lruElem)
	return e.project.Clone(), nil
}

// ListProjects returns visible projects matching the filter, newest first.
func (s *Store) ListProjects(ctx context.Context, filter api.ProjectFilter) (*api.ProjectList, error) {
	filter = filter.Normalize()
	owner := storage.GetOwner(ctx)

	s.mu.RLock()
	var matches []*api.Project
	for _, e := range s.entries {
		if e.project.VisibleTo(owner) && e.project.Matches(filter) {
			matches = append(matches, e.project)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	if filter.Offset >= len(matches) {
		matches = nil
	} else {
		matches = matches[filter.Offset:]
	}
	hasMore := len(matches) > filter.Limit
	if hasMore {
		matches = matches[:filter.Limit]
	}

	result := &api.ProjectList{Object: "list", Data: make([]api.Project, 0, len(matches)), HasMore: hasMore}
	for _, p := range matches {
		result.Data = append(result.Data, *p.Clone())
	}
	return result, nil
}

// UpdateProject applies in to an owned project. A changed source retains
// the previous revision.
func (s *Store) UpdateProject(ctx context.Context, id string, in *api.ProjectInput) (*api.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.owned(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev := e.project.Apply(in, s.now().UTC()); prev != nil {
		e.versions = append(e.versions, *prev)
	}
	s.lruList.MoveToFront(e.lruElem)
	return e.project.Clone(), nil
}

// DeleteProject removes an owned project with its versions and share
// links.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.owned(ctx, id)
	if err != nil {
		return err
	}
	s.remove(id, e)
	return nil
}

// ListVersions returns the retained revisions of a visible project,
// oldest first.
func (s *Store) ListVersions(ctx context.Context, id string) ([]api.ProjectVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.visible(ctx, id)
	if err != nil {
		return nil, err
	}
	return append([]api.ProjectVersion(nil), e.versions...), nil
}

// CreateShareLink creates a share link for an owned project. Zero ttl
// never expires.
func (s *Store) CreateShareLink(ctx context.Context, projectID string, ttl time.Duration) (*api.ShareLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.owned(ctx, projectID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	token := api.NewShareToken(projectID, now)
	for s.shares[token] != nil {
		token = api.NewShareToken(projectID, now)
	}
	link := &api.ShareLink{Token: token, ProjectID: projectID, CreatedAt: now}
	if ttl > 0 {
		exp := now.Add(ttl)
		link.ExpiresAt = &exp
	}
	s.shares[token] = link

	out := *link
	return &out, nil
}

// GetByShareToken resolves a share link regardless of the caller and
// increments its access count.
func (s *Store) GetByShareToken(_ context.Context, token string) (*api.Project, *api.ShareLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.shares[token]
	if !ok {
		return nil, nil, fmt.Errorf("share link %s: %w", token, storage.ErrNotFound)
	}
	if link.Expired(s.now()) {
		return nil, nil, fmt.Errorf("share link %s: %w", token, storage.ErrExpired)
	}
	e, ok := s.entries[link.ProjectID]
	if !ok {
		return nil, nil, fmt.Errorf("project %s: %w", link.ProjectID, storage.ErrNotFound)
	}

	link.AccessCount++
	out := *link
	return e.project.Clone(), &out, nil
}

// PopularTags counts tags across visible projects, most used first.
func (s *Store) PopularTags(ctx context.Context, limit int) ([]api.TagCount, error) {
	owner := storage.GetOwner(ctx)
	counts := map[string]int{}

	s.mu.RLock()
	for _, e := range s.entries {
		if !e.project.VisibleTo(owner) {
			continue
		}
		for _, t := range e.project.Tags {
			counts[t]++
		}
	}
	s.mu.RUnlock()

	tags := make([]api.TagCount, 0, len(counts))
	for name, n := range counts {
		tags = append(tags, api.TagCount{Name: name, Count: n})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Name < tags[j].Name
	})
	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}
	return tags, nil
}

// Stats summarizes all stored projects.
func (s *Store) Stats(_ context.Context) (*api.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &api.Stats{
		TotalProjects:        len(s.entries),
		LanguageDistribution: map[int]int{},
	}
	for _, e := range s.entries {
		if e.project.Public {
			st.PublicProjects++
		}
		st.LanguageDistribution[e.project.LanguageCount]++
	}
	now := s.now()
	for _, l := range s.shares {
		if !l.Expired(now) {
			st.ActiveShares++
		}
	}
	return st, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// remove deletes a project and its share links. Must be called with s.mu
// held.
func (s *Store) remove(id string, e *entry) {
	s.lruList.Remove(e.lruElem)
	delete(s.entries, id)
	for token, l := range s.shares {
		if l.ProjectID == id {
			delete(s.shares, token)
		}
	}
}

// evictOldest removes the least recently used project.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	debug.Log("storage", "evicting project", "id", id, "size", len(s.entries))
	s.remove(id, s.entries[id])
}
