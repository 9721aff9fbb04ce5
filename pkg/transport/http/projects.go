package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/storage"
	"github.com/rhuss/polyrun/pkg/transport"
)

const defaultTagLimit = 10

// requireStore writes 501 and returns false when no project store is
// configured.
func (a *Adapter) requireStore(w http.ResponseWriter) bool {
	if a.store != nil {
		return true
	}
	transport.WriteErrorResponse(w,
		api.NewInvalidRequestError("", "projects are not available (no store configured)"),
		http.StatusNotImplemented,
	)
	return false
}

// projectID extracts and validates the {id} path value.
func projectID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !api.ValidateProjectID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed project ID"))
		return "", false
	}
	return id, true
}

// handleCreateProject handles POST /api/projects.
func (a *Adapter) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	var in api.ProjectInput
	if !a.decodeJSON(w, r, &in, false) {
		return
	}
	if apiErr := api.ValidateProjectInput(&in, true, a.config.Validation); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	p := api.NewProject(&in, storage.GetOwner(r.Context()), time.Now().UTC())
	if err := a.store.SaveProject(r.Context(), p); err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleListProjects handles GET /api/projects.
func (a *Adapter) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	filter, apiErr := parseProjectFilter(r)
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	list, err := a.store.ListProjects(r.Context(), filter)
	if err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// parseProjectFilter extracts the listing filter from the query string.
func parseProjectFilter(r *http.Request) (api.ProjectFilter, *api.APIError) {
	q := r.URL.Query()
	f := api.ProjectFilter{
		Tag:    q.Get("tag"),
		Search: q.Get("search"),
		Author: q.Get("author"),
	}
	for _, p := range []struct {
		name string
		dst  *int
		min  int
	}{
		{"limit", &f.Limit, 1},
		{"offset", &f.Offset, 0},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < p.min {
			return f, api.NewInvalidRequestError(p.name, p.name+" must be an integer of at least "+strconv.Itoa(p.min))
		}
		*p.dst = n
	}
	return f.Normalize(), nil
}

// handleGetProject handles GET /api/projects/{id}.
func (a *Adapter) handleGetProject(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	p, err := a.store.GetProject(r.Context(), id)
	if err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleUpdateProject handles PUT /api/projects/{id}.
func (a *Adapter) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	var in api.ProjectInput
	if !a.decodeJSON(w, r, &in, false) {
		return
	}
	if apiErr := api.ValidateProjectInput(&in, false, a.config.Validation); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	p, err := a.store.UpdateProject(r.Context(), id, &in)
	if err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleDeleteProject handles DELETE /api/projects/{id}.
func (a *Adapter) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	if err := a.store.DeleteProject(r.Context(), id); err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListVersions handles GET /api/projects/{id}/versions.
func (a *Adapter) handleListVersions(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	versions, err := a.store.ListVersions(r.Context(), id)
	if err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	if versions == nil {
		versions = []api.ProjectVersion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": versions})
}

// handleRunProject handles POST /api/projects/{id}/run. The optional body
// carries run overrides; its code and language are ignored.
func (a *Adapter) handleRunProject(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	var req api.ExecuteRequest
	if !a.decodeJSON(w, r, &req, true) {
		return
	}
	p, err := a.store.GetProject(r.Context(), id)
	if err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	req.Code = p.Source
	req.Language = ""

	if wantsStream(r) {
		a.streamRun(w, r, &req)
		return
	}
	a.runJSON(w, r, &req)
}

// handleShareProject handles POST /api/projects/{id}/share.
func (a *Adapter) handleShareProject(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	var req api.ShareRequest
	if !a.decodeJSON(w, r, &req, true) {
		return
	}
	if req.TTLSeconds < 0 {
		transport.WriteAPIError(w, api.NewInvalidRequestError("ttl_seconds", "ttl_seconds must not be negative"))
		return
	}
	link, err := a.store.CreateShareLink(r.Context(), id, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

// sharedProject is the response of GET /api/shared/{token}.
type sharedProject struct {
	Project *api.Project   `json:"project"`
	Share   *api.ShareLink `json:"share"`
}

// handleGetShared handles GET /api/shared/{token}. Share links grant
// access regardless of the caller's identity.
func (a *Adapter) handleGetShared(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	token := r.PathValue("token")
	if !api.ValidateShareToken(token) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("token", "malformed share token"))
		return
	}
	p, link, err := a.store.GetByShareToken(r.Context(), token)
	if err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, sharedProject{Project: p, Share: link})
}

// handlePopularTags handles GET /api/tags.
func (a *Adapter) handlePopularTags(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	limit := defaultTagLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			transport.WriteAPIError(w, api.NewInvalidRequestError("limit", "limit must be a positive integer"))
			return
		}
		limit = min(n, api.MaxListLimit)
	}
	tags, err := a.store.PopularTags(r.Context(), limit)
	if err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	if tags == nil {
		tags = []api.TagCount{}
	}
	writeJSON(w, http.StatusOK, tags)
}

// handleStats handles GET /api/stats.
func (a *Adapter) handleStats(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	stats, err := a.store.Stats(r.Context())
	if err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
