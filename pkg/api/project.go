package api

import (
	"strings"
	"time"

	"github.com/rhuss/polyrun/pkg/source"
)

// DetectLanguages returns the distinct block languages of src in
// first-seen order together with the number of #lang: directives.
func DetectLanguages(src string) ([]string, int) {
	var langs []string
	seen := map[string]bool{}
	for _, b := range source.Parse(src) {
		if b.Language == "" || seen[b.Language] {
			continue
		}
		seen[b.Language] = true
		langs = append(langs, b.Language)
	}
	return langs, strings.Count(src, "#lang:")
}

// NewProject builds a version 1 project from a validated create request.
func NewProject(in *ProjectInput, owner string, now time.Time) *Project {
	p := &Project{
		ID:        NewProjectID(),
		Owner:     owner,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Apply(in, now)
	return p
}

// Apply copies the set fields of in onto p and refreshes the derived
// language fields. When the source changes the version is incremented
// and the previous revision is returned.
func (p *Project) Apply(in *ProjectInput, now time.Time) *ProjectVersion {
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Author != nil {
		p.Author = *in.Author
	}
	if in.Tags != nil {
		p.Tags = normalizeTags(in.Tags)
	}
	if in.Public != nil {
		p.Public = *in.Public
	}
	if in.Metadata != nil {
		p.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			p.Metadata[k] = v
		}
	}
	p.UpdatedAt = now

	if in.Source == nil || *in.Source == p.Source {
		return nil
	}
	var prev *ProjectVersion
	if p.Source != "" {
		prev = &ProjectVersion{
			ProjectID: p.ID,
			Version:   p.Version,
			Source:    p.Source,
			Changes:   in.Changes,
			CreatedAt: now,
		}
		p.Version++
	}
	p.Source = *in.Source
	p.Languages, p.LanguageCount = DetectLanguages(p.Source)
	return prev
}

// normalizeTags lower-cases and trims tags, dropping duplicates.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// HasTag reports whether p carries tag, compared case-insensitively.
func (p *Project) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Matches reports whether p satisfies the filter's tag, author and
// search terms. Search matches name, description and tags
// case-insensitively.
func (p *Project) Matches(f ProjectFilter) bool {
	if f.Tag != "" && !p.HasTag(f.Tag) {
		return false
	}
	if f.Author != "" && p.Author != f.Author {
		return false
	}
	if f.Search == "" {
		return true
	}
	q := strings.ToLower(f.Search)
	if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Description), q) {
		return true
	}
	for _, t := range p.Tags {
		if strings.Contains(t, q) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of p.
func (p *Project) Clone() *Project {
	c := *p
	c.Tags = append([]string(nil), p.Tags...)
	c.Languages = append([]string(nil), p.Languages...)
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// VisibleTo reports whether owner may read p. An empty owner (no
// authentication) sees every project.
func (p *Project) VisibleTo(owner string) bool {
	return owner == "" || p.Public || p.Owner == owner
}

// OwnedBy reports whether owner may modify p.
func (p *Project) OwnedBy(owner string) bool {
	return owner == "" || p.Owner == owner
}
