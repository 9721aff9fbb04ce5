package transport

import (
	"context"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/engine"
	"github.com/rhuss/polyrun/pkg/sandbox"
)

var _ Catalog = (*EngineCatalog)(nil)

// EngineCatalog describes the languages and backends of an engine.
type EngineCatalog struct {
	engine   *engine.Engine
	defaults engine.RunConfig
	version  string
}

// NewEngineCatalog creates a catalog. defaults selects the backend the
// server runs with when a request does not override isolation.
func NewEngineCatalog(e *engine.Engine, defaults engine.RunConfig, version string) *EngineCatalog {
	return &EngineCatalog{engine: e, defaults: defaults, version: version}
}

func (c *EngineCatalog) Languages(ctx context.Context) []api.LanguageInfo {
	return api.FromInfo(c.engine.Registry(c.defaults).Info(ctx))
}

func (c *EngineCatalog) Status(ctx context.Context) api.SystemStatus {
	reg := c.engine.Registry(c.defaults)
	st := api.SystemStatus{
		Status:             "ok",
		Version:            c.version,
		LanguagesSupported: reg.Languages(),
		Isolation:          "local",
		SecurityEnabled:    c.engine.Validator().Enabled(),
	}

	iso := c.engine.Isolated()
	if iso == nil {
		return st
	}
	st.Isolation = iso.Name()
	// Isolation counts as available when any language can use it.
	for _, lang := range st.LanguagesSupported {
		if iso.Available(ctx, lang, sandbox.ImageName(c.engine.ImagePrefix(), lang)) == nil {
			st.IsolationAvailable = true
			break
		}
	}
	return st
}
