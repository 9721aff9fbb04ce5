package api

import (
	"fmt"
	"strings"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxSourceSize     int
	MaxTimeoutSeconds int
	MaxNameLength     int
	MaxTags           int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxSourceSize:     1024 * 1024, // 1MB
		MaxTimeoutSeconds: 300,
		MaxNameLength:     200,
		MaxTags:           20,
	}
}

// ValidateExecuteRequest checks an ExecuteRequest. It returns an *APIError
// describing the first validation failure, or nil if the request is valid.
func ValidateExecuteRequest(req *ExecuteRequest, cfg ValidationConfig) *APIError {
	if strings.TrimSpace(req.Code) == "" {
		return NewInvalidRequestError("code", "code is required")
	}
	if cfg.MaxSourceSize > 0 && len(req.Code) > cfg.MaxSourceSize {
		return NewInvalidRequestError("code",
			fmt.Sprintf("code exceeds maximum size of %d bytes", cfg.MaxSourceSize))
	}
	if req.TimeoutSeconds < 0 {
		return NewInvalidRequestError("timeout_seconds", "timeout_seconds must not be negative")
	}
	if cfg.MaxTimeoutSeconds > 0 && req.TimeoutSeconds > cfg.MaxTimeoutSeconds {
		return NewInvalidRequestError("timeout_seconds",
			fmt.Sprintf("timeout_seconds exceeds maximum of %d", cfg.MaxTimeoutSeconds))
	}
	if strings.ContainsAny(req.Language, " \t\n,") {
		return NewInvalidRequestError("language", "language must be a single name")
	}
	return nil
}

// Source returns the polyglot source to run. Plain code submitted with a
// language is wrapped in one block.
func (r *ExecuteRequest) Source() string {
	if r.Language == "" {
		return r.Code
	}
	return "#lang:" + r.Language + "\n" + r.Code
}

// ValidateProjectInput checks a project create (create=true) or update
// request.
func ValidateProjectInput(in *ProjectInput, create bool, cfg ValidationConfig) *APIError {
	if create {
		if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
			return NewInvalidRequestError("name", "name is required")
		}
		if in.Source == nil || strings.TrimSpace(*in.Source) == "" {
			return NewInvalidRequestError("source", "source is required")
		}
	}
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return NewInvalidRequestError("name", "name must not be empty")
		}
		if cfg.MaxNameLength > 0 && len(*in.Name) > cfg.MaxNameLength {
			return NewInvalidRequestError("name",
				fmt.Sprintf("name exceeds maximum length of %d", cfg.MaxNameLength))
		}
	}
	if in.Source != nil && cfg.MaxSourceSize > 0 && len(*in.Source) > cfg.MaxSourceSize {
		return NewInvalidRequestError("source",
			fmt.Sprintf("source exceeds maximum size of %d bytes", cfg.MaxSourceSize))
	}
	if cfg.MaxTags > 0 && len(in.Tags) > cfg.MaxTags {
		return NewInvalidRequestError("tags",
			fmt.Sprintf("tags exceeds maximum of %d", cfg.MaxTags))
	}
	for i, tag := range in.Tags {
		if strings.TrimSpace(tag) == "" {
			return NewInvalidRequestError(fmt.Sprintf("tags[%d]", i), "tag must not be empty")
		}
	}
	return nil
}
