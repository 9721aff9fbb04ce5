package auth

import (
	"context"
	"errors"
	"net/http"
)

// AuthDecision is an authenticator's vote on a request.
type AuthDecision int

const (
	// Yes accepts the credentials; the chain stops with this identity.
	Yes AuthDecision = iota
	// No rejects presented credentials; the chain stops with a 401.
	No
	// Abstain means the credentials are not this authenticator's kind.
	Abstain
)

func (d AuthDecision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	}
	return "unknown"
}

// AuthResult is one vote. Identity is set for Yes, Err for No.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity
	Err      error
}

// Identity is an authenticated caller.
type Identity struct {
	Subject string

	// ServiceTier selects the rate limit tier.
	ServiceTier string

	Scopes []string

	// Metadata carries authenticator specific values. "owner" replaces
	// the subject as the owner of stored projects.
	Metadata map[string]string
}

// AnonymousSubject is the subject of callers admitted without credentials.
const AnonymousSubject = "anonymous"

// Anonymous returns the identity admitted when every authenticator
// abstains and the chain defaults to Yes.
func Anonymous() *Identity {
	return &Identity{Subject: AnonymousSubject, ServiceTier: "default"}
}

// Owner returns the owner used to scope stored projects: the "owner"
// metadata value, else the subject. Anonymous and nil identities own
// nothing and see only public projects.
func (id *Identity) Owner() string {
	if id == nil || id.Subject == AnonymousSubject {
		return ""
	}
	if owner := id.Metadata["owner"]; owner != "" {
		return owner
	}
	return id.Subject
}

// Authenticator votes on the credentials carried by a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// AuthChain asks each authenticator in turn. The first Yes or No is
// final; when all abstain DefaultDecision applies, with Yes admitting
// the Anonymous identity.
type AuthChain struct {
	Authenticators  []Authenticator
	DefaultDecision AuthDecision
}

func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, authn := range c.Authenticators {
		if res := authn.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.DefaultDecision == Yes {
		return AuthResult{Decision: Yes, Identity: Anonymous()}
	}
	return AuthResult{Decision: No, Err: ErrUnauthenticated}
}
