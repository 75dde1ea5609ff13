package ratelimit

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// Scope groups requests that share a rate limit budget.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeRead   Scope = "read"
	ScopeWrite  Scope = "write"
	// ScopeAdmin covers destructive ledger operations. It is only assigned by a route Rule.
	ScopeAdmin Scope = "admin"
)

// MetadataKey is the huma operation metadata key holding a Rule.
const MetadataKey = "rateLimit"

// Rule customizes rate limiting for one route.
//
// Exempt skips limiting entirely. Non-empty Limits replace the scope policy with
// per-route counters. Otherwise Scope, when set, replaces the method-derived scope.
type Rule struct {
	Scope  Scope
	Limits []Limit
	Exempt bool
}

// RuleFor returns the Rule attached to op, if any.
func RuleFor(op *huma.Operation) (Rule, bool) {
	if op == nil || op.Metadata == nil {
		return Rule{}, false
	}

	rule, ok := op.Metadata[MetadataKey].(Rule)

	return rule, ok
}

// ScopeResolver determines which scopes a request is charged to.
type ScopeResolver interface {
	Resolve(ctx huma.Context) []Scope
}

// Resolver charges every request to ScopeGlobal plus either the scope named by the
// route's Rule or, failing that, read for safe methods and write for the rest.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

func (*Resolver) Resolve(ctx huma.Context) []Scope {
	if rule, ok := RuleFor(ctx.Operation()); ok && rule.Scope != "" {
		return []Scope{ScopeGlobal, rule.Scope}
	}

	switch ctx.Method() {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return []Scope{ScopeGlobal, ScopeRead}
	default:
		return []Scope{ScopeGlobal, ScopeWrite}
	}
}
