package model

import (
	"context"
	"fmt"
)

// RequestContext carries the identity and tracing information for the
// lifetime of an authenticated request. PrincipalRef is the opaque,
// stable identifier supplied by the external identity provider; the
// engine never validates identity itself, only role membership recorded
// in an activity's participant roster. Immutable after construction and
// safe for concurrent reads.
type RequestContext struct {
	PrincipalRef  string
	Email         string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
	SpanID        string
}

// Validate checks that the mandatory PrincipalRef field is present.
func (rc *RequestContext) Validate() error {
	if rc.PrincipalRef == "" {
		return fmt.Errorf("PrincipalRef is required")
	}
	return nil
}

// Claim returns the value of the given claim key, or nil if not present.
func (rc *RequestContext) Claim(key string) any {
	if rc.Claims == nil {
		return nil
	}
	return rc.Claims[key]
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or
// returns nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context,
// panicking if it is not present. Safe to call in handlers guaranteed
// to run behind the authentication middleware.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
