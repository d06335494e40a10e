package model

import (
	"context"
	"testing"
)

func TestRequestContext_Validate(t *testing.T) {
	rc := &RequestContext{PrincipalRef: "user-1"}
	if err := rc.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
	rc = &RequestContext{}
	if err := rc.Validate(); err == nil {
		t.Error("Validate() on empty context should fail")
	}
}

func TestRequestContext_Claim(t *testing.T) {
	rc := &RequestContext{Claims: map[string]any{"email": "fred@acme.com"}}
	if got := rc.Claim("email"); got != "fred@acme.com" {
		t.Errorf("Claim(email) = %v, want fred@acme.com", got)
	}
	if got := rc.Claim("missing"); got != nil {
		t.Errorf("Claim(missing) = %v, want nil", got)
	}
	rc = &RequestContext{}
	if got := rc.Claim("email"); got != nil {
		t.Errorf("Claim on nil Claims = %v, want nil", got)
	}
}

func TestRequestContext_roundtrip(t *testing.T) {
	rc := &RequestContext{PrincipalRef: "user-1"}
	ctx := WithRequestContext(context.Background(), rc)
	if got := RequestContextFrom(ctx); got != rc {
		t.Errorf("RequestContextFrom = %v, want %v", got, rc)
	}
	if got := RequestContextFrom(context.Background()); got != nil {
		t.Errorf("RequestContextFrom on empty context = %v, want nil", got)
	}
}

func TestMustRequestContext_panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustRequestContext should panic without a context")
		}
	}()
	MustRequestContext(context.Background())
}
