package integration

import (
	"net/http"
	"testing"

	"github.com/odonata-labs/ledgerflow/model"
)

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	h := NewHarness(t)

	cases := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"garbage token", "not.a.jwt"},
		{"expired token", h.ExpiredToken("user:late")},
		{"wrong issuer", h.issuer.GenerateTokenWithIssuer(TestClaims{PrincipalRef: "user:x"}, "https://evil.example.com")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.Do(http.MethodGet, "/v1/workflows", tc.token, nil)
			if resp.Status != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.Status)
			}
			if code := resp.ErrorCode(t); code != model.ErrUnauthenticated {
				t.Errorf("error code = %q, want %q", code, model.ErrUnauthenticated)
			}
		})
	}
}

func TestTokenWithoutSubjectRejected(t *testing.T) {
	h := NewHarness(t)

	// Signature and claims check out, but there is no principal to
	// attribute actions to.
	token := h.issuer.GenerateToken(TestClaims{Email: "nobody@example.com"})
	resp := h.Do(http.MethodGet, "/v1/workflows", token, nil)
	if resp.Status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Status)
	}
}

func TestHealthEndpointsSkipAuth(t *testing.T) {
	h := NewHarness(t)

	for _, path := range []string{"/health", "/ready"} {
		resp := h.Do(http.MethodGet, path, "", nil)
		if resp.Status != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.Status)
		}
	}
}

func TestPrincipalRecordedOnFire(t *testing.T) {
	h := NewHarness(t, WithSeeds("testdata/seeds"))
	admin := h.Token("user:admin")
	dev := h.Token("user:dev")

	wf := findWorkflow(t, h, admin, "Bug Report")
	developerRole := findRole(t, h, admin, "Developer")
	fixID := findTransition(t, h, admin, wf, "Fix")

	var act model.Activity
	h.MustStatus(http.MethodPost, "/v1/activities", admin,
		map[string]string{"workflow_id": wf.ID, "subject_ref": "bug-9"},
		http.StatusCreated).Decode(t, &act)

	var grant model.Participant
	h.MustStatus(http.MethodPost, activityPath(act.ID, "participants"), admin,
		map[string]string{"principal_ref": "user:dev", "role_id": developerRole.ID},
		http.StatusCreated).Decode(t, &grant)

	var entry model.HistoryEntry
	h.MustStatus(http.MethodPost, activityPath(act.ID, "fire"), dev,
		map[string]string{"transition_id": fixID}, http.StatusOK).Decode(t, &entry)
	if entry.ParticipantID != grant.ID {
		t.Errorf("entry participant = %q, want grant %q", entry.ParticipantID, grant.ID)
	}
}

func TestRevokedParticipantCannotFire(t *testing.T) {
	h := NewHarness(t, WithSeeds("testdata/seeds"))
	admin := h.Token("user:admin")
	dev := h.Token("user:dev")

	wf := findWorkflow(t, h, admin, "Bug Report")
	developerRole := findRole(t, h, admin, "Developer")
	fixID := findTransition(t, h, admin, wf, "Fix")

	var act model.Activity
	h.MustStatus(http.MethodPost, "/v1/activities", admin,
		map[string]string{"workflow_id": wf.ID, "subject_ref": "bug-11"},
		http.StatusCreated).Decode(t, &act)
	h.MustStatus(http.MethodPost, activityPath(act.ID, "participants"), admin,
		map[string]string{"principal_ref": "user:dev", "role_id": developerRole.ID},
		http.StatusCreated)

	h.MustStatus(http.MethodDelete,
		activityPath(act.ID, "participants")+"?principal_ref=user:dev&role_id="+developerRole.ID,
		admin, nil, http.StatusNoContent)

	resp := h.Do(http.MethodPost, activityPath(act.ID, "fire"), dev,
		map[string]string{"transition_id": fixID})
	if resp.Status != http.StatusForbidden {
		t.Fatalf("post-revoke fire status = %d, want 403", resp.Status)
	}
}
