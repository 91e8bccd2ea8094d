package authz

import (
	"testing"

	"github.com/pository/pository/internal/oidc"
)

func TestEvaluatePullRequestAlwaysDenied(t *testing.T) {
	cfg := Config{AllowedOwners: []string{"alice"}}
	claims := oidc.Claims{Repository: "alice/foo", EventName: "pull_request"}
	d := Evaluate(cfg, claims, "foo")
	if d.Allowed {
		t.Fatal("pull_request events must be denied")
	}
}

func TestEvaluateDefaultConventionRequiresMatchingNameAndOwner(t *testing.T) {
	cfg := Config{AllowedOwners: []string{"alice"}, RequirePrivate: true}
	claims := oidc.Claims{Repository: "alice/foo", RepositoryVisibility: "private", EventName: "push"}

	if d := Evaluate(cfg, claims, "foo"); !d.Allowed {
		t.Fatalf("expected allow, got deny: %s", d.Reason)
	}
	if d := Evaluate(cfg, claims, "bar"); d.Allowed {
		t.Fatal("expected deny for mismatched package name")
	}
}

func TestEvaluateRequirePrivateRejectsPublicRepo(t *testing.T) {
	cfg := Config{AllowedOwners: []string{"alice"}, RequirePrivate: true}
	claims := oidc.Claims{Repository: "alice/foo", RepositoryVisibility: "public", EventName: "push"}
	if d := Evaluate(cfg, claims, "foo"); d.Allowed {
		t.Fatal("expected deny for a public repository when RequirePrivate is set")
	}
}

func TestEvaluateOverrideWildcard(t *testing.T) {
	cfg := Config{
		AllowedOwners: []string{"alice"},
		Overrides:     map[string][]string{"alice/tools": {"*"}},
	}
	claims := oidc.Claims{Repository: "alice/tools", EventName: "push"}
	if d := Evaluate(cfg, claims, "anything"); !d.Allowed {
		t.Fatalf("expected wildcard override to allow any package name, got deny: %s", d.Reason)
	}
}

func TestEvaluateOverrideSpecificList(t *testing.T) {
	cfg := Config{
		AllowedOwners: []string{"alice"},
		Overrides:     map[string][]string{"alice/tools": {"hello"}},
	}
	claims := oidc.Claims{Repository: "alice/tools", EventName: "push"}
	if d := Evaluate(cfg, claims, "hello"); !d.Allowed {
		t.Fatalf("expected allow for listed package, got deny: %s", d.Reason)
	}
	if d := Evaluate(cfg, claims, "other"); d.Allowed {
		t.Fatal("expected deny for package not in override list")
	}
}

func TestEvaluateOwnerNotAllowed(t *testing.T) {
	cfg := Config{AllowedOwners: []string{"alice"}}
	claims := oidc.Claims{Repository: "mallory/foo", EventName: "push"}
	if d := Evaluate(cfg, claims, "foo"); d.Allowed {
		t.Fatal("expected deny for an owner outside the allow-list")
	}
}
