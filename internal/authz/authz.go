// Package authz implements the Authorization Policy (C6): the decision of
// whether a workload identity may upload a given package name.
package authz

import (
	"fmt"
	"strings"

	"github.com/pository/pository/internal/oidc"
)

// Config is the deployment-specific policy configuration.
type Config struct {
	AllowedOwners  []string
	RequirePrivate bool
	// Overrides maps "<owner>/<repo>" to a list of permitted package names,
	// or ["*"] to permit any package name from that repository.
	Overrides map[string][]string
}

// Decision is the outcome of evaluating a policy: Allowed, and when not,
// the reason why.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluate applies the three-step policy from the authorization design to
// claims for an upload of packageName.
func Evaluate(cfg Config, claims oidc.Claims, packageName string) Decision {
	if claims.EventName == "pull_request" {
		return Decision{Allowed: false, Reason: "uploads from pull_request events are never permitted"}
	}

	if names, ok := cfg.Overrides[claims.Repository]; ok {
		for _, n := range names {
			if n == "*" || n == packageName {
				return Decision{Allowed: true}
			}
		}
		return Decision{Allowed: false, Reason: fmt.Sprintf("package %q is not in the override list for %q", packageName, claims.Repository)}
	}

	owner, repo, found := strings.Cut(claims.Repository, "/")
	if !found {
		return Decision{Allowed: false, Reason: fmt.Sprintf("malformed repository claim %q", claims.Repository)}
	}
	if !contains(cfg.AllowedOwners, owner) {
		return Decision{Allowed: false, Reason: fmt.Sprintf("owner %q is not in the allowed-owners list", owner)}
	}
	if cfg.RequirePrivate && claims.RepositoryVisibility != "private" {
		return Decision{Allowed: false, Reason: "repository must be private"}
	}
	if repo != packageName {
		return Decision{Allowed: false, Reason: fmt.Sprintf("package name %q must match repository name %q", packageName, repo)}
	}
	return Decision{Allowed: true}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
