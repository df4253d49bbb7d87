package github

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoToken is returned when no GitHub credential is configured at all.
var ErrNoToken = errors.New("no GitHub token configured")

// Tokens resolves the API credential for an organization. Two setups are
// supported: one token per organization (GitHub App installations, via
// GITHUB_TOKEN_<ORG> variables) or a single personal access token shared
// across organizations (GITHUB_TOKEN).
type Tokens struct {
	perOrg map[string]string
	pat    string
}

// TokensFromEnv reads GitHub credentials from the environment.
// Org-specific variables take the form GITHUB_TOKEN_<ORG>; since
// environment variable names cannot contain `-` and org names cannot
// contain `_`, underscores in the suffix map to dashes (the token for
// "acme-labs" lives in GITHUB_TOKEN_ACME_LABS). When no org-specific
// variable is set, GITHUB_TOKEN is used for every org.
func TokensFromEnv() (*Tokens, error) {
	perOrg := map[string]string{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		if org, found := strings.CutPrefix(key, "GITHUB_TOKEN_"); found {
			perOrg[strings.ReplaceAll(strings.ToLower(org), "_", "-")] = value
		}
	}
	if len(perOrg) > 0 {
		return &Tokens{perOrg: perOrg}, nil
	}
	if pat := os.Getenv("GITHUB_TOKEN"); pat != "" {
		return &Tokens{pat: pat}, nil
	}
	return nil, ErrNoToken
}

// StaticToken builds a Tokens resolver around a single shared token.
func StaticToken(token string) *Tokens {
	return &Tokens{pat: token}
}

// ForOrg returns the credential to use for the given organization.
func (t *Tokens) ForOrg(org string) (string, error) {
	if t.pat != "" {
		return t.pat, nil
	}
	token, ok := t.perOrg[org]
	if !ok {
		return "", fmt.Errorf("no GitHub token configured for organization %s", org)
	}
	return token, nil
}

// UsesPAT reports whether a single personal access token is shared
// across organizations. A few endpoints differ between PAT and GitHub
// App authentication.
func (t *Tokens) UsesPAT() bool {
	return t.pat != ""
}
