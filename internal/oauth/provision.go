package oauth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dgellow/mcp-workers/internal/accesstoken"
	"github.com/dgellow/mcp-workers/internal/log"
	"github.com/dgellow/mcp-workers/internal/urlutil"
)

// MCPPath is the API path a deployed worker serves MCP on.
const MCPPath = "/mcp"

// ResourceAliases lists every URL form a deployment may be addressed by:
// the base URL, its MCP API path, its origin, and resourceURL exactly as given.
func ResourceAliases(resourceURL string) ([]string, error) {
	if !urlutil.IsAbsolute(resourceURL) {
		return nil, fmt.Errorf("resource url %q must be absolute", resourceURL)
	}
	base := urlutil.TrimTrailingSlash(resourceURL)
	origin, err := urlutil.Origin(base)
	if err != nil {
		return nil, err
	}

	apiPath := base
	if !strings.HasSuffix(base, MCPPath) {
		apiPath = base + MCPPath
	}

	var aliases []string
	for _, a := range []string{base, apiPath, origin, resourceURL} {
		if !slices.Contains(aliases, a) {
			aliases = append(aliases, a)
		}
	}
	return aliases, nil
}

// Provisioner registers a deployment's signing trust after it is published.
type Provisioner struct {
	store CredentialStore
}

func NewProvisioner(store CredentialStore) *Provisioner {
	return &Provisioner{store: store}
}

// Provisioned describes what Provision stored.
type Provisioned struct {
	Slug    string
	Secret  string
	Aliases []string
}

// Provision generates a fresh signing secret for slug, stores it, and maps every
// alias of resourceURL to slug. Re-provisioning a slug replaces its secret.
func (p *Provisioner) Provision(ctx context.Context, slug, resourceURL string) (*Provisioned, error) {
	secret, err := accesstoken.GenerateSecret()
	if err != nil {
		return nil, err
	}
	return p.ProvisionWithSecret(ctx, slug, resourceURL, secret)
}

// ProvisionWithSecret is Provision for a secret the deployment already holds.
func (p *Provisioner) ProvisionWithSecret(ctx context.Context, slug, resourceURL, secret string) (*Provisioned, error) {
	if strings.TrimSpace(slug) == "" {
		return nil, fmt.Errorf("slug is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}
	aliases, err := ResourceAliases(resourceURL)
	if err != nil {
		return nil, err
	}

	if err := p.store.PutSecret(ctx, slug, secret); err != nil {
		return nil, fmt.Errorf("failed to store signing secret: %w", err)
	}
	for _, alias := range aliases {
		if err := p.store.MapResourceToSlug(ctx, alias, slug); err != nil {
			return nil, fmt.Errorf("failed to map %s: %w", alias, err)
		}
	}

	log.LogInfoWithFields("provision", "Deployment provisioned", map[string]any{
		"slug":    slug,
		"aliases": aliases,
	})
	return &Provisioned{Slug: slug, Secret: secret, Aliases: aliases}, nil
}
