// Package creds resolves the credentials the agent uses to authenticate with
// the orchestrator and with the warehouse session.
package creds

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/montecarlodata/snowflake-agent/pkg/log"
)

// Header names sent on every orchestrator request and on the event stream.
const (
	HeaderID    = "x-mcd-id"
	HeaderToken = "x-mcd-token"
)

const (
	defaultSecretPath       = "/usr/local/creds/secret_string"
	defaultSessionTokenPath = "/snowflake/session/token"
)

// Provider reads login credentials from the secret file mounted in the
// container. Outside the container it returns fixed local tokens. Tokens are
// resolved on every call so a rotated secret is picked up without a restart.
type Provider struct {
	secretPath       string
	sessionTokenPath string
	local            bool
}

// NewProvider creates a credentials provider. When local is true the provider
// returns development tokens instead of reading the mounted secret.
func NewProvider(local bool) *Provider {
	return &Provider{
		secretPath:       defaultSecretPath,
		sessionTokenPath: defaultSessionTokenPath,
		local:            local,
	}
}

// NewProviderWithPaths creates a provider reading from the given locations,
// used by tests.
func NewProviderWithPaths(secretPath, sessionTokenPath string) *Provider {
	return &Provider{secretPath: secretPath, sessionTokenPath: sessionTokenPath}
}

// LoginHeaders returns the authentication headers for orchestrator requests.
// A missing or malformed secret file results in sentinel tokens so the
// connection attempt still happens and the failure is visible server side.
func (p *Provider) LoginHeaders() map[string]string {
	if p.local {
		return map[string]string{
			HeaderID:    "local-token-id",
			HeaderToken: "local-token-secret",
		}
	}

	contents, err := os.ReadFile(p.secretPath)
	if err != nil {
		log.Logger.Warn().Str("path", p.secretPath).Msg("No token file found")
		return sentinelHeaders()
	}

	var secret struct {
		ID    string `json:"mcd_id"`
		Token string `json:"mcd_token"`
	}
	if err := json.Unmarshal(contents, &secret); err != nil || secret.ID == "" || secret.Token == "" {
		log.Logger.Error().Err(err).Msg("Failed to parse key JSON")
		return sentinelHeaders()
	}

	return map[string]string{
		HeaderID:    secret.ID,
		HeaderToken: secret.Token,
	}
}

// SessionToken returns the warehouse OAuth token provided by the platform.
func (p *Provider) SessionToken() (string, error) {
	contents, err := os.ReadFile(p.sessionTokenPath)
	if err != nil {
		return "", fmt.Errorf("failed to read session token: %w", err)
	}
	return strings.TrimSpace(string(contents)), nil
}

func sentinelHeaders() map[string]string {
	return map[string]string{
		HeaderID:    "no-token-id",
		HeaderToken: "no-token-secret",
	}
}
