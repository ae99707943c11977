package okta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/config"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/ioutil"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Identity represents the authenticated user as reported by Okta's
// userinfo endpoint.
type Identity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Domain        string `json:"domain"`
}

// endpoints is the resolved set of Okta OAuth endpoints
type endpoints struct {
	authURL     string
	tokenURL    string
	userInfoURL string
}

// discoveryDocument represents the OIDC discovery document
type discoveryDocument struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	Issuer                string `json:"issuer"`
}

// Provider drives the Authorization Code + PKCE flow against an Okta
// custom authorization server. Endpoints derive from the issuer URL
// unless a discovery URL is configured, in which case they are fetched
// once and cached; concurrent first uses share a single fetch.
type Provider struct {
	cfg        config.OktaConfig
	httpClient *http.Client

	mu       sync.RWMutex
	resolved *endpoints
	group    singleflight.Group
}

// NewProvider creates an Okta provider from configuration
func NewProvider(cfg config.OktaConfig) *Provider {
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GenerateVerifier returns a fresh PKCE code verifier
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthURL builds the authorization URL carrying state and the S256
// challenge for the given verifier
func (p *Provider) AuthURL(ctx context.Context, state, verifier string) (string, error) {
	conf, err := p.oauth2Config(ctx)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// Exchange trades the authorization code and PKCE verifier for tokens
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	conf, err := p.oauth2Config(ctx)
	if err != nil {
		return nil, err
	}

	token, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return token, nil
}

// Refresh performs the refresh-token grant. Okta may rotate the refresh
// token; callers must persist the one on the returned token.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	conf, err := p.oauth2Config(ctx)
	if err != nil {
		return nil, err
	}

	// An expired placeholder token forces the token source to hit the
	// token endpoint instead of returning the input unchanged.
	stale := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	token, err := conf.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return token, nil
}

// UserInfo fetches the authenticated user's identity from Okta
func (p *Provider) UserInfo(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	conf, err := p.oauth2Config(ctx)
	if err != nil {
		return nil, err
	}

	eps, err := p.endpoints(ctx)
	if err != nil {
		return nil, err
	}

	client := conf.Client(ctx, token)
	resp, err := client.Get(eps.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get user info: status %d: %s",
			resp.StatusCode, ioutil.ReadLimited(resp.Body, 1024))
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	identity.Domain = emailDomain(identity.Email)

	return &identity, nil
}

func (p *Provider) oauth2Config(ctx context.Context) (*oauth2.Config, error) {
	eps, err := p.endpoints(ctx)
	if err != nil {
		return nil, err
	}

	scopes := p.cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}

	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: string(p.cfg.ClientSecret),
		RedirectURL:  p.cfg.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  eps.authURL,
			TokenURL: eps.tokenURL,
		},
	}, nil
}

func (p *Provider) endpoints(ctx context.Context) (endpoints, error) {
	p.mu.RLock()
	if p.resolved != nil {
		eps := *p.resolved
		p.mu.RUnlock()
		return eps, nil
	}
	p.mu.RUnlock()

	if p.cfg.DiscoveryURL == "" {
		issuer := strings.TrimSuffix(p.cfg.Issuer, "/")
		eps := endpoints{
			authURL:     issuer + "/v1/authorize",
			tokenURL:    issuer + "/v1/token",
			userInfoURL: issuer + "/v1/userinfo",
		}
		p.mu.Lock()
		p.resolved = &eps
		p.mu.Unlock()
		return eps, nil
	}

	v, err, _ := p.group.Do("discovery", func() (any, error) {
		doc, err := p.fetchDiscovery(ctx)
		if err != nil {
			return endpoints{}, err
		}
		eps := endpoints{
			authURL:     doc.AuthorizationEndpoint,
			tokenURL:    doc.TokenEndpoint,
			userInfoURL: doc.UserInfoEndpoint,
		}
		p.mu.Lock()
		p.resolved = &eps
		p.mu.Unlock()
		return eps, nil
	})
	if err != nil {
		return endpoints{}, err
	}
	return v.(endpoints), nil
}

func (p *Provider) fetchDiscovery(ctx context.Context) (*discoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.DiscoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build discovery request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d: %s",
			resp.StatusCode, ioutil.ReadLimited(resp.Body, 1024))
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("discovery document missing required endpoints")
	}

	return &doc, nil
}

func emailDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
