package authorize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"authcore/pkg/oauth2err"
)

// OAuth2Config describes a federated identity provider speaking plain OAuth2.
type OAuth2Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	// UserInfoURL is fetched with the exchanged access token to obtain the
	// user's profile. The response must be a JSON object with an 'id' field.
	UserInfoURL string
	Scopes      []string
}

// OAuth2Provider adapts any OAuth2 identity provider to the Provider
// contract.
type OAuth2Provider struct {
	cfg    OAuth2Config
	client *http.Client
}

func NewOAuth2Provider(cfg OAuth2Config) *OAuth2Provider {
	return &OAuth2Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *OAuth2Provider) Name() string { return p.cfg.Name }

func (p *OAuth2Provider) oauth2Config(callbackURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  callbackURL,
		Scopes:       p.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.cfg.AuthURL,
			TokenURL: p.cfg.TokenURL,
		},
	}
}

// AuthorizationURL builds the provider's consent page URL carrying the
// encoded state.
func (p *OAuth2Provider) AuthorizationURL(callbackURL, state string) (string, error) {
	return p.oauth2Config(callbackURL).AuthCodeURL(state), nil
}

// Exchange swaps the authorization code for tokens and fetches the user's
// profile.
func (p *OAuth2Provider) Exchange(ctx context.Context, code, callbackURL string) (map[string]any, error) {
	errorMsg := fmt.Sprintf("Failed to exchange the %s authorization code", p.cfg.Name)

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.oauth2Config(callbackURL).Exchange(ctx, code)
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	token.SetAuthHeader(request)

	response, err := p.client.Do(request)
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, oauth2err.Newf(oauth2err.InternalServer,
			"%s. The %s userinfo endpoint answered with status %d.", errorMsg, p.cfg.Name, response.StatusCode)
	}

	var user map[string]any
	if err := json.NewDecoder(response.Body).Decode(&user); err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	return user, nil
}
