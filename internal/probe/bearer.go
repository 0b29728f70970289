package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	"github.com/savaki/deploy-verifier/internal/config"
	"github.com/savaki/deploy-verifier/internal/services"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// BearerAuthorizer attaches an access token obtained with the OAuth client
// credentials grant. The client secret is read once from a SecretSource and
// tokens are reused until they expire. Token requests run on the caller's
// context so they share the attempt deadline.
type BearerAuthorizer struct {
	cfg        config.JWTConfig
	secrets    services.SecretSource
	secretName string
	httpClient *http.Client

	mu    sync.Mutex
	cc    *clientcredentials.Config
	token *oauth2.Token
}

func NewBearerAuthorizer(cfg config.JWTConfig, secrets services.SecretSource, secretName string, httpClient *http.Client) *BearerAuthorizer {
	return &BearerAuthorizer{
		cfg:        cfg,
		secrets:    secrets,
		secretName: secretName,
		httpClient: httpClient,
	}
}

func (b *BearerAuthorizer) Authorize(ctx context.Context, req *http.Request) error {
	token, err := b.accessToken(ctx)
	if err != nil {
		return err
	}

	token.SetAuthHeader(req)
	return nil
}

func (b *BearerAuthorizer) accessToken(ctx context.Context) (*oauth2.Token, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token.Valid() {
		return b.token, nil
	}

	cc, err := b.clientCredentials(ctx)
	if err != nil {
		return nil, err
	}

	tokenCtx := ctx
	if b.httpClient != nil {
		tokenCtx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	}

	token, err := cc.Token(tokenCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Time("expiry", token.Expiry).Msg("Obtained access token")

	b.token = token
	return token, nil
}

// clientCredentials must be called with mu held.
func (b *BearerAuthorizer) clientCredentials(ctx context.Context) (*clientcredentials.Config, error) {
	if b.cc != nil {
		return b.cc, nil
	}

	value, err := b.secrets.GetSecret(ctx, b.secretName)
	if err != nil {
		return nil, fmt.Errorf("failed to load client secret: %w", err)
	}

	creds, err := services.ParseClientCredentials(value, b.cfg.ClientID)
	if err != nil {
		return nil, err
	}

	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     b.cfg.TokenURL,
		Scopes:       b.cfg.Scopes,
	}
	if b.cfg.Audience != "" {
		cc.EndpointParams = url.Values{"audience": {b.cfg.Audience}}
	}

	zerolog.Ctx(ctx).Debug().
		Str("token_url", b.cfg.TokenURL).
		Str("client_id", creds.ClientID).
		Msg("Initialized client credentials")

	b.cc = cc
	return cc, nil
}
