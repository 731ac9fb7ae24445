// ABOUTME: Credential sources used to authenticate conversation creation
// ABOUTME: A static Direct Line secret or an OAuth2 client credentials grant

package directline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// CredentialSource yields the bearer used to create conversations.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredential is a Direct Line secret used verbatim.
type StaticCredential string

// Token returns the secret.
func (s StaticCredential) Token(context.Context) (string, error) {
	return string(s), nil
}

// OAuthCredential obtains an application token with the client credentials
// grant. Tokens are cached and refreshed by the oauth2 package.
type OAuthCredential struct {
	src oauth2.TokenSource
}

// OAuthConfig describes a client credentials grant.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewOAuthCredential creates a credential backed by a client credentials token source.
// ctx scopes the HTTP client used for token refreshes and should outlive the Client.
func NewOAuthCredential(ctx context.Context, cfg OAuthConfig) *OAuthCredential {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return &OAuthCredential{src: cc.TokenSource(ctx)}
}

// Token returns a valid access token, fetching a new one when the cached token expired.
// A grant the token endpoint refuses is a configuration fault and wraps
// ErrNotConfigured; failing to reach the endpoint does not.
func (o *OAuthCredential) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := o.src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return "", fmt.Errorf("%w: client credentials grant: %w", ErrNotConfigured, err)
		}
		return "", fmt.Errorf("client credentials grant: %w", err)
	}
	return tok.AccessToken, nil
}
