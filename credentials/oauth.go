package credentials

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/sync/singleflight"
)

// OAuthConfig configures an OAuth Provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// Tenant of the Microsoft identity platform. Defaults to "common".
	Tenant string
	Scopes []string
	// TokenURL overrides the token endpoint derived from Tenant.
	TokenURL string
	// TokenFile persists the current token across process restarts.
	// Its parent directory is created with owner-only permissions.
	TokenFile string
}

// OAuth is a Provider which holds an OAuth2 token and refreshes it using
// its refresh token. The initial token (and its refresh token) is
// provisioned out of band, via Store or a pre-existing TokenFile.
type OAuth struct {
	conf *oauth2.Config
	path string

	mu    sync.Mutex
	token *oauth2.Token
	group singleflight.Group
}

// NewOAuth returns an OAuth Provider, loading a previously persisted token
// from the TokenFile if one exists.
func NewOAuth(cfg OAuthConfig) (*OAuth, error) {
	var endpoint = microsoft.AzureADEndpoint(cfg.Tenant)
	if cfg.Tenant == "" {
		endpoint = microsoft.AzureADEndpoint("common")
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	var p = &OAuth{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		},
		path: cfg.TokenFile,
	}
	if p.path == "" {
		return p, nil
	}

	var b, err = os.ReadFile(p.path)
	if os.IsNotExist(err) {
		log.WithField("path", p.path).Warn("no persisted OAuth token; remote stores are unavailable until one is stored")
		return p, nil
	} else if err != nil {
		return nil, errors.WithMessage(err, "reading token file")
	}

	var tok = new(oauth2.Token)
	if err = json.Unmarshal(b, tok); err != nil {
		return nil, errors.WithMessagef(err, "decoding token file %s", p.path)
	}
	p.token = withJWTExpiry(tok)
	return p, nil
}

// AuthHeaders returns the bearer Authorization header of the current token.
// A token known to be expired is refreshed first, if it can be.
func (p *OAuth) AuthHeaders(ctx context.Context) (map[string]string, error) {
	p.mu.Lock()
	var tok = p.token
	p.mu.Unlock()

	if tok == nil {
		return nil, ErrNoToken
	} else if !tok.Valid() && tok.RefreshToken != "" {
		if _, err := p.Refresh(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		tok = p.token
		p.mu.Unlock()
	}
	if tok.AccessToken == "" {
		return nil, ErrNoToken
	}
	return map[string]string{"Authorization": tok.Type() + " " + tok.AccessToken}, nil
}

// Refresh exchanges the refresh token for a new access token, persisting
// the result. Concurrent calls share a single exchange.
func (p *OAuth) Refresh(ctx context.Context) (bool, error) {
	var v, err, _ = p.group.Do("refresh", func() (interface{}, error) {
		p.mu.Lock()
		var cur = p.token
		p.mu.Unlock()

		if cur == nil || cur.RefreshToken == "" {
			return false, nil
		}
		var next, err = p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cur.RefreshToken}).Token()
		if err != nil {
			return false, errors.WithMessage(err, "refreshing OAuth token")
		}
		if err = p.Store(next); err != nil {
			return false, err
		}
		log.WithField("expiry", next.Expiry).Info("refreshed OAuth token")
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// HasToken is true if a token is held.
func (p *OAuth) HasToken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != nil && (p.token.AccessToken != "" || p.token.RefreshToken != "")
}

// Store replaces the held token, and persists it to the TokenFile (if configured).
func (p *OAuth) Store(tok *oauth2.Token) error {
	tok = withJWTExpiry(tok)

	p.mu.Lock()
	p.token = tok
	p.mu.Unlock()

	if p.path == "" {
		return nil
	}
	return writePrivateFile(p.path, tok)
}

// withJWTExpiry fills a missing Expiry of |tok| from the "exp" claim of its
// access token, when the access token is a JWT. The signature is not verified:
// the claim only informs when to refresh.
func withJWTExpiry(tok *oauth2.Token) *oauth2.Token {
	if !tok.Expiry.IsZero() || tok.AccessToken == "" {
		return tok
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		tok.Expiry = claims.ExpiresAt.Time
	}
	return tok
}

// writePrivateFile atomically writes the JSON encoding of |v| to |path|,
// readable only by the owner.
func writePrivateFile(path string, v interface{}) error {
	var b, err = json.Marshal(v)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.WithMessage(err, "creating token directory")
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".partial-"+filepath.Base(path))
	if err != nil {
		return err
	}
	defer os.Remove(f.Name()) // No-op after a successful rename.

	if err = f.Chmod(0600); err == nil {
		_, err = f.Write(b)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(f.Name(), path)
	}
	return errors.WithMessage(err, "writing token file")
}
