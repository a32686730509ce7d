package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tracktally/config"
)

// IdentityProvider abstracts the OIDC dance so handlers and tests don't
// talk to Google directly.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Profile, error)
}

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	googleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
	googleIssuer   = "https://accounts.google.com"

	jwksCacheTTL = time.Hour
)

type GoogleProvider struct {
	cfg    config.AuthConfig
	client *http.Client

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	keysFetched time.Time
}

func NewGoogleProvider(cfg config.AuthConfig) *GoogleProvider {
	return &GoogleProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *GoogleProvider) AuthCodeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", g.cfg.GoogleClientID)
	q.Set("redirect_uri", g.cfg.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	if hd := strings.TrimSpace(g.cfg.AllowedDomain); hd != "" {
		q.Set("hd", hd)
	}
	return googleAuthURL + "?" + q.Encode()
}

func (g *GoogleProvider) Exchange(ctx context.Context, code string) (Profile, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", g.cfg.GoogleClientID)
	form.Set("client_secret", g.cfg.GoogleSecret)
	form.Set("redirect_uri", g.cfg.RedirectURL)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.client.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Profile{}, fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}
	var body struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Profile{}, err
	}
	if body.IDToken == "" {
		return Profile{}, errors.New("token response missing id_token")
	}
	return g.verifyIDToken(ctx, body.IDToken)
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email        string `json:"email"`
	HostedDomain string `json:"hd"`
	Name         string `json:"name"`
}

func (g *GoogleProvider) verifyIDToken(ctx context.Context, raw string) (Profile, error) {
	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing alg %s", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		return g.signingKey(ctx, kid)
	},
		jwt.WithAudience(g.cfg.GoogleClientID),
		jwt.WithIssuer(googleIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Profile{}, fmt.Errorf("verify id token: %w", err)
	}
	return Profile{Email: claims.Email, HostedDomain: claims.HostedDomain, Name: claims.Name}, nil
}

func (g *GoogleProvider) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if key, ok := g.keys[kid]; ok && time.Since(g.keysFetched) < jwksCacheTTL {
		return key, nil
	}
	keys, err := g.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	g.keys = keys
	g.keysFetched = time.Now()
	key, ok := g.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no signing key for kid %q", kid)
	}
	return key, nil
}

func (g *GoogleProvider) fetchJWKS(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleJWKSURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks status %d", resp.StatusCode)
	}
	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(new(big.Int).SetBytes(eBytes).Int64()),
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks document contained no RSA keys")
	}
	return keys, nil
}
