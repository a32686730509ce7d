package auth

import (
	"net/url"
	"strings"
	"testing"

	"tracktally/config"
)

func TestAuthCodeURLCarriesTenantHint(t *testing.T) {
	p := NewGoogleProvider(config.AuthConfig{
		GoogleClientID: "client-123",
		RedirectURL:    "https://app.school.test/api/auth/google/callback",
		AllowedDomain:  "school.test",
	})

	raw := p.AuthCodeURL("state-abc")
	if !strings.HasPrefix(raw, googleAuthURL+"?") {
		t.Fatalf("url = %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	for key, want := range map[string]string{
		"client_id":     "client-123",
		"redirect_uri":  "https://app.school.test/api/auth/google/callback",
		"response_type": "code",
		"scope":         "openid email profile",
		"state":         "state-abc",
		"hd":            "school.test",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestAuthCodeURLOmitsHintWithoutDomain(t *testing.T) {
	p := NewGoogleProvider(config.AuthConfig{GoogleClientID: "client-123"})
	u, err := url.Parse(p.AuthCodeURL("s"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Query().Has("hd") {
		t.Fatal("hd hint should be absent when no domain is configured")
	}
}
