package mirror

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tracktally/core/utils"
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

type staticTokens struct{ token string }

func (s staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }

func TestAppendPostsRowWithBearerToken(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody struct {
		Values [][]string `json:"values"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := &SheetsClient{
		spreadsheetID: "sheet-123",
		tokens:        staticTokens{token: "tok-abc"},
		client:        srv.Client(),
		baseURL:       srv.URL,
		logger:        utils.NewLogger(),
	}
	row := []string{"2025-03-01T09:30:00Z", "S-100", "Ada Lovelace"}
	if err := c.Append(context.Background(), "Incidents", row); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !strings.Contains(gotPath, "sheet-123") || !strings.Contains(gotPath, ":append") {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if len(gotBody.Values) != 1 || gotBody.Values[0][1] != "S-100" {
		t.Errorf("body values = %v", gotBody.Values)
	}
}

func TestAppendSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"The caller does not have permission"}}`))
	}))
	defer srv.Close()

	c := &SheetsClient{
		spreadsheetID: "sheet-123",
		tokens:        staticTokens{token: "tok"},
		client:        srv.Client(),
		baseURL:       srv.URL,
		logger:        utils.NewLogger(),
	}
	err := c.Append(context.Background(), "Incidents", []string{"x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "permission") {
		t.Errorf("error = %v", err)
	}
}

func TestTokenSourceCachesUntilExpiry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"access_token": "issued", "expires_in": 3600})
	}))
	defer srv.Close()

	key := testRSAKey(t)
	ts := &ServiceAccountTokenSource{
		email:    "svc@example.iam.gserviceaccount.com",
		key:      key,
		tokenURL: srv.URL,
		client:   srv.Client(),
	}
	for i := 0; i < 3; i++ {
		tok, err := ts.Token(context.Background())
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok != "issued" {
			t.Fatalf("token = %q", tok)
		}
	}
	if calls != 1 {
		t.Errorf("token endpoint called %d times, want 1", calls)
	}

	ts.expires = time.Now().Add(-time.Minute)
	if _, err := ts.Token(context.Background()); err != nil {
		t.Fatalf("Token after expiry: %v", err)
	}
	if calls != 2 {
		t.Errorf("token endpoint called %d times after expiry, want 2", calls)
	}
}
