// Package mirror appends incident rows to the spreadsheet that existing
// school workflows still treat as the primary record.
package mirror

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tracktally/config"
	"tracktally/core/utils"
)

const (
	googleTokenURL = "https://oauth2.googleapis.com/token"
	sheetsBaseURL  = "https://sheets.googleapis.com"
	sheetsScope    = "https://www.googleapis.com/auth/spreadsheets"
)

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ServiceAccountTokenSource signs a JWT-bearer assertion with the service
// account key and trades it for a short-lived access token.
type ServiceAccountTokenSource struct {
	email    string
	key      *rsa.PrivateKey
	tokenURL string
	client   *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewServiceAccountTokenSource(cfg config.MirrorConfig) (*ServiceAccountTokenSource, error) {
	pem := strings.TrimSpace(cfg.PrivateKeyPEM)
	if pem == "" && cfg.PrivateKeyFile != "" {
		raw, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read service account key: %w", err)
		}
		pem = string(raw)
	}
	if pem == "" {
		return nil, errors.New("service account private key missing")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	return &ServiceAccountTokenSource{
		email:    cfg.ServiceAccountEmail,
		key:      key,
		tokenURL: googleTokenURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (s *ServiceAccountTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.expires.Add(-time.Minute)) {
		return s.token, nil
	}
	now := time.Now()
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   s.email,
		"scope": sheetsScope,
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	signed, err := assertion.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", signed)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token grant status %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", errors.New("token grant returned no access token")
	}
	s.token = body.AccessToken
	s.expires = now.Add(time.Duration(body.ExpiresIn) * time.Second)
	return s.token, nil
}

// SheetsClient appends rows via the Sheets values:append endpoint.
type SheetsClient struct {
	spreadsheetID string
	tokens        TokenSource
	client        *http.Client
	baseURL       string
	logger        *utils.Logger
}

func NewSheetsClient(cfg config.MirrorConfig, tokens TokenSource, logger *utils.Logger) *SheetsClient {
	return &SheetsClient{
		spreadsheetID: cfg.SpreadsheetID,
		tokens:        tokens,
		client:        &http.Client{Timeout: 15 * time.Second},
		baseURL:       sheetsBaseURL,
		logger:        logger,
	}
}

func (c *SheetsClient) Append(ctx context.Context, sheet string, row []string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("mirror auth: %w", err)
	}
	payload := map[string]any{"values": [][]string{row}}
	raw, _ := json.Marshal(payload)
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		strings.TrimRight(c.baseURL, "/"), url.PathEscape(c.spreadsheetID), url.PathEscape(sheet+"!A1"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return errors.New(upstreamMessage(resp))
}

// upstreamMessage digs the API error message out so the caller can surface
// it with the 502.
func upstreamMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		return fmt.Sprintf("sheets api status %d: %s", resp.StatusCode, body.Error.Message)
	}
	return fmt.Sprintf("sheets api status %d", resp.StatusCode)
}
