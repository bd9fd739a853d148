// Package githubapp mints GitHub App installation tokens for coding-task
// pushes.
package githubapp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultAPIBaseURL = "https://api.github.com"

// Config holds GitHub App credentials.
type Config struct {
	// ClientID is the app's client id, used as the JWT issuer.
	ClientID string

	// PrivateKeyPath points to the RS256 signing key PEM.
	PrivateKeyPath string

	// InstallationID selects the installation to mint tokens for.
	InstallationID string

	// APIBaseURL overrides the GitHub API endpoint (tests).
	APIBaseURL string
}

// Minter exchanges an app JWT for installation access tokens.
type Minter struct {
	config     Config
	key        *rsa.PrivateKey
	httpClient *http.Client
	clock      func() time.Time
}

// NewMinter loads the private key and prepares a minter.
func NewMinter(config Config) (*Minter, error) {
	if config.ClientID == "" || config.PrivateKeyPath == "" || config.InstallationID == "" {
		return nil, fmt.Errorf("github app credentials incomplete")
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	pem, err := os.ReadFile(config.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Minter{
		config:     config,
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clock:      time.Now,
	}, nil
}

// AppJWT signs a short-lived app JWT: 10-minute expiry with the issued-at
// backdated 60 seconds to absorb clock skew.
func (m *Minter) AppJWT() (string, error) {
	now := m.clock()
	claims := jwt.RegisteredClaims{
		Issuer:    m.config.ClientID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}
	return signed, nil
}

// InstallationToken mints an installation access token (valid one hour).
func (m *Minter) InstallationToken(ctx context.Context) (string, error) {
	appJWT, err := m.AppJWT()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/app/installations/%s/access_tokens",
		strings.TrimSuffix(m.config.APIBaseURL, "/"), m.config.InstallationID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("installation token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("installation token request returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode installation token: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("installation token response missing token")
	}
	return payload.Token, nil
}
