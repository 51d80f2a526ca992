// Package auth talks to the identity collaborator that owns users and roles.
// The back office never checks credentials itself; it resolves an actor ID to
// a role and enforces permissions on top of that.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"content-backoffice/internal/common/errors"
	"content-backoffice/internal/models"
)

// Resolver resolves an actor ID to a full actor with role.
type Resolver interface {
	Resolve(ctx context.Context, actorID string) (models.Actor, error)
}

// IdentityClient resolves actors against the identity service using the
// client-credentials flow. The service token is cached until expiry.
type IdentityClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	accessToken  string
	tokenExpiry  time.Time
}

// TokenResponse holds the response from the identity token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

type actorResponse struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// NewIdentityClient creates a new client for the identity collaborator.
func NewIdentityClient(baseURL, clientID, clientSecret string, timeout time.Duration) *IdentityClient {
	return &IdentityClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// getAccessToken fetches a new service token using the client credentials
// flow. It caches the token until expiry.
func (c *IdentityClient) getAccessToken(ctx context.Context) error {
	if c.tokenExpiry.After(time.Now()) && c.accessToken != "" {
		return nil
	}

	tokenURL := fmt.Sprintf("%s/oauth/token", c.baseURL)

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("identity token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)

	return nil
}

// Resolve looks up the actor's role at the identity service.
func (c *IdentityClient) Resolve(ctx context.Context, actorID string) (models.Actor, error) {
	if err := c.getAccessToken(ctx); err != nil {
		return models.Actor{}, &errors.StandardError{
			Code:      "IDENTITY_AUTH_ERROR",
			Message:   "Failed to authenticate with identity service",
			Details:   err.Error(),
			Retryable: true,
			Timestamp: time.Now().UTC(),
		}
	}

	actorURL := fmt.Sprintf("%s/actors/%s", c.baseURL, url.PathEscape(actorID))

	req, err := http.NewRequestWithContext(ctx, "GET", actorURL, nil)
	if err != nil {
		return models.Actor{}, fmt.Errorf("failed to create actor request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Actor{}, &errors.StandardError{
			Code:      "IDENTITY_NETWORK_ERROR",
			Message:   "Failed to reach identity service",
			Details:   err.Error(),
			Retryable: true,
			Timestamp: time.Now().UTC(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.Actor{}, errors.NewNotFoundError("actor", actorID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return models.Actor{}, &errors.StandardError{
			Code:      "IDENTITY_API_ERROR",
			Message:   "Identity service returned an error",
			Details:   string(body),
			Retryable: resp.StatusCode >= 500,
			Timestamp: time.Now().UTC(),
		}
	}

	var ar actorResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return models.Actor{}, fmt.Errorf("failed to decode actor response: %w", err)
	}

	return models.Actor{ID: ar.ID, Role: models.Role(ar.Role)}, nil
}

// StaticResolver returns a fixed role mapping; used in tests and local runs
// without a reachable identity service.
type StaticResolver map[string]models.Role

func (s StaticResolver) Resolve(_ context.Context, actorID string) (models.Actor, error) {
	role, ok := s[actorID]
	if !ok {
		return models.Actor{}, errors.NewNotFoundError("actor", actorID)
	}
	return models.Actor{ID: actorID, Role: role}, nil
}
