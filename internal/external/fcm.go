package external

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fittrack/internal/types"
)

// fcmAPIBase is the default FCM HTTP v1 API base URL.
const fcmAPIBase = "https://fcm.googleapis.com"

// fcmScope is the OAuth scope required for the messages:send endpoint.
const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

// tokenExpirySlack is subtracted from the token lifetime so a token is never
// used right at its expiry boundary.
const tokenExpirySlack = 2 * time.Minute

// ErrTokenUnregistered is returned by Send when FCM reports the device token
// as no longer registered. Callers should prune the token from the registry.
var ErrTokenUnregistered = errors.New("fcm: device token unregistered")

// ServiceAccount is the subset of a Google service-account key file needed
// for the JWT-bearer OAuth flow.
type ServiceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// FCMClientConfig holds the configuration for creating an FCMClient.
type FCMClientConfig struct {
	ProjectID          string
	ServiceAccountJSON types.SecretString
	BaseURL            string // Override for testing; defaults to fcmAPIBase
	TokenURL           string // Override for testing; defaults to the key file's token_uri
	Logger             *slog.Logger
}

// FCMClient sends push notifications through the Firebase Cloud Messaging
// HTTP v1 API. Authentication uses the service-account JWT-bearer flow: an
// RS256-signed assertion is exchanged for a bearer token, which is cached
// until shortly before expiry.
type FCMClient struct {
	base      *BaseClient
	projectID string
	baseURL   string
	tokenURL  string
	account   ServiceAccount
	signKey   *rsa.PrivateKey
	logger    *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// now is injectable for deterministic expiry tests.
	now func() time.Time
}

// NewFCMClient creates an FCMClient from a service-account key file.
func NewFCMClient(httpClient *http.Client, cfg FCMClientConfig) (*FCMClient, error) {
	var account ServiceAccount
	if err := json.Unmarshal([]byte(cfg.ServiceAccountJSON.Unmask()), &account); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to parse FCM service account key", err)
	}

	signKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to parse FCM service account private key", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fcmAPIBase
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = account.TokenURI
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"fcm",
		DefaultRetryPolicy(),
		"FitTrack/1.0",
	)

	return &FCMClient{
		base:      base,
		projectID: cfg.ProjectID,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		tokenURL:  tokenURL,
		account:   account,
		signKey:   signKey,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Send delivers a notification to a single device token.
//
// Returns ErrTokenUnregistered when FCM reports the token as stale; any
// other non-2xx response maps to an upstream error.
func (c *FCMClient) Send(ctx context.Context, deviceToken, title, body string) error {
	accessToken, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}

	payload := fcmSendRequest{}
	payload.Message.Token = deviceToken
	payload.Message.Notification.Title = title
	payload.Message.Notification.Body = body

	raw, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode FCM message", err)
	}

	reqURL := fmt.Sprintf("%s/v1/projects/%s/messages:send", c.baseURL, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(raw))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build FCM request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	// BaseClient already maps transport failures to AppErrors.
	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	if isUnregistered(resp.StatusCode, respBody) {
		return ErrTokenUnregistered
	}

	return types.NewAppError(
		types.ErrCodeUpstreamFCM,
		fmt.Sprintf("FCM send returned status %d", resp.StatusCode),
		nil,
	)
}

// bearerToken returns a cached access token, refreshing it via the
// JWT-bearer grant when missing or near expiry.
func (c *FCMClient) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	assertion, err := c.signAssertion()
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.base.Do(req)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamFCM, "OAuth token exchange failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", types.NewAppError(
			types.ErrCodeUpstreamFCM,
			fmt.Sprintf("OAuth token endpoint returned status %d", resp.StatusCode),
			nil,
		)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamFCM,
			"failed to decode OAuth token response", err)
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - tokenExpirySlack)

	c.logger.DebugContext(ctx, "fcm access token refreshed",
		"expires_in", tokenResp.ExpiresIn,
	)

	return c.accessToken, nil
}

// signAssertion builds the RS256-signed service-account assertion.
func (c *FCMClient) signAssertion() (string, error) {
	now := c.now().UTC()
	claims := jwt.MapClaims{
		"iss":   c.account.ClientEmail,
		"scope": fcmScope,
		"aud":   c.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.signKey)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to sign service account assertion", err)
	}
	return signed, nil
}

// isUnregistered reports whether an FCM error response indicates a stale
// device token. FCM signals this as 404 NOT_FOUND or a 400 with the
// UNREGISTERED error code in the details.
func isUnregistered(statusCode int, body []byte) bool {
	if statusCode == http.StatusNotFound {
		return true
	}
	return statusCode == http.StatusBadRequest && bytes.Contains(body, []byte("UNREGISTERED"))
}

type fcmSendRequest struct {
	Message struct {
		Token        string `json:"token"`
		Notification struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		} `json:"notification"`
	} `json:"message"`
}
