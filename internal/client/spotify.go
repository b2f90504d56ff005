// Spotify Accounts/Web API client.
//
// Token grants (authorization_code, refresh_token) go through golang.org/x/oauth2 with
// client credentials in the basic-auth header. The current-user profile is a plain
// bearer-authenticated GET.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jukebox/auth-backend/internal/config"
	"github.com/jukebox/auth-backend/internal/model"
	"golang.org/x/oauth2"
)

const maxResponseBytes = 1 << 20

// SpotifyClient talks to the provider's token and profile endpoints.
type SpotifyClient struct {
	oauth          *oauth2.Config
	currentUserURI string
	httpClient     *http.Client
}

// NewSpotifyClient builds the client. A nil httpClient gets the configured timeout.
func NewSpotifyClient(cfg config.SpotifyConfig, httpClient *http.Client) *SpotifyClient {
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &SpotifyClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURI,
				TokenURL:  cfg.TokenURI,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		currentUserURI: cfg.CurrentUserURI,
		httpClient:     httpClient,
	}
}

func (c *SpotifyClient) ClientID() string {
	return c.oauth.ClientID
}

func (c *SpotifyClient) RedirectURI() string {
	return c.oauth.RedirectURL
}

// AuthorizationURL builds the provider consent URL. Empty scopes fall back to the configured ones.
func (c *SpotifyClient) AuthorizationURL(state string, scopes []string) string {
	conf := *c.oauth
	if len(scopes) > 0 {
		conf.Scopes = scopes
	}
	return conf.AuthCodeURL(state)
}

// ExchangeAuthorizationCode trades an authorization code for a token pair.
func (c *SpotifyClient) ExchangeAuthorizationCode(ctx context.Context, code string) (*model.ProviderToken, error) {
	if strings.TrimSpace(code) == "" {
		return nil, &model.ProviderAPIError{Op: "exchange", Err: errors.New("empty authorization code")}
	}
	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, providerError("exchange", err)
	}
	return toProviderToken("exchange", tok)
}

// Refresh trades a refresh token for a new token pair. The returned RefreshToken is empty
// when the provider did not rotate it; callers keep the previous value in that case.
func (c *SpotifyClient) Refresh(ctx context.Context, refreshToken string) (*model.ProviderToken, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, &model.ProviderAPIError{Op: "refresh", Err: errors.New("empty refresh token")}
	}
	src := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, providerError("refresh", err)
	}
	return toProviderToken("refresh", tok)
}

// FetchProfile loads the provider's current user for accessToken.
func (c *SpotifyClient) FetchProfile(ctx context.Context, accessToken string) (*model.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.currentUserURI, nil)
	if err != nil {
		return nil, &model.ProviderAPIError{Op: "profile", Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &model.ProviderAPIError{Op: "profile", Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &model.ProviderAPIError{Op: "profile", StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.ProviderAPIError{Op: "profile", StatusCode: resp.StatusCode}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, &model.ProviderAPIError{Op: "profile", StatusCode: resp.StatusCode, Err: errors.New("empty body")}
	}

	var profile model.Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, &model.ProviderAPIError{Op: "profile", StatusCode: resp.StatusCode, Err: fmt.Errorf("parse response: %w", err)}
	}
	if strings.TrimSpace(profile.ProviderUserID) == "" {
		return nil, &model.ProviderAPIError{Op: "profile", StatusCode: resp.StatusCode, Err: errors.New("missing user id")}
	}
	return &profile, nil
}

func (c *SpotifyClient) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// toProviderToken reads the refresh token from the raw response so an omitted value stays
// empty; oauth2's token source would otherwise carry the old one forward.
func toProviderToken(op string, tok *oauth2.Token) (*model.ProviderToken, error) {
	if tok.Expiry.IsZero() {
		return nil, &model.ProviderAPIError{Op: op, Err: errors.New("missing expires_in")}
	}
	refreshToken, _ := tok.Extra("refresh_token").(string)
	return &model.ProviderToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

func providerError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return &model.ProviderAPIError{Op: op, StatusCode: retrieveErr.Response.StatusCode, Err: err}
	}
	return &model.ProviderAPIError{Op: op, Err: err}
}
