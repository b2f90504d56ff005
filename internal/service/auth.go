package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jukebox/auth-backend/internal/config"
	"github.com/jukebox/auth-backend/internal/model"
	"go.uber.org/zap"
)

type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   int
}

// AuthService drives the browser-facing login flow around SessionService.
type AuthService struct {
	store    UserStore
	provider ProviderClient
	authz    AuthorizationProvider
	states   StateStore
	sessions *SessionService
	signer   *CredentialSigner
	stateTTL time.Duration
	cookie   CookieConfig
	logger   *zap.Logger
}

func NewAuthService(
	cfg config.AuthConfig,
	store UserStore,
	provider ProviderClient,
	authz AuthorizationProvider,
	states StateStore,
	sessions *SessionService,
	signer *CredentialSigner,
	logger *zap.Logger,
) (*AuthService, error) {
	cookieSecure, err := parseBool(cfg.CookieSecure, true)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SECURE", model.ErrMisconfigured)
	}

	cookieSameSite, err := parseSameSite(cfg.CookieSameSite)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SAMESITE", model.ErrMisconfigured)
	}

	if cookieSameSite == http.SameSiteNoneMode && !cookieSecure {
		return nil, fmt.Errorf("%w: SameSite=None requires Secure cookie", model.ErrMisconfigured)
	}

	cookieName := cfg.CookieName
	if strings.TrimSpace(cookieName) == "" {
		cookieName = "jwt"
	}
	cookiePath := cfg.CookiePath
	if strings.TrimSpace(cookiePath) == "" {
		cookiePath = "/"
	}

	stateTTL := cfg.StateTTL
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}

	if logger == nil {
		logger = zap.L()
	}

	return &AuthService{
		store:    store,
		provider: provider,
		authz:    authz,
		states:   states,
		sessions: sessions,
		signer:   signer,
		stateTTL: stateTTL,
		cookie: CookieConfig{
			Name:     cookieName,
			Path:     cookiePath,
			Domain:   cfg.CookieDomain,
			Secure:   cookieSecure,
			SameSite: cookieSameSite,
			MaxAge:   int(signer.TTL().Seconds()),
		},
		logger: logger.Named("auth"),
	}, nil
}

func (s *AuthService) CookieConfig() CookieConfig {
	return s.cookie
}

// LoginURL starts a login: it stores a fresh state value and returns the consent URL.
func (s *AuthService) LoginURL(ctx context.Context, scopes []string) (*model.AuthLoginResponse, error) {
	state, err := newState()
	if err != nil {
		return nil, err
	}
	if err := s.states.Save(ctx, state, s.stateTTL); err != nil {
		return nil, fmt.Errorf("save oauth state: %w", err)
	}
	return &model.AuthLoginResponse{
		AuthorizationURL: s.authz.AuthorizationURL(state, scopes),
		ClientID:         s.authz.ClientID(),
		RedirectURI:      s.authz.RedirectURI(),
		State:            state,
	}, nil
}

// CompleteLogin finishes the callback: it consumes state, exchanges code for a provider
// token and reconciles it with the incoming credential.
func (s *AuthService) CompleteLogin(ctx context.Context, code, state, incoming string) (*ReconcileResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: missing code", model.ErrInvalidInput)
	}
	if strings.TrimSpace(state) == "" {
		return nil, model.ErrInvalidState
	}

	ok, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	if !ok {
		return nil, model.ErrInvalidState
	}

	token, err := s.provider.ExchangeAuthorizationCode(ctx, code)
	if err != nil {
		s.logger.Warn("authorization code exchange failed", zap.Error(err))
		return nil, err
	}

	return s.sessions.Reconcile(ctx, *token, incoming)
}

// Authenticate verifies signature and then expiry of credential.
func (s *AuthService) Authenticate(credential string) (*model.AuthUser, error) {
	if !s.signer.Verify(credential) {
		return nil, model.ErrCredentialVerification
	}
	if s.signer.Expired(credential) {
		return nil, fmt.Errorf("%w: expired", model.ErrCredentialVerification)
	}
	subject := s.signer.SubjectOf(credential)
	if subject == "" {
		return nil, fmt.Errorf("%w: empty subject", model.ErrCredentialVerification)
	}
	return &model.AuthUser{
		ProviderUserID: subject,
		Credential:     credential,
	}, nil
}

// Logout clears the provider token of providerUserID and keeps the user row.
func (s *AuthService) Logout(ctx context.Context, providerUserID string) error {
	user, err := s.store.FindByProviderUserID(ctx, providerUserID)
	if err != nil {
		return err
	}
	user.ClearToken()
	if _, err := s.store.Save(ctx, user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	s.logger.Info("user logged out", zap.String("provider_user_id", providerUserID))
	return nil
}

func (s *AuthService) Me(ctx context.Context, providerUserID string) (*model.AuthMeResponse, error) {
	user, err := s.store.FindByProviderUserID(ctx, providerUserID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: no user %q", model.ErrSessionInconsistency, providerUserID)
		}
		return nil, err
	}
	resp := &model.AuthMeResponse{
		ProviderUserID: user.ProviderUserID,
		DisplayName:    user.DisplayName,
		Email:          user.Email,
	}
	if user.Token != nil {
		expiry := user.Token.Expiry
		resp.TokenExpiry = &expiry
	}
	return resp, nil
}

func (s *AuthService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func parseBool(value string, fallback bool) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, err
	}
	return parsed, nil
}

func parseSameSite(value string) (http.SameSite, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return http.SameSiteLaxMode, nil
	}
	switch value {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, model.ErrInvalidInput
	}
}

func newState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
