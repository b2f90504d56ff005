package service

import (
	"context"
	"time"

	"github.com/jukebox/auth-backend/internal/model"
)

// UserStore persists users and their provider tokens keyed by provider user id.
//
// Save is an upsert: a user with ID 0 is created and gets its ID assigned, otherwise the
// row for ProviderUserID is overwritten as a whole. A nil Token clears the stored token.
type UserStore interface {
	FindByProviderUserID(ctx context.Context, providerUserID string) (*model.User, error)
	Save(ctx context.Context, user *model.User) (*model.User, error)
	// FindExpiringWithin returns users whose token expiry is in [now, now+window).
	FindExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.User, error)
	Ping(ctx context.Context) error
}

// ProviderClient performs the token grants and profile lookup against the OAuth provider.
// Every failure is reported as a *model.ProviderAPIError.
type ProviderClient interface {
	ExchangeAuthorizationCode(ctx context.Context, code string) (*model.ProviderToken, error)
	Refresh(ctx context.Context, refreshToken string) (*model.ProviderToken, error)
	FetchProfile(ctx context.Context, accessToken string) (*model.Profile, error)
}

// AuthorizationProvider builds the consent redirect for the login bootstrap.
type AuthorizationProvider interface {
	AuthorizationURL(state string, scopes []string) string
	ClientID() string
	RedirectURI() string
}

// StateStore keeps OAuth state values between login and callback. Consume reports whether
// the state existed and removes it, so each value is accepted once.
type StateStore interface {
	Save(ctx context.Context, state string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (bool, error)
}
