package model

import "time"

// User is an end user known through the OAuth provider.
type User struct {
	ID             int64
	ProviderUserID string
	DisplayName    string
	Email          string
	Token          *ProviderToken
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProviderToken is the provider's access/refresh token pair owned by a single user.
type ProviderToken struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Profile is the provider's view of the current user.
type Profile struct {
	ProviderUserID string `json:"id"`
	DisplayName    string `json:"display_name"`
	Email          string `json:"email"`
}

// AttachToken overwrites the access token and expiry with the values of next.
// The stored refresh token is replaced only when next carries a non-empty one.
func (u *User) AttachToken(next ProviderToken) {
	if u.Token == nil {
		u.Token = &ProviderToken{}
	}
	u.Token.AccessToken = next.AccessToken
	u.Token.Expiry = next.Expiry
	if next.RefreshToken != "" {
		u.Token.RefreshToken = next.RefreshToken
	}
}

// ClearToken drops the provider token without touching the user row.
func (u *User) ClearToken() {
	u.Token = nil
}

// HasRefreshToken reports whether the user can be refreshed out-of-band.
func (u *User) HasRefreshToken() bool {
	return u.Token != nil && u.Token.RefreshToken != ""
}

type AuthLoginResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	ClientID         string `json:"clientId"`
	RedirectURI      string `json:"redirectUri"`
	State            string `json:"state"`
}

type AuthSessionResponse struct {
	Valid bool `json:"valid"`
}

type AuthMeResponse struct {
	ProviderUserID string     `json:"providerUserId"`
	DisplayName    string     `json:"displayName"`
	Email          string     `json:"email"`
	TokenExpiry    *time.Time `json:"tokenExpiry,omitempty"`
}

type AuthUser struct {
	ProviderUserID string
	Credential     string
}
