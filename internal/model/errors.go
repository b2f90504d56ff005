package model

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderAPI matches any failed call to the OAuth provider.
	ErrProviderAPI = errors.New("provider api error")
	// ErrSessionInconsistency signals a valid credential naming a user that does not exist.
	ErrSessionInconsistency = errors.New("session inconsistency")
	// ErrCredentialVerification covers malformed, expired or unsigned credentials.
	ErrCredentialVerification = errors.New("credential verification failed")

	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidState  = errors.New("invalid oauth state")
	ErrInvalidInput  = errors.New("invalid input")
	ErrMisconfigured = errors.New("auth config invalid")
)

// ProviderAPIError carries the failing provider operation and, when known, its HTTP status.
type ProviderAPIError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderAPIError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("provider %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("provider %s failed", e.Op)
	}
}

func (e *ProviderAPIError) Unwrap() error {
	return e.Err
}

func (e *ProviderAPIError) Is(target error) bool {
	return target == ErrProviderAPI
}
