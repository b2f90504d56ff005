package db

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jukebox/auth-backend/internal/model"
	"github.com/jukebox/auth-backend/internal/service"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealedPrefix = "sealed:v1:"
	nonceSize    = 24
)

// SealedStore encrypts provider tokens at rest before handing users to the wrapped store.
// Values written before encryption was enabled are read back as plaintext.
type SealedStore struct {
	inner service.UserStore
	key   [32]byte
}

var _ service.UserStore = (*SealedStore)(nil)

// NewSealedStore wraps inner with a base64-encoded 32 byte key.
func NewSealedStore(inner service.UserStore, encodedKey string) (*SealedStore, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("%w: TOKEN_ENCRYPTION_KEY is not base64", model.ErrMisconfigured)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: TOKEN_ENCRYPTION_KEY must be 32 bytes", model.ErrMisconfigured)
	}
	s := &SealedStore{inner: inner}
	copy(s.key[:], raw)
	return s, nil
}

func (s *SealedStore) FindByProviderUserID(ctx context.Context, providerUserID string) (*model.User, error) {
	user, err := s.inner.FindByProviderUserID(ctx, providerUserID)
	if err != nil {
		return nil, err
	}
	return user, s.openUser(user)
}

func (s *SealedStore) Save(ctx context.Context, user *model.User) (*model.User, error) {
	sealed := *user
	if user.Token != nil {
		tok := *user.Token
		var err error
		if tok.AccessToken, err = s.seal(tok.AccessToken); err != nil {
			return nil, err
		}
		if tok.RefreshToken, err = s.seal(tok.RefreshToken); err != nil {
			return nil, err
		}
		sealed.Token = &tok
	}

	saved, err := s.inner.Save(ctx, &sealed)
	if err != nil {
		return nil, err
	}
	return saved, s.openUser(saved)
}

func (s *SealedStore) FindExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.User, error) {
	users, err := s.inner.FindExpiringWithin(ctx, now, window)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if err := s.openUser(&users[i]); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *SealedStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

func (s *SealedStore) openUser(user *model.User) error {
	if user == nil || user.Token == nil {
		return nil
	}
	var err error
	if user.Token.AccessToken, err = s.open(user.Token.AccessToken); err != nil {
		return fmt.Errorf("open access token of %s: %w", user.ProviderUserID, err)
	}
	if user.Token.RefreshToken, err = s.open(user.Token.RefreshToken); err != nil {
		return fmt.Errorf("open refresh token of %s: %w", user.ProviderUserID, err)
	}
	return nil
}

func (s *SealedStore) seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

func (s *SealedStore) open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", err
	}
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plaintext, ok := secretbox.Open(nil, data[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", errors.New("ciphertext authentication failed")
	}
	return string(plaintext), nil
}
