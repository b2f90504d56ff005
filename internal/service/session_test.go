package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jukebox/auth-backend/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const frontendURI = "http://127.0.0.1:3000"

func newTestSigner(t *testing.T) *CredentialSigner {
	t.Helper()
	signer, err := NewHMACSigner([]byte("session-test-secret"), time.Hour)
	require.NoError(t, err)
	return signer
}

func newTestSessions(t *testing.T, store *memoryStore, provider *fakeProvider) (*SessionService, *CredentialSigner) {
	t.Helper()
	signer := newTestSigner(t)
	return NewSessionService(store, provider, signer, frontendURI, zap.NewNop()), signer
}

func TestReconcileNewUser(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{profile: &model.Profile{ProviderUserID: "u2", DisplayName: "A", Email: "a@b.com"}}
	sessions, signer := newTestSessions(t, store, provider)

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	token := model.ProviderToken{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: expiry}

	result, err := sessions.Reconcile(context.Background(), token, "")
	require.NoError(t, err)

	require.Equal(t, OutcomeNewUser, result.Outcome)
	require.Equal(t, frontendURI, result.RedirectURI)
	require.Equal(t, "u2", signer.SubjectOf(result.Credential))
	require.Equal(t, 1, store.count())

	stored, ok := store.get("u2")
	require.True(t, ok)
	require.NotZero(t, stored.ID)
	require.Equal(t, "A", stored.DisplayName)
	require.Equal(t, "a@b.com", stored.Email)
	require.NotNil(t, stored.Token)
	require.Equal(t, token, *stored.Token)
}

func TestReconcileReturningUser(t *testing.T) {
	store := newMemoryStore(model.User{
		ProviderUserID: "u1",
		DisplayName:    "Old",
		Email:          "old@b.com",
		Token:          &model.ProviderToken{AccessToken: "old", RefreshToken: "keep-me", Expiry: time.Now()},
	})
	provider := &fakeProvider{profile: &model.Profile{ProviderUserID: "u1", DisplayName: "New", Email: "new@b.com"}}
	sessions, signer := newTestSessions(t, store, provider)
	before, _ := store.get("u1")

	result, err := sessions.Reconcile(context.Background(), model.ProviderToken{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, "")
	require.NoError(t, err)

	require.Equal(t, OutcomeReturningUser, result.Outcome)
	require.Equal(t, "u1", signer.SubjectOf(result.Credential))
	require.Equal(t, 1, store.count())

	stored, _ := store.get("u1")
	require.Equal(t, before.ID, stored.ID)
	require.Equal(t, "New", stored.DisplayName)
	require.Equal(t, "new@b.com", stored.Email)
	require.Equal(t, "fresh", stored.Token.AccessToken)
	require.Equal(t, "keep-me", stored.Token.RefreshToken)
}

func TestReconcileActiveSessionReturnsSameCredential(t *testing.T) {
	store := newMemoryStore(model.User{
		ProviderUserID: "u1",
		Token:          &model.ProviderToken{AccessToken: "old", RefreshToken: "refresh-1"},
	})
	provider := &fakeProvider{}
	sessions, signer := newTestSessions(t, store, provider)

	incoming, err := signer.Issue("u1")
	require.NoError(t, err)

	result, err := sessions.Reconcile(context.Background(), model.ProviderToken{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, incoming)
	require.NoError(t, err)

	require.Equal(t, OutcomeActiveSession, result.Outcome)
	require.Equal(t, incoming, result.Credential)
	require.Equal(t, 0, provider.profileCalls)
	require.Equal(t, 1, store.count())

	stored, _ := store.get("u1")
	require.Equal(t, "fresh", stored.Token.AccessToken)
	require.Equal(t, "refresh-1", stored.Token.RefreshToken)
}

func TestReconcileTwiceUpdatesSameRow(t *testing.T) {
	store := newMemoryStore(model.User{ProviderUserID: "u1"})
	sessions, signer := newTestSessions(t, store, &fakeProvider{})

	incoming, err := signer.Issue("u1")
	require.NoError(t, err)

	first, err := sessions.Reconcile(context.Background(), model.ProviderToken{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)}, incoming)
	require.NoError(t, err)
	second, err := sessions.Reconcile(context.Background(), model.ProviderToken{AccessToken: "a2", Expiry: time.Now().Add(2 * time.Hour)}, incoming)
	require.NoError(t, err)

	require.Equal(t, first.User.ID, second.User.ID)
	require.Equal(t, 1, store.count())
	require.Equal(t, 2, store.saves)

	stored, _ := store.get("u1")
	require.Equal(t, "a2", stored.Token.AccessToken)
	require.Equal(t, "r1", stored.Token.RefreshToken)
}

func TestReconcileUnknownSubjectIsInconsistent(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{profile: &model.Profile{ProviderUserID: "u1"}}
	sessions, signer := newTestSessions(t, store, provider)

	incoming, err := signer.Issue("u1")
	require.NoError(t, err)

	_, err = sessions.Reconcile(context.Background(), model.ProviderToken{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, incoming)
	require.ErrorIs(t, err, model.ErrSessionInconsistency)
	require.Equal(t, 0, store.saves)
	require.Equal(t, 0, store.count())
	require.Equal(t, 0, provider.profileCalls)
}

func TestReconcileTreatsUnusableCredentialAsNoSession(t *testing.T) {
	foreign, err := NewHMACSigner([]byte("someone-else"), time.Hour)
	require.NoError(t, err)
	foreignCredential, err := foreign.Issue("u9")
	require.NoError(t, err)

	expiredSigner := newTestSigner(t)
	expiredSigner.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	tests := []struct {
		name     string
		incoming func(t *testing.T, signer *CredentialSigner) string
	}{
		{name: "garbage", incoming: func(*testing.T, *CredentialSigner) string { return "not-a-jwt" }},
		{name: "foreign-signature", incoming: func(*testing.T, *CredentialSigner) string { return foreignCredential }},
		{name: "expired", incoming: func(t *testing.T, signer *CredentialSigner) string {
			signer.now = expiredSigner.now
			defer func() { signer.now = time.Now }()
			credential, err := signer.Issue("u9")
			require.NoError(t, err)
			return credential
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			provider := &fakeProvider{profile: &model.Profile{ProviderUserID: "u2"}}
			sessions, signer := newTestSessions(t, store, provider)

			incoming := tt.incoming(t, signer)
			result, err := sessions.Reconcile(context.Background(), model.ProviderToken{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, incoming)
			require.NoError(t, err)
			require.Equal(t, OutcomeNewUser, result.Outcome)
			require.NotEqual(t, incoming, result.Credential)
			require.Equal(t, "u2", signer.SubjectOf(result.Credential))
			require.Equal(t, 1, provider.profileCalls)
		})
	}
}

func TestReconcileProviderFailureWritesNothing(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{profileErr: &model.ProviderAPIError{Op: "profile", StatusCode: 401}}
	sessions, _ := newTestSessions(t, store, provider)

	result, err := sessions.Reconcile(context.Background(), model.ProviderToken{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, "")
	require.Nil(t, result)
	require.ErrorIs(t, err, model.ErrProviderAPI)
	require.Equal(t, 0, store.saves)
}

func TestReconcileStoreFailureReturnsNoCredential(t *testing.T) {
	store := newMemoryStore()
	store.saveErr["u2"] = errors.New("disk full")
	provider := &fakeProvider{profile: &model.Profile{ProviderUserID: "u2"}}
	sessions, _ := newTestSessions(t, store, provider)

	result, err := sessions.Reconcile(context.Background(), model.ProviderToken{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, "")
	require.Error(t, err)
	require.Nil(t, result)
	require.Equal(t, 0, store.count())
}

func TestReconcileRejectsEmptyAccessToken(t *testing.T) {
	sessions, _ := newTestSessions(t, newMemoryStore(), &fakeProvider{})

	_, err := sessions.Reconcile(context.Background(), model.ProviderToken{}, "")
	require.ErrorIs(t, err, model.ErrInvalidInput)
}
