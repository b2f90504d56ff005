package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jukebox/auth-backend/internal/model"
	"go.uber.org/zap"
)

// Outcome names the branch Reconcile took.
type Outcome string

const (
	OutcomeNewUser       Outcome = "new_user"
	OutcomeReturningUser Outcome = "returning_user"
	OutcomeActiveSession Outcome = "active_session"
)

// ReconcileResult is what the callback hands back to the browser.
type ReconcileResult struct {
	Credential  string
	RedirectURI string
	User        *model.User
	Outcome     Outcome
}

// SessionService maps (incoming credential, fresh provider token) to persisted state and an
// outgoing credential.
type SessionService struct {
	store       UserStore
	provider    ProviderClient
	signer      *CredentialSigner
	redirectURI string
	logger      *zap.Logger
}

func NewSessionService(store UserStore, provider ProviderClient, signer *CredentialSigner, redirectURI string, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.L()
	}
	return &SessionService{
		store:       store,
		provider:    provider,
		signer:      signer,
		redirectURI: redirectURI,
		logger:      logger.Named("session"),
	}
}

// Reconcile persists token for the user behind the session and returns the credential the
// caller should leave with.
//
// Without a usable incoming credential the provider profile decides who the user is and a
// new credential is issued. With one, the named user must exist; its token is updated and
// the incoming credential is returned as is. Either the user row is written and a
// credential returned, or nothing is written.
func (s *SessionService) Reconcile(ctx context.Context, token model.ProviderToken, incoming string) (*ReconcileResult, error) {
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", model.ErrInvalidInput)
	}

	subject := s.sessionSubject(incoming)
	if subject == "" {
		return s.reconcileWithoutSession(ctx, token)
	}
	return s.reconcileActiveSession(ctx, token, subject, incoming)
}

// sessionSubject treats malformed, foreign-signed and expired credentials as no session.
func (s *SessionService) sessionSubject(incoming string) string {
	if incoming == "" || !s.signer.Verify(incoming) || s.signer.Expired(incoming) {
		return ""
	}
	return s.signer.SubjectOf(incoming)
}

func (s *SessionService) reconcileWithoutSession(ctx context.Context, token model.ProviderToken) (*ReconcileResult, error) {
	profile, err := s.provider.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	outcome := OutcomeReturningUser
	user, err := s.store.FindByProviderUserID(ctx, profile.ProviderUserID)
	switch {
	case errors.Is(err, model.ErrUserNotFound):
		outcome = OutcomeNewUser
		user = &model.User{ProviderUserID: profile.ProviderUserID}
	case err != nil:
		return nil, fmt.Errorf("find user: %w", err)
	}
	user.DisplayName = profile.DisplayName
	user.Email = profile.Email
	user.AttachToken(token)

	credential, err := s.signer.Issue(profile.ProviderUserID)
	if err != nil {
		return nil, err
	}

	saved, err := s.store.Save(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}

	s.logger.Info("session established",
		zap.String("provider_user_id", saved.ProviderUserID),
		zap.String("outcome", string(outcome)),
	)
	return &ReconcileResult{
		Credential:  credential,
		RedirectURI: s.redirectURI,
		User:        saved,
		Outcome:     outcome,
	}, nil
}

func (s *SessionService) reconcileActiveSession(ctx context.Context, token model.ProviderToken, subject, incoming string) (*ReconcileResult, error) {
	user, err := s.store.FindByProviderUserID(ctx, subject)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			s.logger.Warn("credential names unknown user", zap.String("provider_user_id", subject))
			return nil, fmt.Errorf("%w: no user %q", model.ErrSessionInconsistency, subject)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	user.AttachToken(token)

	saved, err := s.store.Save(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}

	s.logger.Info("session token updated", zap.String("provider_user_id", saved.ProviderUserID))
	return &ReconcileResult{
		Credential:  incoming,
		RedirectURI: s.redirectURI,
		User:        saved,
		Outcome:     OutcomeActiveSession,
	}, nil
}
