package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jukebox/auth-backend/internal/model"
)

type memoryStore struct {
	mu      sync.Mutex
	nextID  int64
	users   map[string]model.User
	saves   int
	findErr error
	saveErr map[string]error
}

func newMemoryStore(users ...model.User) *memoryStore {
	s := &memoryStore{users: map[string]model.User{}, saveErr: map[string]error{}}
	for _, u := range users {
		s.nextID++
		u.ID = s.nextID
		s.users[u.ProviderUserID] = cloneUser(u)
	}
	return s
}

func cloneUser(u model.User) model.User {
	if u.Token != nil {
		tok := *u.Token
		u.Token = &tok
	}
	return u
}

func (s *memoryStore) FindByProviderUserID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	c := cloneUser(u)
	return &c, nil
}

func (s *memoryStore) Save(_ context.Context, user *model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveErr[user.ProviderUserID]; err != nil {
		return nil, err
	}
	s.saves++
	c := cloneUser(*user)
	if existing, ok := s.users[c.ProviderUserID]; ok {
		c.ID = existing.ID
	} else {
		s.nextID++
		c.ID = s.nextID
	}
	s.users[c.ProviderUserID] = c
	out := cloneUser(c)
	return &out, nil
}

func (s *memoryStore) FindExpiringWithin(_ context.Context, now time.Time, window time.Duration) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	until := now.Add(window)
	var out []model.User
	for _, u := range s.users {
		if u.Token == nil || u.Token.Expiry.Before(now) || !u.Token.Expiry.Before(until) {
			continue
		}
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderUserID < out[j].ProviderUserID })
	return out, nil
}

func (s *memoryStore) Ping(context.Context) error {
	return nil
}

func (s *memoryStore) get(id string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return cloneUser(u), ok
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

type fakeProvider struct {
	mu           sync.Mutex
	profile      *model.Profile
	profileErr   error
	profileCalls int
	exchange     *model.ProviderToken
	exchangeErr  error
	refreshed    map[string]*model.ProviderToken
	refreshErr   map[string]error
	refreshCalls []string
}

func (p *fakeProvider) ExchangeAuthorizationCode(_ context.Context, code string) (*model.ProviderToken, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	if p.exchange == nil {
		return nil, &model.ProviderAPIError{Op: "exchange", Err: errors.New("no token for " + code)}
	}
	tok := *p.exchange
	return &tok, nil
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*model.ProviderToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls = append(p.refreshCalls, refreshToken)
	if err := p.refreshErr[refreshToken]; err != nil {
		return nil, err
	}
	tok, ok := p.refreshed[refreshToken]
	if !ok {
		return nil, &model.ProviderAPIError{Op: "refresh", StatusCode: 400}
	}
	c := *tok
	return &c, nil
}

func (p *fakeProvider) FetchProfile(context.Context, string) (*model.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profileCalls++
	if p.profileErr != nil {
		return nil, p.profileErr
	}
	c := *p.profile
	return &c, nil
}

type fakeAuthorizer struct{}

func (fakeAuthorizer) AuthorizationURL(state string, _ []string) string {
	return "https://accounts.example.com/authorize?state=" + state
}

func (fakeAuthorizer) ClientID() string    { return "client-id" }
func (fakeAuthorizer) RedirectURI() string { return "http://localhost:8080/auth/callback" }

type memoryStates struct {
	mu     sync.Mutex
	states map[string]time.Duration
}

func newMemoryStates() *memoryStates {
	return &memoryStates{states: map[string]time.Duration{}}
}

func (m *memoryStates) Save(_ context.Context, state string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state] = ttl
	return nil
}

func (m *memoryStates) Consume(_ context.Context, state string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[state]
	delete(m.states, state)
	return ok, nil
}
