package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jukebox/auth-backend/internal/config"
	"github.com/jukebox/auth-backend/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler(store *memoryStore, provider *fakeProvider, now time.Time) *RefreshScheduler {
	s := NewRefreshScheduler(store, provider, config.RefreshConfig{Interval: time.Minute, Window: 5 * time.Minute}, zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func expiringUser(id string, expiry time.Time, refreshToken string) model.User {
	return model.User{
		ProviderUserID: id,
		Token:          &model.ProviderToken{AccessToken: "old-" + id, RefreshToken: refreshToken, Expiry: expiry},
	}
}

func TestSweepWindow(t *testing.T) {
	now := time.Date(2025, 4, 4, 12, 0, 0, 0, time.UTC)
	store := newMemoryStore(
		expiringUser("soon", now.Add(4*time.Minute), "r-soon"),
		expiringUser("later", now.Add(10*time.Minute), "r-later"),
		expiringUser("past", now.Add(-time.Minute), "r-past"),
		expiringUser("edge", now.Add(5*time.Minute), "r-edge"),
	)
	provider := &fakeProvider{refreshed: map[string]*model.ProviderToken{
		"r-soon": {AccessToken: "new-soon", Expiry: now.Add(time.Hour)},
	}}

	result, err := newTestScheduler(store, provider, now).Sweep(context.Background())
	require.NoError(t, err)

	require.Equal(t, SweepResult{Candidates: 1, Refreshed: 1}, result)
	require.Equal(t, []string{"r-soon"}, provider.refreshCalls)

	soon, _ := store.get("soon")
	require.Equal(t, "new-soon", soon.Token.AccessToken)
	require.Equal(t, now.Add(time.Hour), soon.Token.Expiry)
	require.Equal(t, "r-soon", soon.Token.RefreshToken)

	later, _ := store.get("later")
	require.Equal(t, "old-later", later.Token.AccessToken)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	now := time.Now()
	store := newMemoryStore(
		expiringUser("a", now.Add(time.Minute), "r-a"),
		expiringUser("b", now.Add(2*time.Minute), "r-b"),
		expiringUser("c", now.Add(3*time.Minute), "r-c"),
		expiringUser("d", now.Add(3*time.Minute), "r-d"),
	)
	store.saveErr["d"] = errors.New("write conflict")
	provider := &fakeProvider{
		refreshed: map[string]*model.ProviderToken{
			"r-a": {AccessToken: "new-a", RefreshToken: "r-a2", Expiry: now.Add(time.Hour)},
			"r-c": {AccessToken: "new-c", Expiry: now.Add(time.Hour)},
			"r-d": {AccessToken: "new-d", Expiry: now.Add(time.Hour)},
		},
		refreshErr: map[string]error{"r-b": &model.ProviderAPIError{Op: "refresh", StatusCode: 400}},
	}

	result, err := newTestScheduler(store, provider, now).Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepResult{Candidates: 4, Refreshed: 2, Failed: 2}, result)

	a, _ := store.get("a")
	require.Equal(t, "new-a", a.Token.AccessToken)
	require.Equal(t, "r-a2", a.Token.RefreshToken)

	b, _ := store.get("b")
	require.Equal(t, "old-b", b.Token.AccessToken)

	c, _ := store.get("c")
	require.Equal(t, "new-c", c.Token.AccessToken)
	require.Equal(t, "r-c", c.Token.RefreshToken)
}

func TestSweepSkipsUsersWithoutRefreshToken(t *testing.T) {
	now := time.Now()
	store := newMemoryStore(expiringUser("a", now.Add(time.Minute), ""))
	provider := &fakeProvider{}

	result, err := newTestScheduler(store, provider, now).Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepResult{Candidates: 1, Skipped: 1}, result)
	require.Empty(t, provider.refreshCalls)
}

func TestSweepReportsQueryFailure(t *testing.T) {
	store := newMemoryStore()
	store.findErr = errors.New("connection refused")

	_, err := newTestScheduler(store, &fakeProvider{}, time.Now()).Sweep(context.Background())
	require.Error(t, err)
}

func TestRunSweepsImmediatelyAndStops(t *testing.T) {
	now := time.Now()
	store := newMemoryStore(expiringUser("a", now.Add(time.Minute), "r-a"))
	provider := &fakeProvider{refreshed: map[string]*model.ProviderToken{
		"r-a": {AccessToken: "new-a", Expiry: now.Add(time.Hour)},
	}}
	scheduler := newTestScheduler(store, provider, now)
	scheduler.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		a, _ := store.get("a")
		return a.Token.AccessToken == "new-a"
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNewRefreshSchedulerDefaults(t *testing.T) {
	s := NewRefreshScheduler(newMemoryStore(), &fakeProvider{}, config.RefreshConfig{}, nil)
	require.Equal(t, 3*time.Minute, s.interval)
	require.Equal(t, 5*time.Minute, s.window)
}
