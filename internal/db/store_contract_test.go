package db

import (
	"context"
	"testing"
	"time"

	"github.com/jukebox/auth-backend/internal/model"
	"github.com/jukebox/auth-backend/internal/service"
	"github.com/stretchr/testify/require"
)

func tokenAt(access, refresh string, expiry time.Time) *model.ProviderToken {
	return &model.ProviderToken{AccessToken: access, RefreshToken: refresh, Expiry: expiry}
}

// runUserStoreContract checks the behaviour every UserStore backend shares.
func runUserStoreContract(t *testing.T, store service.UserStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("missing-user", func(t *testing.T) {
		_, err := store.FindByProviderUserID(ctx, "nobody")
		require.ErrorIs(t, err, model.ErrUserNotFound)
	})

	t.Run("create-then-update-same-row", func(t *testing.T) {
		created, err := store.Save(ctx, &model.User{
			ProviderUserID: "u2",
			DisplayName:    "A",
			Email:          "a@b.com",
			Token:          tokenAt("access-1", "refresh-1", now.Add(time.Hour)),
		})
		require.NoError(t, err)
		require.NotZero(t, created.ID)

		found, err := store.FindByProviderUserID(ctx, "u2")
		require.NoError(t, err)
		require.Equal(t, created.ID, found.ID)
		require.Equal(t, "A", found.DisplayName)
		require.Equal(t, "a@b.com", found.Email)
		require.NotNil(t, found.Token)
		require.Equal(t, "access-1", found.Token.AccessToken)
		require.Equal(t, "refresh-1", found.Token.RefreshToken)
		require.True(t, now.Add(time.Hour).Equal(found.Token.Expiry))

		found.DisplayName = "B"
		found.AttachToken(model.ProviderToken{AccessToken: "access-2", Expiry: now.Add(2 * time.Hour)})
		updated, err := store.Save(ctx, found)
		require.NoError(t, err)
		require.Equal(t, created.ID, updated.ID)

		again, err := store.FindByProviderUserID(ctx, "u2")
		require.NoError(t, err)
		require.Equal(t, created.ID, again.ID)
		require.Equal(t, "B", again.DisplayName)
		require.Equal(t, "access-2", again.Token.AccessToken)
		require.Equal(t, "refresh-1", again.Token.RefreshToken)
	})

	t.Run("ids-are-distinct", func(t *testing.T) {
		first, err := store.Save(ctx, &model.User{ProviderUserID: "id-a"})
		require.NoError(t, err)
		second, err := store.Save(ctx, &model.User{ProviderUserID: "id-b"})
		require.NoError(t, err)
		require.NotEqual(t, first.ID, second.ID)
	})

	t.Run("clear-token-keeps-user", func(t *testing.T) {
		_, err := store.Save(ctx, &model.User{ProviderUserID: "u3", Token: tokenAt("a", "r", now.Add(time.Minute))})
		require.NoError(t, err)

		user, err := store.FindByProviderUserID(ctx, "u3")
		require.NoError(t, err)
		user.ClearToken()
		_, err = store.Save(ctx, user)
		require.NoError(t, err)

		cleared, err := store.FindByProviderUserID(ctx, "u3")
		require.NoError(t, err)
		require.Nil(t, cleared.Token)
	})

	t.Run("expiring-window", func(t *testing.T) {
		base := now.Add(24 * time.Hour)
		for id, expiry := range map[string]time.Time{
			"w-soon":  base.Add(4 * time.Minute),
			"w-later": base.Add(10 * time.Minute),
			"w-past":  base.Add(-time.Minute),
			"w-edge":  base.Add(5 * time.Minute),
			"w-start": base,
		} {
			_, err := store.Save(ctx, &model.User{ProviderUserID: id, Token: tokenAt("a-"+id, "r-"+id, expiry)})
			require.NoError(t, err)
		}
		_, err := store.Save(ctx, &model.User{ProviderUserID: "w-none"})
		require.NoError(t, err)

		users, err := store.FindExpiringWithin(ctx, base, 5*time.Minute)
		require.NoError(t, err)

		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ProviderUserID)
			require.NotNil(t, u.Token)
			require.Equal(t, "r-"+u.ProviderUserID, u.Token.RefreshToken)
		}
		require.ElementsMatch(t, []string{"w-start", "w-soon"}, ids)
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
	})
}
