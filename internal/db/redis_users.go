package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jukebox/auth-backend/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	redisUserPrefix = "auth:user:"
	redisExpiryKey  = "auth:users:token_expiry"
	redisUserSeqKey = "auth:users:seq"
)

// RedisUserStore keeps each user as one JSON value plus a sorted-set index over token
// expiry. It is the key-value alternative to the relational stores.
type RedisUserStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisUserStore(client redis.UniversalClient) *RedisUserStore {
	return &RedisUserStore{client: client, now: time.Now}
}

type redisUserRecord struct {
	ID             int64                `json:"id"`
	ProviderUserID string               `json:"providerUserId"`
	DisplayName    string               `json:"displayName"`
	Email          string               `json:"email"`
	Token          *model.ProviderToken `json:"token,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

func (r redisUserRecord) toUser() *model.User {
	return &model.User{
		ID:             r.ID,
		ProviderUserID: r.ProviderUserID,
		DisplayName:    r.DisplayName,
		Email:          r.Email,
		Token:          r.Token,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func userKey(providerUserID string) string {
	return redisUserPrefix + providerUserID
}

func (s *RedisUserStore) FindByProviderUserID(ctx context.Context, providerUserID string) (*model.User, error) {
	payload, err := s.client.Get(ctx, userKey(providerUserID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	var record redisUserRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return record.toUser(), nil
}

// Save writes the user value and its expiry index entry in one MULTI/EXEC, retrying when
// another writer touched the same user in between.
func (s *RedisUserStore) Save(ctx context.Context, user *model.User) (*model.User, error) {
	if user.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: empty provider user id", model.ErrInvalidInput)
	}
	key := userKey(user.ProviderUserID)

	var saved redisUserRecord
	txf := func(tx *redis.Tx) error {
		now := s.now().UTC()
		record := redisUserRecord{
			ProviderUserID: user.ProviderUserID,
			DisplayName:    user.DisplayName,
			Email:          user.Email,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if user.Token != nil {
			tok := *user.Token
			tok.Expiry = tok.Expiry.UTC()
			record.Token = &tok
		}

		existing, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var prev redisUserRecord
			if err := json.Unmarshal(existing, &prev); err != nil {
				return fmt.Errorf("decode user: %w", err)
			}
			record.ID = prev.ID
			record.CreatedAt = prev.CreatedAt
		case errors.Is(err, redis.Nil):
			id, err := tx.Incr(ctx, redisUserSeqKey).Result()
			if err != nil {
				return fmt.Errorf("assign user id: %w", err)
			}
			record.ID = id
		default:
			return fmt.Errorf("load user: %w", err)
		}

		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if record.Token != nil {
				pipe.ZAdd(ctx, redisExpiryKey, redis.Z{
					Score:  float64(record.Token.Expiry.UnixMilli()),
					Member: record.ProviderUserID,
				})
			} else {
				pipe.ZRem(ctx, redisExpiryKey, record.ProviderUserID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		saved = record
		return nil
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save user: %w", err)
		}
		return saved.toUser(), nil
	}
	return nil, fmt.Errorf("save user %s: too many concurrent writes", user.ProviderUserID)
}

func (s *RedisUserStore) FindExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.User, error) {
	ids, err := s.client.ZRangeByScore(ctx, redisExpiryKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(now.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(now.Add(window).UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query expiry index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	users := make([]model.User, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var record redisUserRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, *record.toUser())
	}
	return users, nil
}

func (s *RedisUserStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
