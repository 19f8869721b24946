package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore はアカウント単位のセッション失効時刻を保持する。
// 失効時刻より前に認証されたセッションはすべて無効とみなす。
type RevocationStore interface {
	// ValidAfter は失効時刻を返す。記録がない場合はokがfalseになる。
	ValidAfter(ctx context.Context, accountID string) (t time.Time, ok bool, err error)
	// Revoke は失効時刻を記録する。
	Revoke(ctx context.Context, accountID string, at time.Time) error
}

const revocationKeyPrefix = "sessionauth:revoked:"

// RedisRevocationStore はRedisを使用したRevocationStore。
type RedisRevocationStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisRevocationStore はRedisRevocationStoreを生成する。
// 失効記録はセッションの最大有効期間を過ぎると不要になるため、ttlで自動削除する。
func NewRedisRevocationStore(client redis.UniversalClient, ttl time.Duration) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, ttl: ttl}
}

func revocationKey(accountID string) string {
	return revocationKeyPrefix + accountID
}

// ValidAfter は失効時刻を返す。
func (s *RedisRevocationStore) ValidAfter(ctx context.Context, accountID string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, revocationKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read revocation: %w", err)
	}

	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid revocation record %q: %w", raw, err)
	}
	return time.Unix(sec, 0), true, nil
}

// Revoke は失効時刻を秒精度で記録する。
// 秒未満を切り上げ、同一秒内に発行済みのセッションも確実に失効させる。
func (s *RedisRevocationStore) Revoke(ctx context.Context, accountID string, at time.Time) error {
	sec := at.Unix()
	if at.Nanosecond() > 0 {
		sec++
	}
	if err := s.client.Set(ctx, revocationKey(accountID), strconv.FormatInt(sec, 10), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record revocation: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RevocationStore = (*RedisRevocationStore)(nil)
