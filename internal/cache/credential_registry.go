package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pokjoy/qfeng5/internal/models"
)

// Redis keys of the credential registry.
//
//	unlock:issued       ZSET jti scored by expiry (unix seconds)
//	unlock:revoked      ZSET jti scored by expiry, kept until the credential would expire anyway
//	unlock:cred:{jti}   HASH bookkeeping record, expires with the credential
const (
	keyIssued  = "unlock:issued"
	keyRevoked = "unlock:revoked"
)

// CredentialRegistry records issued credentials and revocations. It is
// bookkeeping only: a credential's validity comes from its signature and
// expiry, and the registry can only take validity away.
type CredentialRegistry struct {
	redis *RedisClient
}

// NewCredentialRegistry creates a new CredentialRegistry.
func NewCredentialRegistry(redis *RedisClient) *CredentialRegistry {
	return &CredentialRegistry{redis: redis}
}

func (r *CredentialRegistry) keyCredential(jti string) string {
	return fmt.Sprintf("unlock:cred:%s", jti)
}

// Record stores the bookkeeping entry for a freshly issued credential.
func (r *CredentialRegistry) Record(ctx context.Context, cred *models.IssuedCredential) error {
	if cred == nil || cred.JTI == "" {
		return errors.New("credential id is required")
	}
	key := r.keyCredential(cred.JTI)

	_, err := r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"type", string(cred.Type),
			"slug", cred.Slug,
			"issued_at", cred.IssuedAt.Unix(),
			"expires_at", cred.ExpiresAt.Unix(),
			"uses", 0,
		)
		pipe.ExpireAt(ctx, key, cred.ExpiresAt)
		pipe.ZAdd(ctx, keyIssued, redis.Z{Score: float64(cred.ExpiresAt.Unix()), Member: cred.JTI})
		return nil
	})
	if err != nil {
		return fmt.Errorf("record credential: %w", err)
	}
	return nil
}

// Touch counts one use of a recorded credential. Unknown ids are ignored.
func (r *CredentialRegistry) Touch(ctx context.Context, jti string, at time.Time) error {
	key := r.keyCredential(jti)
	n, err := r.redis.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	if n == 0 {
		return nil
	}
	_, err = r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "uses", 1)
		pipe.HSet(ctx, key, "last_used", at.Unix())
		return nil
	})
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	return nil
}

// Revoke marks jti as revoked until expiresAt.
func (r *CredentialRegistry) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("credential id is required")
	}
	key := r.keyCredential(jti)
	_, err := r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, keyRevoked, redis.Z{Score: float64(expiresAt.Unix()), Member: jti})
		pipe.HSet(ctx, key, "revoked", 1)
		pipe.ExpireAt(ctx, key, expiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti has been revoked.
func (r *CredentialRegistry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := r.redis.client.ZScore(ctx, keyRevoked, jti).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return true, nil
}

// Get returns the bookkeeping record for jti, or nil when none exists.
func (r *CredentialRegistry) Get(ctx context.Context, jti string) (*models.IssuedCredential, error) {
	fields, err := r.redis.client.HGetAll(ctx, r.keyCredential(jti)).Result()
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	cred := &models.IssuedCredential{
		JTI:       jti,
		Type:      models.UnlockType(fields["type"]),
		Slug:      fields["slug"],
		IssuedAt:  unixField(fields["issued_at"]),
		ExpiresAt: unixField(fields["expires_at"]),
		Revoked:   fields["revoked"] == "1",
	}
	cred.Uses, _ = strconv.ParseInt(fields["uses"], 10, 64)
	if v, ok := fields["last_used"]; ok {
		t := unixField(v)
		cred.LastUsed = &t
	}
	return cred, nil
}

// Purge drops index entries whose credentials expired at or before now and
// returns how many were removed. The per-credential hashes expire on their own.
func (r *CredentialRegistry) Purge(ctx context.Context, now time.Time) (int64, error) {
	upper := strconv.FormatInt(now.Unix(), 10)

	var issued, revoked *redis.IntCmd
	_, err := r.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		issued = pipe.ZRemRangeByScore(ctx, keyIssued, "-inf", upper)
		revoked = pipe.ZRemRangeByScore(ctx, keyRevoked, "-inf", upper)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge credentials: %w", err)
	}
	return issued.Val() + revoked.Val(), nil
}

// Active returns the number of issued credentials still in the index.
func (r *CredentialRegistry) Active(ctx context.Context) (int64, error) {
	return r.redis.client.ZCard(ctx, keyIssued).Result()
}

func unixField(v string) time.Time {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
