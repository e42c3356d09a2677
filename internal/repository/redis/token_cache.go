package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/client"
	"github.com/bhargava562/vyapar-ai/internal/util"
)

const otpTokenPrefix = "otp_token:"

// ErrTokenNotFound covers both unknown tokens and naturally expired ones; the
// two cases are deliberately indistinguishable to callers.
var ErrTokenNotFound = errors.New("verification token not found")

// TokenCache maps opaque verification tokens to OTP record ids. Entries live
// exactly as long as the OTP itself and are deleted on successful
// verification so a consumed token can never be replayed.
type TokenCache struct {
	client *client.RedisClient
}

func NewTokenCache(client *client.RedisClient) *TokenCache {
	return &TokenCache{client: client}
}

func (c *TokenCache) SetVerificationToken(ctx context.Context, token, otpID string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	key := otpTokenPrefix + token
	if err := c.client.Set(ctx, key, otpID, ttl); err != nil {
		util.Error("Failed to store verification token",
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to store verification token: %w", err)
	}

	util.Debug("Verification token stored", zap.Duration("ttl", ttl))
	return nil
}

func (c *TokenCache) GetVerificationToken(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	otpID, err := c.client.Get(ctx, otpTokenPrefix+token)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", ErrTokenNotFound
		}
		util.Error("Failed to resolve verification token", zap.Error(err))
		return "", fmt.Errorf("failed to resolve verification token: %w", err)
	}
	return otpID, nil
}

func (c *TokenCache) DeleteVerificationToken(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	if err := c.client.Del(ctx, otpTokenPrefix+token); err != nil {
		util.Error("Failed to delete verification token", zap.Error(err))
		return fmt.Errorf("failed to delete verification token: %w", err)
	}
	return nil
}
