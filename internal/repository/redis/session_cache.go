package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/client"
	"github.com/bhargava562/vyapar-ai/internal/model"
	"github.com/bhargava562/vyapar-ai/internal/util"
)

const vendorSessionPrefix = "vendor_session:"

var ErrSessionNotCached = errors.New("session not in cache")

// SessionCache mirrors vendor sessions keyed by access token for the
// validation fast path. A miss here is never an authentication failure; the
// durable store stays authoritative.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

func (c *SessionCache) SetSession(ctx context.Context, accessToken string, session *model.CachedSession, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal cached session: %w", err)
	}

	key := vendorSessionPrefix + accessToken
	if err := c.client.Set(ctx, key, payload, ttl); err != nil {
		util.Error("Failed to cache session",
			zap.String("vendor_id", session.VendorID),
			zap.Error(err))
		return fmt.Errorf("failed to cache session: %w", err)
	}

	util.Debug("Session cached",
		zap.String("vendor_id", session.VendorID),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *SessionCache) GetSession(ctx context.Context, accessToken string) (*model.CachedSession, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	payload, err := c.client.Get(ctx, vendorSessionPrefix+accessToken)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrSessionNotCached
		}
		util.Error("Failed to read cached session", zap.Error(err))
		return nil, fmt.Errorf("failed to read cached session: %w", err)
	}

	session := &model.CachedSession{}
	if err := json.Unmarshal([]byte(payload), session); err != nil {
		// A corrupt entry is treated as a miss; the durable store decides.
		util.Warn("Corrupt cached session entry", zap.Error(err))
		return nil, ErrSessionNotCached
	}
	return session, nil
}

func (c *SessionCache) DeleteSession(ctx context.Context, accessToken string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	if err := c.client.Del(ctx, vendorSessionPrefix+accessToken); err != nil {
		util.Error("Failed to delete cached session", zap.Error(err))
		return fmt.Errorf("failed to delete cached session: %w", err)
	}
	return nil
}
