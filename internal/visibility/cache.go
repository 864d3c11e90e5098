package visibility

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"pinboard/api/internal/store"
)

// TokenCache remembers which board a share token belongs to. Tokens are never
// reassigned, so entries need no invalidation; the board itself is always
// loaded fresh so visibility changes apply immediately.
type TokenCache struct {
	next   Directory
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *log.Logger
}

func NewTokenCache(next Directory, client *redis.Client, ttl time.Duration, logger *log.Logger) *TokenCache {
	if next == nil {
		panic("visibility.NewTokenCache: directory is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TokenCache{next: next, redis: client, ttl: ttl, prefix: "pinboard:share:", logger: logger}
}

func (c *TokenCache) GetBoard(ctx context.Context, boardID string) (store.Board, error) {
	return c.next.GetBoard(ctx, boardID)
}

func (c *TokenCache) ShareTokenExists(ctx context.Context, token string) (bool, error) {
	return c.next.ShareTokenExists(ctx, token)
}

func (c *TokenCache) GetBoardByShareToken(ctx context.Context, token string) (store.Board, error) {
	if boardID, ok := c.lookup(ctx, token); ok {
		board, err := c.next.GetBoard(ctx, boardID)
		if err == nil && board.ShareToken != nil && *board.ShareToken == token {
			return board, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return store.Board{}, err
		}
		c.evict(ctx, token)
	}

	board, err := c.next.GetBoardByShareToken(ctx, token)
	if err != nil {
		return store.Board{}, err
	}
	c.remember(ctx, token, board.ID)
	return board, nil
}

func (c *TokenCache) key(token string) string {
	return c.prefix + token
}

func (c *TokenCache) lookup(ctx context.Context, token string) (string, bool) {
	if c.redis == nil {
		return "", false
	}
	boardID, err := c.redis.Get(ctx, c.key(token)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("share token cache read failed")
		}
		return "", false
	}
	return boardID, true
}

func (c *TokenCache) remember(ctx context.Context, token, boardID string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, c.key(token), boardID, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("share token cache write failed")
	}
}

func (c *TokenCache) evict(ctx context.Context, token string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, c.key(token)).Err(); err != nil {
		c.logger.WithError(err).Warn("share token cache evict failed")
	}
}
