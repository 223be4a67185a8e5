// Package cache provides a small read-through cache for list-shaped
// responses, keyed per user so permission changes never leak data
// between accounts.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

// ErrMiss is returned by Get when the key is absent or unreadable.
var ErrMiss = errors.New("cache miss")

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client, ttl: defaultTTL}
}

// Get unmarshals the cached value for key into dst. Decode failures
// count as misses so a stale shape never breaks a response.
func (c *Cache) Get(ctx context.Context, key string, dst any) error {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return ErrMiss
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return ErrMiss
	}
	return nil
}

// Set stores v under key with the default TTL. Failures are returned
// for logging but callers treat the cache as best effort.
func (c *Cache) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate drops the given keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// InvalidatePattern drops every key matching a glob pattern, scanning
// in batches so large keyspaces do not block the server.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	return c.Invalidate(ctx, keys...)
}

// Key builders. Every cached collection is scoped to the requesting
// user so role downgrades take effect as soon as the entry expires or
// is invalidated.

func BoardsKey(userID string) string {
	return fmt.Sprintf("user_%s_boards", userID)
}

func ListsKey(userID, boardID string) string {
	return fmt.Sprintf("user_%s_board_%s_lists", userID, boardID)
}

func CardsKey(userID, listID string) string {
	return fmt.Sprintf("user_%s_list_%s_cards", userID, listID)
}

func LabelsKey(userID, boardID string) string {
	return fmt.Sprintf("user_%s_board_%s_labels", userID, boardID)
}

func MembersKey(userID, boardID string) string {
	return fmt.Sprintf("user_%s_board_%s_members", userID, boardID)
}

func CommentsKey(userID, cardID string) string {
	return fmt.Sprintf("user_%s_card_%s_comments", userID, cardID)
}

// Cross-user patterns, used after writes that change what other
// members of a board can see.

func AllListsPattern(boardID string) string {
	return fmt.Sprintf("user_*_board_%s_lists", boardID)
}

func AllCardsPattern(listID string) string {
	return fmt.Sprintf("user_*_list_%s_cards", listID)
}

func AllLabelsPattern(boardID string) string {
	return fmt.Sprintf("user_*_board_%s_labels", boardID)
}

func AllMembersPattern(boardID string) string {
	return fmt.Sprintf("user_*_board_%s_members", boardID)
}

func AllCommentsPattern(cardID string) string {
	return fmt.Sprintf("user_*_card_%s_comments", cardID)
}

func AllBoardsPattern() string {
	return "user_*_boards"
}
