package follow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps one set per user and side:
// <prefix>following:<user> and <prefix>followers:<user>.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

func NewRedisMirror(client *redis.Client, prefix string) *RedisMirror {
	return &RedisMirror{client: client, prefix: prefix}
}

func (m *RedisMirror) key(side Side, userID string) string {
	return m.prefix + string(side) + ":" + userID
}

// Add writes both sides inside MULTI/EXEC.
func (m *RedisMirror) Add(ctx context.Context, edge Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, m.key(SideFollowing, edge.Follower), edge.Followee)
		pipe.SAdd(ctx, m.key(SideFollowers, edge.Followee), edge.Follower)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror follow: %w", err)
	}
	return nil
}

func (m *RedisMirror) Remove(ctx context.Context, edge Edge) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, m.key(SideFollowing, edge.Follower), edge.Followee)
		pipe.SRem(ctx, m.key(SideFollowers, edge.Followee), edge.Follower)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror unfollow: %w", err)
	}
	return nil
}

func (m *RedisMirror) Followers(ctx context.Context, userID string) ([]string, error) {
	return m.members(ctx, m.key(SideFollowers, userID))
}

func (m *RedisMirror) Following(ctx context.Context, userID string) ([]string, error) {
	return m.members(ctx, m.key(SideFollowing, userID))
}

func (m *RedisMirror) members(ctx context.Context, key string) ([]string, error) {
	ids, err := m.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *RedisMirror) Snapshot(ctx context.Context) ([]Edge, []Edge, error) {
	following, err := m.scanSide(ctx, SideFollowing)
	if err != nil {
		return nil, nil, err
	}
	followers, err := m.scanSide(ctx, SideFollowers)
	if err != nil {
		return nil, nil, err
	}
	return following, followers, nil
}

func (m *RedisMirror) scanSide(ctx context.Context, side Side) ([]Edge, error) {
	pattern := m.key(side, "*")
	keyPrefix := m.key(side, "")
	var edges []Edge
	iter := m.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		owner := strings.TrimPrefix(key, keyPrefix)
		others, err := m.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		for _, other := range others {
			if side == SideFollowing {
				edges = append(edges, Edge{Follower: owner, Followee: other})
			} else {
				edges = append(edges, Edge{Follower: other, Followee: owner})
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return edges, nil
}

func (m *RedisMirror) Apply(ctx context.Context, fix Fix) error {
	owner, member := fix.Edge.Follower, fix.Edge.Followee
	if fix.Side == SideFollowers {
		owner, member = fix.Edge.Followee, fix.Edge.Follower
	}
	key := m.key(fix.Side, owner)
	var err error
	if fix.Remove {
		err = m.client.SRem(ctx, key, member).Err()
	} else {
		err = m.client.SAdd(ctx, key, member).Err()
	}
	if err != nil {
		return fmt.Errorf("repair %s: %w", key, err)
	}
	return nil
}
