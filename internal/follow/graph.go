package follow

import (
	"context"
	"sort"
	"sync"
)

// Graph is an in-process Mirror: two adjacency maps fanned out under one lock.
type Graph struct {
	mu        sync.RWMutex
	following map[string]map[string]struct{}
	followers map[string]map[string]struct{}
}

func NewGraph() *Graph {
	return &Graph{
		following: make(map[string]map[string]struct{}),
		followers: make(map[string]map[string]struct{}),
	}
}

func (g *Graph) Add(_ context.Context, edge Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	link(g.following, edge.Follower, edge.Followee)
	link(g.followers, edge.Followee, edge.Follower)
	return nil
}

func (g *Graph) Remove(_ context.Context, edge Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	unlink(g.following, edge.Follower, edge.Followee)
	unlink(g.followers, edge.Followee, edge.Follower)
	return nil
}

func (g *Graph) Followers(_ context.Context, userID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return members(g.followers[userID]), nil
}

func (g *Graph) Following(_ context.Context, userID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return members(g.following[userID]), nil
}

func (g *Graph) Snapshot(context.Context) ([]Edge, []Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var following, followers []Edge
	for follower, followees := range g.following {
		for followee := range followees {
			following = append(following, Edge{Follower: follower, Followee: followee})
		}
	}
	for followee, set := range g.followers {
		for follower := range set {
			followers = append(followers, Edge{Follower: follower, Followee: followee})
		}
	}
	return following, followers, nil
}

func (g *Graph) Apply(_ context.Context, fix Fix) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch fix.Side {
	case SideFollowing:
		if fix.Remove {
			unlink(g.following, fix.Edge.Follower, fix.Edge.Followee)
		} else {
			link(g.following, fix.Edge.Follower, fix.Edge.Followee)
		}
	case SideFollowers:
		if fix.Remove {
			unlink(g.followers, fix.Edge.Followee, fix.Edge.Follower)
		} else {
			link(g.followers, fix.Edge.Followee, fix.Edge.Follower)
		}
	}
	return nil
}

func link(index map[string]map[string]struct{}, from, to string) {
	set, ok := index[from]
	if !ok {
		set = make(map[string]struct{})
		index[from] = set
	}
	set[to] = struct{}{}
}

func unlink(index map[string]map[string]struct{}, from, to string) {
	set, ok := index[from]
	if !ok {
		return
	}
	delete(set, to)
	if len(set) == 0 {
		delete(index, from)
	}
}

func members(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
