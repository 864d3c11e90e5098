// Package follow keeps the follower/following read model in step with the
// follow relation.
//
// The relation itself lives in the store as one row per edge. A Mirror holds
// the two denormalized views (who a user follows, who follows a user) and
// writes both sides of an edge as one unit. Repair reconciles a mirror with
// the relation after a crash or a partial write.
package follow

import (
	"context"
	"errors"
	"sort"
)

var ErrSelfFollow = errors.New("users cannot follow themselves")

// Edge means Follower follows Followee.
type Edge struct {
	Follower string
	Followee string
}

func (e Edge) Validate() error {
	if e.Follower == "" || e.Followee == "" {
		return errors.New("follow edge needs both users")
	}
	if e.Follower == e.Followee {
		return ErrSelfFollow
	}
	return nil
}

// Mirror is a denormalized follow index. Add and Remove update both sides
// atomically.
type Mirror interface {
	Add(ctx context.Context, edge Edge) error
	Remove(ctx context.Context, edge Edge) error
	Followers(ctx context.Context, userID string) ([]string, error)
	Following(ctx context.Context, userID string) ([]string, error)
	// Snapshot returns the edges as recorded on the following side and on
	// the followers side separately.
	Snapshot(ctx context.Context) (following, followers []Edge, err error)
	// Apply adds and removes edges on a single side.
	Apply(ctx context.Context, fix Fix) error
}

type Side string

const (
	SideFollowing Side = "following"
	SideFollowers Side = "followers"
)

// Fix is one correction on one side of the mirror.
type Fix struct {
	Side   Side
	Edge   Edge
	Remove bool
}

type Report struct {
	Checked    int
	Asymmetric int
	Fixes      []Fix
}

// Plan compares both sides of a mirror against the relation and lists the
// corrections that make each side equal to it.
func Plan(relation, following, followers []Edge) Report {
	truth := toSet(relation)
	left := toSet(following)
	right := toSet(followers)

	report := Report{Checked: len(truth)}
	for edge := range left {
		if _, ok := right[edge]; !ok {
			report.Asymmetric++
		}
	}
	for edge := range right {
		if _, ok := left[edge]; !ok {
			report.Asymmetric++
		}
	}

	report.Fixes = append(report.Fixes, diff(SideFollowing, truth, left)...)
	report.Fixes = append(report.Fixes, diff(SideFollowers, truth, right)...)
	sort.Slice(report.Fixes, func(i, j int) bool {
		a, b := report.Fixes[i], report.Fixes[j]
		if a.Side != b.Side {
			return a.Side < b.Side
		}
		if a.Edge.Follower != b.Edge.Follower {
			return a.Edge.Follower < b.Edge.Follower
		}
		return a.Edge.Followee < b.Edge.Followee
	})
	return report
}

func diff(side Side, truth, have map[Edge]struct{}) []Fix {
	var fixes []Fix
	for edge := range truth {
		if _, ok := have[edge]; !ok {
			fixes = append(fixes, Fix{Side: side, Edge: edge})
		}
	}
	for edge := range have {
		if _, ok := truth[edge]; !ok {
			fixes = append(fixes, Fix{Side: side, Edge: edge, Remove: true})
		}
	}
	return fixes
}

// Repair brings mirror in line with relation and reports what it changed.
func Repair(ctx context.Context, relation []Edge, mirror Mirror) (Report, error) {
	following, followers, err := mirror.Snapshot(ctx)
	if err != nil {
		return Report{}, err
	}
	report := Plan(relation, following, followers)
	for _, fix := range report.Fixes {
		if err := mirror.Apply(ctx, fix); err != nil {
			return report, err
		}
	}
	return report, nil
}

func toSet(edges []Edge) map[Edge]struct{} {
	set := make(map[Edge]struct{}, len(edges))
	for _, edge := range edges {
		set[edge] = struct{}{}
	}
	return set
}
