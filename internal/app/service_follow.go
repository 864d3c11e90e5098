package app

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/follow"
)

// Follow records the edge in the relation first. The mirror write comes
// second; if it fails the relation is still right and the next repair pass
// fills in the mirror.
func (s *Service) Follow(ctx context.Context, requester auth.Identity, followeeID string) (err error) {
	ctx, span := s.startSpan(ctx, "follow.add", attribute.String("user.id", followeeID))
	defer func() { err = s.finish(span, "follow.add", err) }()

	if err := requireUser(requester); err != nil {
		return err
	}
	edge := follow.Edge{Follower: requester.UserID, Followee: followeeID}
	if err := edge.Validate(); err != nil {
		return err
	}
	if _, err := s.store.EnsureUser(ctx, requester.UserID, requester.Name); err != nil {
		return err
	}
	if err := s.store.InsertFollow(ctx, edge); err != nil {
		return err
	}
	if err := s.mirror.Add(ctx, edge); err != nil {
		s.logger.WithFields(log.Fields{"follower": edge.Follower, "followee": edge.Followee, "error": err.Error()}).Warn("follow mirror write failed")
		return err
	}
	return nil
}

func (s *Service) Unfollow(ctx context.Context, requester auth.Identity, followeeID string) (err error) {
	ctx, span := s.startSpan(ctx, "follow.remove", attribute.String("user.id", followeeID))
	defer func() { err = s.finish(span, "follow.remove", err) }()

	if err := requireUser(requester); err != nil {
		return err
	}
	edge := follow.Edge{Follower: requester.UserID, Followee: followeeID}
	if err := edge.Validate(); err != nil {
		return err
	}
	if err := s.store.DeleteFollow(ctx, edge); err != nil {
		return err
	}
	if err := s.mirror.Remove(ctx, edge); err != nil {
		s.logger.WithFields(log.Fields{"follower": edge.Follower, "followee": edge.Followee, "error": err.Error()}).Warn("follow mirror write failed")
		return err
	}
	return nil
}

func (s *Service) ListFollowers(ctx context.Context, userID string) (_ []string, err error) {
	ctx, span := s.startSpan(ctx, "follow.followers", attribute.String("user.id", userID))
	defer func() { err = s.finish(span, "follow.followers", err) }()

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.mirror.Followers(ctx, userID)
}

func (s *Service) ListFollowing(ctx context.Context, userID string) (_ []string, err error) {
	ctx, span := s.startSpan(ctx, "follow.following", attribute.String("user.id", userID))
	defer func() { err = s.finish(span, "follow.following", err) }()

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.mirror.Following(ctx, userID)
}
