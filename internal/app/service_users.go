package app

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/follow"
)

// DeleteAccount removes the requester. Their boards stay behind without an
// owner, readable only through an enabled share link; folders and follow
// edges go with the user.
func (s *Service) DeleteAccount(ctx context.Context, requester auth.Identity, userID string) (err error) {
	ctx, span := s.startSpan(ctx, "user.delete", attribute.String("user.id", userID))
	defer func() { err = s.finish(span, "user.delete", err) }()

	if err := requireUser(requester); err != nil {
		return err
	}
	if requester.UserID != userID {
		return forbidden("Accounts can only be deleted by their owner")
	}
	followers, err := s.mirror.Followers(ctx, userID)
	if err != nil {
		return err
	}
	following, err := s.mirror.Following(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}

	var edges []follow.Edge
	for _, id := range followers {
		edges = append(edges, follow.Edge{Follower: id, Followee: userID})
	}
	for _, id := range following {
		edges = append(edges, follow.Edge{Follower: userID, Followee: id})
	}
	for _, edge := range edges {
		if err := s.mirror.Remove(ctx, edge); err != nil {
			s.logger.WithFields(log.Fields{"user_id": userID, "error": err.Error()}).Warn("follow mirror cleanup failed")
			break
		}
	}
	s.logger.WithFields(log.Fields{"user_id": userID, "edges": len(edges)}).Info("account deleted")
	return nil
}
