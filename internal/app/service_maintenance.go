package app

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"pinboard/api/internal/follow"
	"pinboard/api/internal/store"
)

// RepairFollowGraph reconciles the follow mirror with the relation table.
func (s *Service) RepairFollowGraph(ctx context.Context) (_ follow.Report, err error) {
	ctx, span := s.startSpan(ctx, "follow.repair")
	defer func() { err = s.finish(span, "follow.repair", err) }()

	edges, err := s.store.ListFollowEdges(ctx)
	if err != nil {
		return follow.Report{}, err
	}
	report, err := follow.Repair(ctx, edges, s.mirror)
	if err != nil {
		return report, err
	}
	span.SetAttributes(attribute.Int("follow.checked", report.Checked), attribute.Int("follow.fixes", len(report.Fixes)))
	entry := s.logger.WithFields(log.Fields{
		"checked":    report.Checked,
		"asymmetric": report.Asymmetric,
		"fixes":      len(report.Fixes),
	})
	if len(report.Fixes) > 0 {
		entry.Warn("follow graph repaired")
	} else {
		entry.Info("follow graph consistent")
	}
	return report, nil
}

// PurgeExpiredTrash permanently deletes cards trashed before cutoff. Each
// board is handled in its own transaction and the candidates are checked
// again under the lock, since a card may have been restored meanwhile.
func (s *Service) PurgeExpiredTrash(ctx context.Context, cutoff time.Time) (_ int, err error) {
	ctx, span := s.startSpan(ctx, "card.purge_expired")
	defer func() { err = s.finish(span, "card.purge_expired", err) }()

	candidates, err := s.store.ListTrashedCardsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	byBoard := make(map[string]map[string]struct{})
	var boards []string
	for _, card := range candidates {
		ids, ok := byBoard[card.BoardID]
		if !ok {
			ids = make(map[string]struct{})
			byBoard[card.BoardID] = ids
			boards = append(boards, card.BoardID)
		}
		ids[card.ID] = struct{}{}
	}

	purged := 0
	for _, boardID := range boards {
		ids := byBoard[boardID]
		deleted := 0
		err := s.store.InBoardTx(ctx, boardID, func(tx store.BoardTx) error {
			deleted = 0
			cards, err := tx.Cards(ctx, store.CardFilter{Trashed: true})
			if err != nil {
				return err
			}
			for _, card := range cards {
				if _, ok := ids[card.ID]; !ok || card.TrashedAt == nil || !card.TrashedAt.Before(cutoff) {
					continue
				}
				if err := tx.DeleteCard(ctx, card.ID); err != nil {
					return err
				}
				deleted++
			}
			return nil
		})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return purged, err
		}
		purged += deleted
	}
	span.SetAttributes(attribute.Int("card.purged", purged))
	s.logger.WithFields(log.Fields{"cutoff": cutoff.Format(time.RFC3339), "boards": len(boards), "count": purged}).Info("expired trash purged")
	return purged, nil
}
