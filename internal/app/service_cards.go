package app

import (
	"context"
	"encoding/json"
	"errors"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/lifecycle"
	"pinboard/api/internal/ordering"
	"pinboard/api/internal/store"
	"pinboard/api/internal/util"
)

// resolveSection checks that a requested section belongs to the board. With
// no request, sectioned boards use their first section.
func resolveSection(ctx context.Context, tx store.BoardTx, board store.Board, requested *string) (*string, error) {
	if !board.SectionsEnabled {
		if requested != nil {
			return nil, validation("sections are disabled on this board")
		}
		return nil, nil
	}
	sections, err := tx.Sections(ctx)
	if err != nil {
		return nil, err
	}
	if requested == nil {
		if len(sections) == 0 {
			return nil, invalidTransition("board has no sections")
		}
		id := sections[0].ID
		return &id, nil
	}
	for _, section := range sections {
		if section.ID == *requested {
			id := section.ID
			return &id, nil
		}
	}
	return nil, validation("section does not belong to this board")
}

func normalizeContent(content json.RawMessage) (json.RawMessage, error) {
	if len(content) == 0 || string(content) == "null" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(content) {
		return nil, validation("content must be valid JSON")
	}
	return content, nil
}

func (s *Service) CreateCard(ctx context.Context, requester auth.Identity, boardID string, input CreateCardInput) (_ store.Card, err error) {
	ctx, span := s.startSpan(ctx, "card.create", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "card.create", err) }()

	if err := validIndex(input.Index); err != nil {
		return store.Card{}, err
	}
	content, err := normalizeContent(input.Content)
	if err != nil {
		return store.Card{}, err
	}
	var out store.Card
	err = s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		sectionID, err := resolveSection(ctx, tx, board, input.SectionID)
		if err != nil {
			return err
		}
		key, err := s.placeCard(ctx, tx, sectionID, "", input.Index)
		if err != nil {
			return err
		}
		now := s.now()
		out, err = tx.InsertCard(ctx, store.Card{
			ID:        util.NewID("crd"),
			BoardID:   board.ID,
			SectionID: sectionID,
			Content:   content,
			OrderKey:  key,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		return s.touchBoard(ctx, tx)
	})
	return out, err
}

func (s *Service) UpdateCardContent(ctx context.Context, requester auth.Identity, boardID, cardID string, content json.RawMessage) (_ store.Card, err error) {
	ctx, span := s.startSpan(ctx, "card.update", attribute.String("board.id", boardID), attribute.String("card.id", cardID))
	defer func() { err = s.finish(span, "card.update", err) }()

	content, err = normalizeContent(content)
	if err != nil {
		return store.Card{}, err
	}
	var out store.Card
	err = s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		card, err := tx.Card(ctx, cardID)
		if err != nil {
			return err
		}
		if card.Trashed {
			return invalidTransition("trashed cards cannot be edited")
		}
		card.Content = content
		card.UpdatedAt = s.now()
		if err := tx.SaveCard(ctx, card); err != nil {
			return err
		}
		out = card
		return s.touchBoard(ctx, tx)
	})
	return out, err
}

// MoveCard relocates an active card. Moving between sections drops the card
// from the source scope and computes one fresh key in the destination.
func (s *Service) MoveCard(ctx context.Context, requester auth.Identity, boardID, cardID string, input MoveCardInput) (_ store.Card, err error) {
	ctx, span := s.startSpan(ctx, "card.move", attribute.String("board.id", boardID), attribute.String("card.id", cardID))
	defer func() { err = s.finish(span, "card.move", err) }()

	if err := validIndex(input.Index); err != nil {
		return store.Card{}, err
	}
	var out store.Card
	err = s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		card, err := tx.Card(ctx, cardID)
		if err != nil {
			return err
		}
		if card.Trashed {
			return invalidTransition("trashed cards cannot be moved")
		}
		target := card.SectionID
		if input.SectionID != nil || board.SectionsEnabled && card.SectionID == nil {
			target, err = resolveSection(ctx, tx, board, input.SectionID)
			if err != nil {
				return err
			}
		}
		key, err := s.placeCard(ctx, tx, target, card.ID, input.Index)
		if err != nil {
			return err
		}
		card.SectionID = target
		card.OrderKey = key
		card.UpdatedAt = s.now()
		if err := tx.SaveCard(ctx, card); err != nil {
			return err
		}
		out = card
		return s.touchBoard(ctx, tx)
	})
	return out, err
}

func (s *Service) TrashCard(ctx context.Context, requester auth.Identity, boardID, cardID string) (_ store.Card, err error) {
	ctx, span := s.startSpan(ctx, "card.trash", attribute.String("board.id", boardID), attribute.String("card.id", cardID))
	defer func() { err = s.finish(span, "card.trash", err) }()

	var out store.Card
	err = s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		card, err := tx.Card(ctx, cardID)
		if err != nil {
			return err
		}
		if err := lifecycle.Trash(&card, s.now()); err != nil {
			return err
		}
		if err := tx.SaveCard(ctx, card); err != nil {
			return err
		}
		out = card
		return s.touchBoard(ctx, tx)
	})
	return out, err
}

// RestoreCard puts a trashed card back at its remembered place, or at the end
// of the fallback section when its section is gone.
func (s *Service) RestoreCard(ctx context.Context, requester auth.Identity, boardID, cardID string) (_ store.Card, err error) {
	ctx, span := s.startSpan(ctx, "card.restore", attribute.String("board.id", boardID), attribute.String("card.id", cardID))
	defer func() { err = s.finish(span, "card.restore", err) }()

	var out store.Card
	err = s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		card, err := tx.Card(ctx, cardID)
		if err != nil {
			return err
		}
		sections, err := tx.Sections(ctx)
		if err != nil {
			return err
		}
		target, err := lifecycle.RestoreTarget(card, lifecycle.Layout{SectionsEnabled: board.SectionsEnabled, Sections: sections})
		if err != nil {
			return err
		}
		siblings, err := cardSiblings(ctx, tx, target.SectionID, card.ID)
		if err != nil {
			return err
		}
		key, err := lifecycle.RestoreKey(card, target, siblings)
		if errors.Is(err, ordering.ErrPrecisionExhausted) {
			index := restoreIndex(card, target, siblings)
			if siblings, err = s.rebalanceCards(ctx, tx, target.SectionID, siblings); err != nil {
				return err
			}
			key, err = keyAt(siblings, &index)
		}
		if err != nil {
			return err
		}
		if err := lifecycle.Restore(&card, target, key, s.now()); err != nil {
			return err
		}
		if err := tx.SaveCard(ctx, card); err != nil {
			return err
		}
		out = card
		return s.touchBoard(ctx, tx)
	})
	return out, err
}

// restoreIndex is the rank the card would have taken among siblings, used
// when the scope has to be respaced first.
func restoreIndex(card store.Card, target lifecycle.Target, siblings []ordering.Item) int {
	if target.Fallback || card.OriginalPosition == nil {
		return len(siblings)
	}
	index := 0
	for _, sibling := range siblings {
		if sibling.Key <= *card.OriginalPosition {
			index++
		}
	}
	return index
}

func (s *Service) PurgeCard(ctx context.Context, requester auth.Identity, boardID, cardID string) (err error) {
	ctx, span := s.startSpan(ctx, "card.purge", attribute.String("board.id", boardID), attribute.String("card.id", cardID))
	defer func() { err = s.finish(span, "card.purge", err) }()

	return s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		card, err := tx.Card(ctx, cardID)
		if err != nil {
			return err
		}
		if err := lifecycle.CheckPurge(card); err != nil {
			return err
		}
		return tx.DeleteCard(ctx, card.ID)
	})
}

// EmptyTrash purges every trashed card of the board and returns how many.
func (s *Service) EmptyTrash(ctx context.Context, requester auth.Identity, boardID string) (_ int, err error) {
	ctx, span := s.startSpan(ctx, "card.empty_trash", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "card.empty_trash", err) }()

	purged := 0
	err = s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		cards, err := tx.Cards(ctx, store.CardFilter{Trashed: true})
		if err != nil {
			return err
		}
		for _, card := range cards {
			if err := tx.DeleteCard(ctx, card.ID); err != nil {
				return err
			}
		}
		purged = len(cards)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(log.Fields{"board_id": boardID, "count": purged}).Info("trash emptied")
	return purged, nil
}

// ListCards returns the active cards in display order, grouped by section.
func (s *Service) ListCards(ctx context.Context, requester auth.Identity, boardID string) (_ []store.Card, err error) {
	ctx, span := s.startSpan(ctx, "card.list", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "card.list", err) }()

	board, err := s.readableBoard(ctx, boardID, requester)
	if err != nil {
		return nil, err
	}
	view, err := s.loadView(ctx, board)
	if err != nil {
		return nil, err
	}
	return view.Cards, nil
}

// ListTrash returns the board's trashed cards, most recently trashed first.
// The trash is private to the owner.
func (s *Service) ListTrash(ctx context.Context, requester auth.Identity, boardID string) (_ []store.Card, err error) {
	ctx, span := s.startSpan(ctx, "card.list_trash", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "card.list_trash", err) }()

	board, err := s.readableBoard(ctx, boardID, requester)
	if err != nil {
		return nil, err
	}
	if err := checkEdit(board, requester, true); err != nil {
		return nil, err
	}
	return s.store.ListCards(ctx, boardID, store.CardFilter{Trashed: true})
}
