package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/lifecycle"
	"pinboard/api/internal/ordering"
	"pinboard/api/internal/store"
	"pinboard/api/internal/util"
	"pinboard/api/internal/visibility"
)

const (
	defaultSectionName = "Untitled"
	maxCodeAttempts    = 5
)

func (s *Service) CreateBoard(ctx context.Context, requester auth.Identity, input CreateBoardInput) (_ BoardView, err error) {
	ctx, span := s.startSpan(ctx, "board.create")
	defer func() { err = s.finish(span, "board.create", err) }()

	if err := requireUser(requester); err != nil {
		return BoardView{}, err
	}
	if input.FolderID != nil {
		if err := s.checkFolder(ctx, requester, *input.FolderID); err != nil {
			return BoardView{}, err
		}
	}
	if _, err := s.store.EnsureUser(ctx, requester.UserID, requester.Name); err != nil {
		return BoardView{}, err
	}

	now := s.now()
	owner := requester.UserID
	board := store.Board{
		ID:              util.NewID("brd"),
		OwnerID:         &owner,
		Title:           cleanName(input.Title),
		Background:      input.Background,
		DominantColor:   input.DominantColor,
		Format:          input.Format,
		FolderID:        input.FolderID,
		SectionsEnabled: input.SectionsEnabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var sections []store.Section
	if board.SectionsEnabled {
		sections = []store.Section{s.newSection(board.ID, defaultSectionName, ordering.Mid)}
	}

	for attempt := 0; ; attempt++ {
		code, err := s.unusedCode(ctx)
		if err != nil {
			return BoardView{}, err
		}
		board.Code = code
		inserted, err := s.store.InsertBoard(ctx, board, sections)
		if errors.Is(err, store.ErrConflict) && attempt+1 < maxCodeAttempts {
			continue
		}
		if err != nil {
			return BoardView{}, err
		}
		span.SetAttributes(attribute.String("board.id", board.ID))
		return BoardView{Board: board, Sections: inserted, Cards: []store.Card{}}, nil
	}
}

func (s *Service) unusedCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := util.NewCode(s.codeLength)
		if err != nil {
			return "", fmt.Errorf("generate board code: %w", err)
		}
		taken, err := s.store.BoardCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("generate board code: %w", store.ErrConflict)
}

func (s *Service) newSection(boardID, name string, key ordering.Key) store.Section {
	now := s.now()
	return store.Section{
		ID:        util.NewID("sec"),
		BoardID:   boardID,
		Name:      name,
		OrderKey:  key,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ViewBoard returns the board with its active content. Owners also get
// last_viewed_at stamped.
func (s *Service) ViewBoard(ctx context.Context, requester auth.Identity, boardID string) (_ BoardView, err error) {
	ctx, span := s.startSpan(ctx, "board.view", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "board.view", err) }()

	board, err := s.readableBoard(ctx, boardID, requester)
	if err != nil {
		return BoardView{}, err
	}
	if visibility.IsOwner(board, requester.UserID) {
		err := s.store.InBoardTx(ctx, boardID, func(tx store.BoardTx) error {
			board = tx.Board()
			now := s.now()
			board.LastViewedAt = &now
			return tx.SaveBoard(ctx, board)
		})
		if err != nil {
			return BoardView{}, err
		}
	}
	return s.loadView(ctx, board)
}

func (s *Service) GetBoardByCode(ctx context.Context, requester auth.Identity, code string) (_ BoardView, err error) {
	ctx, span := s.startSpan(ctx, "board.get_by_code")
	defer func() { err = s.finish(span, "board.get_by_code", err) }()

	board, err := s.store.GetBoardByCode(ctx, code)
	if err != nil {
		return BoardView{}, err
	}
	if !visibility.IsOwner(board, requester.UserID) {
		return BoardView{}, notFound()
	}
	return s.loadView(ctx, board)
}

// ResolvePublicBoard serves anonymous share links.
func (s *Service) ResolvePublicBoard(ctx context.Context, token string) (_ BoardView, err error) {
	ctx, span := s.startSpan(ctx, "board.resolve_token")
	defer func() { err = s.finish(span, "board.resolve_token", err) }()

	board, err := s.visibility.Resolve(ctx, token)
	if err != nil {
		return BoardView{}, err
	}
	return s.loadView(ctx, board)
}

func (s *Service) loadView(ctx context.Context, board store.Board) (BoardView, error) {
	sections, err := s.store.ListSections(ctx, board.ID)
	if err != nil {
		return BoardView{}, err
	}
	cards, err := s.store.ListCards(ctx, board.ID, store.CardFilter{})
	if err != nil {
		return BoardView{}, err
	}
	return BoardView{Board: board, Sections: sections, Cards: orderBySection(sections, cards)}, nil
}

// orderBySection groups cards by the order of their sections. Cards without a
// section come first.
func orderBySection(sections []store.Section, cards []store.Card) []store.Card {
	if len(sections) == 0 {
		return cards
	}
	rank := make(map[string]int, len(sections))
	for i, section := range sections {
		rank[section.ID] = i + 1
	}
	buckets := make([][]store.Card, len(sections)+1)
	for _, card := range cards {
		bucket := 0
		if card.SectionID != nil {
			bucket = rank[*card.SectionID]
		}
		buckets[bucket] = append(buckets[bucket], card)
	}
	out := make([]store.Card, 0, len(cards))
	for _, bucket := range buckets {
		out = append(out, bucket...)
	}
	return out
}

func (s *Service) ListBoards(ctx context.Context, requester auth.Identity, view store.BoardView, folderID *string) (_ []store.Board, err error) {
	ctx, span := s.startSpan(ctx, "board.list", attribute.String("board.view", string(view)))
	defer func() { err = s.finish(span, "board.list", err) }()

	if err := requireUser(requester); err != nil {
		return nil, err
	}
	switch view {
	case "":
		view = store.ViewActive
	case store.ViewActive, store.ViewPinned, store.ViewTrashed:
	default:
		return nil, validation("view must be one of active, pinned, trashed")
	}
	if folderID != nil {
		if err := s.checkFolder(ctx, requester, *folderID); err != nil {
			return nil, err
		}
	}
	return s.store.ListBoards(ctx, store.BoardFilter{OwnerID: requester.UserID, View: view, FolderID: folderID})
}

func (s *Service) UpdateBoard(ctx context.Context, requester auth.Identity, boardID string, input UpdateBoardInput) (_ store.Board, err error) {
	ctx, span := s.startSpan(ctx, "board.update", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "board.update", err) }()

	return s.updateBoard(ctx, requester, boardID, false, func(board *store.Board) error {
		if input.Title != nil {
			board.Title = cleanName(*input.Title)
		}
		if input.Background != nil {
			board.Background = *input.Background
		}
		if input.DominantColor != nil {
			board.DominantColor = *input.DominantColor
		}
		if input.Format != nil {
			board.Format = *input.Format
		}
		return nil
	})
}

// updateBoard applies a board-row change under the board lock.
func (s *Service) updateBoard(ctx context.Context, requester auth.Identity, boardID string, allowTrashed bool, change func(*store.Board) error) (store.Board, error) {
	var out store.Board
	err := s.mutate(ctx, boardID, requester, allowTrashed, func(tx store.BoardTx, board store.Board) error {
		if err := change(&board); err != nil {
			return err
		}
		board.UpdatedAt = s.now()
		if err := tx.SaveBoard(ctx, board); err != nil {
			return err
		}
		out = board
		return nil
	})
	return out, err
}

func (s *Service) PinBoard(ctx context.Context, requester auth.Identity, boardID string, pinned bool) (_ store.Board, err error) {
	ctx, span := s.startSpan(ctx, "board.pin", attribute.String("board.id", boardID), attribute.Bool("board.pinned", pinned))
	defer func() { err = s.finish(span, "board.pin", err) }()

	return s.updateBoard(ctx, requester, boardID, true, func(board *store.Board) error {
		board.IsPinned = pinned
		return nil
	})
}

func (s *Service) TrashBoard(ctx context.Context, requester auth.Identity, boardID string) (_ store.Board, err error) {
	ctx, span := s.startSpan(ctx, "board.trash", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "board.trash", err) }()

	return s.updateBoard(ctx, requester, boardID, true, func(board *store.Board) error {
		return lifecycle.TrashBoard(board, s.now())
	})
}

func (s *Service) RestoreBoard(ctx context.Context, requester auth.Identity, boardID string) (_ store.Board, err error) {
	ctx, span := s.startSpan(ctx, "board.restore", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "board.restore", err) }()

	return s.updateBoard(ctx, requester, boardID, true, func(board *store.Board) error {
		return lifecycle.RestoreBoard(board, s.now())
	})
}

// PurgeBoard deletes a trashed board with its sections and cards.
func (s *Service) PurgeBoard(ctx context.Context, requester auth.Identity, boardID string) (err error) {
	ctx, span := s.startSpan(ctx, "board.purge", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "board.purge", err) }()

	return s.mutate(ctx, boardID, requester, true, func(tx store.BoardTx, board store.Board) error {
		if err := lifecycle.CheckPurgeBoard(board); err != nil {
			return err
		}
		return tx.DeleteBoard(ctx)
	})
}

// MoveBoardToFolder changes folder placement only; card and section keys are
// untouched. A nil folder removes the board from its folder.
func (s *Service) MoveBoardToFolder(ctx context.Context, requester auth.Identity, boardID string, folderID *string) (_ store.Board, err error) {
	ctx, span := s.startSpan(ctx, "board.move_folder", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "board.move_folder", err) }()

	if folderID != nil {
		if err := s.checkFolder(ctx, requester, *folderID); err != nil {
			return store.Board{}, err
		}
	}
	return s.updateBoard(ctx, requester, boardID, true, func(board *store.Board) error {
		board.FolderID = folderID
		return nil
	})
}

// EnableSharing makes the board public and returns its share token.
func (s *Service) EnableSharing(ctx context.Context, requester auth.Identity, boardID string) (_ store.Board, err error) {
	ctx, span := s.startSpan(ctx, "board.enable_sharing", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "board.enable_sharing", err) }()

	return s.updateBoard(ctx, requester, boardID, true, func(board *store.Board) error {
		_, err := s.visibility.Enable(ctx, board)
		return err
	})
}

func (s *Service) DisableSharing(ctx context.Context, requester auth.Identity, boardID string) (_ store.Board, err error) {
	ctx, span := s.startSpan(ctx, "board.disable_sharing", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "board.disable_sharing", err) }()

	return s.updateBoard(ctx, requester, boardID, true, func(board *store.Board) error {
		s.visibility.Disable(board)
		return nil
	})
}

// RebalanceBoard respaces every ordering scope of the board.
func (s *Service) RebalanceBoard(ctx context.Context, requester auth.Identity, boardID string) (err error) {
	ctx, span := s.startSpan(ctx, "board.rebalance", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "board.rebalance", err) }()

	return s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		sections, err := tx.Sections(ctx)
		if err != nil {
			return err
		}
		if len(sections) > 0 {
			if _, err := s.rebalanceSections(ctx, tx, sectionItems(sections, "")); err != nil {
				return err
			}
		}
		scopes := []*string{nil}
		for _, section := range sections {
			id := section.ID
			scopes = append(scopes, &id)
		}
		for _, scope := range scopes {
			siblings, err := cardSiblings(ctx, tx, scope, "")
			if err != nil {
				return err
			}
			if len(siblings) == 0 {
				continue
			}
			if _, err := s.rebalanceCards(ctx, tx, scope, siblings); err != nil {
				return err
			}
		}
		s.logger.WithFields(log.Fields{"board_id": board.ID, "sections": len(sections)}).Info("board rebalanced")
		return nil
	})
}
