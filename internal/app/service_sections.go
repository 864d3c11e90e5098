package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/ordering"
	"pinboard/api/internal/store"
)

func (s *Service) CreateSection(ctx context.Context, requester auth.Identity, boardID string, input CreateSectionInput) (_ store.Section, err error) {
	ctx, span := s.startSpan(ctx, "section.create", attribute.String("board.id", boardID))
	defer func() { err = s.finish(span, "section.create", err) }()

	if err := validIndex(input.Index); err != nil {
		return store.Section{}, err
	}
	name := cleanName(input.Name)
	if name == "" {
		name = defaultSectionName
	}
	var out store.Section
	err = s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		if !board.SectionsEnabled {
			return invalidTransition("sections are disabled on this board")
		}
		key, err := s.placeSection(ctx, tx, "", input.Index)
		if err != nil {
			return err
		}
		out, err = tx.InsertSection(ctx, s.newSection(board.ID, name, key))
		if err != nil {
			return err
		}
		return s.touchBoard(ctx, tx)
	})
	return out, err
}

func (s *Service) RenameSection(ctx context.Context, requester auth.Identity, boardID, sectionID, name string) (_ store.Section, err error) {
	ctx, span := s.startSpan(ctx, "section.rename", attribute.String("board.id", boardID), attribute.String("section.id", sectionID))
	defer func() { err = s.finish(span, "section.rename", err) }()

	name = cleanName(name)
	if name == "" {
		return store.Section{}, validation("name is required")
	}
	var out store.Section
	err = s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		section, err := findSection(ctx, tx, sectionID)
		if err != nil {
			return err
		}
		section.Name = name
		section.UpdatedAt = s.now()
		if err := tx.SaveSection(ctx, section); err != nil {
			return err
		}
		out = section
		return nil
	})
	return out, err
}

// MoveSection relocates a section with a single key computation.
func (s *Service) MoveSection(ctx context.Context, requester auth.Identity, boardID, sectionID string, index *int) (_ store.Section, err error) {
	ctx, span := s.startSpan(ctx, "section.move", attribute.String("board.id", boardID), attribute.String("section.id", sectionID))
	defer func() { err = s.finish(span, "section.move", err) }()

	if err := validIndex(index); err != nil {
		return store.Section{}, err
	}
	var out store.Section
	err = s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		section, err := findSection(ctx, tx, sectionID)
		if err != nil {
			return err
		}
		key, err := s.placeSection(ctx, tx, section.ID, index)
		if err != nil {
			return err
		}
		section.OrderKey = key
		section.UpdatedAt = s.now()
		if err := tx.SaveSection(ctx, section); err != nil {
			return err
		}
		out = section
		return s.touchBoard(ctx, tx)
	})
	return out, err
}

// DeleteSection removes a section and its active cards. Trashed cards stay in
// the trash and restore into a fallback section later.
func (s *Service) DeleteSection(ctx context.Context, requester auth.Identity, boardID, sectionID string) (err error) {
	ctx, span := s.startSpan(ctx, "section.delete", attribute.String("board.id", boardID), attribute.String("section.id", sectionID))
	defer func() { err = s.finish(span, "section.delete", err) }()

	return s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, board store.Board) error {
		sections, err := tx.Sections(ctx)
		if err != nil {
			return err
		}
		if _, err := findSection(ctx, tx, sectionID); err != nil {
			return err
		}
		if len(sections) == 1 {
			return invalidTransition("the last section of a board cannot be deleted")
		}
		if err := tx.DeleteSection(ctx, sectionID); err != nil {
			return err
		}
		return s.touchBoard(ctx, tx)
	})
}

// SetSectionsEnabled switches a board between sectioned and flat layouts.
// Enabling moves the flat list into a new default section as is. Disabling
// concatenates the sections in order into one respaced flat list.
func (s *Service) SetSectionsEnabled(ctx context.Context, requester auth.Identity, boardID string, enabled bool) (_ BoardView, err error) {
	ctx, span := s.startSpan(ctx, "board.sections_mode", attribute.String("board.id", boardID), attribute.Bool("board.sections_enabled", enabled))
	defer func() { err = s.finish(span, "board.sections_mode", err) }()

	var board store.Board
	err = s.mutate(ctx, boardID, requester, false, func(tx store.BoardTx, current store.Board) error {
		board = current
		if current.SectionsEnabled == enabled {
			return nil
		}
		if enabled {
			if err := s.enableSections(ctx, tx); err != nil {
				return err
			}
		} else if err := s.disableSections(ctx, tx); err != nil {
			return err
		}
		board.SectionsEnabled = enabled
		board.UpdatedAt = s.now()
		return tx.SaveBoard(ctx, board)
	})
	if err != nil {
		return BoardView{}, err
	}
	return s.loadView(ctx, board)
}

func (s *Service) enableSections(ctx context.Context, tx store.BoardTx) error {
	section, err := tx.InsertSection(ctx, s.newSection(tx.Board().ID, defaultSectionName, ordering.Mid))
	if err != nil {
		return err
	}
	cards, err := tx.Cards(ctx, store.CardFilter{Scoped: true})
	if err != nil {
		return err
	}
	trashed, err := trashedFrom(ctx, tx, nil)
	if err != nil {
		return err
	}
	now := s.now()
	for _, card := range cards {
		id := section.ID
		card.SectionID = &id
		card.UpdatedAt = now
		if err := tx.SaveCard(ctx, card); err != nil {
			return err
		}
	}
	// Trashed implicit-scope cards keep their key and follow their siblings.
	for _, card := range trashed {
		id := section.ID
		card.OriginalSectionID = &id
		if err := tx.SaveCard(ctx, card); err != nil {
			return err
		}
	}
	return nil
}

// disableSections concatenates the sections into the implicit scope. Trashed
// cards that remember a section are placed among its cards by their
// remembered key and respaced with everything else.
func (s *Service) disableSections(ctx context.Context, tx store.BoardTx) error {
	sections, err := tx.Sections(ctx)
	if err != nil {
		return err
	}
	scopes := []*string{nil}
	for _, section := range sections {
		id := section.ID
		scopes = append(scopes, &id)
	}

	var flat []store.Card
	for _, scope := range scopes {
		cards, err := scopeWithTrash(ctx, tx, scope)
		if err != nil {
			return err
		}
		flat = append(flat, cards...)
	}

	keys := ordering.Rebalance(make([]ordering.Key, len(flat)))
	now := s.now()
	for i, card := range flat {
		key := keys[i]
		if card.Trashed {
			card.OriginalPosition = &key
			card.OriginalSectionID = nil
		} else {
			card.SectionID = nil
			card.OrderKey = key
			card.UpdatedAt = now
		}
		if err := tx.SaveCard(ctx, card); err != nil {
			return err
		}
	}
	for _, section := range sections {
		if err := tx.DeleteSection(ctx, section.ID); err != nil {
			return err
		}
	}
	return nil
}

// scopeWithTrash lists the active cards of a scope merged with the trashed
// cards that remember it, in key order.
func scopeWithTrash(ctx context.Context, tx store.BoardTx, sectionID *string) ([]store.Card, error) {
	active, err := tx.Cards(ctx, store.CardFilter{Scoped: true, SectionID: sectionID})
	if err != nil {
		return nil, err
	}
	trashed, err := trashedFrom(ctx, tx, sectionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Card, len(active)+len(trashed))
	items := make([]ordering.Item, 0, len(active)+len(trashed))
	for _, card := range active {
		byID[card.ID] = card
		items = append(items, card.Item())
	}
	for _, card := range trashed {
		byID[card.ID] = card
		items = append(items, ordering.Item{ID: card.ID, Key: *card.OriginalPosition, Seq: card.Seq})
	}
	ordering.Sort(items)
	out := make([]store.Card, len(items))
	for i, item := range items {
		out[i] = byID[item.ID]
	}
	return out, nil
}

func findSection(ctx context.Context, tx store.BoardTx, sectionID string) (store.Section, error) {
	sections, err := tx.Sections(ctx)
	if err != nil {
		return store.Section{}, err
	}
	for _, section := range sections {
		if section.ID == sectionID {
			return section, nil
		}
	}
	return store.Section{}, notFound()
}
