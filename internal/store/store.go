package store

import (
	"context"

	"pinboard/api/internal/ordering"
)

// BoardTx is a unit of work on one board. Implementations hold the board's
// exclusive lock for the lifetime of the transaction, so every read observes
// the writes made earlier in the same transaction and no other command on the
// same board interleaves.
type BoardTx interface {
	Board() Board
	SaveBoard(ctx context.Context, board Board) error
	DeleteBoard(ctx context.Context) error

	Sections(ctx context.Context) ([]Section, error)
	InsertSection(ctx context.Context, section Section) (Section, error)
	SaveSection(ctx context.Context, section Section) error
	// DeleteSection removes the section and its active cards. Trashed cards
	// keep their rows with the section detached.
	DeleteSection(ctx context.Context, sectionID string) error
	SetSectionKeys(ctx context.Context, keys map[string]ordering.Key) error

	Cards(ctx context.Context, filter CardFilter) ([]Card, error)
	Card(ctx context.Context, cardID string) (Card, error)
	InsertCard(ctx context.Context, card Card) (Card, error)
	SaveCard(ctx context.Context, card Card) error
	DeleteCard(ctx context.Context, cardID string) error
	SetCardKeys(ctx context.Context, keys map[string]ordering.Key) error
}

func sortSections(sections []Section) {
	items := make([]ordering.Item, len(sections))
	byID := make(map[string]Section, len(sections))
	for i, section := range sections {
		items[i] = section.Item()
		byID[section.ID] = section
	}
	ordering.Sort(items)
	for i, item := range items {
		sections[i] = byID[item.ID]
	}
}

func sortCards(cards []Card) {
	items := make([]ordering.Item, len(cards))
	byID := make(map[string]Card, len(cards))
	for i, card := range cards {
		items[i] = card.Item()
		byID[card.ID] = card
	}
	ordering.Sort(items)
	for i, item := range items {
		cards[i] = byID[item.ID]
	}
}
