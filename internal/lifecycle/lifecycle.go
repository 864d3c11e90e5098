// Package lifecycle implements soft deletion of cards and boards.
//
// A card moves Active -> Trashed on Trash, back to Active on Restore, and out
// of existence on purge. Trashing remembers the card's key and section so a
// later restore lands next to the same neighbours. Board trash is a flag only:
// the cards of a trashed board keep their state and order.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"pinboard/api/internal/ordering"
	"pinboard/api/internal/store"
)

type State string

const (
	StateActive  State = "active"
	StateTrashed State = "trashed"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError reports a command that does not apply to the entity's state.
type TransitionError struct {
	Entity string
	ID     string
	Op     string
	From   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: it is %s", e.Op, e.Entity, e.ID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// PurgeError is returned when a purge targets something that is not in the trash.
type PurgeError struct {
	Entity string
	ID     string
}

func (e *PurgeError) Error() string {
	return fmt.Sprintf("cannot purge %s %s: only trashed items can be purged", e.Entity, e.ID)
}

func (e *PurgeError) Unwrap() error { return ErrInvalidTransition }

func CardState(card store.Card) State {
	if card.Trashed {
		return StateTrashed
	}
	return StateActive
}

func BoardState(board store.Board) State {
	if board.Trashed {
		return StateTrashed
	}
	return StateActive
}

// Trash moves an active card to the trash, overwriting any position recorded
// by an earlier trash.
func Trash(card *store.Card, now time.Time) error {
	if card.Trashed {
		return &TransitionError{Entity: "card", ID: card.ID, Op: "trash", From: StateTrashed}
	}
	position := card.OrderKey
	card.OriginalPosition = &position
	card.OriginalSectionID = copyID(card.SectionID)
	card.Trashed = true
	card.TrashedAt = &now
	card.UpdatedAt = now
	return nil
}

// Layout is the board structure a restore is resolved against. Sections must
// be sorted by key.
type Layout struct {
	SectionsEnabled bool
	Sections        []store.Section
}

// Target is where a restored card goes. Fallback targets append to the end of
// the scope instead of reusing the remembered key.
type Target struct {
	SectionID *string
	Fallback  bool
}

// RestoreTarget picks the scope for restoring card. The remembered section is
// used while it still exists; otherwise the card falls back to the first
// section, or to the implicit section when the board has none.
func RestoreTarget(card store.Card, layout Layout) (Target, error) {
	if !card.Trashed {
		return Target{}, &TransitionError{Entity: "card", ID: card.ID, Op: "restore", From: StateActive}
	}
	if card.OriginalPosition == nil {
		return Target{SectionID: fallbackSection(layout), Fallback: true}, nil
	}
	if !layout.SectionsEnabled {
		if card.OriginalSectionID == nil {
			return Target{}, nil
		}
		return Target{Fallback: true}, nil
	}
	if card.OriginalSectionID != nil {
		for _, section := range layout.Sections {
			if section.ID == *card.OriginalSectionID {
				return Target{SectionID: copyID(card.OriginalSectionID)}, nil
			}
		}
	}
	return Target{SectionID: fallbackSection(layout), Fallback: true}, nil
}

func fallbackSection(layout Layout) *string {
	if !layout.SectionsEnabled || len(layout.Sections) == 0 {
		return nil
	}
	id := layout.Sections[0].ID
	return &id
}

// RestoreKey computes the key for card inside target given the scope's
// active siblings sorted by key. A remembered key that is already taken is
// replaced by one directly after it.
func RestoreKey(card store.Card, target Target, siblings []ordering.Item) (ordering.Key, error) {
	if target.Fallback || card.OriginalPosition == nil {
		before, after := ordering.Neighbors(siblings, len(siblings))
		return ordering.Between(before, after)
	}
	key := *card.OriginalPosition
	for i, sibling := range siblings {
		if sibling.Key < key {
			continue
		}
		if sibling.Key > key {
			return key, nil
		}
		var next *ordering.Key
		for _, later := range siblings[i+1:] {
			if later.Key > key {
				k := later.Key
				next = &k
				break
			}
		}
		return ordering.Between(&key, next)
	}
	return key, nil
}

// Restore returns a trashed card to the active state at the given place.
func Restore(card *store.Card, target Target, key ordering.Key, now time.Time) error {
	if !card.Trashed {
		return &TransitionError{Entity: "card", ID: card.ID, Op: "restore", From: StateActive}
	}
	card.SectionID = copyID(target.SectionID)
	card.OrderKey = key
	card.Trashed = false
	card.TrashedAt = nil
	card.UpdatedAt = now
	return nil
}

// CheckPurge refuses to purge anything that is not trashed.
func CheckPurge(card store.Card) error {
	if !card.Trashed {
		return &PurgeError{Entity: "card", ID: card.ID}
	}
	return nil
}

func TrashBoard(board *store.Board, now time.Time) error {
	if board.Trashed {
		return &TransitionError{Entity: "board", ID: board.ID, Op: "trash", From: StateTrashed}
	}
	board.Trashed = true
	board.TrashedAt = &now
	board.UpdatedAt = now
	return nil
}

func RestoreBoard(board *store.Board, now time.Time) error {
	if !board.Trashed {
		return &TransitionError{Entity: "board", ID: board.ID, Op: "restore", From: StateActive}
	}
	board.Trashed = false
	board.TrashedAt = nil
	board.UpdatedAt = now
	return nil
}

func CheckPurgeBoard(board store.Board) error {
	if !board.Trashed {
		return &PurgeError{Entity: "board", ID: board.ID}
	}
	return nil
}

func copyID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
