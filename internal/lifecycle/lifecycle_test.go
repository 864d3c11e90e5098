package lifecycle

import (
	"errors"
	"testing"
	"time"

	"pinboard/api/internal/ordering"
	"pinboard/api/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(v string) *string { return &v }

func TestTrashRecordsOriginalPlacement(t *testing.T) {
	card := store.Card{ID: "c1", SectionID: strPtr("s1"), OrderKey: 500}
	if err := Trash(&card, now); err != nil {
		t.Fatalf("Trash failed: %v", err)
	}
	if CardState(card) != StateTrashed {
		t.Fatalf("expected trashed state, got %s", CardState(card))
	}
	if card.OriginalPosition == nil || *card.OriginalPosition != 500 {
		t.Fatalf("expected original position 500, got %v", card.OriginalPosition)
	}
	if card.OriginalSectionID == nil || *card.OriginalSectionID != "s1" {
		t.Fatalf("expected original section s1, got %v", card.OriginalSectionID)
	}
	*card.SectionID = "mutated"
	if *card.OriginalSectionID != "s1" {
		t.Fatal("original section must not alias the live section pointer")
	}

	err := Trash(&card, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on double trash, got %v", err)
	}
}

func TestTrashOverwritesEarlierPosition(t *testing.T) {
	card := store.Card{ID: "c1", OrderKey: 100}
	if err := Trash(&card, now); err != nil {
		t.Fatal(err)
	}
	if err := Restore(&card, Target{}, 700, now); err != nil {
		t.Fatal(err)
	}
	if err := Trash(&card, now); err != nil {
		t.Fatal(err)
	}
	if *card.OriginalPosition != 700 {
		t.Fatalf("expected the latest position to win, got %d", *card.OriginalPosition)
	}
}

func TestRestoreTarget(t *testing.T) {
	sections := []store.Section{{ID: "s1"}, {ID: "s2"}}
	trashed := func(section *string) store.Card {
		pos := ordering.Key(10)
		return store.Card{ID: "c", Trashed: true, OriginalPosition: &pos, OriginalSectionID: section}
	}

	cases := []struct {
		name         string
		card         store.Card
		layout       Layout
		wantSection  *string
		wantFallback bool
	}{
		{name: "section still exists", card: trashed(strPtr("s2")), layout: Layout{SectionsEnabled: true, Sections: sections}, wantSection: strPtr("s2")},
		{name: "section deleted", card: trashed(strPtr("gone")), layout: Layout{SectionsEnabled: true, Sections: sections}, wantSection: strPtr("s1"), wantFallback: true},
		{name: "implicit section", card: trashed(nil), layout: Layout{}, wantSection: nil},
		{name: "sections disabled since trash", card: trashed(strPtr("s1")), layout: Layout{}, wantSection: nil, wantFallback: true},
		{name: "sections enabled since trash", card: trashed(nil), layout: Layout{SectionsEnabled: true, Sections: sections}, wantSection: strPtr("s1"), wantFallback: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RestoreTarget(tc.card, tc.layout)
			if err != nil {
				t.Fatalf("RestoreTarget failed: %v", err)
			}
			if got.Fallback != tc.wantFallback {
				t.Fatalf("fallback = %v, want %v", got.Fallback, tc.wantFallback)
			}
			if (got.SectionID == nil) != (tc.wantSection == nil) || (got.SectionID != nil && *got.SectionID != *tc.wantSection) {
				t.Fatalf("section = %v, want %v", got.SectionID, tc.wantSection)
			}
		})
	}

	if _, err := RestoreTarget(store.Card{ID: "active"}, Layout{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for active card, got %v", err)
	}
}

func TestRestoreKey(t *testing.T) {
	pos := ordering.Key(200)
	card := store.Card{ID: "c", Trashed: true, OriginalPosition: &pos}
	siblings := []ordering.Item{{ID: "a", Key: 100}, {ID: "b", Key: 300}}

	key, err := RestoreKey(card, Target{}, siblings)
	if err != nil || key != 200 {
		t.Fatalf("expected remembered key 200, got %d (%v)", key, err)
	}

	taken := []ordering.Item{{ID: "a", Key: 100}, {ID: "x", Key: 200}, {ID: "b", Key: 300}}
	key, err = RestoreKey(card, Target{}, taken)
	if err != nil {
		t.Fatalf("RestoreKey failed: %v", err)
	}
	if key <= 200 || key >= 300 {
		t.Fatalf("expected key between the occupant and its successor, got %d", key)
	}

	key, err = RestoreKey(card, Target{Fallback: true}, siblings)
	if err != nil {
		t.Fatalf("RestoreKey failed: %v", err)
	}
	if key <= 300 {
		t.Fatalf("expected fallback to append after 300, got %d", key)
	}

	crowded := []ordering.Item{{ID: "x", Key: 200}, {ID: "y", Key: 201}}
	if _, err := RestoreKey(card, Target{}, crowded); !errors.Is(err, ordering.ErrPrecisionExhausted) {
		t.Fatalf("expected precision exhaustion, got %v", err)
	}
}

func TestRestoreAndPurge(t *testing.T) {
	card := store.Card{ID: "c1", OrderKey: 10}
	if err := CheckPurge(card); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected purge of active card to fail, got %v", err)
	}
	var purgeErr *PurgeError
	if !errors.As(CheckPurge(card), &purgeErr) {
		t.Fatal("expected a PurgeError")
	}
	if err := Restore(&card, Target{}, 10, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected restore of active card to fail, got %v", err)
	}

	if err := Trash(&card, now); err != nil {
		t.Fatal(err)
	}
	if err := CheckPurge(card); err != nil {
		t.Fatalf("expected trashed card to be purgeable, got %v", err)
	}
	if err := Restore(&card, Target{SectionID: strPtr("s9")}, 42, now); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if card.Trashed || card.TrashedAt != nil || card.OrderKey != 42 || *card.SectionID != "s9" {
		t.Fatalf("unexpected restored card: %+v", card)
	}
}

func TestBoardTrashIsAFlag(t *testing.T) {
	board := store.Board{ID: "b1", IsPinned: true}
	if err := CheckPurgeBoard(board); err == nil {
		t.Fatal("expected purge of active board to fail")
	}
	if err := TrashBoard(&board, now); err != nil {
		t.Fatal(err)
	}
	if !board.IsPinned {
		t.Fatal("trashing must not clear the pin flag")
	}
	if err := TrashBoard(&board, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := RestoreBoard(&board, now); err != nil {
		t.Fatal(err)
	}
	if BoardState(board) != StateActive {
		t.Fatal("expected active board after restore")
	}
	if err := RestoreBoard(&board, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}
