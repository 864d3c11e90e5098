package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pinboard/api/internal/follow"
	"pinboard/api/internal/ordering"
)

func newMemoryBoard(t *testing.T, s *MemoryStore, id string, sections ...Section) Board {
	t.Helper()
	ctx := context.Background()
	owner := "owner"
	if _, err := s.EnsureUser(ctx, owner, "Owner"); err != nil {
		t.Fatal(err)
	}
	board := Board{ID: id, Code: "code-" + id, OwnerID: &owner, SectionsEnabled: len(sections) > 0}
	if _, err := s.InsertBoard(ctx, board, sections); err != nil {
		t.Fatalf("InsertBoard failed: %v", err)
	}
	return board
}

func TestMemoryTxDiscardsWritesOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newMemoryBoard(t, s, "b1")

	boom := errors.New("boom")
	err := s.InBoardTx(ctx, "b1", func(tx BoardTx) error {
		if _, err := tx.InsertCard(ctx, Card{ID: "c1", OrderKey: ordering.Mid}); err != nil {
			return err
		}
		board := tx.Board()
		board.Title = "changed"
		if err := tx.SaveBoard(ctx, board); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	cards, _ := s.ListCards(ctx, "b1", CardFilter{})
	if len(cards) != 0 {
		t.Fatalf("expected no cards after a failed tx, got %d", len(cards))
	}
	board, _ := s.GetBoard(ctx, "b1")
	if board.Title == "changed" {
		t.Fatal("board write leaked out of a failed tx")
	}
}

func TestMemoryTxSerializesPerBoard(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newMemoryBoard(t, s, "b1")

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.InBoardTx(ctx, "b1", func(tx BoardTx) error {
				cards, err := tx.Cards(ctx, CardFilter{Scoped: true})
				if err != nil {
					return err
				}
				var before *ordering.Key
				if len(cards) > 0 {
					last := cards[len(cards)-1].OrderKey
					before = &last
				}
				key, err := ordering.Between(before, nil)
				if err != nil {
					return err
				}
				_, err = tx.InsertCard(ctx, Card{ID: "c" + string(rune('a'+i)), OrderKey: key})
				return err
			})
			if err != nil {
				t.Errorf("writer %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	cards, _ := s.ListCards(ctx, "b1", CardFilter{Scoped: true})
	if len(cards) != writers {
		t.Fatalf("expected %d cards, got %d", writers, len(cards))
	}
	seen := map[ordering.Key]bool{}
	for _, card := range cards {
		if seen[card.OrderKey] {
			t.Fatalf("duplicate key %d: appends were not serialized", card.OrderKey)
		}
		seen[card.OrderKey] = true
	}
}

func TestMemoryDeleteSectionKeepsTrashedCards(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newMemoryBoard(t, s, "b1", Section{ID: "s1", OrderKey: 10}, Section{ID: "s2", OrderKey: 20})

	s1 := "s1"
	now := time.Now()
	err := s.InBoardTx(ctx, "b1", func(tx BoardTx) error {
		if _, err := tx.InsertCard(ctx, Card{ID: "live", SectionID: &s1, OrderKey: 1}); err != nil {
			return err
		}
		if _, err := tx.InsertCard(ctx, Card{ID: "binned", SectionID: &s1, OrderKey: 2, Trashed: true, TrashedAt: &now, OriginalSectionID: &s1}); err != nil {
			return err
		}
		return tx.DeleteSection(ctx, "s1")
	})
	if err != nil {
		t.Fatalf("InBoardTx failed: %v", err)
	}

	sections, _ := s.ListSections(ctx, "b1")
	if len(sections) != 1 || sections[0].ID != "s2" {
		t.Fatalf("unexpected sections %+v", sections)
	}
	trashed, _ := s.ListCards(ctx, "b1", CardFilter{Trashed: true})
	if len(trashed) != 1 || trashed[0].SectionID != nil {
		t.Fatalf("expected a detached trashed card, got %+v", trashed)
	}
	active, _ := s.ListCards(ctx, "b1", CardFilter{})
	if len(active) != 0 {
		t.Fatalf("expected active cards deleted, got %d", len(active))
	}
}

func TestMemoryCardRejectsForeignSection(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newMemoryBoard(t, s, "b1", Section{ID: "s1", OrderKey: 10})

	other := "elsewhere"
	err := s.InBoardTx(ctx, "b1", func(tx BoardTx) error {
		_, err := tx.InsertCard(ctx, Card{ID: "c1", SectionID: &other, OrderKey: 1})
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryShareTokenIsUnique(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newMemoryBoard(t, s, "b1")
	newMemoryBoard(t, s, "b2")

	token := "tok"
	enable := func(boardID string) error {
		return s.InBoardTx(ctx, boardID, func(tx BoardTx) error {
			board := tx.Board()
			board.IsPublic = true
			board.ShareToken = &token
			return tx.SaveBoard(ctx, board)
		})
	}
	if err := enable("b1"); err != nil {
		t.Fatal(err)
	}
	if err := enable("b2"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if ok, _ := s.ShareTokenExists(ctx, token); !ok {
		t.Fatal("expected token to exist")
	}
}

func TestMemoryDeleteFolderDetachesBoards(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newMemoryBoard(t, s, "b1")
	if err := s.InsertFolder(ctx, Folder{ID: "f1", OwnerID: "owner", Name: "Ideas"}); err != nil {
		t.Fatal(err)
	}
	folderID := "f1"
	err := s.InBoardTx(ctx, "b1", func(tx BoardTx) error {
		board := tx.Board()
		board.FolderID = &folderID
		return tx.SaveBoard(ctx, board)
	})
	if err != nil {
		t.Fatal(err)
	}
	inFolder, _ := s.ListBoards(ctx, BoardFilter{OwnerID: "owner", FolderID: &folderID})
	if len(inFolder) != 1 {
		t.Fatalf("expected board in folder, got %d", len(inFolder))
	}

	if err := s.DeleteFolder(ctx, "f1"); err != nil {
		t.Fatalf("DeleteFolder failed: %v", err)
	}
	board, err := s.GetBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("board should survive folder deletion: %v", err)
	}
	if board.FolderID != nil {
		t.Fatal("expected folder to be detached")
	}
}

func TestMemoryDeleteUserOrphansBoards(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newMemoryBoard(t, s, "b1")
	if _, err := s.EnsureUser(ctx, "fan", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertFollow(ctx, follow.Edge{Follower: "fan", Followee: "owner"}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertFollow(ctx, follow.Edge{Follower: "fan", Followee: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown followee, got %v", err)
	}

	if err := s.DeleteUser(ctx, "owner"); err != nil {
		t.Fatal(err)
	}
	board, _ := s.GetBoard(ctx, "b1")
	if board.OwnerID != nil {
		t.Fatal("expected orphaned board")
	}
	edges, _ := s.ListFollowEdges(ctx)
	if len(edges) != 0 {
		t.Fatalf("expected edges removed, got %v", edges)
	}
}

func TestMemoryListBoardsViews(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newMemoryBoard(t, s, "plain")
	newMemoryBoard(t, s, "pinned")
	newMemoryBoard(t, s, "binned")

	now := time.Now()
	mutate := func(id string, fn func(*Board)) {
		err := s.InBoardTx(ctx, id, func(tx BoardTx) error {
			board := tx.Board()
			fn(&board)
			return tx.SaveBoard(ctx, board)
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	mutate("pinned", func(b *Board) { b.IsPinned = true })
	mutate("binned", func(b *Board) { b.IsPinned = true; b.Trashed = true; b.TrashedAt = &now })

	cases := []struct {
		view BoardView
		want []string
	}{
		{view: ViewActive, want: []string{"pinned", "plain"}},
		{view: ViewPinned, want: []string{"pinned"}},
		{view: ViewTrashed, want: []string{"binned"}},
	}
	for _, tc := range cases {
		boards, err := s.ListBoards(ctx, BoardFilter{OwnerID: "owner", View: tc.view})
		if err != nil {
			t.Fatal(err)
		}
		if len(boards) != len(tc.want) {
			t.Fatalf("%s: expected %v, got %d boards", tc.view, tc.want, len(boards))
		}
		for i, board := range boards {
			if board.ID != tc.want[i] {
				t.Fatalf("%s: expected %v at %d, got %s", tc.view, tc.want[i], i, board.ID)
			}
		}
	}
}
